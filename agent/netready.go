package agent

import "sync"

// readyLatch is a one-shot connectivity signal. A fresh latch is created
// for every startup cycle; it never resets.
type readyLatch struct {
	once sync.Once
	ch   chan struct{}
}

func newReadyLatch() *readyLatch {
	return &readyLatch{ch: make(chan struct{})}
}

// set raises the latch. Safe to call from any goroutine, any number of
// times; only the first call has an effect.
func (l *readyLatch) set() {
	l.once.Do(func() { close(l.ch) })
}

// wait blocks until the latch is raised. No timeout: absence of network
// is not a condition the agent can route around.
func (l *readyLatch) wait() {
	<-l.ch
}

// SetNetworkReady raises the network-ready latch for the current startup
// cycle. External network-stack callbacks call this when connectivity is
// established. A signal arriving while no startup is in progress is
// dropped.
func (a *Agent) SetNetworkReady() {
	a.mu.Lock()
	latch := a.netReady
	a.mu.Unlock()
	if latch != nil {
		latch.set()
	}
}
