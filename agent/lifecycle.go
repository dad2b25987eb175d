package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Start spawns the single worker goroutine running the startup sequencer
// followed by the dispatch loop. Only legal from Initialized; a second
// Start while the worker is alive fails with ErrInvalidState. If time
// sync is enabled the syncer is initialized here, on the caller's
// goroutine, so a misconfigured syncer fails Start rather than the
// worker.
func (a *Agent) Start() error {
	a.mu.Lock()
	if a.state != StateInitialized {
		st := a.state
		a.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, st)
	}

	if a.cfg.EnableTimeSync {
		if err := a.timeSync.Init(); err != nil {
			a.mu.Unlock()
			return fmt.Errorf("initialize time sync: %w", err)
		}
	}

	// Fresh latch per startup cycle; signals from a previous cycle do
	// not leak into this one.
	a.netReady = newReadyLatch()
	a.setStateLocked(StateStarting)
	a.mu.Unlock()

	slog.Info("Starting agent worker.", "node_id", a.nodeID)
	go a.run()
	return nil
}

// Stop requests a cooperative stop. It never blocks and never cancels an
// in-flight wait inside the startup sequencer: the request takes effect
// when the dispatch loop next polls, so stop latency is bounded by the
// poll interval once Started, and a stop raised during startup is lost
// when the sequencer reaches Started. Idempotent; a no-op when nothing
// is running.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case StateUninitialized:
		return ErrInvalidState
	case StateInitialized:
		return nil
	case StateStopRequested:
		return nil
	default:
		a.setStateLocked(StateStopRequested)
		return nil
	}
}

// run is the worker goroutine: startup sequencer, then dispatch loop.
// Every sequencer step is an abort point; failures tear down back to
// Initialized so a fresh Start can be attempted.
func (a *Agent) run() {
	ctx := context.Background()

	a.netReady.wait()
	slog.Info("Network ready, continuing startup.")

	if a.cfg.EnableTimeSync {
		if err := a.timeSync.WaitForSync(ctx); err != nil {
			slog.Error("Time sync wait failed, aborting startup.", "err", err)
			a.teardown()
			return
		}
	}

	if a.selfClaimPendingNow() {
		if err := a.performClaim(ctx); err != nil {
			slog.Error("Claiming failed, aborting startup.", "err", err)
			a.teardown()
			return
		}
	}

	if err := a.transport.Connect(ctx); err != nil {
		slog.Error("Transport connect failed, aborting startup.", "err", err)
		a.teardown()
		return
	}

	a.mu.Lock()
	a.transportConnected = true
	// Overwrites a stop raised during startup.
	a.setStateLocked(StateStarted)
	a.mu.Unlock()
	slog.Info("Agent started.", "node_id", a.nodeID)

	if err := a.reportNodeConfigAndState(ctx); err != nil {
		slog.Error("Node details report failed, stopping.", "err", err)
		a.teardown()
		return
	}
	if err := a.transport.RegisterCommandHandler(ctx); err != nil {
		slog.Error("Command handler registration failed, stopping.", "err", err)
		a.teardown()
		return
	}

	a.dispatchLoop(ctx)
	a.teardown()
}

// dispatchLoop drains the work queue to exhaustion, then sleeps to bound
// CPU usage, until a stop is requested.
func (a *Agent) dispatchLoop(ctx context.Context) {
	for a.State() != StateStopRequested {
		a.drainWork(ctx)
		time.Sleep(a.cfg.PollInterval)
	}
	slog.Info("Stop requested, leaving dispatch loop.")
}

// performClaim runs the provisioning flow and brings the transport up to
// date with the freshly issued credentials.
func (a *Agent) performClaim(ctx context.Context) error {
	a.emit(EventClaimStarted)
	if err := a.claimer.Perform(ctx); err != nil {
		a.emit(EventClaimFailed)
		return fmt.Errorf("perform claim: %w", err)
	}
	a.emit(EventClaimSuccessful)

	tc, err := a.transport.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("resolve transport config after claim: %w", err)
	}
	if tc == nil {
		return fmt.Errorf("claim succeeded but no transport config was issued")
	}
	if err := a.transport.Initialize(tc); err != nil {
		return fmt.Errorf("initialize transport after claim: %w", err)
	}

	a.mu.Lock()
	a.transportConfig = tc
	a.selfClaimPending = false
	a.mu.Unlock()
	return nil
}

func (a *Agent) selfClaimPendingNow() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selfClaimPending
}

// teardown is the single exit path of the worker goroutine. It restores
// Initialized so the agent can be started again.
func (a *Agent) teardown() {
	a.mu.Lock()
	connected := a.transportConnected
	a.transportConnected = false
	a.mu.Unlock()

	if connected {
		a.transport.Disconnect()
	}
	a.setState(StateInitialized)
	slog.Info("Agent worker exited.")
}

func (a *Agent) reportNodeConfigAndState(ctx context.Context) error {
	if err := a.transport.ReportNodeConfig(ctx); err != nil {
		return fmt.Errorf("report node config: %w", err)
	}
	if err := a.transport.ReportNodeState(ctx); err != nil {
		return fmt.Errorf("report node state: %w", err)
	}
	return nil
}
