package agent

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeStorage struct {
	mu     sync.Mutex
	values map[string]string
	getErr error
}

func newFakeStorage(values map[string]string) *fakeStorage {
	if values == nil {
		values = make(map[string]string)
	}
	return &fakeStorage{values: values}
}

func (f *fakeStorage) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", false, f.getErr
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeStorage) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

type fakeTransport struct {
	mu      sync.Mutex
	calls   []string
	configs []*TransportConfig

	getErr         error
	initErr        error
	connectErr     error
	reportCfgErr   error
	reportStateErr error
	registerErr    error
}

func (f *fakeTransport) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeTransport) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeTransport) GetConfig(context.Context) (*TransportConfig, error) {
	f.record("GetConfig")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if len(f.configs) == 0 {
		return nil, nil
	}
	cfg := f.configs[0]
	f.configs = f.configs[1:]
	return cfg, nil
}

func (f *fakeTransport) Initialize(*TransportConfig) error {
	f.record("Initialize")
	return f.initErr
}

func (f *fakeTransport) Connect(context.Context) error {
	f.record("Connect")
	return f.connectErr
}

func (f *fakeTransport) Disconnect() {
	f.record("Disconnect")
}

func (f *fakeTransport) ReportNodeConfig(context.Context) error {
	f.record("ReportNodeConfig")
	return f.reportCfgErr
}

func (f *fakeTransport) ReportNodeState(context.Context) error {
	f.record("ReportNodeState")
	return f.reportStateErr
}

func (f *fakeTransport) RegisterCommandHandler(context.Context) error {
	f.record("RegisterCommandHandler")
	return f.registerErr
}

// provisionedTransport returns a fake that always resolves a config.
func provisionedTransport() *fakeTransport {
	return &fakeTransport{configs: []*TransportConfig{{URL: "nats://cloud.test:4222", ClientID: "AABBCCDDEEFF"}}}
}

type fakeClaimer struct {
	mu         sync.Mutex
	initErr    error
	performErr error
	performed  bool
}

func (f *fakeClaimer) Init(context.Context) error { return f.initErr }

func (f *fakeClaimer) Perform(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.performErr != nil {
		return f.performErr
	}
	f.performed = true
	return nil
}

type fakeTimeSyncer struct {
	initErr error
	waitErr error

	// release, when set, blocks WaitForSync until closed.
	release chan struct{}
}

func (f *fakeTimeSyncer) Init() error { return f.initErr }

func (f *fakeTimeSyncer) WaitForSync(context.Context) error {
	if f.release != nil {
		<-f.release
	}
	return f.waitErr
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) list() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// testConfig keeps the dispatch loop fast so stop latency does not slow
// the suite down.
func testConfig() *Config {
	return &Config{PollInterval: 10 * time.Millisecond}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
