package agent

import (
	"context"
	"errors"
	"testing"

	"nimbus"
)

func newTestAgent(t *testing.T, cfg *Config, opts ...Option) *Agent {
	t.Helper()
	t.Cleanup(resetLive)

	a, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return a
}

func storedNodeID() *fakeStorage {
	return newFakeStorage(map[string]string{nimbus.KeyNodeID: "node-123"})
}

func TestNew_SecondInstanceFails(t *testing.T) {
	a := newTestAgent(t, testConfig(),
		WithStorage(storedNodeID()), WithTransport(provisionedTransport()))

	_, err := New(context.Background(), testConfig(),
		WithStorage(storedNodeID()), WithTransport(provisionedTransport()))
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second New error = %v, want ErrAlreadyInitialized", err)
	}

	if err := a.Deinit(); err != nil {
		t.Fatalf("deinit: %v", err)
	}

	// The guard is released; a fresh instance is allowed now.
	b, err := New(context.Background(), testConfig(),
		WithStorage(storedNodeID()), WithTransport(provisionedTransport()))
	if err != nil {
		t.Fatalf("New after Deinit: %v", err)
	}
	_ = b.Deinit()
}

func TestNew_NilConfigFails(t *testing.T) {
	t.Cleanup(resetLive)

	_, err := New(context.Background(), nil,
		WithStorage(storedNodeID()), WithTransport(provisionedTransport()))
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("New error = %v, want ErrInvalidArgument", err)
	}
}

func TestNew_NotProvisionedWithoutSelfClaim(t *testing.T) {
	t.Cleanup(resetLive)

	// No persisted identity, no transport config, self-claim off.
	_, err := New(context.Background(), testConfig(),
		WithStorage(newFakeStorage(nil)), WithTransport(&fakeTransport{}))
	if !errors.Is(err, ErrNotProvisioned) {
		t.Fatalf("New error = %v, want ErrNotProvisioned", err)
	}

	// The failed init must not leave a live handle behind.
	a, err := New(context.Background(), testConfig(),
		WithStorage(storedNodeID()), WithTransport(provisionedTransport()))
	if err != nil {
		t.Fatalf("New after failed init: %v", err)
	}
	_ = a.Deinit()
}

func TestNew_NodeIDFromStorage(t *testing.T) {
	a := newTestAgent(t, testConfig(),
		WithStorage(storedNodeID()), WithTransport(provisionedTransport()))

	if got := a.NodeID(); got != "node-123" {
		t.Fatalf("NodeID = %q, want node-123", got)
	}
	_ = a.Deinit()
}

func TestNew_NodeIDHardwareFallback(t *testing.T) {
	cfg := testConfig()
	cfg.SelfClaim = true

	a := newTestAgent(t, cfg,
		WithStorage(newFakeStorage(nil)),
		WithTransport(&fakeTransport{}),
		WithClaimer(&fakeClaimer{}),
		WithHardwareID(func() (string, error) { return "AABBCCDDEEFF", nil }),
	)

	if got := a.NodeID(); got != "AABBCCDDEEFF" {
		t.Fatalf("NodeID = %q, want AABBCCDDEEFF", got)
	}
	_ = a.Deinit()
}

func TestNew_EmitsInitDone(t *testing.T) {
	rec := &eventRecorder{}
	a := newTestAgent(t, testConfig(),
		WithStorage(storedNodeID()), WithTransport(provisionedTransport()),
		WithEventHandler(rec.handle))

	events := rec.list()
	if len(events) != 1 || events[0] != EventInitDone {
		t.Fatalf("events = %v, want [init_done]", events)
	}
	if a.State() != StateInitialized {
		t.Fatalf("state = %s, want initialized", a.State())
	}
	_ = a.Deinit()
}

func TestRegisterNode_ExactlyOnce(t *testing.T) {
	a := newTestAgent(t, testConfig(),
		WithStorage(storedNodeID()), WithTransport(provisionedTransport()))
	defer func() { _ = a.Deinit() }()

	node, err := nimbus.NewNode("lamp", "light")
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	if err := a.RegisterNode(node); err != nil {
		t.Fatalf("first RegisterNode: %v", err)
	}
	if a.Node() != node {
		t.Fatal("Node() did not return the registered node")
	}

	other, _ := nimbus.NewNode("other", "switch")
	if err := a.RegisterNode(other); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("second RegisterNode error = %v, want ErrAlreadyRegistered", err)
	}
	if a.Node() != node {
		t.Fatal("failed registration mutated the stored node")
	}
}

func TestRegisterNode_NilFails(t *testing.T) {
	a := newTestAgent(t, testConfig(),
		WithStorage(storedNodeID()), WithTransport(provisionedTransport()))
	defer func() { _ = a.Deinit() }()

	if err := a.RegisterNode(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("RegisterNode(nil) error = %v, want ErrInvalidArgument", err)
	}
}

func TestDeinit_ReleasesHandle(t *testing.T) {
	a := newTestAgent(t, testConfig(),
		WithStorage(storedNodeID()), WithTransport(provisionedTransport()))

	if err := a.Deinit(); err != nil {
		t.Fatalf("deinit: %v", err)
	}
	if got := a.NodeID(); got != "" {
		t.Fatalf("NodeID after Deinit = %q, want empty", got)
	}
	if err := a.QueueWork(func(context.Context) {}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("QueueWork after Deinit error = %v, want ErrInvalidState", err)
	}
	if err := a.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Stop after Deinit error = %v, want ErrInvalidState", err)
	}
	if err := a.Deinit(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second Deinit error = %v, want ErrInvalidState", err)
	}
}
