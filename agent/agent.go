package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"nimbus"
	"nimbus/internal/buildinfo"
)

const (
	defaultQueueCapacity = 8
	defaultPollInterval  = 2 * time.Second
)

// live enforces the single-instance invariant: at most one Agent exists
// at any time. Released by Deinit.
var live atomic.Bool

// Config carries the initialization settings for an Agent.
type Config struct {
	// EnableTimeSync makes startup block until the clock is synchronized.
	EnableTimeSync bool

	// SelfClaim allows the agent to obtain credentials itself when none
	// are persisted, instead of failing initialization.
	SelfClaim bool

	// QueueCapacity bounds the work queue. Defaults to 8.
	QueueCapacity int

	// PollInterval is the dispatch loop sleep between queue drains, and
	// therefore the stop-latency bound. Defaults to 2s.
	PollInterval time.Duration
}

// Agent is the device agent lifecycle handle. Exactly one may be live in
// a process; construct with New, release with Deinit.
type Agent struct {
	cfg Config

	storage    Storage
	timeSync   TimeSyncer
	claimer    Claimer
	transport  Transport
	onEvent    func(Event)
	hardwareID func() (string, error)

	nodeID string

	mu                 sync.Mutex
	state              State
	node               *nimbus.Node
	transportConfig    *TransportConfig
	transportConnected bool
	selfClaimPending   bool
	netReady           *readyLatch
	workQueue          chan WorkFn
}

// Option configures an Agent. Use these to inject collaborators.
type Option func(*Agent)

// WithStorage injects the persistent key/value store. Required.
func WithStorage(s Storage) Option {
	return func(a *Agent) { a.storage = s }
}

// WithTransport injects the cloud transport. Required.
func WithTransport(t Transport) Option {
	return func(a *Agent) { a.transport = t }
}

// WithTimeSyncer injects the time synchronization service. Required when
// Config.EnableTimeSync is set.
func WithTimeSyncer(ts TimeSyncer) Option {
	return func(a *Agent) { a.timeSync = ts }
}

// WithClaimer injects the provisioning service. Required when
// Config.SelfClaim is set and no credentials are persisted.
func WithClaimer(c Claimer) Option {
	return func(a *Agent) { a.claimer = c }
}

// WithEventHandler installs a synchronous lifecycle event handler.
func WithEventHandler(fn func(Event)) Option {
	return func(a *Agent) { a.onEvent = fn }
}

// WithHardwareID overrides the hardware-address node ID fallback used
// when self-claiming with no persisted identity.
func WithHardwareID(fn func() (string, error)) Option {
	return func(a *Agent) { a.hardwareID = fn }
}

// New initializes the agent: resolves the node ID, creates the work
// queue, and resolves the transport configuration. Fails with
// ErrAlreadyInitialized while another Agent is live, and with
// ErrNotProvisioned when no credentials exist and self-claiming is off.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Agent, error) {
	if !live.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInitialized
	}

	a, err := newAgent(ctx, cfg, opts...)
	if err != nil {
		live.Store(false)
		return nil, err
	}

	a.emit(EventInitDone)
	a.setState(StateInitialized)
	return a, nil
}

func newAgent(ctx context.Context, cfg *Config, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidArgument)
	}

	a := &Agent{
		cfg:        *cfg,
		hardwareID: hardwareNodeID,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.storage == nil {
		return nil, fmt.Errorf("%w: storage is required", ErrInvalidArgument)
	}
	if a.transport == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidArgument)
	}
	if a.cfg.EnableTimeSync && a.timeSync == nil {
		return nil, fmt.Errorf("%w: time sync enabled but no syncer provided", ErrInvalidArgument)
	}
	if a.cfg.QueueCapacity <= 0 {
		a.cfg.QueueCapacity = defaultQueueCapacity
	}
	if a.cfg.PollInterval <= 0 {
		a.cfg.PollInterval = defaultPollInterval
	}

	nodeID, err := a.resolveNodeID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve node id: %w", err)
	}
	a.nodeID = nodeID

	a.workQueue = make(chan WorkFn, a.cfg.QueueCapacity)

	tc, err := a.transport.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve transport config: %w", err)
	}
	switch {
	case tc != nil:
		if err := a.transport.Initialize(tc); err != nil {
			return nil, fmt.Errorf("initialize transport: %w", err)
		}
		a.transportConfig = tc
	case a.cfg.SelfClaim:
		if a.claimer == nil {
			return nil, fmt.Errorf("%w: self-claim enabled but no claimer provided", ErrInvalidArgument)
		}
		if err := a.claimer.Init(ctx); err != nil {
			return nil, fmt.Errorf("initialize claiming: %w", err)
		}
		a.selfClaimPending = true
	default:
		return nil, ErrNotProvisioned
	}

	return a, nil
}

// resolveNodeID loads the persisted node ID. With self-claiming enabled
// a missing identity falls back to one derived from a hardware address,
// matching what the claim service will assign.
func (a *Agent) resolveNodeID(ctx context.Context) (string, error) {
	id, ok, err := a.storage.Get(ctx, nimbus.KeyNodeID)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", nimbus.KeyNodeID, err)
	}
	if ok {
		return id, nil
	}
	if !a.cfg.SelfClaim {
		return "", ErrNotProvisioned
	}
	return a.hardwareID()
}

// hardwareNodeID derives a node ID from the first usable hardware
// address, formatted as twelve uppercase hex digits.
func hardwareNodeID() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 || len(ifc.HardwareAddr) < 6 {
			continue
		}
		mac := ifc.HardwareAddr
		return fmt.Sprintf("%02X%02X%02X%02X%02X%02X", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5]), nil
	}
	return "", errors.New("no usable hardware address")
}

// RegisterNode stores the node reference. At most one node may ever be
// registered per agent; a second registration fails without mutating
// anything.
func (a *Agent) RegisterNode(node *nimbus.Node) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateUninitialized {
		return ErrInvalidState
	}
	if a.node != nil {
		return ErrAlreadyRegistered
	}
	if node == nil {
		return fmt.Errorf("%w: node is required", ErrInvalidArgument)
	}
	a.node = node
	return nil
}

// Node returns the registered node, or nil when none is registered.
func (a *Agent) Node() *nimbus.Node {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.node
}

// NodeID returns the resolved node identity, or "" after Deinit.
func (a *Agent) NodeID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateUninitialized {
		return ""
	}
	return a.nodeID
}

// Status returns a snapshot of the agent's runtime state.
func (a *Agent) Status() nimbus.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := nimbus.Status{
		NodeID:             a.nodeID,
		State:              a.state.String(),
		TransportConnected: a.transportConnected,
		Version:            buildinfo.Version,
	}
	if a.node != nil {
		st.NodeName = a.node.Name
	}
	return st
}

// Deinit releases the agent. Only legal from Initialized: a running
// agent must be stopped first. After Deinit a new Agent may be created.
func (a *Agent) Deinit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateInitialized {
		return fmt.Errorf("%w: agent is %s, stop it first", ErrInvalidState, a.state)
	}
	a.setStateLocked(StateUninitialized)
	a.node = nil
	a.workQueue = nil
	a.transportConfig = nil
	a.nodeID = ""
	live.Store(false)
	return nil
}
