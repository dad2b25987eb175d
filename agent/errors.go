package agent

import "errors"

// Sentinel errors returned by Agent operations. Collaborator failures are
// wrapped with %w and surface alongside these; the agent never interprets
// collaborator-specific causes.
var (
	// ErrAlreadyInitialized is returned by New while another Agent is live.
	ErrAlreadyInitialized = errors.New("agent already initialized")

	// ErrAlreadyRegistered is returned when a node is already registered.
	ErrAlreadyRegistered = errors.New("a node is already registered")

	// ErrInvalidState is returned when an operation is illegal in the
	// current lifecycle state.
	ErrInvalidState = errors.New("invalid agent state")

	// ErrInvalidArgument is returned when a required input is missing.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrQueueFull is returned by QueueWork when the bounded work queue
	// has no room. Producers are never blocked.
	ErrQueueFull = errors.New("work queue is full")

	// ErrNotProvisioned is returned by New when no transport credentials
	// exist and self-claiming is disabled.
	ErrNotProvisioned = errors.New("no transport credentials: device has not been claimed")
)
