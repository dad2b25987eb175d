package agent

import "context"

// Storage is the persistent key/value store holding the device identity
// and transport credentials. In production this is SQLite; in tests it
// can be a map.
type Storage interface {
	// Get returns the value for key. The bool is false when the key is
	// absent; absence is not an error.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// TimeSyncer blocks startup until the device clock is trustworthy.
// Disabled entirely on platforms without secure time support.
type TimeSyncer interface {
	Init() error
	// WaitForSync blocks until the clock is synchronized. Any timeout
	// policy belongs to the caller via ctx.
	WaitForSync(ctx context.Context) error
}

// Claimer obtains cloud credentials for a device that has none persisted.
type Claimer interface {
	Init(ctx context.Context) error
	Perform(ctx context.Context) error
}

// TransportConfig carries the credentials and endpoint for the cloud
// session. Owned by the agent once resolved; replaced after a successful
// claim.
type TransportConfig struct {
	URL      string
	ClientID string
	Username string
	Password string

	// PEM material for mutual TLS, when the deployment uses it.
	ClientCert string
	ClientKey  string
	ServerCA   string
}

// Transport is the persistent publish/subscribe session used to report
// node details and receive commands. Connect and the report calls are
// synchronous; retry and timeout policy belongs to the implementation.
type Transport interface {
	// GetConfig resolves credentials from persisted state. A nil config
	// with a nil error means the device is not provisioned.
	GetConfig(ctx context.Context) (*TransportConfig, error)
	Initialize(cfg *TransportConfig) error
	Connect(ctx context.Context) error
	Disconnect()
	ReportNodeConfig(ctx context.Context) error
	ReportNodeState(ctx context.Context) error
	RegisterCommandHandler(ctx context.Context) error
}
