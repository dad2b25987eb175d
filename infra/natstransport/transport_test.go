package natstransport

import (
	"context"
	"sync"
	"testing"

	"nimbus"
	"nimbus/agent"
)

type memStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemStore(values map[string]string) *memStore {
	if values == nil {
		values = make(map[string]string)
	}
	return &memStore{values: values}
}

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func TestGetConfig_Unprovisioned(t *testing.T) {
	tr := New(newMemStore(nil))

	cfg, err := tr.GetConfig(context.Background())
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg != nil {
		t.Fatalf("config = %+v, want nil for an unprovisioned device", cfg)
	}
}

func TestGetConfig_FromStore(t *testing.T) {
	tr := New(newMemStore(map[string]string{
		nimbus.KeyTransportURL:  "nats://cloud.test:4222",
		nimbus.KeyNodeID:        "AABBCCDDEEFF",
		nimbus.KeyTransportUser: "device",
		nimbus.KeyTransportPass: "secret",
	}))

	cfg, err := tr.GetConfig(context.Background())
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg == nil {
		t.Fatal("config = nil, want resolved config")
	}
	if cfg.URL != "nats://cloud.test:4222" || cfg.ClientID != "AABBCCDDEEFF" {
		t.Fatalf("config = %+v, want url and client id from store", cfg)
	}
	if cfg.Username != "device" || cfg.Password != "secret" {
		t.Fatalf("config = %+v, want credentials from store", cfg)
	}
}

func TestInitialize_RequiresURL(t *testing.T) {
	tr := New(newMemStore(nil))

	if err := tr.Initialize(nil); err == nil {
		t.Fatal("Initialize(nil) should fail")
	}
	if err := tr.Initialize(&agent.TransportConfig{}); err == nil {
		t.Fatal("Initialize without url should fail")
	}
	if err := tr.Initialize(&agent.TransportConfig{URL: "nats://cloud.test:4222"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

func TestConnect_RequiresInitialize(t *testing.T) {
	tr := New(newMemStore(nil))
	if err := tr.Connect(context.Background()); err == nil {
		t.Fatal("Connect before Initialize should fail")
	}
}

func TestReportNodeConfig_RequiresBoundNode(t *testing.T) {
	tr := New(newMemStore(nil))
	if err := tr.ReportNodeConfig(context.Background()); err == nil {
		t.Fatal("ReportNodeConfig without a bound node should fail")
	}
}

func TestPublish_RequiresConnection(t *testing.T) {
	tr := New(newMemStore(nil))
	tr.Bind("AABBCCDDEEFF", &nimbus.Node{Name: "lamp", Type: "light"})

	if err := tr.ReportNodeConfig(context.Background()); err == nil {
		t.Fatal("ReportNodeConfig without a connection should fail")
	}

	if err := tr.ReportNodeState(context.Background()); err == nil {
		t.Fatal("ReportNodeState without a connection should fail")
	}
	if err := tr.RegisterCommandHandler(context.Background()); err == nil {
		t.Fatal("RegisterCommandHandler without a connection should fail")
	}
}

func TestDisconnect_SafeWhenNotConnected(t *testing.T) {
	tr := New(newMemStore(nil))
	tr.Disconnect()
}

func TestBuildTLSConfig_RejectsGarbage(t *testing.T) {
	_, err := buildTLSConfig(&agent.TransportConfig{
		ClientCert: "not a pem",
		ClientKey:  "not a pem",
	})
	if err == nil {
		t.Fatal("buildTLSConfig should reject non-PEM material")
	}
}
