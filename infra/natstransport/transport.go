// Package natstransport implements the agent's cloud transport over
// NATS. Node config and state are published to per-node subjects;
// inbound commands arrive on a per-node subscription.
package natstransport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"nimbus"
	"nimbus/agent"
)

// Per-node subject layout. Mirrors the config/params split of the cloud
// side: local params flow out, remote params flow in.
const (
	subjectConfig       = "node.%s.config"
	subjectParamsLocal  = "node.%s.params.local"
	subjectParamsRemote = "node.%s.params.remote"
)

// CommandHandler receives inbound command payloads. Called on the NATS
// delivery goroutine; implementations should hand work off to the
// agent's queue rather than process inline.
type CommandHandler func(payload []byte)

// Transport implements agent.Transport over a NATS connection.
// Credentials are resolved from the persistent store, where either the
// provisioning tool or the claim flow placed them.
type Transport struct {
	store agent.Storage

	mu        sync.Mutex
	cfg       *agent.TransportConfig
	conn      *nats.Conn
	sub       *nats.Subscription
	nodeID    string
	node      *nimbus.Node
	onCommand CommandHandler
}

// New creates a transport resolving credentials from store.
func New(store agent.Storage) *Transport {
	return &Transport{store: store}
}

// Bind attaches the node identity used in subjects and report payloads.
// Must be called before Connect.
func (t *Transport) Bind(nodeID string, node *nimbus.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodeID = nodeID
	t.node = node
}

// SetCommandHandler installs the inbound command callback.
func (t *Transport) SetCommandHandler(fn CommandHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCommand = fn
}

// GetConfig resolves the transport config from the store. Returns
// (nil, nil) when no server URL is persisted: the device has not been
// provisioned yet.
func (t *Transport) GetConfig(ctx context.Context) (*agent.TransportConfig, error) {
	url, ok, err := t.store.Get(ctx, nimbus.KeyTransportURL)
	if err != nil {
		return nil, fmt.Errorf("read transport url: %w", err)
	}
	if !ok {
		return nil, nil
	}

	cfg := &agent.TransportConfig{URL: url}
	for key, dst := range map[string]*string{
		nimbus.KeyNodeID:        &cfg.ClientID,
		nimbus.KeyTransportUser: &cfg.Username,
		nimbus.KeyTransportPass: &cfg.Password,
		nimbus.KeyClientCert:    &cfg.ClientCert,
		nimbus.KeyClientKey:     &cfg.ClientKey,
		nimbus.KeyServerCA:      &cfg.ServerCA,
	} {
		if v, ok, err := t.store.Get(ctx, key); err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		} else if ok {
			*dst = v
		}
	}
	return cfg, nil
}

// Initialize validates and adopts the config. Does not connect.
func (t *Transport) Initialize(cfg *agent.TransportConfig) error {
	if cfg == nil || cfg.URL == "" {
		return errors.New("transport config requires a server url")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
	return nil
}

// Connect dials the NATS server and blocks until the connection is up
// or the dial fails. Reconnects after that point are handled by the
// client library.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	cfg := t.cfg
	t.mu.Unlock()
	if cfg == nil {
		return errors.New("transport not initialized")
	}

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(false),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.ClientCert != "" {
		tlsCfg, err := buildTLSConfig(cfg)
		if err != nil {
			return fmt.Errorf("build tls config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsCfg))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.URL, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	slog.Info("Transport connected.", "url", cfg.URL, "client_id", cfg.ClientID)
	return nil
}

// Disconnect drains and closes the connection. Safe to call when not
// connected.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.sub = nil
	t.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Drain(); err != nil {
		slog.Error("Transport drain failed, closing hard.", "err", err)
		conn.Close()
	}
}

// ReportNodeConfig publishes the node identity metadata.
func (t *Transport) ReportNodeConfig(ctx context.Context) error {
	t.mu.Lock()
	node := t.node
	nodeID := t.nodeID
	t.mu.Unlock()
	if node == nil {
		return errors.New("no node bound")
	}

	return t.publish(ctx, subjectConfig, map[string]any{
		"node_id":    nodeID,
		"name":       node.Name,
		"type":       node.Type,
		"fw_version": node.FWVersion,
	})
}

// ReportNodeState publishes the node's liveness state.
func (t *Transport) ReportNodeState(ctx context.Context) error {
	return t.publish(ctx, subjectParamsLocal, map[string]any{
		"node_id":   t.nodeID,
		"connected": true,
		"ts":        time.Now().UTC().Format(time.RFC3339),
	})
}

// RegisterCommandHandler subscribes to the node's inbound command
// subject. Payload handling is delegated to the installed handler.
func (t *Transport) RegisterCommandHandler(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	nodeID := t.nodeID
	t.mu.Unlock()
	if conn == nil {
		return errors.New("transport not connected")
	}

	sub, err := conn.Subscribe(fmt.Sprintf(subjectParamsRemote, nodeID), func(msg *nats.Msg) {
		t.mu.Lock()
		handler := t.onCommand
		t.mu.Unlock()
		if handler != nil {
			handler(msg.Data)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}

	t.mu.Lock()
	t.sub = sub
	t.mu.Unlock()
	return nil
}

func (t *Transport) publish(ctx context.Context, subjectFmt string, payload map[string]any) error {
	t.mu.Lock()
	conn := t.conn
	nodeID := t.nodeID
	t.mu.Unlock()
	if conn == nil {
		return errors.New("transport not connected")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := conn.Publish(fmt.Sprintf(subjectFmt, nodeID), data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func buildTLSConfig(cfg *agent.TransportConfig) (*tls.Config, error) {
	cert, err := tls.X509KeyPair([]byte(cfg.ClientCert), []byte(cfg.ClientKey))
	if err != nil {
		return nil, fmt.Errorf("load client keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.ServerCA != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(cfg.ServerCA)) {
			return nil, errors.New("no usable certificates in server ca")
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}
