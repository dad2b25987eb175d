// Package httpclaim obtains cloud credentials for an unprovisioned
// device over HTTPS. The flow is two-step: initiate hands the claim
// service the node identity, verify returns the issued transport
// credentials, which are persisted for the transport to pick up.
package httpclaim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"nimbus"
	"nimbus/agent"
)

const (
	initiatePath = "/v1/claim/initiate"
	verifyPath   = "/v1/claim/verify"

	requestTimeout = 30 * time.Second
)

// Claimer implements agent.Claimer against an HTTP claim service.
type Claimer struct {
	baseURL string
	store   agent.Storage
	nodeID  func() string
	client  *http.Client

	requestID string
}

// New creates a claimer. nodeID is resolved lazily at Perform time since
// the agent derives it during its own initialization.
func New(baseURL string, store agent.Storage, nodeID func() string) *Claimer {
	return &Claimer{
		baseURL: baseURL,
		store:   store,
		nodeID:  nodeID,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// Init validates the service URL and allocates a request ID for this
// claim session.
func (c *Claimer) Init(_ context.Context) error {
	u, err := url.Parse(c.baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid claim service url %q", c.baseURL)
	}
	c.requestID = uuid.NewString()
	return nil
}

type initiateRequest struct {
	NodeID    string `json:"node_id"`
	RequestID string `json:"request_id"`
}

type initiateResponse struct {
	AuthToken string `json:"auth_token"`
}

type verifyRequest struct {
	NodeID    string `json:"node_id"`
	RequestID string `json:"request_id"`
	AuthToken string `json:"auth_token"`
}

type verifyResponse struct {
	NodeID     string `json:"node_id"`
	URL        string `json:"url"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
	ServerCA   string `json:"server_ca"`
}

// Perform runs the claim flow and persists the issued credentials.
func (c *Claimer) Perform(ctx context.Context) error {
	if c.requestID == "" {
		return errors.New("claimer not initialized")
	}
	nodeID := c.nodeID()
	if nodeID == "" {
		return errors.New("no node id to claim for")
	}

	var initiated initiateResponse
	err := c.post(ctx, initiatePath, initiateRequest{NodeID: nodeID, RequestID: c.requestID}, &initiated)
	if err != nil {
		return fmt.Errorf("initiate claim: %w", err)
	}

	var issued verifyResponse
	err = c.post(ctx, verifyPath, verifyRequest{
		NodeID:    nodeID,
		RequestID: c.requestID,
		AuthToken: initiated.AuthToken,
	}, &issued)
	if err != nil {
		return fmt.Errorf("verify claim: %w", err)
	}
	if issued.URL == "" {
		return errors.New("claim service issued no transport url")
	}
	if issued.NodeID == "" {
		issued.NodeID = nodeID
	}

	return c.persist(ctx, issued)
}

func (c *Claimer) persist(ctx context.Context, issued verifyResponse) error {
	creds := map[string]string{
		nimbus.KeyNodeID:        issued.NodeID,
		nimbus.KeyTransportURL:  issued.URL,
		nimbus.KeyTransportUser: issued.Username,
		nimbus.KeyTransportPass: issued.Password,
		nimbus.KeyClientCert:    issued.ClientCert,
		nimbus.KeyClientKey:     issued.ClientKey,
		nimbus.KeyServerCA:      issued.ServerCA,
	}
	for key, value := range creds {
		if value == "" {
			continue
		}
		if err := c.store.Set(ctx, key, value); err != nil {
			return fmt.Errorf("persist %s: %w", key, err)
		}
	}
	return nil
}

func (c *Claimer) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
