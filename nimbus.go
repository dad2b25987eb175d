// Package nimbus holds the shared domain types for the nimbus device agent.
package nimbus

import (
	"errors"

	"nimbus/internal/buildinfo"
)

// Node is the device identity registered with the agent: metadata the
// cloud side uses to recognise what kind of device is talking to it.
// The parameter/data model attached to a node lives outside the core.
type Node struct {
	Name      string
	Type      string
	FWVersion string
}

// NewNode creates a node with the given name and type.
func NewNode(name, nodeType string) (*Node, error) {
	if name == "" || nodeType == "" {
		return nil, errors.New("node name and type are required")
	}
	return &Node{Name: name, Type: nodeType, FWVersion: buildinfo.Version}, nil
}

// Storage keys shared between the core and the adapters. The claim flow
// writes transport credentials under these keys; the transport resolves
// its config from them.
const (
	KeyNodeID        = "node_id"
	KeyTransportURL  = "transport_url"
	KeyTransportUser = "transport_username"
	KeyTransportPass = "transport_password"
	KeyClientCert    = "transport_client_cert"
	KeyClientKey     = "transport_client_key"
	KeyServerCA      = "transport_server_ca"
)

// Status is a point-in-time snapshot of the agent's runtime state.
type Status struct {
	NodeID             string
	NodeName           string
	State              string
	TransportConnected bool
	Version            string
}
