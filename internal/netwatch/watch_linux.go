//go:build linux

package netwatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/vishvananda/netlink"
)

// Watch blocks until the host has connectivity, then calls notify once
// and returns. Address changes are observed through a netlink
// subscription rather than polling.
func Watch(ctx context.Context, notify func()) error {
	if hasConnectivity() {
		notify()
		return nil
	}

	updates := make(chan netlink.AddrUpdate)
	done := make(chan struct{})
	defer close(done)
	if err := netlink.AddrSubscribe(updates, done); err != nil {
		return fmt.Errorf("subscribe to address updates: %w", err)
	}

	// The subscription may have raced an address arriving.
	if hasConnectivity() {
		notify()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return errors.New("address subscription lost")
			}
			if update.NewAddr && update.LinkAddress.IP.IsGlobalUnicast() {
				notify()
				return nil
			}
		}
	}
}
