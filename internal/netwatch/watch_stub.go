//go:build !linux

package netwatch

import (
	"context"
	"time"
)

const pollInterval = 2 * time.Second

// Watch blocks until the host has connectivity, then calls notify once
// and returns. Portable polling fallback.
func Watch(ctx context.Context, notify func()) error {
	for {
		if hasConnectivity() {
			notify()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
