// Package timesync waits for the device clock to agree with NTP before
// the agent is allowed to establish its cloud session. TLS handshakes
// and credential validation need a sane clock first.
package timesync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/beevik/ntp"
)

const (
	defaultPool      = "pool.ntp.org"
	defaultInterval  = 15 * time.Second
	defaultThreshold = 500 * time.Millisecond
)

// Service polls an NTP pool until the local clock offset is below a
// threshold. Implements agent.TimeSyncer.
type Service struct {
	pool      string
	interval  time.Duration
	threshold time.Duration

	// CheckFunc overrides the NTP check in tests. It returns the
	// measured clock offset, or an error while unsynchronized.
	CheckFunc func() (time.Duration, error)
}

// New creates a time sync service against pool. An empty pool selects
// pool.ntp.org.
func New(pool string) *Service {
	if pool == "" {
		pool = defaultPool
	}
	return &Service{
		pool:      pool,
		interval:  defaultInterval,
		threshold: defaultThreshold,
	}
}

func (s *Service) Init() error {
	if s.pool == "" {
		return fmt.Errorf("ntp pool is required")
	}
	return nil
}

// WaitForSync blocks until an NTP query reports a clock offset below the
// threshold. Query failures are retried indefinitely; the only way out
// short of sync is ctx.
func (s *Service) WaitForSync(ctx context.Context) error {
	for {
		offset, err := s.check()
		if err == nil {
			slog.Info("Clock synchronized.", "offset", offset, "pool", s.pool)
			return nil
		}
		slog.Debug("Clock not synchronized yet.", "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.interval):
		}
	}
}

func (s *Service) check() (time.Duration, error) {
	if s.CheckFunc != nil {
		return s.CheckFunc()
	}

	resp, err := ntp.Query(s.pool)
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", s.pool, err)
	}
	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("invalid ntp response: %w", err)
	}
	if resp.ClockOffset.Abs() >= s.threshold {
		return 0, fmt.Errorf("clock offset %s above threshold %s", resp.ClockOffset, s.threshold)
	}
	return resp.ClockOffset, nil
}
