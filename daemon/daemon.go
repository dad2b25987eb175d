// Package daemon wires the agent to its production collaborators and
// supervises it for the lifetime of the process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"nimbus"
	"nimbus/agent"
	"nimbus/config"
	"nimbus/infra/httpclaim"
	"nimbus/infra/natstransport"
	"nimbus/infra/sqlitestore"
	"nimbus/internal/netwatch"
	"nimbus/internal/timesync"
)

const storeFileName = "nimbus.db"

// stopGrace bounds how long shutdown waits for the dispatch loop to
// observe the stop request and tear down.
const stopGrace = 30 * time.Second

// Run constructs the collaborators, initializes and starts the agent,
// and blocks until ctx is cancelled. On cancellation it requests a stop,
// waits for the worker to wind down, and releases the agent.
func Run(ctx context.Context, cfg *config.Config) error {
	store, err := sqlitestore.Open(filepath.Join(cfg.DataDir, storeFileName))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	transport := natstransport.New(store)

	var ag *agent.Agent
	opts := []agent.Option{
		agent.WithStorage(store),
		agent.WithTransport(transport),
		agent.WithEventHandler(logEvent),
	}
	if cfg.TimeSync {
		opts = append(opts, agent.WithTimeSyncer(timesync.New(cfg.NTPPool)))
	}
	if cfg.SelfClaim {
		// The node ID is resolved during agent initialization, so the
		// claimer looks it up lazily.
		claimer := httpclaim.New(cfg.ClaimBaseURL, store, func() string {
			if ag == nil {
				return ""
			}
			return ag.NodeID()
		})
		opts = append(opts, agent.WithClaimer(claimer))
	}

	ag, err = agent.New(ctx, &agent.Config{
		EnableTimeSync: cfg.TimeSync,
		SelfClaim:      cfg.SelfClaim,
		QueueCapacity:  cfg.QueueCapacity,
		PollInterval:   time.Duration(cfg.PollInterval),
	}, opts...)
	if err != nil {
		return fmt.Errorf("initialize agent: %w", err)
	}
	defer func() {
		if err := ag.Deinit(); err != nil {
			slog.Error("Agent release failed.", "err", err)
		}
	}()

	node, err := nimbus.NewNode(cfg.NodeName, cfg.NodeType)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	if err := ag.RegisterNode(node); err != nil {
		return fmt.Errorf("register node: %w", err)
	}
	transport.Bind(ag.NodeID(), node)
	transport.SetCommandHandler(func(payload []byte) {
		slog.Info("Remote command received.", "bytes", len(payload))
		if err := ag.ReportNodeDetails(); err != nil {
			slog.Warn("Could not schedule node report.", "err", err)
		}
	})

	if err := ag.Start(); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := netwatch.Watch(gctx, ag.SetNetworkReady)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("watch network: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown requested, stopping agent.")
		if err := ag.Stop(); err != nil {
			return fmt.Errorf("stop agent: %w", err)
		}
		waitForStop(ag)
		return nil
	})
	return g.Wait()
}

// waitForStop polls until the worker has torn down. The stop signal is
// cooperative: it takes effect only at the dispatch loop boundary, and
// never interrupts a startup still blocked on network or time sync.
func waitForStop(ag *agent.Agent) {
	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		if ag.State() == agent.StateInitialized {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	slog.Warn("Agent did not stop within grace period.", "state", ag.State())
}

func logEvent(e agent.Event) {
	slog.Info("Lifecycle event.", "event", e)
}
