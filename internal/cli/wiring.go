package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/workforce-ai/compute/internal/app/ledger"
	"github.com/workforce-ai/compute/internal/app/pricing"
	"github.com/workforce-ai/compute/internal/daemon"
	"github.com/workforce-ai/compute/internal/domain"
	"github.com/workforce-ai/compute/internal/infra/cache"
	"github.com/workforce-ai/compute/internal/infra/events"
	"github.com/workforce-ai/compute/internal/infra/memstore"
	"github.com/workforce-ai/compute/internal/infra/observability"
	"github.com/workforce-ai/compute/internal/infra/sqlite"
)

// ─── Runtime Wiring ─────────────────────────────────────────────────────────
// Both `serve` and the one-shot commands build the ledger the same way so
// that a CLI debit mirrors and publishes exactly like an API debit.

// runtime is a fully wired ledger plus the resources it owns.
type runtime struct {
	cfg    daemon.Config
	logger *slog.Logger
	store  *ledger.Store
	jobs   domain.JobStore
	db     *sqlite.DB // nil when ephemeral
	redis  *redis.Client
	nats   *nats.Conn
}

// buildRuntime opens storage and optional integrations for cfg.
func buildRuntime(ctx context.Context, cfg daemon.Config, ephemeral bool, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	table := pricing.Default()
	if path := cfg.Pricing.OverridesFile; path != "" {
		t, err := pricing.LoadOverrides(table, path)
		if err != nil {
			return nil, err
		}
		table = t
	}

	var accounts domain.AccountStore
	if ephemeral {
		mem := memstore.New()
		accounts, rt.jobs = mem, mem
	} else {
		db, err := sqlite.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		rt.db = db
		accounts, rt.jobs = db, db
	}

	opts := []ledger.Option{
		ledger.WithMirrorErrorHandler(func(err error) {
			logger.Warn("session mirror", "error", err)
		}),
	}
	if url := cfg.Session.RedisURL; url != "" {
		client, err := cache.Connect(ctx, url)
		if err != nil {
			rt.Close()
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, session mirror will retry per write", "url", url, "error", err)
		}
		cancel()
		rt.redis = client
		opts = append(opts, ledger.WithSessionMirror(cache.NewSessionMirror(client, cfg.SessionTTL())))
	}

	rt.store = ledger.New(ledger.Config{
		StartingBalance: cfg.Ledger.StartingBalance,
		HistoryCap:      cfg.Ledger.HistoryCap,
		ReservationTTL:  cfg.ReservationTTL(),
	}, table, accounts, opts...)
	rt.store.Subscribe(observability.BalanceListener)

	if url := cfg.Events.NATSURL; url != "" {
		nc, err := events.Connect(url, "compute")
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.nats = nc
		rt.store.Subscribe(events.NewPublisher(nc, cfg.Events.SubjectPrefix, logger).Listener())
	}

	return rt, nil
}

// Close releases every resource, flushing pending NATS messages first.
func (rt *runtime) Close() {
	if rt.nats != nil {
		if err := rt.nats.Drain(); err != nil {
			rt.logger.Warn("drain nats", "error", err)
		}
	}
	if rt.redis != nil {
		rt.redis.Close()
	}
	if rt.db != nil {
		rt.db.Close()
	}
}

// openSession builds a runtime from the command flags and logs in.
func openSession(cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	ephemeral, _ := cmd.Flags().GetBool("ephemeral")
	logger := newLogger(cfg.Log, cmd.ErrOrStderr())

	rt, err := buildRuntime(cmd.Context(), cfg, ephemeral, logger)
	if err != nil {
		return nil, err
	}
	if _, err := rt.store.Login(cmd.Context(), identity(cmd, cfg)); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}
