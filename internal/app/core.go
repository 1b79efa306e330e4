// Package app monta as dependências compartilhadas pelos dois processos.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-core/internal/exposure"
	"github.com/radieske/sportsbook-core/internal/idempotency"
	"github.com/radieske/sportsbook-core/internal/ledger"
	"github.com/radieske/sportsbook-core/internal/risk"
	"github.com/radieske/sportsbook-core/internal/shared/cache"
	"github.com/radieske/sportsbook-core/internal/shared/config"
	"github.com/radieske/sportsbook-core/internal/shared/db"
	"github.com/radieske/sportsbook-core/internal/shared/lock"
	"github.com/radieske/sportsbook-core/internal/shared/metrics"
	"github.com/radieske/sportsbook-core/internal/storage"
	"github.com/radieske/sportsbook-core/internal/storage/memory"
	"github.com/radieske/sportsbook-core/internal/storage/postgres"
)

// Core agrupa store, locks, métricas e os componentes do núcleo.
type Core struct {
	Store       storage.Store
	Locks       lock.Locker
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	Ledger      *ledger.Ledger
	Exposure    *exposure.Ledger
	Risk        *risk.Engine
	Idempotency *idempotency.Executor

	checks  []metrics.HealthFunc
	closers []func() error
}

func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*Core, error) {
	c := &Core{Registry: prometheus.NewRegistry()}
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metrics.NewMetrics(c.Registry)

	if err := c.openStore(ctx, cfg, log); err != nil {
		c.Close()
		return nil, err
	}

	// Redis opcional: sem ele o lock de idempotência vale só dentro do processo
	c.Locks = lock.NewLocal()
	if cfg.RedisAddr != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.closers = append(c.closers, rdb.Close)
		c.checks = append(c.checks, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		c.Locks = lock.NewRedis(rdb, cfg.IdempotencyLockTTL, "")
		log.Info("redis locks enabled", zap.String("addr", cfg.RedisAddr))
	}

	c.Exposure = exposure.New(c.Store, log, c.Metrics, exposure.WithMaxAttempts(cfg.ExposureMaxAttempts))
	c.Ledger = ledger.New(c.Store, log, c.Metrics)
	c.Risk = risk.NewEngine(c.Store, c.Exposure, cfg.DefaultMaxStakePerBet, log, c.Metrics)
	c.Idempotency = idempotency.NewExecutor(c.Store, c.Locks, log, c.Metrics)
	return c, nil
}

func (c *Core) openStore(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	switch cfg.Store {
	case config.StoreMemory:
		mem := memory.New()
		for _, id := range cfg.Customers() {
			mem.AddCustomer(id)
		}
		c.Store = mem
		log.Warn("using in-memory store, state is lost on restart")

	case config.StorePostgres:
		pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, pg.Close)
		if err := postgres.Migrate(ctx, pg); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		store := postgres.New(pg)
		for _, id := range cfg.Customers() {
			if err := store.AddCustomer(ctx, id); err != nil {
				return err
			}
		}
		c.Store = store

	default:
		return fmt.Errorf("unknown store %q", cfg.Store)
	}
	c.checks = append(c.checks, c.Store.Ping)
	return nil
}

// Health é usado pelo /healthz.
func (c *Core) Health(ctx context.Context) error {
	for _, check := range c.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close fecha na ordem inversa de abertura.
func (c *Core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
	c.closers = nil
}
