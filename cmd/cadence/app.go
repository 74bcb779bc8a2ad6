package main

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	v1 "github.com/gosuda/cadence/internal/api/v1"
	"github.com/gosuda/cadence/internal/api/ws"
	"github.com/gosuda/cadence/internal/config"
	"github.com/gosuda/cadence/internal/domain"
	"github.com/gosuda/cadence/internal/recurrence"
	"github.com/gosuda/cadence/internal/store/memory"
	"github.com/gosuda/cadence/internal/store/postgres"
	redisstore "github.com/gosuda/cadence/internal/store/redis"
)

type backend interface {
	v1.DataStore
	domain.TxManager
}

// app holds the long-lived collaborators shared by every subcommand.
type app struct {
	cfg     *config.Config
	store   backend
	pg      *postgres.Store // nil for the memory store
	pubsub  *redisstore.PubSub
	broker  ws.Broker
	gen     *recurrence.Generator
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	switch cfg.Store {
	case config.StoreMemory:
		log.Warn().Msg("using in-memory store; data is lost on restart")
		a.store = memory.New()
	default:
		if cfg.Database.MaxConns > math.MaxInt32 {
			return nil, fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
		}
		pg, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
		if err != nil {
			return nil, err
		}
		a.pg = pg
		a.store = pg
		a.closers = append(a.closers, pg.Close)
	}

	var locker recurrence.Locker
	if cfg.Redis.Enabled() {
		pubsub, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.pubsub = pubsub
		a.broker = pubsub
		a.closers = append(a.closers, func() {
			if err := pubsub.Close(); err != nil {
				log.Warn().Err(err).Msg("closing redis")
			}
		})
		locker = redisstore.NewLocker(pubsub.Client(), cfg.Scheduler.LockTTL)
	} else {
		log.Info().Msg("redis not configured; events and locks are process-local")
		a.broker = ws.NewLocalBroker()
		locker = recurrence.NewLocalLocker()
	}

	a.gen = recurrence.NewGenerator(a.store, a.store.Tasks(), a.store.Users(), locker, recurrence.Options{
		HorizonDays:     cfg.Scheduler.HorizonDays,
		Concurrency:     cfg.Scheduler.Concurrency,
		BatchSize:       cfg.Scheduler.BatchSize,
		DefaultTimezone: cfg.DefaultTimezone,
	})

	return a, nil
}

// migrate creates the schema. The memory store needs none.
func (a *app) migrate(ctx context.Context) error {
	if a.pg == nil {
		return nil
	}
	return a.pg.EnsureSchema(ctx)
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
