package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	v1 "github.com/gosuda/cadence/internal/api/v1"
	"github.com/gosuda/cadence/internal/api/ws"
	"github.com/gosuda/cadence/internal/auth"
	"github.com/gosuda/cadence/internal/cascade"
	"github.com/gosuda/cadence/internal/idempotency"
	"github.com/gosuda/cadence/internal/recurrence"
	"github.com/gosuda/cadence/internal/scheduler"
	"github.com/gosuda/cadence/internal/server"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background generation scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.migrate(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := scheduler.NewMetrics(reg)

	hub := ws.NewHub(a.broker)
	srv := server.New(ctx, cfg, server.Options{
		Deps: v1.Deps{
			Store:           a.store,
			Generator:       a.gen,
			Rules:           recurrence.NewCoordinator(a.gen),
			Status:          cascade.NewEngine(a.store, a.gen),
			Events:          hub,
			DefaultTimezone: cfg.DefaultTimezone,
		},
		Auth:     auth.NewService(a.store.Users(), cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL),
		Hub:      hub,
		Seen:     idempotency.New(idempotency.DefaultCapacity),
		Gatherer: reg,
	})

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Str("store", cfg.Store).Msg("starting server")
		return srv.Start(egCtx)
	})

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(a.gen, cfg.Scheduler.Interval, metrics)
		eg.Go(func() error {
			return sched.Start(egCtx)
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		return err
	}

	log.Info().Msg("stopped")
	return nil
}
