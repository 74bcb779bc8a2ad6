// Package scheduler runs recurrence generation on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/cadence/internal/recurrence"
)

const (
	TriggerTick     = "tick"
	TriggerManual   = "manual"
	TriggerCommand  = "command"
	defaultInterval = 5 * time.Minute
)

// Generator is the batch entry point of the recurrence engine.
type Generator interface {
	GenerateDue(ctx context.Context) (*recurrence.BatchReport, error)
}

type Scheduler struct {
	gen      Generator
	interval time.Duration
	metrics  *Metrics
}

func New(gen Generator, interval time.Duration, metrics *Metrics) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{gen: gen, interval: interval, metrics: metrics}
}

// Start runs a batch immediately and then on every tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	log.Info().Dur("interval", s.interval).Msg("scheduler: started")

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler: stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx, TriggerTick); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("scheduler: generation run failed")
	}
}

// RunOnce runs one generation batch and records it.
func (s *Scheduler) RunOnce(ctx context.Context, trigger string) (*recurrence.BatchReport, error) {
	start := time.Now()
	report, err := s.gen.GenerateDue(ctx)
	took := time.Since(start)
	s.metrics.Observe(trigger, report, took, err)
	if err != nil {
		return nil, fmt.Errorf("scheduler.RunOnce: %w", err)
	}

	ev := log.Info()
	if report.Failed > 0 {
		ev = log.Warn()
	}
	ev.Str("trigger", trigger).
		Int("templates", len(report.Outcomes)).
		Int("created", report.Created).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("took", took).
		Msg("scheduler: generation run finished")

	return report, nil
}
