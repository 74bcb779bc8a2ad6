package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/cadence/internal/recurrence"
	"github.com/gosuda/cadence/internal/scheduler"
)

type mockGenerator struct {
	calls        atomic.Int32
	generateFunc func(ctx context.Context) (*recurrence.BatchReport, error)
}

func (m *mockGenerator) GenerateDue(ctx context.Context) (*recurrence.BatchReport, error) {
	m.calls.Add(1)
	return m.generateFunc(ctx)
}

func TestRunOnce_RecordsReport(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := scheduler.NewMetrics(reg)
	gen := &mockGenerator{generateFunc: func(context.Context) (*recurrence.BatchReport, error) {
		return &recurrence.BatchReport{
			Outcomes: []recurrence.Outcome{
				{TemplateID: uuid.New()},
				{TemplateID: uuid.New(), Skipped: true},
				{TemplateID: uuid.New(), Err: errors.New("boom")},
			},
			Created: 4,
			Skipped: 1,
			Failed:  1,
		}, nil
	}}
	s := scheduler.New(gen, time.Minute, metrics)

	report, err := s.RunOnce(context.Background(), scheduler.TriggerManual)

	require.NoError(t, err)
	assert.Equal(t, 4, report.Created)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if c := m.GetCounter(); c != nil {
				key := f.GetName()
				for _, l := range m.GetLabel() {
					key += "/" + l.GetValue()
				}
				values[key] = c.GetValue()
			}
		}
	}

	assert.Equal(t, float64(1), values["cadence_generation_runs_total/partial/manual"])
	assert.Equal(t, float64(4), values["cadence_instances_created_total"])
	assert.Equal(t, float64(1), values["cadence_generation_templates_total/generated"])
	assert.Equal(t, float64(1), values["cadence_generation_templates_total/skipped"])
	assert.Equal(t, float64(1), values["cadence_generation_templates_total/failed"])
}

func TestRunOnce_Error(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	gen := &mockGenerator{generateFunc: func(context.Context) (*recurrence.BatchReport, error) {
		return nil, errors.New("database unavailable")
	}}
	s := scheduler.New(gen, time.Minute, scheduler.NewMetrics(reg))

	report, err := s.RunOnce(context.Background(), scheduler.TriggerTick)

	require.Error(t, err)
	assert.Nil(t, report)
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "cadence_generation_runs_total" {
			require.Len(t, f.GetMetric(), 1)
			assert.Equal(t, "error", f.GetMetric()[0].GetLabel()[0].GetValue())
		}
	}
}

func TestRunOnce_NilMetrics(t *testing.T) {
	t.Parallel()

	gen := &mockGenerator{generateFunc: func(context.Context) (*recurrence.BatchReport, error) {
		return &recurrence.BatchReport{}, nil
	}}
	s := scheduler.New(gen, time.Minute, nil)

	_, err := s.RunOnce(context.Background(), scheduler.TriggerCommand)

	require.NoError(t, err)
}

func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	t.Parallel()

	gen := &mockGenerator{generateFunc: func(context.Context) (*recurrence.BatchReport, error) {
		return &recurrence.BatchReport{}, nil
	}}
	s := scheduler.New(gen, 10*time.Millisecond, scheduler.NewMetrics(prometheus.NewRegistry()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return gen.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
