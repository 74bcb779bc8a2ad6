package v1_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/cadence/internal/api/v1"
	"github.com/gosuda/cadence/internal/cascade"
	"github.com/gosuda/cadence/internal/domain"
	"github.com/gosuda/cadence/internal/idempotency"
	"github.com/gosuda/cadence/internal/recurrence"
	"github.com/gosuda/cadence/internal/server/middleware"
	"github.com/gosuda/cadence/internal/store/memory"
)

// ---------------------------------------------------------------------------
// Context helpers: inject the authenticated user for DoCtx
// ---------------------------------------------------------------------------

func userCtx(userID uuid.UUID) context.Context {
	return middleware.WithUserID(context.Background(), userID)
}

// ---------------------------------------------------------------------------
// Recording publisher
// ---------------------------------------------------------------------------

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]v1.Event
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(map[string][]v1.Event)}
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	var ev v1.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[channel] = append(p.events[channel], ev)
	return nil
}

func (p *recordingPublisher) types(channel string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events[channel]))
	for _, ev := range p.events[channel] {
		out = append(out, ev.Type)
	}
	return out
}

// ---------------------------------------------------------------------------
// In-memory environment wired like the server
// ---------------------------------------------------------------------------

const testHorizonDays = 14

type env struct {
	api    humatest.TestAPI
	store  *memory.Store
	events *recordingPublisher
	userID uuid.UUID
	ctx    context.Context
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store := memory.New()
	gen := recurrence.NewGenerator(store, store.Tasks(), store.Users(), recurrence.NewLocalLocker(), recurrence.Options{
		HorizonDays: testHorizonDays,
	})
	events := newRecordingPublisher()

	deps := v1.Deps{
		Store:     store,
		Generator: gen,
		Rules:     recurrence.NewCoordinator(gen),
		Status:    cascade.NewEngine(store, gen),
		Events:    events,
	}

	_, api := humatest.New(t)
	v1.RegisterTaskRoutes(api, deps)
	v1.RegisterStatusRoutes(api, deps)
	v1.RegisterRecurrenceRoutes(api, deps, idempotency.New(16))
	v1.RegisterStatsRoutes(api, deps)

	userID := uuid.New()
	return &env{api: api, store: store, events: events, userID: userID, ctx: userCtx(userID)}
}

// seed stores a task directly, bypassing the API.
func (e *env) seed(t *testing.T, mutate func(*domain.Task)) *domain.Task {
	t.Helper()

	now := time.Now().UTC()
	task := &domain.Task{
		ID:        uuid.New(),
		UserID:    e.userID,
		Name:      "seeded",
		Status:    domain.TaskStatusNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if mutate != nil {
		mutate(task)
	}
	require.NoError(t, e.store.Tasks().Create(context.Background(), task))
	return task
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &v))
	return v
}

// tomorrowAt returns 09:00 UTC on the day after today (UTC).
func tomorrowAt() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 9, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

// ---------------------------------------------------------------------------
// Mock TaskRepository for failure paths
// ---------------------------------------------------------------------------

type mockTaskRepo struct {
	domain.TaskRepository // unset methods panic

	getByIDFunc    func(ctx context.Context, userID, id uuid.UUID) (*domain.Task, error)
	listByUserFunc func(ctx context.Context, userID uuid.UUID) ([]*domain.Task, error)
	createFunc     func(ctx context.Context, t *domain.Task) error
	deleteFunc     func(ctx context.Context, userID, id uuid.UUID) error
}

func (m *mockTaskRepo) GetByID(ctx context.Context, userID, id uuid.UUID) (*domain.Task, error) {
	return m.getByIDFunc(ctx, userID, id)
}

func (m *mockTaskRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Task, error) {
	return m.listByUserFunc(ctx, userID)
}

func (m *mockTaskRepo) Create(ctx context.Context, t *domain.Task) error {
	return m.createFunc(ctx, t)
}

func (m *mockTaskRepo) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return m.deleteFunc(ctx, userID, id)
}

type mockDataStore struct {
	users domain.UserRepository
	tasks domain.TaskRepository
}

func (m *mockDataStore) Users() domain.UserRepository { return m.users }
func (m *mockDataStore) Tasks() domain.TaskRepository { return m.tasks }
