package v1

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/cadence/internal/domain"
	"github.com/gosuda/cadence/internal/recurrence"
	"github.com/gosuda/cadence/internal/server/middleware"
	redisstore "github.com/gosuda/cadence/internal/store/redis"
	"github.com/gosuda/cadence/internal/visibility"
)

// TaskBody is the wire shape of a task. Name is the display name; templates
// show their recurrence label there and keep the stored name in OriginalName.
type TaskBody struct {
	ID                uuid.UUID              `json:"id"`
	Kind              domain.TaskKind        `json:"kind"`
	Name              string                 `json:"name"`
	OriginalName      string                 `json:"original_name"`
	Note              string                 `json:"note,omitempty"`
	Priority          int                    `json:"priority"`
	Status            domain.TaskStatus      `json:"status"`
	DueDate           *time.Time             `json:"due_date,omitempty"`
	CompletedAt       *time.Time             `json:"completed_at,omitempty"`
	Recurrence        *domain.RecurrenceRule `json:"recurrence,omitempty"`
	RecurringParentID *uuid.UUID             `json:"recurring_parent_id,omitempty"`
	ParentTaskID      *uuid.UUID             `json:"parent_task_id,omitempty"`
	LastGeneratedDate *time.Time             `json:"last_generated_date,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

func toBody(t *domain.Task) *TaskBody {
	b := &TaskBody{
		ID:                t.ID,
		Kind:              t.Kind(),
		Name:              visibility.DisplayName(t),
		OriginalName:      t.Name,
		Note:              t.Note,
		Priority:          t.Priority,
		Status:            t.Status,
		DueDate:           t.DueDate,
		CompletedAt:       t.CompletedAt,
		RecurringParentID: t.RecurringParentID,
		ParentTaskID:      t.ParentTaskID,
		LastGeneratedDate: t.LastGeneratedDate,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
	if t.Recurrence.Active() {
		r := t.Recurrence.Clone()
		b.Recurrence = &r
	}
	return b
}

func toBodies(tasks []*domain.Task) []*TaskBody {
	out := make([]*TaskBody, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toBody(t))
	}
	return out
}

func userFromContext(ctx context.Context) (uuid.UUID, error) {
	userID, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		return uuid.Nil, huma.Error403Forbidden("missing user context")
	}
	return userID, nil
}

// userLocation resolves the owner's zone for day boundaries.
func userLocation(ctx context.Context, deps Deps, userID uuid.UUID) *time.Location {
	u, err := deps.Store.Users().GetByID(ctx, userID)
	if err == nil && u.Timezone != "" {
		return recurrence.LoadLocation(u.Timezone)
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("api: user lookup failed, using default timezone")
	}
	return recurrence.LoadLocation(deps.DefaultTimezone)
}

// Event is a task change notification published on the owner's channel.
type Event struct {
	Type  string      `json:"type"`
	Tasks []*TaskBody `json:"tasks"`
	At    time.Time   `json:"at"`
}

const (
	EventTaskCreated        = "task.created"
	EventTaskUpdated        = "task.updated"
	EventTaskDeleted        = "task.deleted"
	EventInstancesGenerated = "instances.generated"
)

// publish sends a best-effort event; failures are logged and never fail the request.
func publish(ctx context.Context, pub Publisher, userID uuid.UUID, typ string, tasks ...*domain.Task) {
	if pub == nil || len(tasks) == 0 {
		return
	}

	payload, err := json.Marshal(Event{Type: typ, Tasks: toBodies(tasks), At: time.Now().UTC()})
	if err != nil {
		log.Error().Err(err).Str("event", typ).Msg("api: marshal event")
		return
	}

	if err := pub.Publish(ctx, redisstore.TaskChannel(userID), payload); err != nil {
		log.Warn().Err(err).Str("event", typ).Str("user_id", userID.String()).Msg("api: publish event")
	}
}
