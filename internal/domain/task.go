package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusNotStarted TaskStatus = "not_started"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusWaiting    TaskStatus = "waiting"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusArchived   TaskStatus = "archived"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusNotStarted, TaskStatusInProgress, TaskStatusWaiting,
		TaskStatusDone, TaskStatusCancelled, TaskStatusArchived:
		return true
	default:
		return false
	}
}

// IsActive reports whether work on the task is still open.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusNotStarted || s == TaskStatusInProgress || s == TaskStatusWaiting
}

// IsTerminal reports whether s is done, cancelled or archived.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusCancelled || s == TaskStatusArchived
}

// ValidTransition checks if a task state transition is allowed.
// Any known status may move to any other known status; writing the current
// status again is rejected so callers can treat it as a no-op.
func (s TaskStatus) ValidTransition(to TaskStatus) bool {
	return s.Valid() && to.Valid() && s != to
}

type TaskKind string

const (
	TaskKindStandalone TaskKind = "standalone"
	TaskKindTemplate   TaskKind = "template"
	TaskKindInstance   TaskKind = "instance"
)

// Task is the only entity of the task manager. Recurrence lineage
// (RecurringParentID) and subtask composition (ParentTaskID) are independent.
type Task struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Name              string
	Note              string
	Priority          int
	Status            TaskStatus
	DueDate           *time.Time
	CompletedAt       *time.Time
	Recurrence        RecurrenceRule
	RecurringParentID *uuid.UUID // set on instances only
	ParentTaskID      *uuid.UUID // set on subtasks only
	LastGeneratedDate *time.Time // template bookkeeping
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (t *Task) IsTemplate() bool {
	return t.RecurringParentID == nil && t.Recurrence.Active()
}

func (t *Task) IsInstance() bool {
	return t.RecurringParentID != nil
}

func (t *Task) IsSubtask() bool {
	return t.ParentTaskID != nil
}

func (t *Task) Kind() TaskKind {
	switch {
	case t.IsInstance():
		return TaskKindInstance
	case t.IsTemplate():
		return TaskKindTemplate
	default:
		return TaskKindStandalone
	}
}

// SetStatus writes the status and keeps completed_at set exactly while done.
func (t *Task) SetStatus(to TaskStatus, now time.Time) {
	t.Status = to
	if to == TaskStatusDone {
		if t.CompletedAt == nil {
			ts := now
			t.CompletedAt = &ts
		}
	} else {
		t.CompletedAt = nil
	}
	t.UpdatedAt = now
}

// CheckLineage verifies the template/instance invariants of a single row.
func (t *Task) CheckLineage() error {
	if t.RecurringParentID != nil && t.Recurrence.Active() {
		return fmt.Errorf("task %s: instance carries a live recurrence: %w", t.ID, ErrInvalidLineage)
	}
	if t.RecurringParentID != nil && *t.RecurringParentID == t.ID {
		return fmt.Errorf("task %s: instance of itself: %w", t.ID, ErrInvalidLineage)
	}
	if t.ParentTaskID != nil && *t.ParentTaskID == t.ID {
		return fmt.Errorf("task %s: subtask of itself: %w", t.ID, ErrInvalidLineage)
	}
	if (t.Status == TaskStatusDone) != (t.CompletedAt != nil) {
		return fmt.Errorf("task %s: completed_at out of sync with status %q: %w", t.ID, t.Status, ErrInvalidLineage)
	}
	return nil
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	c.DueDate = cloneTime(t.DueDate)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.LastGeneratedDate = cloneTime(t.LastGeneratedDate)
	c.Recurrence = t.Recurrence.Clone()
	if t.RecurringParentID != nil {
		id := *t.RecurringParentID
		c.RecurringParentID = &id
	}
	if t.ParentTaskID != nil {
		id := *t.ParentTaskID
		c.ParentTaskID = &id
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type TaskRepository interface {
	Create(ctx context.Context, t *Task) error
	// CreateInstance inserts a recurrence instance. It returns created=false
	// without error when the template already has an instance on that due date.
	CreateInstance(ctx context.Context, t *Task) (created bool, err error)
	GetByID(ctx context.Context, userID, id uuid.UUID) (*Task, error)
	// GetForUpdate reads a task and locks its row for the enclosing transaction.
	GetForUpdate(ctx context.Context, userID, id uuid.UUID) (*Task, error)
	Update(ctx context.Context, t *Task) error
	// UpdateDetails writes only the user-editable columns: name, note,
	// priority, due date and updated_at. Status, completion and the
	// recurrence watermark are left as stored.
	UpdateDetails(ctx context.Context, t *Task) error
	UpdateStatus(ctx context.Context, userID, id uuid.UUID, status TaskStatus, completedAt *time.Time) error
	// Delete removes the task together with its subtasks and recurrence instances.
	Delete(ctx context.Context, userID, id uuid.UUID) error
	DeleteMany(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Task, error)
	ListSubtasks(ctx context.Context, userID, parentID uuid.UUID) ([]*Task, error)
	// ListInstances returns the template's instances, optionally restricted to statuses.
	ListInstances(ctx context.Context, userID, templateID uuid.UUID, statuses ...TaskStatus) ([]*Task, error)
	// ListTemplatesDue returns calendar-driven templates whose watermark is before horizon.
	ListTemplatesDue(ctx context.Context, horizon time.Time, limit int) ([]*Task, error)
	ListTemplatesByUser(ctx context.Context, userID uuid.UUID) ([]*Task, error)
}

// TxManager runs fn as one atomic unit of work. The repository handed to fn is
// bound to the transaction; returning an error rolls everything back.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tasks TaskRepository) error) error
}
