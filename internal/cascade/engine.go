// Package cascade propagates status changes from a task to its subtasks.
//
// Propagation is top-down only: a parent is authoritative over its subtasks,
// and no subtask write ever changes its parent.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/cadence/internal/domain"
)

const maxDepth = 32

// SuccessorCreator materializes the next instance of a completion-based
// template inside the caller's transaction.
type SuccessorCreator interface {
	CreateSuccessor(ctx context.Context, repo domain.TaskRepository, completed *domain.Task) (*domain.Task, error)
}

type Engine struct {
	tx         domain.TxManager
	successors SuccessorCreator
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a cascade engine. successors may be nil, in which case
// completing a completion-based instance creates no successor.
func NewEngine(tx domain.TxManager, successors SuccessorCreator, opts ...Option) *Engine {
	e := &Engine{tx: tx, successors: successors, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result describes one applied status write.
type Result struct {
	Task      *domain.Task
	Changed   []*domain.Task // subtasks whose status changed
	Successor *domain.Task
	NoOp      bool
}

// SetStatus writes status to on the task and cascades the change to its
// subtask tree in one transaction. Writing the status a task already has is
// reported as a no-op result.
func (e *Engine) SetStatus(ctx context.Context, userID, taskID uuid.UUID, to domain.TaskStatus) (*Result, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("cascade.SetStatus: unknown status %q: %w", to, domain.ErrInvalidTransition)
	}

	res := &Result{}
	err := e.tx.WithinTx(ctx, func(ctx context.Context, repo domain.TaskRepository) error {
		task, err := repo.GetForUpdate(ctx, userID, taskID)
		if err != nil {
			return err
		}
		res.Task = task

		if !task.Status.ValidTransition(to) {
			return domain.ErrCascadeConflict
		}

		now := e.now()
		from := task.Status
		if err := write(ctx, repo, task, to, now); err != nil {
			return err
		}

		if err := e.cascade(ctx, repo, task, from, to, now, 1, res); err != nil {
			return err
		}

		if to == domain.TaskStatusDone && task.IsInstance() && e.successors != nil {
			res.Successor, err = e.successors.CreateSuccessor(ctx, repo, task)
			if err != nil {
				return fmt.Errorf("create successor: %w", err)
			}
		}

		return nil
	})
	if errors.Is(err, domain.ErrCascadeConflict) {
		res.NoOp = true
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cascade.SetStatus: %w", err)
	}

	log.Debug().
		Str("task_id", taskID.String()).
		Str("status", string(to)).
		Int("cascaded", len(res.Changed)).
		Msg("cascade: status applied")

	return res, nil
}

// cascade applies the parent's from->to transition to its subtasks and
// recurses into every subtask that changed.
func (e *Engine) cascade(ctx context.Context, repo domain.TaskRepository, parent *domain.Task, from, to domain.TaskStatus, now time.Time, depth int, res *Result) error {
	if depth > maxDepth {
		return nil
	}

	subtasks, err := repo.ListSubtasks(ctx, parent.UserID, parent.ID)
	if err != nil {
		return fmt.Errorf("list subtasks of %s: %w", parent.ID, err)
	}

	for _, sub := range subtasks {
		target, ok := ChildTarget(from, to, sub.Status)
		if !ok || sub.Status == target {
			continue
		}

		subFrom := sub.Status
		if err := write(ctx, repo, sub, target, now); err != nil {
			return err
		}
		res.Changed = append(res.Changed, sub)

		if err := e.cascade(ctx, repo, sub, subFrom, target, now, depth+1, res); err != nil {
			return err
		}
	}

	return nil
}

func write(ctx context.Context, repo domain.TaskRepository, t *domain.Task, to domain.TaskStatus, now time.Time) error {
	t.SetStatus(to, now)
	if err := repo.UpdateStatus(ctx, t.UserID, t.ID, to, t.CompletedAt); err != nil {
		return fmt.Errorf("write status of %s: %w", t.ID, err)
	}
	return nil
}

// ChildTarget returns the status a subtask currently in child moves to when
// its parent goes from -> to. ok is false when the subtask is left alone.
func ChildTarget(from, to, child domain.TaskStatus) (domain.TaskStatus, bool) {
	switch {
	case to == domain.TaskStatusDone:
		return domain.TaskStatusDone, child != domain.TaskStatusDone

	case from == domain.TaskStatusDone && to.IsActive():
		return domain.TaskStatusNotStarted, child != domain.TaskStatusNotStarted

	case from.IsActive() && to == domain.TaskStatusCancelled:
		return domain.TaskStatusCancelled, child.IsActive()

	case from == domain.TaskStatusCancelled && to.IsActive():
		return domain.TaskStatusNotStarted, child == domain.TaskStatusCancelled
	}

	return "", false
}
