package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/cadence/internal/domain"
)

const taskColumns = `id, user_id, name, note, priority, status, due_date, completed_at,
        recurrence, recurring_parent_id, parent_task_id, last_generated_date, created_at, updated_at`

type TaskRepo struct {
	db querier
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{db: pool}
}

func (r *TaskRepo) Create(ctx context.Context, t *domain.Task) error {
	rule, err := encodeRule(t.Recurrence)
	if err != nil {
		return fmt.Errorf("taskRepo.Create: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO tasks (id, user_id, name, note, priority, status, due_date, completed_at,
		        recurrence_type, recurrence, recurring_parent_id, parent_task_id, last_generated_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.UserID, t.Name, t.Note, t.Priority, t.Status, t.DueDate, t.CompletedAt,
		t.Recurrence.Normalized().Type, rule, t.RecurringParentID, t.ParentTaskID, t.LastGeneratedDate,
		t.CreatedAt, t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("taskRepo.Create: %w", domain.ErrStaleInstance)
	}
	if err != nil {
		return fmt.Errorf("taskRepo.Create: %w", err)
	}

	return nil
}

func (r *TaskRepo) CreateInstance(ctx context.Context, t *domain.Task) (bool, error) {
	if t.RecurringParentID == nil {
		return false, fmt.Errorf("taskRepo.CreateInstance: %w", domain.ErrInvalidLineage)
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO tasks (id, user_id, name, note, priority, status, due_date, completed_at,
		        recurrence_type, recurring_parent_id, parent_task_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'none', $9, $10, $11, $12)
		 ON CONFLICT (recurring_parent_id, due_date) WHERE recurring_parent_id IS NOT NULL DO NOTHING`,
		t.ID, t.UserID, t.Name, t.Note, t.Priority, t.Status, t.DueDate, t.CompletedAt,
		t.RecurringParentID, t.ParentTaskID, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("taskRepo.CreateInstance: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *TaskRepo) GetByID(ctx context.Context, userID, id uuid.UUID) (*domain.Task, error) {
	return r.get(ctx, "taskRepo.GetByID",
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 AND id = $2`, userID, id)
}

func (r *TaskRepo) GetForUpdate(ctx context.Context, userID, id uuid.UUID) (*domain.Task, error) {
	return r.get(ctx, "taskRepo.GetForUpdate",
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 AND id = $2 FOR UPDATE`, userID, id)
}

func (r *TaskRepo) get(ctx context.Context, caller, query string, args ...any) (*domain.Task, error) {
	t, err := scanTask(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", caller, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", caller, err)
	}

	return t, nil
}

func (r *TaskRepo) Update(ctx context.Context, t *domain.Task) error {
	rule, err := encodeRule(t.Recurrence)
	if err != nil {
		return fmt.Errorf("taskRepo.Update: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE tasks SET name = $1, note = $2, priority = $3, status = $4, due_date = $5, completed_at = $6,
		        recurrence_type = $7, recurrence = $8, last_generated_date = $9, updated_at = $10
		 WHERE user_id = $11 AND id = $12`,
		t.Name, t.Note, t.Priority, t.Status, t.DueDate, t.CompletedAt,
		t.Recurrence.Normalized().Type, rule, t.LastGeneratedDate, t.UpdatedAt,
		t.UserID, t.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("taskRepo.Update: %w", domain.ErrStaleInstance)
	}
	if err != nil {
		return fmt.Errorf("taskRepo.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("taskRepo.Update: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *TaskRepo) UpdateDetails(ctx context.Context, t *domain.Task) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE tasks SET name = $1, note = $2, priority = $3, due_date = $4, updated_at = $5
		 WHERE user_id = $6 AND id = $7`,
		t.Name, t.Note, t.Priority, t.DueDate, t.UpdatedAt,
		t.UserID, t.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("taskRepo.UpdateDetails: %w", domain.ErrStaleInstance)
	}
	if err != nil {
		return fmt.Errorf("taskRepo.UpdateDetails: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("taskRepo.UpdateDetails: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *TaskRepo) UpdateStatus(ctx context.Context, userID, id uuid.UUID, status domain.TaskStatus, completedAt *time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE tasks SET status = $1, completed_at = $2, updated_at = now() WHERE user_id = $3 AND id = $4`,
		status, completedAt, userID, id,
	)
	if err != nil {
		return fmt.Errorf("taskRepo.UpdateStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("taskRepo.UpdateStatus: %w", domain.ErrNotFound)
	}

	return nil
}

// Delete relies on the ON DELETE CASCADE foreign keys for subtasks and instances.
func (r *TaskRepo) Delete(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM tasks WHERE user_id = $1 AND id = $2`,
		userID, id,
	)
	if err != nil {
		return fmt.Errorf("taskRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("taskRepo.Delete: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *TaskRepo) DeleteMany(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := r.db.Exec(ctx,
		`DELETE FROM tasks WHERE user_id = $1 AND id = ANY($2)`,
		userID, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("taskRepo.DeleteMany: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *TaskRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Task, error) {
	return r.list(ctx, "taskRepo.ListByUser",
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1
		 ORDER BY due_date NULLS LAST, priority DESC, created_at
		 LIMIT 5000`,
		userID,
	)
}

func (r *TaskRepo) ListSubtasks(ctx context.Context, userID, parentID uuid.UUID) ([]*domain.Task, error) {
	return r.list(ctx, "taskRepo.ListSubtasks",
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 AND parent_task_id = $2
		 ORDER BY created_at, id`,
		userID, parentID,
	)
}

func (r *TaskRepo) ListInstances(ctx context.Context, userID, templateID uuid.UUID, statuses ...domain.TaskStatus) ([]*domain.Task, error) {
	if len(statuses) == 0 {
		return r.list(ctx, "taskRepo.ListInstances",
			`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 AND recurring_parent_id = $2
			 ORDER BY due_date NULLS LAST, created_at`,
			userID, templateID,
		)
	}

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	return r.list(ctx, "taskRepo.ListInstances",
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 AND recurring_parent_id = $2 AND status = ANY($3)
		 ORDER BY due_date NULLS LAST, created_at`,
		userID, templateID, names,
	)
}

// ListTemplatesDue skips completion-based templates; those advance through
// the completion path only.
func (r *TaskRepo) ListTemplatesDue(ctx context.Context, horizon time.Time, limit int) ([]*domain.Task, error) {
	return r.list(ctx, "taskRepo.ListTemplatesDue",
		`SELECT `+taskColumns+` FROM tasks
		 WHERE recurring_parent_id IS NULL
		   AND recurrence_type <> 'none'
		   AND status NOT IN ('cancelled', 'archived')
		   AND NOT COALESCE((recurrence->>'completion_based')::boolean, false)
		   AND GREATEST(due_date, last_generated_date) < $1
		 ORDER BY last_generated_date NULLS FIRST, id
		 LIMIT $2`,
		horizon, limit,
	)
}

func (r *TaskRepo) ListTemplatesByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Task, error) {
	return r.list(ctx, "taskRepo.ListTemplatesByUser",
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = $1 AND recurring_parent_id IS NULL AND recurrence_type <> 'none'
		 ORDER BY created_at, id`,
		userID,
	)
}

func (r *TaskRepo) list(ctx context.Context, caller, query string, args ...any) ([]*domain.Task, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", caller, err)
	}
	defer rows.Close()

	return scanTasks(rows, caller)
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	var rule []byte

	if err := row.Scan(
		&t.ID, &t.UserID, &t.Name, &t.Note, &t.Priority, &t.Status, &t.DueDate, &t.CompletedAt,
		&rule, &t.RecurringParentID, &t.ParentTaskID, &t.LastGeneratedDate,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	t.Recurrence, err = decodeRule(rule)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", t.ID, err)
	}

	return &t, nil
}

func scanTasks(rows pgx.Rows, caller string) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return tasks, nil
}

func encodeRule(rule domain.RecurrenceRule) ([]byte, error) {
	if !rule.Active() {
		return nil, nil
	}
	b, err := json.Marshal(rule)
	if err != nil {
		return nil, fmt.Errorf("encode recurrence: %w", err)
	}
	return b, nil
}

func decodeRule(b []byte) (domain.RecurrenceRule, error) {
	rule := domain.RecurrenceRule{Type: domain.RecurrenceNone}
	if len(b) == 0 {
		return rule, nil
	}
	if err := json.Unmarshal(b, &rule); err != nil {
		return rule, fmt.Errorf("decode recurrence: %w", err)
	}
	return rule.Normalized(), nil
}
