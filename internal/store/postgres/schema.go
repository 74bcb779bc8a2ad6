package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id            UUID PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT,
    name          TEXT NOT NULL DEFAULT '',
    timezone      TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS tasks (
    id                  UUID PRIMARY KEY,
    user_id             UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    name                TEXT NOT NULL,
    note                TEXT NOT NULL DEFAULT '',
    priority            INTEGER NOT NULL DEFAULT 0,
    status              TEXT NOT NULL DEFAULT 'not_started',
    due_date            TIMESTAMPTZ,
    completed_at        TIMESTAMPTZ,
    recurrence_type     TEXT NOT NULL DEFAULT 'none',
    recurrence          JSONB,
    recurring_parent_id UUID REFERENCES tasks(id) ON DELETE CASCADE,
    parent_task_id      UUID REFERENCES tasks(id) ON DELETE CASCADE,
    last_generated_date TIMESTAMPTZ,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT tasks_completed_at_iff_done CHECK ((status = 'done') = (completed_at IS NOT NULL)),
    CONSTRAINT tasks_instance_has_no_rule CHECK (recurring_parent_id IS NULL OR recurrence_type = 'none')
)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks (parent_task_id) WHERE parent_task_id IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_tasks_instance_due ON tasks (recurring_parent_id, due_date) WHERE recurring_parent_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_templates ON tasks (recurrence_type, last_generated_date)
    WHERE recurring_parent_id IS NULL AND recurrence_type <> 'none'`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres.EnsureSchema: %w", err)
		}
	}
	return nil
}
