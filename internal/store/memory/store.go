// Package memory is an in-process implementation of the task and user
// repositories. It backs the dev mode and the engine tests, and mirrors the
// constraints the postgres schema enforces: one instance per template and due
// date, and cascading deletes along both parent axes.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/cadence/internal/domain"
)

type entry struct {
	task *domain.Task
	seq  uint64
}

type Store struct {
	// txMu serializes writers: a transaction holds it from begin to commit.
	txMu sync.Mutex

	mu    sync.RWMutex
	seq   uint64
	tasks map[uuid.UUID]entry
	users map[uuid.UUID]*domain.User
}

func New() *Store {
	return &Store{
		tasks: make(map[uuid.UUID]entry),
		users: make(map[uuid.UUID]*domain.User),
	}
}

func (s *Store) Tasks() domain.TaskRepository { return &TaskRepo{s: s} }
func (s *Store) Users() domain.UserRepository { return &UserRepo{s: s} }

// WithinTx runs fn with exclusive write access. On error the task table is
// restored to its state before fn ran.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tasks domain.TaskRepository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory.WithinTx: %w", err)
	}

	s.mu.RLock()
	snapshot := make(map[uuid.UUID]entry, len(s.tasks))
	for id, e := range s.tasks {
		snapshot[id] = entry{task: e.task.Clone(), seq: e.seq}
	}
	s.mu.RUnlock()

	if err := fn(ctx, &TaskRepo{s: s, inTx: true}); err != nil {
		s.mu.Lock()
		s.tasks = snapshot
		s.mu.Unlock()
		return err
	}

	return nil
}

type TaskRepo struct {
	s    *Store
	inTx bool
}

// write runs fn under the writer lock unless the caller already holds it.
func (r *TaskRepo) write(fn func() error) error {
	if !r.inTx {
		r.s.txMu.Lock()
		defer r.s.txMu.Unlock()
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return fn()
}

func (r *TaskRepo) Create(_ context.Context, t *domain.Task) error {
	return r.write(func() error {
		if _, ok := r.s.tasks[t.ID]; ok {
			return fmt.Errorf("memory.TaskRepo.Create: %w", domain.ErrConflict)
		}
		if err := r.s.checkRefs(t); err != nil {
			return fmt.Errorf("memory.TaskRepo.Create: %w", err)
		}
		if t.RecurringParentID != nil && r.s.instanceExists(*t.RecurringParentID, t.DueDate) {
			return fmt.Errorf("memory.TaskRepo.Create: %w", domain.ErrStaleInstance)
		}
		r.s.insert(t)
		return nil
	})
}

func (r *TaskRepo) CreateInstance(_ context.Context, t *domain.Task) (bool, error) {
	if t.RecurringParentID == nil {
		return false, fmt.Errorf("memory.TaskRepo.CreateInstance: %w", domain.ErrInvalidLineage)
	}

	created := false
	err := r.write(func() error {
		if err := r.s.checkRefs(t); err != nil {
			return err
		}
		if r.s.instanceExists(*t.RecurringParentID, t.DueDate) {
			return nil
		}
		r.s.insert(t)
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("memory.TaskRepo.CreateInstance: %w", err)
	}

	return created, nil
}

func (r *TaskRepo) GetByID(_ context.Context, userID, id uuid.UUID) (*domain.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	e, ok := r.s.tasks[id]
	if !ok || e.task.UserID != userID {
		return nil, fmt.Errorf("memory.TaskRepo.GetByID: %w", domain.ErrNotFound)
	}
	return e.task.Clone(), nil
}

// GetForUpdate needs no row lock: transactions already run one at a time.
func (r *TaskRepo) GetForUpdate(ctx context.Context, userID, id uuid.UUID) (*domain.Task, error) {
	return r.GetByID(ctx, userID, id)
}

func (r *TaskRepo) Update(_ context.Context, t *domain.Task) error {
	return r.write(func() error {
		e, ok := r.s.tasks[t.ID]
		if !ok || e.task.UserID != t.UserID {
			return fmt.Errorf("memory.TaskRepo.Update: %w", domain.ErrNotFound)
		}
		if e.task.RecurringParentID != nil && !sameInstant(e.task.DueDate, t.DueDate) &&
			r.s.instanceExists(*e.task.RecurringParentID, t.DueDate) {
			return fmt.Errorf("memory.TaskRepo.Update: %w", domain.ErrStaleInstance)
		}
		// Lineage columns are fixed at insert time.
		c := t.Clone()
		c.RecurringParentID = e.task.RecurringParentID
		c.ParentTaskID = e.task.ParentTaskID
		c.CreatedAt = e.task.CreatedAt
		r.s.tasks[t.ID] = entry{task: c, seq: e.seq}
		return nil
	})
}

func (r *TaskRepo) UpdateDetails(_ context.Context, t *domain.Task) error {
	return r.write(func() error {
		e, ok := r.s.tasks[t.ID]
		if !ok || e.task.UserID != t.UserID {
			return fmt.Errorf("memory.TaskRepo.UpdateDetails: %w", domain.ErrNotFound)
		}
		if e.task.RecurringParentID != nil && !sameInstant(e.task.DueDate, t.DueDate) &&
			r.s.instanceExists(*e.task.RecurringParentID, t.DueDate) {
			return fmt.Errorf("memory.TaskRepo.UpdateDetails: %w", domain.ErrStaleInstance)
		}
		c := e.task.Clone()
		c.Name = t.Name
		c.Note = t.Note
		c.Priority = t.Priority
		c.DueDate = nil
		if t.DueDate != nil {
			due := *t.DueDate
			c.DueDate = &due
		}
		c.UpdatedAt = t.UpdatedAt
		r.s.tasks[t.ID] = entry{task: c, seq: e.seq}
		return nil
	})
}

func (r *TaskRepo) UpdateStatus(_ context.Context, userID, id uuid.UUID, status domain.TaskStatus, completedAt *time.Time) error {
	return r.write(func() error {
		e, ok := r.s.tasks[id]
		if !ok || e.task.UserID != userID {
			return fmt.Errorf("memory.TaskRepo.UpdateStatus: %w", domain.ErrNotFound)
		}
		c := e.task.Clone()
		c.Status = status
		c.CompletedAt = nil
		if completedAt != nil {
			ts := *completedAt
			c.CompletedAt = &ts
		}
		c.UpdatedAt = time.Now()
		r.s.tasks[id] = entry{task: c, seq: e.seq}
		return nil
	})
}

func (r *TaskRepo) Delete(_ context.Context, userID, id uuid.UUID) error {
	return r.write(func() error {
		e, ok := r.s.tasks[id]
		if !ok || e.task.UserID != userID {
			return fmt.Errorf("memory.TaskRepo.Delete: %w", domain.ErrNotFound)
		}
		r.s.deleteTree(id)
		return nil
	})
}

func (r *TaskRepo) DeleteMany(_ context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	var n int64
	err := r.write(func() error {
		for _, id := range ids {
			e, ok := r.s.tasks[id]
			if !ok || e.task.UserID != userID {
				continue
			}
			r.s.deleteTree(id)
			n++
		}
		return nil
	})
	return n, err
}

func (r *TaskRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*domain.Task, error) {
	out := r.s.filter(func(t *domain.Task) bool { return t.UserID == userID })
	slices.SortStableFunc(out, byDueThenPriority)
	return out, nil
}

func (r *TaskRepo) ListSubtasks(_ context.Context, userID, parentID uuid.UUID) ([]*domain.Task, error) {
	return r.s.filter(func(t *domain.Task) bool {
		return t.UserID == userID && t.ParentTaskID != nil && *t.ParentTaskID == parentID
	}), nil
}

func (r *TaskRepo) ListInstances(_ context.Context, userID, templateID uuid.UUID, statuses ...domain.TaskStatus) ([]*domain.Task, error) {
	out := r.s.filter(func(t *domain.Task) bool {
		if t.UserID != userID || t.RecurringParentID == nil || *t.RecurringParentID != templateID {
			return false
		}
		return len(statuses) == 0 || slices.Contains(statuses, t.Status)
	})
	slices.SortStableFunc(out, byDue)
	return out, nil
}

func (r *TaskRepo) ListTemplatesDue(_ context.Context, horizon time.Time, limit int) ([]*domain.Task, error) {
	out := r.s.filter(func(t *domain.Task) bool {
		if !t.IsTemplate() || t.Recurrence.CompletionBased {
			return false
		}
		if t.Status == domain.TaskStatusCancelled || t.Status == domain.TaskStatusArchived {
			return false
		}
		anchor := latest(t.DueDate, t.LastGeneratedDate)
		return anchor != nil && anchor.Before(horizon)
	})
	slices.SortStableFunc(out, byWatermark)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *TaskRepo) ListTemplatesByUser(_ context.Context, userID uuid.UUID) ([]*domain.Task, error) {
	return r.s.filter(func(t *domain.Task) bool {
		return t.UserID == userID && t.IsTemplate()
	}), nil
}

func (s *Store) insert(t *domain.Task) {
	s.seq++
	s.tasks[t.ID] = entry{task: t.Clone(), seq: s.seq}
}

func (s *Store) checkRefs(t *domain.Task) error {
	for _, ref := range []*uuid.UUID{t.RecurringParentID, t.ParentTaskID} {
		if ref == nil {
			continue
		}
		p, ok := s.tasks[*ref]
		if !ok || p.task.UserID != t.UserID {
			return fmt.Errorf("parent %s: %w", ref, domain.ErrNotFound)
		}
	}
	return nil
}

func (s *Store) instanceExists(templateID uuid.UUID, due *time.Time) bool {
	for _, e := range s.tasks {
		t := e.task
		if t.RecurringParentID == nil || *t.RecurringParentID != templateID {
			continue
		}
		if sameInstant(t.DueDate, due) {
			return true
		}
	}
	return false
}

// sameInstant reports whether two optional timestamps are equal.
func sameInstant(a, b *time.Time) bool {
	return (a == nil && b == nil) || (a != nil && b != nil && a.Equal(*b))
}

// deleteTree removes id and, recursively, every task referencing it through
// either parent column.
func (s *Store) deleteTree(id uuid.UUID) {
	delete(s.tasks, id)
	for cid, e := range s.tasks {
		t := e.task
		if (t.ParentTaskID != nil && *t.ParentTaskID == id) || (t.RecurringParentID != nil && *t.RecurringParentID == id) {
			if _, ok := s.tasks[cid]; ok {
				s.deleteTree(cid)
			}
		}
	}
}

// filter returns clones of matching tasks in insertion order.
func (s *Store) filter(match func(*domain.Task) bool) []*domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]entry, 0)
	for _, e := range s.tasks {
		if match(e.task) {
			matched = append(matched, e)
		}
	}
	slices.SortFunc(matched, func(a, b entry) int { return cmp.Compare(a.seq, b.seq) })

	out := make([]*domain.Task, len(matched))
	for i, e := range matched {
		out[i] = e.task.Clone()
	}
	return out
}

func byDue(a, b *domain.Task) int {
	switch {
	case a.DueDate == nil && b.DueDate == nil:
		return 0
	case a.DueDate == nil:
		return 1
	case b.DueDate == nil:
		return -1
	default:
		return a.DueDate.Compare(*b.DueDate)
	}
}

// byWatermark orders templates that never generated first, then by oldest
// watermark.
func byWatermark(a, b *domain.Task) int {
	switch {
	case a.LastGeneratedDate == nil && b.LastGeneratedDate == nil:
		return 0
	case a.LastGeneratedDate == nil:
		return -1
	case b.LastGeneratedDate == nil:
		return 1
	default:
		return a.LastGeneratedDate.Compare(*b.LastGeneratedDate)
	}
}

func byDueThenPriority(a, b *domain.Task) int {
	if c := byDue(a, b); c != 0 {
		return c
	}
	return cmp.Compare(b.Priority, a.Priority)
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}

type UserRepo struct {
	s *Store
}

func (r *UserRepo) Create(_ context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("memory.UserRepo.Create: %w", domain.ErrConflict)
		}
	}
	c := *u
	r.s.users[u.ID] = &c
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, fmt.Errorf("memory.UserRepo.GetByID: %w", domain.ErrNotFound)
	}
	c := *u
	return &c, nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, fmt.Errorf("memory.UserRepo.GetByEmail: %w", domain.ErrNotFound)
}

func (r *UserRepo) Update(_ context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[u.ID]; !ok {
		return fmt.Errorf("memory.UserRepo.Update: %w", domain.ErrNotFound)
	}
	c := *u
	c.UpdatedAt = time.Now()
	r.s.users[u.ID] = &c
	return nil
}
