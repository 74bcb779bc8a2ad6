package recurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/cadence/internal/domain"
)

// Coordinator re-synchronizes a template's materialized instances after its
// recurrence rule is edited.
type Coordinator struct {
	gen *Generator
}

func NewCoordinator(gen *Generator) *Coordinator {
	return &Coordinator{gen: gen}
}

// UpdateResult reports what a rule change did to the instance set.
type UpdateResult struct {
	Template    *domain.Task
	Deleted     int
	Regenerated int
	Created     []*domain.Task
}

// OnRuleChanged stores rule on the template and replaces the instances that
// were scheduled under the old rule but not acted upon yet.
//
// Turning recurrence off (type none) leaves existing instances untouched.
// Invalid rules are rejected before anything is read or written.
func (c *Coordinator) OnRuleChanged(ctx context.Context, userID, templateID uuid.UUID, rule domain.RecurrenceRule) (*UpdateResult, error) {
	rule = rule.Normalized()
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("recurrence.Coordinator.OnRuleChanged: %w", err)
	}

	unlock, err := c.gen.locker.Lock(ctx, TemplateLockKey(templateID))
	if err != nil {
		return nil, fmt.Errorf("recurrence.Coordinator.OnRuleChanged: lock: %w", err)
	}
	defer unlock()

	loc := c.gen.location(ctx, userID)
	res := &UpdateResult{}

	err = c.gen.tx.WithinTx(ctx, func(ctx context.Context, repo domain.TaskRepository) error {
		tpl, err := repo.GetForUpdate(ctx, userID, templateID)
		if err != nil {
			return err
		}
		res.Template = tpl

		if tpl.IsInstance() {
			return fmt.Errorf("task %s is a recurrence instance: %w", tpl.ID, domain.ErrInvalidLineage)
		}
		if tpl.IsSubtask() && rule.Active() {
			return fmt.Errorf("subtask %s cannot repeat on its own: %w", tpl.ID, domain.ErrInvalidLineage)
		}

		old := tpl.Recurrence.Normalized()
		if old.Equal(rule) {
			return nil
		}

		now := c.gen.now()
		tpl.Recurrence = rule
		tpl.UpdatedAt = now

		if !rule.Active() {
			return repo.Update(ctx, tpl)
		}

		stale, err := staleInstances(ctx, repo, tpl, now)
		if err != nil {
			return err
		}
		if len(stale) > 0 {
			n, err := repo.DeleteMany(ctx, userID, stale)
			if err != nil {
				return fmt.Errorf("delete stale instances: %w", err)
			}
			res.Deleted = int(n)
		}

		if old.TypeChanged(rule) {
			anchor := todayAnchor(tpl, now, loc)
			tpl.LastGeneratedDate = &anchor
		}
		if err := repo.Update(ctx, tpl); err != nil {
			return fmt.Errorf("persist rule: %w", err)
		}

		created, err := c.gen.materialize(ctx, repo, tpl, loc, c.gen.horizonDays)
		if errors.Is(err, domain.ErrGenerationSkipped) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("regenerate: %w", err)
		}
		res.Created = created
		res.Regenerated = len(created)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recurrence.Coordinator.OnRuleChanged: %w", err)
	}

	if res.Deleted > 0 || res.Regenerated > 0 {
		log.Info().
			Str("template_id", templateID.String()).
			Str("user_id", userID.String()).
			Int("deleted", res.Deleted).
			Int("regenerated", res.Regenerated).
			Msg("recurrence: rule change applied")
	}

	return res, nil
}

// staleInstances returns the instances scheduled in the future that nobody
// has started. Everything else is history and survives a rule change.
func staleInstances(ctx context.Context, repo domain.TaskRepository, tpl *domain.Task, now time.Time) ([]uuid.UUID, error) {
	instances, err := repo.ListInstances(ctx, tpl.UserID, tpl.ID, domain.TaskStatusNotStarted)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	var ids []uuid.UUID
	for _, inst := range instances {
		if IsStale(inst, now) {
			ids = append(ids, inst.ID)
		}
	}
	return ids, nil
}

// IsStale reports whether inst was committed under a rule but not acted upon:
// not started with a due date strictly after now.
func IsStale(inst *domain.Task, now time.Time) bool {
	return inst.Status == domain.TaskStatusNotStarted && inst.DueDate != nil && inst.DueDate.After(now)
}

// todayAnchor is today's date in loc carrying the template's time of day.
func todayAnchor(tpl *domain.Task, now time.Time, loc *time.Location) time.Time {
	day := StartOfDay(now, loc)
	if tpl.DueDate == nil {
		return day.UTC()
	}
	return atDay(tpl.DueDate.In(loc), day.Year(), day.Month(), day.Day()).UTC()
}
