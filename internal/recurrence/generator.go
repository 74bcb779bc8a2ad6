package recurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/cadence/internal/domain"
)

const (
	// maxSteps bounds the calculator calls of one run, including fast-forwarding
	// over occurrences that are already in the past.
	maxSteps = 10000
	// maxSubtaskDepth bounds the subtask tree copied onto each instance.
	maxSubtaskDepth = 8
)

// UserLookup resolves a template owner for time zone purposes.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// Options configures a Generator.
type Options struct {
	HorizonDays     int
	Concurrency     int
	BatchSize       int
	DefaultTimezone string
	Now             func() time.Time
}

// Generator materializes instances of recurring templates up to a horizon.
type Generator struct {
	tx     domain.TxManager
	tasks  domain.TaskRepository
	users  UserLookup
	locker Locker

	horizonDays     int
	concurrency     int
	batchSize       int
	defaultTimezone string
	now             func() time.Time
}

func NewGenerator(tx domain.TxManager, tasks domain.TaskRepository, users UserLookup, locker Locker, opts Options) *Generator {
	g := &Generator{
		tx:              tx,
		tasks:           tasks,
		users:           users,
		locker:          locker,
		horizonDays:     opts.HorizonDays,
		concurrency:     opts.Concurrency,
		batchSize:       opts.BatchSize,
		defaultTimezone: opts.DefaultTimezone,
		now:             opts.Now,
	}
	if g.horizonDays < 0 {
		g.horizonDays = 0
	}
	if g.concurrency < 1 {
		g.concurrency = 4
	}
	if g.batchSize < 1 {
		g.batchSize = 500
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// HorizonDays returns the configured horizon.
func (g *Generator) HorizonDays() int { return g.horizonDays }

// Outcome is the result of generating one template.
type Outcome struct {
	TemplateID uuid.UUID
	UserID     uuid.UUID
	Created    []*domain.Task
	Skipped    bool
	Err        error
}

// BatchReport lists per-template outcomes of a batch run. A batch always
// completes; failures are recorded per template.
type BatchReport struct {
	Outcomes []Outcome
	Created  int
	Skipped  int
	Failed   int
}

// Generate materializes template's instances up to today+horizonDays.
// A template that is not owed instances yields a skipped outcome, not an error.
func (g *Generator) Generate(ctx context.Context, template *domain.Task, horizonDays int) (*Outcome, error) {
	out := &Outcome{TemplateID: template.ID, UserID: template.UserID}

	unlock, err := g.locker.Lock(ctx, TemplateLockKey(template.ID))
	if err != nil {
		return out, fmt.Errorf("recurrence.Generator.Generate: lock: %w", err)
	}
	defer unlock()

	loc := g.location(ctx, template.UserID)

	err = g.tx.WithinTx(ctx, func(ctx context.Context, repo domain.TaskRepository) error {
		current, err := repo.GetForUpdate(ctx, template.UserID, template.ID)
		if err != nil {
			return err
		}
		out.Created, err = g.materialize(ctx, repo, current, loc, horizonDays)
		return err
	})
	if errors.Is(err, domain.ErrGenerationSkipped) {
		out.Skipped = true
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("recurrence.Generator.Generate: %w", err)
	}

	return out, nil
}

// GenerateDue runs generation for every template owed instances.
func (g *Generator) GenerateDue(ctx context.Context) (*BatchReport, error) {
	horizon := g.now().AddDate(0, 0, g.horizonDays+1)
	templates, err := g.tasks.ListTemplatesDue(ctx, horizon, g.batchSize)
	if err != nil {
		return nil, fmt.Errorf("recurrence.Generator.GenerateDue: %w", err)
	}
	return g.run(ctx, templates), nil
}

// GenerateForUser runs generation for all templates owned by userID.
func (g *Generator) GenerateForUser(ctx context.Context, userID uuid.UUID) (*BatchReport, error) {
	templates, err := g.tasks.ListTemplatesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("recurrence.Generator.GenerateForUser: %w", err)
	}
	return g.run(ctx, templates), nil
}

func (g *Generator) run(ctx context.Context, templates []*domain.Task) *BatchReport {
	outcomes := make([]Outcome, len(templates))

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i, tpl := range templates {
		eg.Go(func() error {
			out, err := g.Generate(ctx, tpl, g.horizonDays)
			if err != nil {
				log.Error().Err(err).
					Str("template_id", tpl.ID.String()).
					Str("user_id", tpl.UserID.String()).
					Msg("recurrence: template generation failed")
				out.Err = err
			}
			outcomes[i] = *out
			return nil
		})
	}
	_ = eg.Wait()

	report := &BatchReport{Outcomes: outcomes}
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			report.Failed++
		case o.Skipped:
			report.Skipped++
		default:
			report.Created += len(o.Created)
		}
	}
	return report
}

// materialize creates the missing instances of tpl inside repo's transaction
// and advances the watermark. The caller holds the template lock.
func (g *Generator) materialize(ctx context.Context, repo domain.TaskRepository, tpl *domain.Task, loc *time.Location, horizonDays int) ([]*domain.Task, error) {
	if !tpl.IsTemplate() {
		return nil, fmt.Errorf("task %s is not a recurrence template: %w", tpl.ID, domain.ErrInvalidLineage)
	}
	if tpl.Status == domain.TaskStatusCancelled || tpl.Status == domain.TaskStatusArchived {
		return nil, domain.ErrGenerationSkipped
	}
	if err := tpl.Recurrence.Validate(); err != nil {
		return nil, fmt.Errorf("template %s: %w", tpl.ID, err)
	}

	anchor := GenerationAnchor(tpl)
	if anchor == nil {
		return nil, domain.ErrGenerationSkipped
	}

	// Completion-based templates are advanced by the cascade path. The
	// calendar only seeds the first instance of a template that has none.
	maxCreate := maxSteps
	if tpl.Recurrence.CompletionBased {
		existing, err := repo.ListInstances(ctx, tpl.UserID, tpl.ID)
		if err != nil {
			return nil, fmt.Errorf("list instances: %w", err)
		}
		if len(existing) > 0 {
			return nil, domain.ErrGenerationSkipped
		}
		maxCreate = 1
	}

	now := g.now()
	today := StartOfDay(now, loc)
	limit := today.AddDate(0, 0, horizonDays+1)
	rule := EffectiveRule(tpl, loc)

	subtasks, err := repo.ListSubtasks(ctx, tpl.UserID, tpl.ID)
	if err != nil {
		return nil, fmt.Errorf("list template subtasks: %w", err)
	}

	var created []*domain.Task
	cursor := *anchor
	for range maxSteps {
		next, ok, err := Next(rule, cursor, loc)
		if err != nil {
			return nil, err
		}
		if !ok || !next.Before(limit) {
			break
		}
		cursor = next
		if next.Before(today) {
			continue
		}

		inst, err := g.createInstance(ctx, repo, tpl, subtasks, next, now)
		if err != nil {
			return nil, err
		}
		if inst != nil {
			created = append(created, inst)
		}
		if len(created) >= maxCreate {
			break
		}
	}

	if tpl.LastGeneratedDate == nil || cursor.After(*tpl.LastGeneratedDate) {
		wm := cursor
		tpl.LastGeneratedDate = &wm
		tpl.UpdatedAt = now
		if err := repo.Update(ctx, tpl); err != nil {
			return nil, fmt.Errorf("advance watermark: %w", err)
		}
	}

	return created, nil
}

// CreateSuccessor creates the single next instance of a completion-based
// template, anchored at the completion time of the done instance. It returns
// nil when the template is closed, the rule has ended, or an active instance
// due after the completed one already exists. repo must belong to the
// caller's transaction.
func (g *Generator) CreateSuccessor(ctx context.Context, repo domain.TaskRepository, completed *domain.Task) (*domain.Task, error) {
	if completed.RecurringParentID == nil || completed.CompletedAt == nil {
		return nil, nil
	}
	userID := completed.UserID

	tpl, err := repo.GetForUpdate(ctx, userID, *completed.RecurringParentID)
	if err != nil {
		return nil, fmt.Errorf("recurrence.Generator.CreateSuccessor: %w", err)
	}
	if !tpl.IsTemplate() || !tpl.Recurrence.CompletionBased {
		return nil, nil
	}
	if tpl.Status == domain.TaskStatusCancelled || tpl.Status == domain.TaskStatusArchived {
		return nil, nil
	}

	// Reopening and re-completing an instance must not fork a second chain.
	active, err := repo.ListInstances(ctx, userID, tpl.ID, domain.TaskStatusNotStarted, domain.TaskStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("recurrence.Generator.CreateSuccessor: list instances: %w", err)
	}
	for _, inst := range active {
		if inst.ID != completed.ID && dueAfter(inst.DueDate, completed.DueDate) {
			return nil, nil
		}
	}

	loc := g.location(ctx, userID)
	next, ok, err := Next(EffectiveRule(tpl, loc), *completed.CompletedAt, loc)
	if err != nil {
		return nil, fmt.Errorf("recurrence.Generator.CreateSuccessor: %w", err)
	}
	if !ok {
		return nil, nil
	}

	subtasks, err := repo.ListSubtasks(ctx, userID, tpl.ID)
	if err != nil {
		return nil, fmt.Errorf("recurrence.Generator.CreateSuccessor: list subtasks: %w", err)
	}

	now := g.now()
	inst, err := g.createInstance(ctx, repo, tpl, subtasks, next, now)
	if err != nil {
		return nil, fmt.Errorf("recurrence.Generator.CreateSuccessor: %w", err)
	}

	if tpl.LastGeneratedDate == nil || next.After(*tpl.LastGeneratedDate) {
		tpl.LastGeneratedDate = &next
		tpl.UpdatedAt = now
		if err := repo.Update(ctx, tpl); err != nil {
			return nil, fmt.Errorf("recurrence.Generator.CreateSuccessor: advance watermark: %w", err)
		}
	}

	return inst, nil
}

// dueAfter reports whether due is later than ref. An undated ref is earlier
// than any dated instance.
func dueAfter(due, ref *time.Time) bool {
	if due == nil {
		return false
	}
	return ref == nil || due.After(*ref)
}

func (g *Generator) createInstance(ctx context.Context, repo domain.TaskRepository, tpl *domain.Task, subtasks []*domain.Task, due, now time.Time) (*domain.Task, error) {
	templateID := tpl.ID
	inst := &domain.Task{
		ID:                uuid.New(),
		UserID:            tpl.UserID,
		Name:              tpl.Name,
		Note:              tpl.Note,
		Priority:          tpl.Priority,
		Status:            domain.TaskStatusNotStarted,
		DueDate:           &due,
		Recurrence:        domain.RecurrenceRule{Type: domain.RecurrenceNone},
		RecurringParentID: &templateID,
		ParentTaskID:      tpl.ParentTaskID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	created, err := repo.CreateInstance(ctx, inst)
	if err != nil {
		return nil, fmt.Errorf("create instance due %s: %w", due.Format(time.DateOnly), err)
	}
	if !created {
		log.Debug().
			Str("template_id", tpl.ID.String()).
			Time("due_date", due).
			Msg("recurrence: instance already exists, skipping")
		return nil, nil
	}

	var offset time.Duration
	if tpl.DueDate != nil {
		offset = due.Sub(*tpl.DueDate)
	}
	if err := copySubtasks(ctx, repo, subtasks, inst, offset, now, 1); err != nil {
		return nil, err
	}

	return inst, nil
}

// copySubtasks recreates the subtask tree under parent with every copy reset
// to not started. Subtask due dates are shifted by offset.
func copySubtasks(ctx context.Context, repo domain.TaskRepository, subtasks []*domain.Task, parent *domain.Task, offset time.Duration, now time.Time, depth int) error {
	if depth > maxSubtaskDepth {
		return nil
	}
	for _, src := range subtasks {
		parentID := parent.ID
		cp := &domain.Task{
			ID:           uuid.New(),
			UserID:       parent.UserID,
			Name:         src.Name,
			Note:         src.Note,
			Priority:     src.Priority,
			Status:       domain.TaskStatusNotStarted,
			Recurrence:   domain.RecurrenceRule{Type: domain.RecurrenceNone},
			ParentTaskID: &parentID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if src.DueDate != nil {
			d := src.DueDate.Add(offset)
			cp.DueDate = &d
		}
		if err := repo.Create(ctx, cp); err != nil {
			return fmt.Errorf("copy subtask %s: %w", src.ID, err)
		}

		children, err := repo.ListSubtasks(ctx, src.UserID, src.ID)
		if err != nil {
			return fmt.Errorf("list subtasks of %s: %w", src.ID, err)
		}
		if len(children) > 0 {
			if err := copySubtasks(ctx, repo, children, cp, offset, now, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// GenerationAnchor returns max(due_date, last_generated_date), or nil when the
// template has neither and is therefore not live yet.
func GenerationAnchor(tpl *domain.Task) *time.Time {
	switch {
	case tpl.DueDate == nil && tpl.LastGeneratedDate == nil:
		return nil
	case tpl.DueDate == nil:
		return tpl.LastGeneratedDate
	case tpl.LastGeneratedDate == nil:
		return tpl.DueDate
	case tpl.LastGeneratedDate.After(*tpl.DueDate):
		return tpl.LastGeneratedDate
	default:
		return tpl.DueDate
	}
}

// EffectiveRule pins the parameters a rule leaves to its anchor onto the
// template's due date, so chained occurrences do not drift after clamping
// (Jan 31 -> Feb 28 -> Mar 31, not Mar 28; Feb 29 -> Feb 28 -> ... -> Feb 29).
func EffectiveRule(tpl *domain.Task, loc *time.Location) domain.RecurrenceRule {
	rule := tpl.Recurrence.Clone()
	if tpl.DueDate == nil {
		return rule
	}
	due := tpl.DueDate.In(loc)
	switch rule.Type {
	case domain.RecurrenceWeekly:
		if rule.Weekday == nil {
			wd := due.Weekday()
			rule.Weekday = &wd
		}
	case domain.RecurrenceMonthly, domain.RecurrenceYearly:
		if rule.MonthDay == 0 {
			rule.MonthDay = due.Day()
		}
	}
	return rule
}

func (g *Generator) location(ctx context.Context, userID uuid.UUID) *time.Location {
	if g.users != nil {
		u, err := g.users.GetByID(ctx, userID)
		if err == nil && u.Timezone != "" {
			return LoadLocation(u.Timezone)
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("recurrence: user lookup failed, using default timezone")
		}
	}
	return LoadLocation(g.defaultTimezone)
}
