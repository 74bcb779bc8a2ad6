package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/cadence/internal/cascade"
	"github.com/gosuda/cadence/internal/domain"
	"github.com/gosuda/cadence/internal/recurrence"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *postgres.Store and *memory.Store satisfy this interface.
type DataStore interface {
	Users() domain.UserRepository
	Tasks() domain.TaskRepository
}

// AuthService abstracts authentication operations for handler testing.
// *auth.Service satisfies this interface.
type AuthService interface {
	Register(ctx context.Context, email, password, name, timezone string) (*domain.User, error)
	Login(ctx context.Context, email, password string) (accessToken, refreshToken string, err error)
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
}

// Generator materializes recurrence instances.
// *recurrence.Generator satisfies this interface.
type Generator interface {
	Generate(ctx context.Context, template *domain.Task, horizonDays int) (*recurrence.Outcome, error)
	GenerateForUser(ctx context.Context, userID uuid.UUID) (*recurrence.BatchReport, error)
	HorizonDays() int
}

// RuleUpdater applies recurrence rule edits.
// *recurrence.Coordinator satisfies this interface.
type RuleUpdater interface {
	OnRuleChanged(ctx context.Context, userID, templateID uuid.UUID, rule domain.RecurrenceRule) (*recurrence.UpdateResult, error)
}

// StatusWriter applies status changes with subtask propagation.
// *cascade.Engine satisfies this interface.
type StatusWriter interface {
	SetStatus(ctx context.Context, userID, taskID uuid.UUID, to domain.TaskStatus) (*cascade.Result, error)
}

// Publisher broadcasts task change events. *ws.Hub satisfies this interface.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Deps bundles the collaborators of the task operations.
type Deps struct {
	Store           DataStore
	Generator       Generator
	Rules           RuleUpdater
	Status          StatusWriter
	Events          Publisher // optional
	DefaultTimezone string
}
