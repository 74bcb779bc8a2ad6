package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/cadence/internal/domain"
	"github.com/gosuda/cadence/internal/visibility"
)

type CreateTaskInput struct {
	Body struct {
		Name         string                 `json:"name" minLength:"1" maxLength:"500" doc:"Task name"`
		Note         string                 `json:"note,omitempty" doc:"Free-form note"`
		Priority     int                    `json:"priority,omitempty" minimum:"0" maximum:"3" doc:"Priority (0=none)"`
		DueDate      *time.Time             `json:"due_date,omitempty" doc:"Due date; also the anchor of a recurrence"`
		Recurrence   *domain.RecurrenceRule `json:"recurrence,omitempty" doc:"Recurrence rule; makes the task a template"`
		ParentTaskID *uuid.UUID             `json:"parent_task_id,omitempty" doc:"Parent task for subtasks"`
	}
}

type TaskOutput struct {
	Body *TaskBody
}

type ListTasksInput struct {
	View string `query:"view" enum:"all,someday,inbox,today,upcoming" doc:"List view (default all)"`
}

type TasksOutput struct {
	Body []*TaskBody
}

type TaskIDInput struct {
	ID uuid.UUID `path:"id" doc:"Task ID"`
}

type ListInstancesInput struct {
	ID     uuid.UUID `path:"id" doc:"Template ID"`
	Status string    `query:"status" doc:"Only instances with this status"`
}

type UpdateTaskInput struct {
	ID   uuid.UUID `path:"id" doc:"Task ID"`
	Body struct {
		Name         string     `json:"name,omitempty" maxLength:"500" doc:"Task name"`
		Note         *string    `json:"note,omitempty" doc:"Free-form note"`
		Priority     *int       `json:"priority,omitempty" minimum:"0" maximum:"3" doc:"Priority"`
		DueDate      *time.Time `json:"due_date,omitempty" doc:"Due date"`
		ClearDueDate bool       `json:"clear_due_date,omitempty" doc:"Remove the due date"`
	}
}

func RegisterTaskRoutes(api huma.API, deps Deps) {
	huma.Register(api, huma.Operation{
		OperationID: "create-task",
		Method:      http.MethodPost,
		Path:        "/tasks",
		Summary:     "Create a task, recurring template or subtask",
		Tags:        []string{"Tasks"},
	}, func(ctx context.Context, input *CreateTaskInput) (*TaskOutput, error) {
		userID, err := userFromContext(ctx)
		if err != nil {
			return nil, err
		}

		var rule domain.RecurrenceRule
		if input.Body.Recurrence != nil {
			rule = input.Body.Recurrence.Normalized()
			if err := rule.Validate(); err != nil {
				return nil, huma.Error422UnprocessableEntity(err.Error())
			}
		}

		if input.Body.ParentTaskID != nil {
			if rule.Active() {
				return nil, huma.Error422UnprocessableEntity("subtasks cannot recur")
			}
			if _, err := deps.Store.Tasks().GetByID(ctx, userID, *input.Body.ParentTaskID); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return nil, huma.Error404NotFound("parent task not found")
				}
				return nil, huma.Error500InternalServerError("failed to validate parent task", err)
			}
		}

		now := time.Now().UTC()
		t := &domain.Task{
			ID:           uuid.New(),
			UserID:       userID,
			Name:         input.Body.Name,
			Note:         input.Body.Note,
			Priority:     input.Body.Priority,
			Status:       domain.TaskStatusNotStarted,
			DueDate:      utcPtr(input.Body.DueDate),
			Recurrence:   rule,
			ParentTaskID: input.Body.ParentTaskID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if err := deps.Store.Tasks().Create(ctx, t); err != nil {
			return nil, huma.Error500InternalServerError("failed to create task", err)
		}
		publish(ctx, deps.Events, userID, EventTaskCreated, t)

		if t.IsTemplate() && deps.Generator != nil {
			out, genErr := deps.Generator.Generate(ctx, t, deps.Generator.HorizonDays())
			if genErr != nil {
				// The template exists; the scheduler retries generation.
				log.Warn().Err(genErr).Str("template_id", t.ID.String()).Msg("api: initial generation failed")
			} else {
				publish(ctx, deps.Events, userID, EventInstancesGenerated, out.Created...)
			}
			if fresh, err := deps.Store.Tasks().GetByID(ctx, userID, t.ID); err == nil {
				t = fresh
			}
		}

		return &TaskOutput{Body: toBody(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List top-level tasks for a view",
		Tags:        []string{"Tasks"},
	}, func(ctx context.Context, input *ListTasksInput) (*TasksOutput, error) {
		userID, err := userFromContext(ctx)
		if err != nil {
			return nil, err
		}

		view, err := visibility.ParseView(input.View)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}

		tasks, err := deps.Store.Tasks().ListByUser(ctx, userID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list tasks", err)
		}

		policy := visibility.NewPolicy(time.Now(), userLocation(ctx, deps, userID))
		items := policy.Filter(view, tasks)

		out := make([]*TaskBody, 0, len(items))
		for _, item := range items {
			out = append(out, toBody(item.Task))
		}
		return &TasksOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get a task by ID",
		Tags:        []string{"Tasks"},
	}, func(ctx context.Context, input *TaskIDInput) (*TaskOutput, error) {
		userID, err := userFromContext(ctx)
		if err != nil {
			return nil, err
		}

		t, err := getTask(ctx, deps, userID, input.ID)
		if err != nil {
			return nil, err
		}
		return &TaskOutput{Body: toBody(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-subtasks",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/subtasks",
		Summary:     "List a task's direct subtasks",
		Tags:        []string{"Tasks"},
	}, func(ctx context.Context, input *TaskIDInput) (*TasksOutput, error) {
		userID, err := userFromContext(ctx)
		if err != nil {
			return nil, err
		}

		if _, err := getTask(ctx, deps, userID, input.ID); err != nil {
			return nil, err
		}

		subtasks, err := deps.Store.Tasks().ListSubtasks(ctx, userID, input.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list subtasks", err)
		}
		return &TasksOutput{Body: toBodies(subtasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-instances",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/instances",
		Summary:     "List a template's materialized instances",
		Tags:        []string{"Tasks"},
	}, func(ctx context.Context, input *ListInstancesInput) (*TasksOutput, error) {
		userID, err := userFromContext(ctx)
		if err != nil {
			return nil, err
		}

		if _, err := getTask(ctx, deps, userID, input.ID); err != nil {
			return nil, err
		}

		var statuses []domain.TaskStatus
		if input.Status != "" {
			s := domain.TaskStatus(input.Status)
			if !s.Valid() {
				return nil, huma.Error400BadRequest("unknown task status: " + input.Status)
			}
			statuses = append(statuses, s)
		}

		instances, err := deps.Store.Tasks().ListInstances(ctx, userID, input.ID, statuses...)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list instances", err)
		}
		return &TasksOutput{Body: toBodies(instances)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}",
		Summary:     "Update a task's plain fields",
		Tags:        []string{"Tasks"},
	}, func(ctx context.Context, input *UpdateTaskInput) (*TaskOutput, error) {
		userID, err := userFromContext(ctx)
		if err != nil {
			return nil, err
		}

		existing, err := getTask(ctx, deps, userID, input.ID)
		if err != nil {
			return nil, err
		}

		if input.Body.Name != "" {
			existing.Name = input.Body.Name
		}
		if input.Body.Note != nil {
			existing.Note = *input.Body.Note
		}
		if input.Body.Priority != nil {
			existing.Priority = *input.Body.Priority
		}
		switch {
		case input.Body.ClearDueDate:
			existing.DueDate = nil
		case input.Body.DueDate != nil:
			existing.DueDate = utcPtr(input.Body.DueDate)
		}
		existing.UpdatedAt = time.Now().UTC()

		if err := deps.Store.Tasks().UpdateDetails(ctx, existing); err != nil {
			if errors.Is(err, domain.ErrStaleInstance) {
				return nil, huma.Error409Conflict("another instance of this template is already due then")
			}
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("task not found")
			}
			return nil, huma.Error500InternalServerError("failed to update task", err)
		}
		publish(ctx, deps.Events, userID, EventTaskUpdated, existing)

		return &TaskOutput{Body: toBody(existing)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete a task with its subtasks and instances",
		Tags:        []string{"Tasks"},
	}, func(ctx context.Context, input *TaskIDInput) (*struct{}, error) {
		userID, err := userFromContext(ctx)
		if err != nil {
			return nil, err
		}

		existing, err := getTask(ctx, deps, userID, input.ID)
		if err != nil {
			return nil, err
		}

		if err := deps.Store.Tasks().Delete(ctx, userID, input.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("task not found")
			}
			return nil, huma.Error500InternalServerError("failed to delete task", err)
		}
		publish(ctx, deps.Events, userID, EventTaskDeleted, existing)

		return nil, nil
	})
}

func getTask(ctx context.Context, deps Deps, userID, id uuid.UUID) (*domain.Task, error) {
	t, err := deps.Store.Tasks().GetByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("task not found")
		}
		return nil, huma.Error500InternalServerError("failed to get task", err)
	}
	return t, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
