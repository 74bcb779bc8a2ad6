package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/cadence/internal/domain"
)

type SetStatusInput struct {
	ID   uuid.UUID `path:"id" doc:"Task ID"`
	Body struct {
		Status string `json:"status" enum:"not_started,in_progress,waiting,done,cancelled,archived" doc:"Target status"`
	}
}

type SetStatusBody struct {
	Task      *TaskBody   `json:"task"`
	Changed   []*TaskBody `json:"changed_subtasks"`
	Successor *TaskBody   `json:"successor,omitempty"`
	NoOp      bool        `json:"no_op"`
}

type SetStatusOutput struct {
	Body SetStatusBody
}

func RegisterStatusRoutes(api huma.API, deps Deps) {
	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/status",
		Summary:     "Change a task's status and propagate it to subtasks",
		Tags:        []string{"Tasks"},
	}, func(ctx context.Context, input *SetStatusInput) (*SetStatusOutput, error) {
		userID, err := userFromContext(ctx)
		if err != nil {
			return nil, err
		}

		target := domain.TaskStatus(input.Body.Status)
		if !target.Valid() {
			return nil, huma.Error400BadRequest("unknown task status: " + input.Body.Status)
		}

		res, err := deps.Status.SetStatus(ctx, userID, input.ID, target)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				return nil, huma.Error404NotFound("task not found")
			case errors.Is(err, domain.ErrInvalidTransition):
				return nil, huma.Error400BadRequest("invalid status transition")
			}
			return nil, huma.Error500InternalServerError("failed to update task status", err)
		}

		out := &SetStatusOutput{}
		out.Body.Task = toBody(res.Task)
		out.Body.Changed = toBodies(res.Changed)
		out.Body.NoOp = res.NoOp
		if res.Successor != nil {
			out.Body.Successor = toBody(res.Successor)
		}

		if !res.NoOp {
			changed := append([]*domain.Task{res.Task}, res.Changed...)
			publish(ctx, deps.Events, userID, EventTaskUpdated, changed...)
			if res.Successor != nil {
				publish(ctx, deps.Events, userID, EventInstancesGenerated, res.Successor)
			}
		}

		return out, nil
	})
}
