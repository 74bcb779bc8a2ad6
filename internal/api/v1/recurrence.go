package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/cadence/internal/domain"
	"github.com/gosuda/cadence/internal/idempotency"
)

type UpdateRecurrenceInput struct {
	ID   uuid.UUID `path:"id" doc:"Task ID"`
	Body domain.RecurrenceRule
}

type UpdateRecurrenceBody struct {
	Task        *TaskBody   `json:"task"`
	Deleted     int         `json:"deleted"`
	Regenerated int         `json:"regenerated"`
	Created     []*TaskBody `json:"created"`
}

type UpdateRecurrenceOutput struct {
	Body UpdateRecurrenceBody
}

type GenerateInput struct {
	IdempotencyKey string `header:"Idempotency-Key" maxLength:"255" doc:"Repeated keys are acknowledged without running again"`
}

type GenerateBody struct {
	Duplicate bool `json:"duplicate"`
	Templates int  `json:"templates"`
	Created   int  `json:"created"`
	Skipped   int  `json:"skipped"`
	Failed    int  `json:"failed"`
}

type GenerateOutput struct {
	Body GenerateBody
}

func RegisterRecurrenceRoutes(api huma.API, deps Deps, seen *idempotency.Set) {
	huma.Register(api, huma.Operation{
		OperationID: "update-recurrence",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/recurrence",
		Summary:     "Replace a task's recurrence rule and resync its instances",
		Tags:        []string{"Recurrence"},
	}, func(ctx context.Context, input *UpdateRecurrenceInput) (*UpdateRecurrenceOutput, error) {
		userID, err := userFromContext(ctx)
		if err != nil {
			return nil, err
		}

		res, err := deps.Rules.OnRuleChanged(ctx, userID, input.ID, input.Body)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrInvalidRule):
				return nil, huma.Error422UnprocessableEntity(err.Error())
			case errors.Is(err, domain.ErrNotFound):
				return nil, huma.Error404NotFound("task not found")
			case errors.Is(err, domain.ErrInvalidLineage):
				return nil, huma.Error409Conflict("instances and subtasks cannot carry a recurrence rule")
			}
			return nil, huma.Error500InternalServerError("failed to update recurrence", err)
		}

		out := &UpdateRecurrenceOutput{}
		out.Body.Task = toBody(res.Template)
		out.Body.Deleted = res.Deleted
		out.Body.Regenerated = res.Regenerated
		out.Body.Created = toBodies(res.Created)

		publish(ctx, deps.Events, userID, EventTaskUpdated, res.Template)
		publish(ctx, deps.Events, userID, EventInstancesGenerated, res.Created...)

		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-instances",
		Method:      http.MethodPost,
		Path:        "/recurring/generate",
		Summary:     "Materialize instances for all of the caller's templates",
		Tags:        []string{"Recurrence"},
	}, func(ctx context.Context, input *GenerateInput) (*GenerateOutput, error) {
		userID, err := userFromContext(ctx)
		if err != nil {
			return nil, err
		}

		out := &GenerateOutput{}

		key := ""
		if input.IdempotencyKey != "" && seen != nil {
			key = userID.String() + ":" + input.IdempotencyKey
			if seen.Seen(key) {
				out.Body.Duplicate = true
				return out, nil
			}
		}

		report, err := deps.Generator.GenerateForUser(ctx, userID)
		if err != nil {
			if key != "" {
				seen.Forget(key)
			}
			return nil, huma.Error500InternalServerError("failed to generate instances", err)
		}

		out.Body.Templates = len(report.Outcomes)
		out.Body.Created = report.Created
		out.Body.Skipped = report.Skipped
		out.Body.Failed = report.Failed

		for _, o := range report.Outcomes {
			publish(ctx, deps.Events, userID, EventInstancesGenerated, o.Created...)
		}

		return out, nil
	})
}
