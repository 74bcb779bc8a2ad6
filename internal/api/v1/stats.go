package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/cadence/internal/domain"
	"github.com/gosuda/cadence/internal/visibility"
)

type StatsBody struct {
	Total    int                       `json:"total"`
	Active   int                       `json:"active"`
	Done     int                       `json:"done"`
	Overdue  int                       `json:"overdue"`
	ByStatus map[domain.TaskStatus]int `json:"by_status"`
}

type StatsOutput struct {
	Body StatsBody
}

// RegisterStatsRoutes exposes counters computed over the same set the
// default list view shows.
func RegisterStatsRoutes(api huma.API, deps Deps) {
	huma.Register(api, huma.Operation{
		OperationID: "get-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Task counters for the caller",
		Tags:        []string{"Tasks"},
	}, func(ctx context.Context, _ *struct{}) (*StatsOutput, error) {
		userID, err := userFromContext(ctx)
		if err != nil {
			return nil, err
		}

		tasks, err := deps.Store.Tasks().ListByUser(ctx, userID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list tasks", err)
		}

		c := visibility.NewPolicy(time.Now(), userLocation(ctx, deps, userID)).Count(tasks)

		out := &StatsOutput{}
		out.Body.Total = c.Total
		out.Body.Active = c.Active
		out.Body.Done = c.Done
		out.Body.Overdue = c.Overdue
		out.Body.ByStatus = c.ByStatus
		return out, nil
	})
}
