package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/cadence/internal/api/v1"
	"github.com/gosuda/cadence/internal/api/ws"
	"github.com/gosuda/cadence/internal/idempotency"
)

func registerAuthRoutes(api huma.API, authSvc v1.AuthService) {
	v1.RegisterAuthRoutes(api, authSvc)
}

func registerAPIRoutes(api huma.API, deps v1.Deps, seen *idempotency.Set) {
	v1.RegisterTaskRoutes(api, deps)
	v1.RegisterStatusRoutes(api, deps)
	v1.RegisterRecurrenceRoutes(api, deps, seen)
	v1.RegisterStatsRoutes(api, deps)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/tasks", hub.ServeTasks)
}
