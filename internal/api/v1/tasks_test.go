package v1_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/cadence/internal/api/v1"
	"github.com/gosuda/cadence/internal/domain"
	"github.com/gosuda/cadence/internal/recurrence"
	redisstore "github.com/gosuda/cadence/internal/store/redis"
)

// ---------------------------------------------------------------------------
// POST /tasks
// ---------------------------------------------------------------------------

func TestCreateTask(t *testing.T) {
	t.Parallel()

	t.Run("standalone", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		resp := e.api.PostCtx(e.ctx, "/tasks", map[string]any{
			"name":     "Buy milk",
			"priority": 1,
		})
		require.Equal(t, http.StatusOK, resp.Code)

		body := decode[v1.TaskBody](t, resp)
		assert.NotEqual(t, uuid.Nil, body.ID)
		assert.Equal(t, domain.TaskKindStandalone, body.Kind)
		assert.Equal(t, "Buy milk", body.Name)
		assert.Equal(t, "Buy milk", body.OriginalName)
		assert.Equal(t, domain.TaskStatusNotStarted, body.Status)
		assert.Nil(t, body.Recurrence)

		stored, err := e.store.Tasks().GetByID(context.Background(), e.userID, body.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stored.Priority)

		assert.Equal(t, []string{v1.EventTaskCreated}, e.events.types(redisstore.TaskChannel(e.userID)))
	})

	t.Run("template_generates_instances", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		due := tomorrowAt()
		resp := e.api.PostCtx(e.ctx, "/tasks", map[string]any{
			"name":       "Water the plants",
			"due_date":   due.Format(time.RFC3339),
			"recurrence": map[string]any{"type": "daily"},
		})
		require.Equal(t, http.StatusOK, resp.Code)

		body := decode[v1.TaskBody](t, resp)
		assert.Equal(t, domain.TaskKindTemplate, body.Kind)
		assert.Equal(t, "Daily", body.Name)
		assert.Equal(t, "Water the plants", body.OriginalName)
		require.NotNil(t, body.Recurrence)
		assert.Equal(t, domain.RecurrenceDaily, body.Recurrence.Type)
		require.NotNil(t, body.LastGeneratedDate)

		resp = e.api.GetCtx(e.ctx, "/tasks/"+body.ID.String()+"/instances")
		require.Equal(t, http.StatusOK, resp.Code)

		instances := decode[[]v1.TaskBody](t, resp)
		require.NotEmpty(t, instances)
		for _, inst := range instances {
			assert.Equal(t, domain.TaskKindInstance, inst.Kind)
			assert.Equal(t, "Water the plants", inst.Name)
			require.NotNil(t, inst.RecurringParentID)
			assert.Equal(t, body.ID, *inst.RecurringParentID)
			require.NotNil(t, inst.DueDate)
			assert.True(t, inst.DueDate.After(due))
		}

		assert.Contains(t, e.events.types(redisstore.TaskChannel(e.userID)), v1.EventInstancesGenerated)
	})

	t.Run("subtask", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		parent := e.seed(t, nil)

		resp := e.api.PostCtx(e.ctx, "/tasks", map[string]any{
			"name":           "Step one",
			"parent_task_id": parent.ID.String(),
		})
		require.Equal(t, http.StatusOK, resp.Code)

		body := decode[v1.TaskBody](t, resp)
		require.NotNil(t, body.ParentTaskID)
		assert.Equal(t, parent.ID, *body.ParentTaskID)
	})

	t.Run("invalid_rule", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		resp := e.api.PostCtx(e.ctx, "/tasks", map[string]any{
			"name":       "Board meeting",
			"due_date":   tomorrowAt().Format(time.RFC3339),
			"recurrence": map[string]any{"type": "monthly_weekday", "weekday": 1},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

		tasks, err := e.store.Tasks().ListByUser(context.Background(), e.userID)
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})

	t.Run("recurring_subtask_rejected", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		parent := e.seed(t, nil)

		resp := e.api.PostCtx(e.ctx, "/tasks", map[string]any{
			"name":           "Nested",
			"parent_task_id": parent.ID.String(),
			"recurrence":     map[string]any{"type": "daily"},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})

	t.Run("parent_not_found", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		resp := e.api.PostCtx(e.ctx, "/tasks", map[string]any{
			"name":           "Orphan",
			"parent_task_id": uuid.New().String(),
		})
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("missing_user_context", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		resp := e.api.Post("/tasks", map[string]any{"name": "Nobody's"})
		assert.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("store_error", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterTaskRoutes(api, v1.Deps{Store: &mockDataStore{tasks: &mockTaskRepo{
			createFunc: func(context.Context, *domain.Task) error { return errors.New("db down") },
		}}})

		resp := api.PostCtx(userCtx(uuid.New()), "/tasks", map[string]any{"name": "x"})
		assert.Equal(t, http.StatusInternalServerError, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// GET /tasks
// ---------------------------------------------------------------------------

func TestListTasks(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	today := time.Now().UTC().Truncate(time.Hour)

	standalone := e.seed(t, func(task *domain.Task) { task.Name = "Read a book" })
	flagged := e.seed(t, func(task *domain.Task) { task.Name = "Call the bank"; task.Priority = 2 })
	dueToday := e.seed(t, func(task *domain.Task) { task.Name = "Pay rent"; task.DueDate = ptr(today) })
	template := e.seed(t, func(task *domain.Task) {
		task.Name = "Stretch"
		task.DueDate = ptr(tomorrowAt())
		task.Recurrence = domain.RecurrenceRule{Type: domain.RecurrenceWeekly}
	})
	instance := e.seed(t, func(task *domain.Task) {
		task.Name = "Stretch"
		task.DueDate = ptr(tomorrowAt().AddDate(0, 0, 7))
		task.RecurringParentID = &template.ID
	})
	e.seed(t, func(task *domain.Task) { task.Name = "sub"; task.ParentTaskID = &standalone.ID })

	ids := func(view string) []uuid.UUID {
		t.Helper()

		path := "/tasks"
		if view != "" {
			path += "?view=" + view
		}
		resp := e.api.GetCtx(e.ctx, path)
		require.Equal(t, http.StatusOK, resp.Code)

		var out []uuid.UUID
		for _, b := range decode[[]v1.TaskBody](t, resp) {
			out = append(out, b.ID)
		}
		return out
	}

	t.Run("all_hides_instances_and_subtasks", func(t *testing.T) {
		t.Parallel()
		assert.ElementsMatch(t, []uuid.UUID{standalone.ID, flagged.ID, dueToday.ID, template.ID}, ids(""))
	})

	t.Run("someday", func(t *testing.T) {
		t.Parallel()
		assert.ElementsMatch(t, []uuid.UUID{standalone.ID, flagged.ID}, ids("someday"))
	})

	t.Run("inbox", func(t *testing.T) {
		t.Parallel()
		assert.ElementsMatch(t, []uuid.UUID{standalone.ID}, ids("inbox"))
	})

	t.Run("today", func(t *testing.T) {
		t.Parallel()
		assert.ElementsMatch(t, []uuid.UUID{dueToday.ID}, ids("today"))
	})

	t.Run("upcoming_ordered_by_due", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []uuid.UUID{template.ID, instance.ID}, ids("upcoming"))
	})

	t.Run("template_shows_label", func(t *testing.T) {
		t.Parallel()

		resp := e.api.GetCtx(e.ctx, "/tasks")
		require.Equal(t, http.StatusOK, resp.Code)
		for _, b := range decode[[]v1.TaskBody](t, resp) {
			if b.ID == template.ID {
				assert.Equal(t, "Weekly", b.Name)
				assert.Equal(t, "Stretch", b.OriginalName)
			}
		}
	})

	t.Run("unknown_view", func(t *testing.T) {
		t.Parallel()

		resp := e.api.GetCtx(e.ctx, "/tasks?view=later")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})

	t.Run("store_error", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterTaskRoutes(api, v1.Deps{Store: &mockDataStore{tasks: &mockTaskRepo{
			listByUserFunc: func(context.Context, uuid.UUID) ([]*domain.Task, error) {
				return nil, errors.New("db down")
			},
		}}})

		resp := api.GetCtx(userCtx(uuid.New()), "/tasks")
		assert.Equal(t, http.StatusInternalServerError, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// GET /tasks/{id}, /subtasks
// ---------------------------------------------------------------------------

func TestGetTask(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	parent := e.seed(t, func(task *domain.Task) { task.Name = "Move house" })
	child := e.seed(t, func(task *domain.Task) { task.Name = "Pack books"; task.ParentTaskID = &parent.ID })

	t.Run("found", func(t *testing.T) {
		t.Parallel()

		resp := e.api.GetCtx(e.ctx, "/tasks/"+parent.ID.String())
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "Move house", decode[v1.TaskBody](t, resp).Name)
	})

	t.Run("other_users_task_is_not_found", func(t *testing.T) {
		t.Parallel()

		resp := e.api.GetCtx(userCtx(uuid.New()), "/tasks/"+parent.ID.String())
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("subtasks", func(t *testing.T) {
		t.Parallel()

		resp := e.api.GetCtx(e.ctx, "/tasks/"+parent.ID.String()+"/subtasks")
		require.Equal(t, http.StatusOK, resp.Code)

		subs := decode[[]v1.TaskBody](t, resp)
		require.Len(t, subs, 1)
		assert.Equal(t, child.ID, subs[0].ID)
	})

	t.Run("instances_bad_status", func(t *testing.T) {
		t.Parallel()

		resp := e.api.GetCtx(e.ctx, "/tasks/"+parent.ID.String()+"/instances?status=someday")
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// PUT /tasks/{id}
// ---------------------------------------------------------------------------

func TestUpdateTask(t *testing.T) {
	t.Parallel()

	t.Run("partial_update", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		task := e.seed(t, func(task *domain.Task) {
			task.Name = "Draft"
			task.Note = "keep"
			task.DueDate = ptr(tomorrowAt())
		})

		resp := e.api.PutCtx(e.ctx, "/tasks/"+task.ID.String(), map[string]any{
			"name":     "Final",
			"priority": 3,
		})
		require.Equal(t, http.StatusOK, resp.Code)

		body := decode[v1.TaskBody](t, resp)
		assert.Equal(t, "Final", body.Name)
		assert.Equal(t, "keep", body.Note)
		assert.Equal(t, 3, body.Priority)
		require.NotNil(t, body.DueDate)

		resp = e.api.PutCtx(e.ctx, "/tasks/"+task.ID.String(), map[string]any{"clear_due_date": true})
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Nil(t, decode[v1.TaskBody](t, resp).DueDate)

		assert.Contains(t, e.events.types(redisstore.TaskChannel(e.userID)), v1.EventTaskUpdated)
	})

	t.Run("instance_keeps_lineage", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		tpl := e.seed(t, func(task *domain.Task) {
			task.DueDate = ptr(tomorrowAt())
			task.Recurrence = domain.RecurrenceRule{Type: domain.RecurrenceDaily}
		})
		inst := e.seed(t, func(task *domain.Task) {
			task.DueDate = ptr(tomorrowAt().AddDate(0, 0, 1))
			task.RecurringParentID = &tpl.ID
		})

		resp := e.api.PutCtx(e.ctx, "/tasks/"+inst.ID.String(), map[string]any{"name": "Renamed occurrence"})
		require.Equal(t, http.StatusOK, resp.Code)

		stored, err := e.store.Tasks().GetByID(context.Background(), e.userID, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed occurrence", stored.Name)
		require.NotNil(t, stored.RecurringParentID)
		assert.Equal(t, tpl.ID, *stored.RecurringParentID)
	})

	t.Run("instance_due_date_collision", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		tpl := e.seed(t, func(task *domain.Task) {
			task.DueDate = ptr(tomorrowAt())
			task.Recurrence = domain.RecurrenceRule{Type: domain.RecurrenceDaily}
		})
		first := tomorrowAt().AddDate(0, 0, 1)
		e.seed(t, func(task *domain.Task) { task.DueDate = ptr(first); task.RecurringParentID = &tpl.ID })
		second := e.seed(t, func(task *domain.Task) {
			task.DueDate = ptr(first.AddDate(0, 0, 1))
			task.RecurringParentID = &tpl.ID
		})

		resp := e.api.PutCtx(e.ctx, "/tasks/"+second.ID.String(), map[string]any{
			"due_date": first.Format(time.RFC3339),
		})
		assert.Equal(t, http.StatusConflict, resp.Code)
	})

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		resp := e.api.PutCtx(e.ctx, "/tasks/"+uuid.New().String(), map[string]any{"name": "x"})
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("generation_between_read_and_write", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		tpl := e.seed(t, func(task *domain.Task) {
			task.Name = "Water plants"
			task.DueDate = ptr(tomorrowAt())
			task.Recurrence = domain.RecurrenceRule{Type: domain.RecurrenceDaily}
		})
		gen := recurrence.NewGenerator(e.store, e.store.Tasks(), e.store.Users(), recurrence.NewLocalLocker(), recurrence.Options{
			HorizonDays: testHorizonDays,
		})

		// The handler's read returns the pre-generation row; generation then
		// commits before the handler writes.
		tasks := &mockTaskRepo{
			TaskRepository: e.store.Tasks(),
			getByIDFunc: func(ctx context.Context, userID, id uuid.UUID) (*domain.Task, error) {
				stale, err := e.store.Tasks().GetByID(ctx, userID, id)
				if err != nil {
					return nil, err
				}
				_, err = gen.Generate(ctx, stale, testHorizonDays)
				return stale, err
			},
		}
		_, api := humatest.New(t)
		v1.RegisterTaskRoutes(api, v1.Deps{Store: &mockDataStore{users: e.store.Users(), tasks: tasks}})

		resp := api.PutCtx(e.ctx, "/tasks/"+tpl.ID.String(), map[string]any{"name": "Water all plants"})
		require.Equal(t, http.StatusOK, resp.Code)

		stored, err := e.store.Tasks().GetByID(context.Background(), e.userID, tpl.ID)
		require.NoError(t, err)
		assert.Equal(t, "Water all plants", stored.Name)
		require.NotNil(t, stored.LastGeneratedDate)

		instances, err := e.store.Tasks().ListInstances(context.Background(), e.userID, tpl.ID)
		require.NoError(t, err)
		require.NotEmpty(t, instances)
		assert.Equal(t, *stored.LastGeneratedDate, *instances[len(instances)-1].DueDate)

		deleted := instances[0]
		require.NoError(t, e.store.Tasks().Delete(context.Background(), e.userID, deleted.ID))
		_, err = gen.Generate(context.Background(), stored, testHorizonDays)
		require.NoError(t, err)

		after, err := e.store.Tasks().ListInstances(context.Background(), e.userID, tpl.ID)
		require.NoError(t, err)
		for _, inst := range after {
			assert.False(t, inst.DueDate.Equal(*deleted.DueDate), "deleted occurrence was generated again")
		}
	})
}

// ---------------------------------------------------------------------------
// DELETE /tasks/{id}
// ---------------------------------------------------------------------------

func TestDeleteTask(t *testing.T) {
	t.Parallel()

	t.Run("cascades_to_subtasks_and_instances", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		tpl := e.seed(t, func(task *domain.Task) {
			task.DueDate = ptr(tomorrowAt())
			task.Recurrence = domain.RecurrenceRule{Type: domain.RecurrenceDaily}
		})
		sub := e.seed(t, func(task *domain.Task) { task.ParentTaskID = &tpl.ID })
		inst := e.seed(t, func(task *domain.Task) {
			task.DueDate = ptr(tomorrowAt().AddDate(0, 0, 1))
			task.RecurringParentID = &tpl.ID
		})

		resp := e.api.DeleteCtx(e.ctx, "/tasks/"+tpl.ID.String())
		require.Equal(t, http.StatusNoContent, resp.Code)

		for _, id := range []uuid.UUID{tpl.ID, sub.ID, inst.ID} {
			_, err := e.store.Tasks().GetByID(context.Background(), e.userID, id)
			assert.ErrorIs(t, err, domain.ErrNotFound)
		}
		assert.Contains(t, e.events.types(redisstore.TaskChannel(e.userID)), v1.EventTaskDeleted)
	})

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t)
		resp := e.api.DeleteCtx(e.ctx, "/tasks/"+uuid.New().String())
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("store_error", func(t *testing.T) {
		t.Parallel()

		existing := &domain.Task{ID: uuid.New()}
		_, api := humatest.New(t)
		v1.RegisterTaskRoutes(api, v1.Deps{Store: &mockDataStore{tasks: &mockTaskRepo{
			getByIDFunc: func(context.Context, uuid.UUID, uuid.UUID) (*domain.Task, error) { return existing, nil },
			deleteFunc:  func(context.Context, uuid.UUID, uuid.UUID) error { return errors.New("db down") },
		}}})

		resp := api.DeleteCtx(userCtx(uuid.New()), "/tasks/"+existing.ID.String())
		assert.Equal(t, http.StatusInternalServerError, resp.Code)
	})
}
