package handler

import (
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/task-management-api/internal/cache"
	"github.com/iliyamo/task-management-api/internal/repository"
)

func newTaskTest(t *testing.T, tc *cache.TaskCache) (*TaskHandler, sqlmock.Sqlmock, *echo.Echo) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := echo.New()
	e.Validator = NewRequestValidator()
	if tc == nil {
		tc = cache.New(nil, time.Minute, false)
	}
	h := NewTaskHandler(testConfig(), repository.NewTaskRepo(db), tc)
	return h, mock, e
}

func newMiniCache(t *testing.T) *cache.TaskCache {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.New(rdb, time.Minute, true)
}

func asUser(c echo.Context, id uint64) {
	c.Set("user_id", id)
	c.Set("role", repository.RoleUser)
}

func asAdmin(c echo.Context, id uint64) {
	c.Set("user_id", id)
	c.Set("role", repository.RoleAdmin)
}

func taskRows(tasks ...repository.Task) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "owner_id", "title", "description", "status", "priority", "due_date", "completed_at", "created_at", "updated_at"})
	for _, t := range tasks {
		var due, completed any
		if t.DueDate != nil {
			due = *t.DueDate
		}
		if t.CompletedAt != nil {
			completed = *t.CompletedAt
		}
		rows.AddRow(t.ID, t.OwnerID, t.Title, t.Description, t.Status, t.Priority, due, completed, t.CreatedAt, t.UpdatedAt)
	}
	return rows
}

func TestTaskCreateRejectsMissingTitle(t *testing.T) {
	h, mock, e := newTaskTest(t, nil)

	c, rec := doJSON(e, http.MethodPost, "/api/v1/tasks", `{"description":"no title"}`)
	asUser(c, 1)
	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskCreateRejectsBadEnum(t *testing.T) {
	h, mock, e := newTaskTest(t, nil)

	c, rec := doJSON(e, http.MethodPost, "/api/v1/tasks", `{"title":"x","status":"done"}`)
	asUser(c, 1)
	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskCreateAppliesDefaults(t *testing.T) {
	h, mock, e := newTaskTest(t, nil)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tasks (owner_id, title, description, status, priority, due_date) VALUES (?,?,?,?,?,?)")).
		WithArgs(uint64(1), "ship it", "", repository.StatusTodo, repository.PriorityMedium, nil).
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectQuery("SELECT .+ FROM tasks WHERE id=").
		WithArgs(uint64(5)).
		WillReturnRows(taskRows(repository.Task{ID: 5, OwnerID: 1, Title: "ship it", Status: repository.StatusTodo, Priority: repository.PriorityMedium, CreatedAt: now, UpdatedAt: now}))

	c, rec := doJSON(e, http.MethodPost, "/api/v1/tasks", `{"title":"ship it"}`)
	asUser(c, 1)
	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"todo"`)
	assert.Contains(t, rec.Body.String(), `"priority":"medium"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskGetServedFromCache(t *testing.T) {
	tc := newMiniCache(t)
	h, mock, e := newTaskTest(t, tc)

	body := `{"id":5,"owner_id":1,"title":"cached"}`
	tc.Set(t.Context(), cache.ItemKey(1, 5), []byte(body))

	// No SQL expectations: a warm cache never touches the repository.
	c, rec := doJSON(e, http.MethodGet, "/api/v1/tasks/5", "")
	c.SetParamNames("id")
	c.SetParamValues("5")
	asUser(c, 1)
	require.NoError(t, h.Get(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, body, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskGetMissPopulatesCache(t *testing.T) {
	tc := newMiniCache(t)
	h, mock, e := newTaskTest(t, tc)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM tasks WHERE id=. AND owner_id=").
		WithArgs(uint64(5), uint64(1)).
		WillReturnRows(taskRows(repository.Task{ID: 5, OwnerID: 1, Title: "fresh", Status: repository.StatusTodo, Priority: repository.PriorityLow, CreatedAt: now, UpdatedAt: now}))

	c, rec := doJSON(e, http.MethodGet, "/api/v1/tasks/5", "")
	c.SetParamNames("id")
	c.SetParamValues("5")
	asUser(c, 1)
	require.NoError(t, h.Get(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	_, ok := tc.Get(t.Context(), cache.ItemKey(1, 5))
	assert.True(t, ok, "a miss must populate the cache for the next read")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskGetAdminBypassesCache(t *testing.T) {
	tc := newMiniCache(t)
	h, mock, e := newTaskTest(t, tc)

	// Even with a warm entry under the admin's own id, the read goes to
	// the database unscoped.
	tc.Set(t.Context(), cache.ItemKey(99, 5), []byte(`{"id":5,"title":"stale"}`))

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+"id, owner_id, title, description, status, priority, due_date, completed_at, created_at, updated_at"+" FROM tasks WHERE id=? LIMIT 1")).
		WithArgs(uint64(5)).
		WillReturnRows(taskRows(repository.Task{ID: 5, OwnerID: 1, Title: "live", Status: repository.StatusTodo, Priority: repository.PriorityLow, CreatedAt: now, UpdatedAt: now}))

	c, rec := doJSON(e, http.MethodGet, "/api/v1/tasks/5", "")
	c.SetParamNames("id")
	c.SetParamValues("5")
	asAdmin(c, 99)
	require.NoError(t, h.Get(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"live"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskGetForeignTaskIsNotFound(t *testing.T) {
	h, mock, e := newTaskTest(t, nil)

	mock.ExpectQuery("SELECT .+ FROM tasks WHERE id=. AND owner_id=").
		WithArgs(uint64(5), uint64(2)).
		WillReturnRows(taskRows())

	c, rec := doJSON(e, http.MethodGet, "/api/v1/tasks/5", "")
	c.SetParamNames("id")
	c.SetParamValues("5")
	asUser(c, 2)
	require.NoError(t, h.Get(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskListRejectsUnknownStatus(t *testing.T) {
	h, mock, e := newTaskTest(t, nil)

	c, rec := doJSON(e, http.MethodGet, "/api/v1/tasks?status=done", "")
	asUser(c, 1)
	require.NoError(t, h.List(c))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskListClampsPageSize(t *testing.T) {
	h, mock, e := newTaskTest(t, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM tasks WHERE owner_id=?")).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(0))
	// page_size=1000 exceeds MaxPageSize=100 and is clamped, not rejected.
	mock.ExpectQuery("SELECT .+ FROM tasks WHERE owner_id=. ORDER BY created_at DESC LIMIT . OFFSET .").
		WithArgs(uint64(1), 100, 0).
		WillReturnRows(taskRows())

	c, rec := doJSON(e, http.MethodGet, "/api/v1/tasks?page_size=1000", "")
	asUser(c, 1)
	require.NoError(t, h.List(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"page_size":100`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskUpdateInvalidatesOwnerCache(t *testing.T) {
	tc := newMiniCache(t)
	h, mock, e := newTaskTest(t, tc)

	tc.Set(t.Context(), cache.ItemKey(1, 5), []byte(`{"id":5,"title":"stale"}`))
	tc.Set(t.Context(), cache.StatsKey(1), []byte(`{"total_tasks":1}`))

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM tasks WHERE id=. AND owner_id=").
		WithArgs(uint64(5), uint64(1)).
		WillReturnRows(taskRows(repository.Task{ID: 5, OwnerID: 1, Title: "stale", Status: repository.StatusTodo, Priority: repository.PriorityLow, CreatedAt: now, UpdatedAt: now}))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET updated_at=NOW(), title=? WHERE id=?")).
		WithArgs("renamed", uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT .+ FROM tasks WHERE id=").
		WithArgs(uint64(5)).
		WillReturnRows(taskRows(repository.Task{ID: 5, OwnerID: 1, Title: "renamed", Status: repository.StatusTodo, Priority: repository.PriorityLow, CreatedAt: now, UpdatedAt: now}))

	c, rec := doJSON(e, http.MethodPut, "/api/v1/tasks/5", `{"title":"renamed"}`)
	c.SetParamNames("id")
	c.SetParamValues("5")
	asUser(c, 1)
	require.NoError(t, h.Update(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	_, ok := tc.Get(t.Context(), cache.ItemKey(1, 5))
	assert.False(t, ok, "writes must drop the owner's item entries")
	_, ok = tc.Get(t.Context(), cache.StatsKey(1))
	assert.False(t, ok, "writes must drop the owner's stats entry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskDeleteReturnsNoContent(t *testing.T) {
	h, mock, e := newTaskTest(t, nil)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM tasks WHERE id=. AND owner_id=").
		WithArgs(uint64(5), uint64(1)).
		WillReturnRows(taskRows(repository.Task{ID: 5, OwnerID: 1, Title: "gone soon", Status: repository.StatusTodo, Priority: repository.PriorityLow, CreatedAt: now, UpdatedAt: now}))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM tasks WHERE id=? AND owner_id=?")).
		WithArgs(uint64(5), uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	c, rec := doJSON(e, http.MethodDelete, "/api/v1/tasks/5", "")
	c.SetParamNames("id")
	c.SetParamValues("5")
	asUser(c, 1)
	require.NoError(t, h.Delete(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStatsCachedAfterFirstRead(t *testing.T) {
	tc := newMiniCache(t)
	h, mock, e := newTaskTest(t, tc)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM tasks WHERE owner_id=? GROUP BY status")).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "COUNT(*)"}).AddRow("todo", 2).AddRow("completed", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT priority, COUNT(*) FROM tasks WHERE owner_id=? GROUP BY priority")).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"priority", "COUNT(*)"}).AddRow("medium", 3))

	c, rec := doJSON(e, http.MethodGet, "/api/v1/tasks/stats/summary", "")
	asUser(c, 1)
	require.NoError(t, h.Stats(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_tasks":3`)

	// Second read is served from the cache: no further SQL expected.
	c2, rec2 := doJSON(e, http.MethodGet, "/api/v1/tasks/stats/summary", "")
	asUser(c2, 1)
	require.NoError(t, h.Stats(c2))
	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.JSONEq(t, rec.Body.String(), rec2.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}
