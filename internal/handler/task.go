package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/task-management-api/internal/cache"
	"github.com/iliyamo/task-management-api/internal/config"
	"github.com/iliyamo/task-management-api/internal/queue"
	"github.com/iliyamo/task-management-api/internal/repository"
)

// TaskHandler bundles dependencies for task endpoints: the repository as
// the source of truth and the cache as a best-effort read accelerator.
type TaskHandler struct {
	Cfg   config.Config
	Tasks *repository.TaskRepo
	Cache *cache.TaskCache
}

func NewTaskHandler(cfg config.Config, t *repository.TaskRepo, tc *cache.TaskCache) *TaskHandler {
	return &TaskHandler{Cfg: cfg, Tasks: t, Cache: tc}
}

// ----- DTOs -----

type taskCreateReq struct {
	Title       string     `json:"title" validate:"required,min=1,max=255"`
	Description string     `json:"description" validate:"omitempty,max=5000"`
	Status      string     `json:"status" validate:"omitempty,oneof=todo in_progress completed"`
	Priority    string     `json:"priority" validate:"omitempty,oneof=low medium high"`
	DueDate     *time.Time `json:"due_date"`
}

type taskUpdateReq struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=255"`
	Description *string    `json:"description" validate:"omitempty,max=5000"`
	Status      *string    `json:"status" validate:"omitempty,oneof=todo in_progress completed"`
	Priority    *string    `json:"priority" validate:"omitempty,oneof=low medium high"`
	DueDate     *time.Time `json:"due_date"`
}

type taskResp struct {
	ID          uint64     `json:"id"`
	OwnerID     uint64     `json:"owner_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type taskPageResp struct {
	Items      []taskResp `json:"items"`
	Total      int64      `json:"total"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalPages int64      `json:"total_pages"`
}

func toTaskResp(t repository.Task) taskResp {
	return taskResp{
		ID:          t.ID,
		OwnerID:     t.OwnerID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		DueDate:     t.DueDate,
		CompletedAt: t.CompletedAt,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// publishEvent emits a task lifecycle event without blocking the request.
func publishEvent(eventType string, t *repository.Task) {
	ev := queue.TaskEvent{
		Type:       eventType,
		TaskID:     t.ID,
		OwnerID:    t.OwnerID,
		Title:      t.Title,
		Status:     t.Status,
		Priority:   t.Priority,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = queue.PublishTaskEvent(ctx, ev) // errors are logged by the publisher
	}()
}

// Create handles POST /api/v1/tasks.
func (h *TaskHandler) Create(c echo.Context) error {
	a, err := getActor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req taskCreateReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return respondValidation(c, err)
	}
	if req.Status == "" {
		req.Status = repository.StatusTodo
	}
	if req.Priority == "" {
		req.Priority = repository.PriorityMedium
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	t, err := h.Tasks.Create(ctx, &repository.Task{
		OwnerID:     a.UserID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
	})
	if err != nil {
		return respondError(c, err)
	}

	h.Cache.InvalidateOwner(ctx, t.OwnerID)
	publishEvent(queue.EventTaskCreated, t)
	return c.JSON(http.StatusCreated, toTaskResp(*t))
}

// Get handles GET /api/v1/tasks/:id with read-through caching. Admin reads
// of foreign tasks skip the cache: the owner-scoped key cannot be computed
// before the row itself is known.
func (h *TaskHandler) Get(c echo.Context) error {
	a, err := getActor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "task not found"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	useCache := !a.admin()
	key := cache.ItemKey(a.UserID, id)
	if useCache {
		if b, ok := h.Cache.Get(ctx, key); ok {
			return c.JSONBlob(http.StatusOK, b)
		}
	}

	t, err := h.Tasks.Get(ctx, id, a.UserID, a.admin())
	if err != nil {
		return respondError(c, err)
	}
	resp := toTaskResp(*t)
	if useCache {
		if b, err := json.Marshal(resp); err == nil {
			h.Cache.Set(ctx, key, b)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// List handles GET /api/v1/tasks with filters, search, pagination and
// sorting. Pages are cached per owner under a hash of the normalized
// query; admins bypass the scope filter and therefore the cache.
func (h *TaskHandler) List(c echo.Context) error {
	a, err := getActor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	status := strings.TrimSpace(c.QueryParam("status"))
	if status != "" && status != repository.StatusTodo && status != repository.StatusInProgress && status != repository.StatusCompleted {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "invalid status filter"})
	}
	priority := strings.TrimSpace(c.QueryParam("priority"))
	if priority != "" && priority != repository.PriorityLow && priority != repository.PriorityMedium && priority != repository.PriorityHigh {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "invalid priority filter"})
	}
	search := strings.TrimSpace(c.QueryParam("search"))
	sort := strings.TrimSpace(c.QueryParam("sort"))

	page := 1
	if v := c.QueryParam("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			page = n
		}
	}
	pageSize := h.Cfg.DefaultPageSize
	if v := c.QueryParam("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			pageSize = n
		}
	}
	// Clamp rather than reject oversized pages.
	if pageSize > h.Cfg.MaxPageSize {
		pageSize = h.Cfg.MaxPageSize
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	useCache := !a.admin()
	normalized := fmt.Sprintf("status=%s&priority=%s&search=%s&page=%d&size=%d&sort=%s",
		status, priority, strings.ToLower(search), page, pageSize, sort)
	key := cache.ListKey(a.UserID, normalized)
	if useCache {
		if b, ok := h.Cache.Get(ctx, key); ok {
			return c.JSONBlob(http.StatusOK, b)
		}
	}

	items, total, err := h.Tasks.List(ctx, repository.TaskListQuery{
		OwnerID:  a.UserID,
		Admin:    a.admin(),
		Status:   status,
		Priority: priority,
		Search:   search,
		Page:     page,
		PageSize: pageSize,
		Sort:     sort,
	})
	if err != nil {
		return respondError(c, err)
	}

	resp := taskPageResp{
		Items:      make([]taskResp, 0, len(items)),
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + int64(pageSize) - 1) / int64(pageSize),
	}
	for _, t := range items {
		resp.Items = append(resp.Items, toTaskResp(t))
	}
	if useCache {
		if b, err := json.Marshal(resp); err == nil {
			h.Cache.Set(ctx, key, b)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Update handles PUT /api/v1/tasks/:id with partial-field semantics: only
// supplied fields change, updated_at always advances.
func (h *TaskHandler) Update(c echo.Context) error {
	a, err := getActor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "task not found"})
	}
	var req taskUpdateReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return respondValidation(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	t, err := h.Tasks.Update(ctx, id, a.UserID, a.admin(), repository.TaskPatch{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
	})
	if err != nil {
		return respondError(c, err)
	}

	h.Cache.InvalidateOwner(ctx, t.OwnerID)
	publishEvent(queue.EventTaskUpdated, t)
	return c.JSON(http.StatusOK, toTaskResp(*t))
}

// Delete handles DELETE /api/v1/tasks/:id. A second delete of the same id
// reports 404, same as deleting a task that never existed.
func (h *TaskHandler) Delete(c echo.Context) error {
	a, err := getActor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "task not found"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	// Fetch first so the owner (possibly not the actor, when an admin
	// deletes) is known for invalidation and the event payload.
	t, err := h.Tasks.Get(ctx, id, a.UserID, a.admin())
	if err != nil {
		return respondError(c, err)
	}
	if err := h.Tasks.Delete(ctx, id, a.UserID, a.admin()); err != nil {
		return respondError(c, err)
	}

	h.Cache.InvalidateOwner(ctx, t.OwnerID)
	publishEvent(queue.EventTaskDeleted, t)
	return c.NoContent(http.StatusNoContent)
}

// Stats handles GET /api/v1/tasks/stats/summary: the caller's task counts
// grouped by status and priority.
func (h *TaskHandler) Stats(c echo.Context) error {
	a, err := getActor(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	key := cache.StatsKey(a.UserID)
	if b, ok := h.Cache.Get(ctx, key); ok {
		return c.JSONBlob(http.StatusOK, b)
	}

	stats, err := h.Tasks.StatsByOwner(ctx, a.UserID)
	if err != nil {
		return respondError(c, err)
	}
	if b, err := json.Marshal(stats); err == nil {
		h.Cache.Set(ctx, key, b)
	}
	return c.JSON(http.StatusOK, stats)
}
