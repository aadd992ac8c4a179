// Package repository contains data access logic for the task domain. This
// file defines the Task model and the TaskRepo. Every operation is scoped
// to an acting user: the owner sees their own rows, an admin bypasses the
// owner filter. A row that exists but belongs to someone else is reported
// as ErrTaskNotFound so task ids cannot be probed across accounts.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Task status values stored in tasks.status.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Task priority values stored in tasks.priority.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Task mirrors the 'tasks' table. DueDate and CompletedAt are nullable.
type Task struct {
	ID          uint64
	OwnerID     uint64
	Title       string
	Description string
	Status      string
	Priority    string
	DueDate     *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskPatch carries a partial update. Nil fields are left untouched;
// supplied fields replace the stored value. Clearing due_date is done by
// supplying ClearDueDate.
type TaskPatch struct {
	Title        *string
	Description  *string
	Status       *string
	Priority     *string
	DueDate      *time.Time
	ClearDueDate bool
}

// TaskListQuery defines filters, pagination and ordering for listing
// tasks. Filters are conjunctive; Search matches title or description
// case-insensitively. Page is 1-indexed.
type TaskListQuery struct {
	OwnerID  uint64 // ignored when Admin is true
	Admin    bool
	Status   string
	Priority string
	Search   string
	Page     int
	PageSize int
	Sort     string // whitelisted field, optional leading '-' for descending
}

// TaskStats aggregates a user's tasks by status and priority.
type TaskStats struct {
	Total      int64            `json:"total_tasks"`
	ByStatus   map[string]int64 `json:"by_status"`
	ByPriority map[string]int64 `json:"by_priority"`
}

// ErrTaskNotFound indicates the task does not exist or is not visible to
// the acting user.
var ErrTaskNotFound = errors.New("task not found")

// TaskRepo manages persistence for tasks.
type TaskRepo struct{ db *sql.DB }

// NewTaskRepo constructs a TaskRepo with the given DB handle.
func NewTaskRepo(db *sql.DB) *TaskRepo { return &TaskRepo{db: db} }

const taskColumns = "id, owner_id, title, description, status, priority, due_date, completed_at, created_at, updated_at"

// sortColumns whitelists the fields a client may order by. Anything else
// falls back to the default ordering; the raw value never reaches SQL.
// Priority sorts in semantic rather than alphabetical order.
var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"due_date":   "due_date",
	"title":      "title",
	"priority":   "FIELD(priority,'low','medium','high')",
}

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var (
		t           Task
		description sql.NullString
		dueDate     sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &description, &t.Status, &t.Priority,
		&dueDate, &completedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Description = description.String
	if dueDate.Valid {
		v := dueDate.Time
		t.DueDate = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return &t, nil
}

// Create inserts a new task and returns the stored row including DB
// defaults and timestamps.
func (r *TaskRepo) Create(ctx context.Context, t *Task) (*Task, error) {
	var due any
	if t.DueDate != nil {
		due = t.DueDate.UTC()
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO tasks (owner_id, title, description, status, priority, due_date) VALUES (?,?,?,?,?,?)",
		t.OwnerID, t.Title, t.Description, t.Status, t.Priority, due)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.getUnscoped(ctx, uint64(id))
}

func (r *TaskRepo) getUnscoped(ctx context.Context, id uint64) (*Task, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id=? LIMIT 1", id)
	t, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return t, nil
}

// Get fetches a task visible to the actor. Non-admins only see their own
// rows; a foreign row behaves exactly like a missing one.
func (r *TaskRepo) Get(ctx context.Context, id, actorID uint64, admin bool) (*Task, error) {
	q := "SELECT " + taskColumns + " FROM tasks WHERE id=?"
	args := []any{id}
	if !admin {
		q += " AND owner_id=?"
		args = append(args, actorID)
	}
	row := r.db.QueryRowContext(ctx, q+" LIMIT 1", args...)
	t, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return t, nil
}

// Update applies the supplied fields of a patch to a task visible to the
// actor and returns the fresh row. updated_at always advances. When the
// status transitions to completed the completion timestamp is set once;
// leaving the completed status clears it.
func (r *TaskRepo) Update(ctx context.Context, id, actorID uint64, admin bool, p TaskPatch) (*Task, error) {
	current, err := r.Get(ctx, id, actorID, admin)
	if err != nil {
		return nil, err
	}

	set := []string{"updated_at=NOW()"}
	args := []any{}
	if p.Title != nil {
		set = append(set, "title=?")
		args = append(args, strings.TrimSpace(*p.Title))
	}
	if p.Description != nil {
		set = append(set, "description=?")
		args = append(args, *p.Description)
	}
	if p.Status != nil {
		set = append(set, "status=?")
		args = append(args, *p.Status)
		switch {
		case *p.Status == StatusCompleted && current.Status != StatusCompleted:
			set = append(set, "completed_at=NOW()")
		case *p.Status != StatusCompleted:
			set = append(set, "completed_at=NULL")
		}
	}
	if p.Priority != nil {
		set = append(set, "priority=?")
		args = append(args, *p.Priority)
	}
	if p.ClearDueDate {
		set = append(set, "due_date=NULL")
	} else if p.DueDate != nil {
		set = append(set, "due_date=?")
		args = append(args, p.DueDate.UTC())
	}

	args = append(args, id)
	if _, err := r.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(set, ", ")+" WHERE id=?", args...); err != nil {
		return nil, err
	}
	return r.getUnscoped(ctx, id)
}

// Delete removes a task visible to the actor. Deleting a missing or
// foreign row returns ErrTaskNotFound, so a second delete of the same id
// fails the same way as deleting a stranger's task.
func (r *TaskRepo) Delete(ctx context.Context, id, actorID uint64, admin bool) error {
	q := "DELETE FROM tasks WHERE id=?"
	args := []any{id}
	if !admin {
		q += " AND owner_id=?"
		args = append(args, actorID)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// List returns one page of tasks matching the query plus the total match
// count for pagination metadata.
func (r *TaskRepo) List(ctx context.Context, q TaskListQuery) ([]Task, int64, error) {
	where := []string{}
	args := []any{}

	if !q.Admin {
		where = append(where, "owner_id=?")
		args = append(args, q.OwnerID)
	}
	if q.Status != "" {
		where = append(where, "status=?")
		args = append(args, q.Status)
	}
	if q.Priority != "" {
		where = append(where, "priority=?")
		args = append(args, q.Priority)
	}
	if q.Search != "" {
		pattern := "%" + strings.ToLower(q.Search) + "%"
		where = append(where, "(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)")
		args = append(args, pattern, pattern)
	}

	cond := "1=1"
	if len(where) > 0 {
		cond = strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tasks WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := q.PageSize
	offset := (q.Page - 1) * q.PageSize

	dataSQL := "SELECT " + taskColumns + " FROM tasks WHERE " + cond +
		" ORDER BY " + orderClause(q.Sort) + " LIMIT ? OFFSET ?"
	argsData := append(append([]any{}, args...), limit, offset)

	rows, err := r.db.QueryContext(ctx, dataSQL, argsData...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// orderClause maps a client sort value onto a safe ORDER BY expression.
// A leading '-' selects descending order. Unknown fields use the default
// newest-first ordering.
func orderClause(sort string) string {
	dir := " ASC"
	field := strings.TrimSpace(sort)
	if strings.HasPrefix(field, "-") {
		dir = " DESC"
		field = field[1:]
	}
	col, ok := sortColumns[field]
	if !ok {
		return "created_at DESC"
	}
	return col + dir
}

// StatsByOwner counts an owner's tasks grouped by status and by priority.
func (r *TaskRepo) StatsByOwner(ctx context.Context, ownerID uint64) (TaskStats, error) {
	stats := TaskStats{
		ByStatus:   map[string]int64{StatusTodo: 0, StatusInProgress: 0, StatusCompleted: 0},
		ByPriority: map[string]int64{PriorityLow: 0, PriorityMedium: 0, PriorityHigh: 0},
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM tasks WHERE owner_id=? GROUP BY status", ownerID)
	if err != nil {
		return TaskStats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return TaskStats{}, err
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return TaskStats{}, err
	}

	prows, err := r.db.QueryContext(ctx,
		"SELECT priority, COUNT(*) FROM tasks WHERE owner_id=? GROUP BY priority", ownerID)
	if err != nil {
		return TaskStats{}, err
	}
	defer prows.Close()
	for prows.Next() {
		var (
			priority string
			n        int64
		)
		if err := prows.Scan(&priority, &n); err != nil {
			return TaskStats{}, err
		}
		stats.ByPriority[priority] = n
	}
	if err := prows.Err(); err != nil {
		return TaskStats{}, err
	}
	return stats, nil
}
