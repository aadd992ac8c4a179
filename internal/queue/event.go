// Package queue defines message payloads exchanged over the message broker
// and the publisher that emits them.
package queue

// Event types emitted on the task lifecycle queue.
const (
	EventTaskCreated = "task.created"
	EventTaskUpdated = "task.updated"
	EventTaskDeleted = "task.deleted"
)

// TaskEvent is published whenever a task is created, updated or deleted.
// It contains enough information for downstream consumers to log, notify,
// or trigger analytics without querying the primary database.
type TaskEvent struct {
	Type       string `json:"type"`
	TaskID     uint64 `json:"task_id"`
	OwnerID    uint64 `json:"owner_id"`
	Title      string `json:"title,omitempty"`
	Status     string `json:"status,omitempty"`
	Priority   string `json:"priority,omitempty"`
	OccurredAt string `json:"occurred_at"`
}
