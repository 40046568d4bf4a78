// Package task owns the asynchronous job lifecycle: creation, the
// PENDING → RUNNING → terminal state machine, cooperative cancellation,
// priority dispatch to workers, and TTL expiry of finished records.
package task

import (
	"fmt"
	"time"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus validates a status filter string from the HTTP boundary.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Priority levels for worker dispatch.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityNormal   = "normal"
	PriorityLow      = "low"
)

// Priorities lists dispatch order, most urgent first.
var Priorities = []string{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// NormalizePriority maps unknown or empty priorities to normal.
func NormalizePriority(p string) string {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return p
	}
	return PriorityNormal
}

// Execution failure codes captured on a task.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeTimeout    = "TIMEOUT"
	CodeCancelled  = "CANCELLED"
)

// Error is a structured execution failure stored on a task. Unlike an
// admission rejection it is captured state, not a returned error value.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Task is one unit of asynchronous work. Result and Error are mutually
// exclusive; both are nil until the status is terminal, and Progress is 1.0
// exactly when the status is terminal.
type Task struct {
	ID                    string         `json:"task_id"`
	Tool                  string         `json:"tool"`
	Payload               map[string]any `json:"payload,omitempty"`
	OwnerID               string         `json:"owner_id"`
	Priority              string         `json:"priority"`
	Status                Status         `json:"status"`
	Progress              float64        `json:"progress"`
	Result                any            `json:"result"`
	Error                 *Error         `json:"error"`
	CreatedAt             time.Time      `json:"created_at"`
	StartedAt             *time.Time     `json:"started_at,omitempty"`
	CompletedAt           *time.Time     `json:"completed_at,omitempty"`
	CancellationRequested bool           `json:"cancellation_requested"`
}

// clone copies the record so readers never observe a torn write.
func (t *Task) clone() *Task {
	c := *t
	if t.StartedAt != nil {
		at := *t.StartedAt
		c.StartedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
