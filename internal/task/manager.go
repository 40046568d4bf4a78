package task

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexhub/cortex-toolrunner/internal/metrics"
)

var (
	// ErrNotFound means the task id is genuinely unknown.
	ErrNotFound = errors.New("task not found")
	// ErrNotOwner means the task exists but belongs to someone else. The
	// two cases stay distinguishable so the boundary can map them apart.
	ErrNotOwner = errors.New("task owned by another caller")
)

// Manager owns all task records and serializes their state transitions.
// Reads return copies, so they may proceed concurrently with writes and
// always observe a whole record.
type Manager struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewManager(ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		tasks:   make(map[string]*Task),
		ttl:     ttl,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Create allocates a pending task and returns a copy of it.
func (m *Manager) Create(tool string, payload map[string]any, ownerID, priority string) *Task {
	t := &Task{
		ID:        uuid.NewString(),
		Tool:      tool,
		Payload:   payload,
		OwnerID:   ownerID,
		Priority:  NormalizePriority(priority),
		Status:    StatusPending,
		CreatedAt: m.now(),
	}

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()

	m.metrics.TaskCreated(tool, t.Priority)
	m.logger.Debug("task created", "task_id", t.ID, "tool", tool, "owner", ownerID, "priority", t.Priority)
	return t.clone()
}

// Get returns a copy of the task when requesterID owns it. Not-found and
// not-owner are distinct failures.
func (m *Manager) Get(id, requesterID string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.OwnerID != requesterID {
		return nil, ErrNotOwner
	}
	return t.clone(), nil
}

// List returns copies of the requester's tasks, optionally filtered by
// status and tool, newest first.
func (m *Manager) List(requesterID string, statusFilter Status, toolFilter string) []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Task{}
	for _, t := range m.tasks {
		if t.OwnerID != requesterID {
			continue
		}
		if statusFilter != "" && t.Status != statusFilter {
			continue
		}
		if toolFilter != "" && t.Tool != toolFilter {
			continue
		}
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// MarkRunning transitions PENDING → RUNNING. Unknown ids and other states
// are ignored.
func (m *Manager) MarkRunning(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok || t.Status != StatusPending {
		return
	}
	t.Status = StatusRunning
	at := m.now()
	t.StartedAt = &at
}

// MarkCompleted moves a non-terminal task to COMPLETED with its result.
func (m *Manager) MarkCompleted(id string, result any) {
	m.finish(id, StatusCompleted, result, nil)
}

// MarkFailed moves a non-terminal task to FAILED with a structured error.
func (m *Manager) MarkFailed(id string, taskErr *Error) {
	m.finish(id, StatusFailed, nil, taskErr)
}

// MarkCancelled moves a non-terminal task to CANCELLED. Any result the
// underlying work produced is discarded.
func (m *Manager) MarkCancelled(id string) {
	m.finish(id, StatusCancelled, nil, &Error{Code: CodeCancelled, Message: "cancelled by request"})
}

func (m *Manager) finish(id string, status Status, result any, taskErr *Error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	t.Status = status
	t.Progress = 1.0
	t.Result = result
	t.Error = taskErr
	at := m.now()
	t.CompletedAt = &at
	created := t.CreatedAt
	tool := t.Tool
	m.mu.Unlock()

	m.metrics.TaskFinished(tool, string(status), at.Sub(created))
	m.logger.Debug("task finished", "task_id", id, "status", status)
}

// RequestCancellation sets the cancellation flag. Idempotent, accepted in
// any state, and never an error; the status only changes once the worker
// observes the flag. The returned snapshot lets callers report a terminal
// no-op.
func (m *Manager) RequestCancellation(id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !t.Status.Terminal() {
		t.CancellationRequested = true
	}
	return t.clone(), nil
}

// IsCancellationRequested is the worker's cooperative checkpoint.
func (m *Manager) IsCancellationRequested(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	return ok && t.CancellationRequested
}

// Sweep garbage-collects terminal tasks whose terminal state is older than
// the TTL. Non-terminal tasks are never removed regardless of age.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.ttl)
	removed := 0
	for id, t := range m.tasks {
		if !t.Status.Terminal() {
			continue
		}
		ref := t.CreatedAt
		if t.CompletedAt != nil {
			ref = *t.CompletedAt
		}
		if ref.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("swept expired tasks", "removed", removed)
	}
	return removed
}

// Count returns the number of retained task records.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}
