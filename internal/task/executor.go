package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cortexhub/cortex-toolrunner/internal/metrics"
	"github.com/cortexhub/cortex-toolrunner/internal/registry"
)

// ErrQueueFull is returned when the dispatch queue for a priority is at
// capacity.
var ErrQueueFull = errors.New("task queue full")

// cancelPollInterval is how often the flag-to-context bridge checks for a
// cancellation request while a capability runs.
const cancelPollInterval = 50 * time.Millisecond

// Executor runs task bodies on a worker pool. Workers drain per-priority
// queues most-urgent-first (critical > high > normal > low), FIFO within a
// priority. Every failure a capability produces is captured on the task;
// nothing a tool does can crash the worker loop.
type Executor struct {
	manager        *Manager
	registry       *registry.Registry
	metrics        *metrics.Metrics
	logger         *slog.Logger
	queues         map[string]chan string
	workers        int
	defaultTimeout time.Duration
	timeouts       map[string]time.Duration
	wg             sync.WaitGroup
	cancel         context.CancelFunc
}

// ExecutorOptions configures the pool.
type ExecutorOptions struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	// Timeouts holds per-capability invocation timeouts overriding the
	// default.
	Timeouts map[string]time.Duration
}

func NewExecutor(manager *Manager, reg *registry.Registry, m *metrics.Metrics, logger *slog.Logger, opts ExecutorOptions) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 60 * time.Second
	}

	queues := make(map[string]chan string, len(Priorities))
	for _, p := range Priorities {
		queues[p] = make(chan string, opts.QueueSize)
	}

	return &Executor{
		manager:        manager,
		registry:       reg,
		metrics:        m,
		logger:         logger,
		queues:         queues,
		workers:        opts.Workers,
		defaultTimeout: opts.DefaultTimeout,
		timeouts:       opts.Timeouts,
	}
}

// Start launches the worker pool.
func (e *Executor) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.workLoop(ctx, i)
	}
	e.logger.Info("executor started", "workers", e.workers)
}

// Stop signals the workers and waits for in-flight tasks to finish.
func (e *Executor) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Submit enqueues a created task for background execution.
func (e *Executor) Submit(taskID, priority string) error {
	p := NormalizePriority(priority)
	select {
	case e.queues[p] <- taskID:
		e.metrics.QueueDepth(p, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// workLoop drains the queues in priority order; when every queue is empty
// it idles briefly rather than spinning.
func (e *Executor) workLoop(ctx context.Context, worker int) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed := false
		for _, p := range Priorities {
			select {
			case id := <-e.queues[p]:
				e.metrics.QueueDepth(p, -1)
				e.Execute(ctx, id)
				processed = true
			default:
			}
			if processed {
				break
			}
		}

		if !processed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(cancelPollInterval):
			}
		}
	}
}

// Execute runs one task to a terminal state. Resolution or input-contract
// failures become VALIDATION_ERROR; exceeding the capability timeout
// becomes TIMEOUT; anything the capability returns or panics with becomes
// EXECUTION_ERROR. A cancellation flag observed at a checkpoint wins over
// a produced result.
func (e *Executor) Execute(ctx context.Context, taskID string) {
	t, err := e.snapshot(taskID)
	if err != nil {
		return
	}

	// Checkpoint before any work: a task cancelled while pending never
	// runs.
	if e.manager.IsCancellationRequested(taskID) {
		e.manager.MarkCancelled(taskID)
		return
	}

	inst := e.registry.Load(t.Tool)
	if inst == nil {
		e.manager.MarkFailed(taskID, &Error{
			Code:    CodeValidation,
			Message: fmt.Sprintf("capability %q could not be resolved", t.Tool),
		})
		return
	}

	if v, ok := inst.(registry.InputValidator); ok {
		if err := v.ValidateInput(t.Payload); err != nil {
			e.manager.MarkFailed(taskID, &Error{Code: CodeValidation, Message: err.Error()})
			return
		}
	}

	e.manager.MarkRunning(taskID)

	timeout := e.timeoutFor(t.Tool)
	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Bridge the polled cancellation flag onto the context so cooperative
	// capabilities can observe it at their own suspension points.
	stopPoll := make(chan struct{})
	defer close(stopPoll)
	go func() {
		ticker := time.NewTicker(cancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPoll:
				return
			case <-invokeCtx.Done():
				return
			case <-ticker.C:
				if e.manager.IsCancellationRequested(taskID) {
					cancel()
					return
				}
			}
		}
	}()

	start := time.Now()
	result, invokeErr := e.invoke(invokeCtx, inst, t.Payload)
	duration := time.Since(start)

	switch {
	case e.manager.IsCancellationRequested(taskID):
		// The flag wins even when the work already produced a result.
		e.manager.MarkCancelled(taskID)
		e.metrics.Invocation(t.Tool, "cancelled", "async", duration)
	case errors.Is(invokeCtx.Err(), context.DeadlineExceeded):
		e.manager.MarkFailed(taskID, &Error{
			Code:    CodeTimeout,
			Message: fmt.Sprintf("invocation exceeded %s", timeout),
		})
		e.metrics.Timeout(t.Tool)
		e.metrics.Invocation(t.Tool, "timeout", "async", duration)
	case invokeErr != nil:
		e.manager.MarkFailed(taskID, &Error{Code: CodeExecution, Message: invokeErr.Error()})
		e.metrics.Invocation(t.Tool, "failure", "async", duration)
	default:
		e.manager.MarkCompleted(taskID, result)
		e.metrics.Invocation(t.Tool, "success", "async", duration)
	}
}

// invoke calls the capability, converting a panic into an error so a
// misbehaving tool cannot take a worker down.
func (e *Executor) invoke(ctx context.Context, inst registry.Capability, payload map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability panicked: %v", r)
		}
	}()
	return inst.Invoke(ctx, payload)
}

func (e *Executor) timeoutFor(tool string) time.Duration {
	if d, ok := e.timeouts[tool]; ok && d > 0 {
		return d
	}
	return e.defaultTimeout
}

func (e *Executor) snapshot(taskID string) (*Task, error) {
	e.manager.mu.RLock()
	defer e.manager.mu.RUnlock()

	t, ok := e.manager.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return t.clone(), nil
}
