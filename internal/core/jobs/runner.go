package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by Enqueue when the in-process queue has no room.
var ErrQueueFull = errors.New("job queue is full")

// Task is one queued unit of work: the ID of a persisted job row plus the
// handler type that should process it.
type Task struct {
	ID   uuid.UUID
	Type string
}

// Handler processes tasks of one type.
type Handler interface {
	// Type returns the task type this handler owns
	Type() string

	// Handle processes one task. The ID refers to a persisted job row; the
	// handler owns all status bookkeeping for that row.
	Handle(ctx context.Context, taskID uuid.UUID) error
}

// RunnerConfig contains configuration for the job runner
type RunnerConfig struct {
	Workers      int           // number of concurrent workers
	QueueSize    int           // in-process queue capacity
	TaskTimeout  time.Duration // maximum time for one task
	DrainTimeout time.Duration // how long Stop waits for in-flight tasks
}

// DefaultRunnerConfig returns the default runner configuration
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:      runtime.NumCPU(),
		QueueSize:    256,
		TaskTimeout:  10 * time.Minute,
		DrainTimeout: 30 * time.Second,
	}
}

// Runner drains an in-process FIFO queue with a fixed pool of workers. Tasks
// carry only IDs: the durable state lives in the jobs table, so a crash loses
// at most the in-flight runs and the stale-job reconciler marks those failed.
type Runner struct {
	config   RunnerConfig
	tasks    chan Task
	handlers map[string]Handler
	mu       sync.RWMutex
	started  bool
	stopped  bool
	wg       sync.WaitGroup
}

// NewRunner creates a new job runner
func NewRunner(config RunnerConfig) *Runner {
	if config.Workers < 1 {
		config.Workers = runtime.NumCPU()
	}
	if config.QueueSize < 1 {
		config.QueueSize = 256
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = 10 * time.Minute
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 30 * time.Second
	}

	return &Runner{
		config:   config,
		tasks:    make(chan Task, config.QueueSize),
		handlers: make(map[string]Handler),
	}
}

// Register registers a handler for its task type
func (r *Runner) Register(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handler.Type()] = handler
	log.Printf("✅ Registered job handler: %s", handler.Type())
}

// Enqueue adds a task to the queue without blocking. Returns ErrQueueFull
// when the queue has no room so the caller can fail the job row instead of
// stalling an HTTP request.
func (r *Runner) Enqueue(task Task) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		return fmt.Errorf("job runner is stopped")
	}

	select {
	case r.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the worker pool
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return fmt.Errorf("job runner is stopped, cannot restart")
	}
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("job runner already started")
	}
	r.started = true
	r.mu.Unlock()

	log.Printf("🚀 Starting job runner with %d workers (queue capacity %d)", r.config.Workers, r.config.QueueSize)

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.runWorker(ctx, i+1)
	}

	return nil
}

// Stop closes the queue and waits for queued and in-flight tasks to finish,
// up to the drain timeout.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.tasks)
	r.mu.Unlock()

	log.Printf("🛑 Stopping job runner...")

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("✅ Job runner stopped")
	case <-time.After(r.config.DrainTimeout):
		log.Printf("⚠️  Job runner drain timed out after %v", r.config.DrainTimeout)
	}
}

// QueueDepth reports how many tasks are waiting
func (r *Runner) QueueDepth() int {
	return len(r.tasks)
}

// runWorker runs a single worker goroutine
func (r *Runner) runWorker(ctx context.Context, workerID int) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-r.tasks:
			if !ok {
				return
			}
			r.process(ctx, workerID, task)
		}
	}
}

// process executes one task. A panicking handler must not take the worker
// down; the job row stays running until the stale reconciler fails it.
func (r *Runner) process(ctx context.Context, workerID int, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("❌ Worker #%d: task %s (%s) panicked: %v", workerID, task.ID, task.Type, rec)
		}
	}()

	r.mu.RLock()
	handler, exists := r.handlers[task.Type]
	r.mu.RUnlock()

	if !exists {
		log.Printf("❌ Worker #%d: no handler registered for task type '%s' (task %s)", workerID, task.Type, task.ID)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, r.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	if err := handler.Handle(taskCtx, task.ID); err != nil {
		log.Printf("❌ Worker #%d: task %s (%s) failed after %v: %v", workerID, task.ID, task.Type, time.Since(start), err)
		return
	}

	log.Printf("✅ Worker #%d: task %s (%s) completed in %v", workerID, task.ID, task.Type, time.Since(start))
}
