// Package bgworker runs tasks of one type on a single background goroutine.
package bgworker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Schedule when the pending queue is at capacity.
	ErrQueueFull = errors.New("bgworker: queue is full")
	// ErrStopped is returned by Schedule once the worker is stopped.
	ErrStopped = errors.New("bgworker: worker is stopped")
)

// Runnable handles one task at a time. Run is never called concurrently.
type Runnable[T any] interface {
	Run(ctx context.Context, task T)
}

// RunnableFunc adapts a function to Runnable.
type RunnableFunc[T any] func(ctx context.Context, task T)

func (f RunnableFunc[T]) Run(ctx context.Context, task T) { f(ctx, task) }

// Worker executes scheduled tasks in FIFO order.
type Worker[T fmt.Stringer] struct {
	name   string
	logger *zap.Logger
	queue  chan T

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New returns a worker with a bounded queue. A nil logger disables logging.
func New[T fmt.Stringer](name string, capacity int, logger *zap.Logger) *Worker[T] {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker[T]{
		name:   name,
		logger: logger.With(zap.String("worker", name)),
		queue:  make(chan T, capacity),
	}
}

// Name returns the worker name.
func (w *Worker[T]) Name() string { return w.name }

// Start launches the worker goroutine. Calling Start twice is an error.
func (w *Worker[T]) Start(ctx context.Context, runner Runnable[T]) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	if w.started {
		return fmt.Errorf("bgworker %s already started", w.name)
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.started = true
	w.wg.Add(1)
	go w.loop(ctx, runner)
	return nil
}

func (w *Worker[T]) loop(ctx context.Context, runner Runnable[T]) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-w.queue:
			w.logger.Debug("executing task", zap.Stringer("task", task))
			runner.Run(ctx, task)
		}
	}
}

// Schedule enqueues task without blocking.
func (w *Worker[T]) Schedule(task T) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	select {
	case w.queue <- task:
		return nil
	default:
		return fmt.Errorf("%w: %s dropped %s", ErrQueueFull, w.name, task)
	}
}

// Pending returns the number of queued tasks.
func (w *Worker[T]) Pending() int {
	return len(w.queue)
}

// Stop cancels the running task context and waits for the goroutine to exit.
// Queued tasks are discarded.
func (w *Worker[T]) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}
