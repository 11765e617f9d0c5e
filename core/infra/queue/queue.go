// Package queue runs store-mutating work one task at a time in submission order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cordum/devserver/core/infra/logging"
	"github.com/google/uuid"
)

const defaultBacklog = 64

var ErrClosed = errors.New("queue_closed")

// Func is a unit of work. The context is owned by the queue, not the submitter.
type Func func(ctx context.Context) error

// Task is the future returned by Submit. It completes exactly once.
type Task struct {
	ID   string
	Name string

	fn   Func
	done chan struct{}
	once sync.Once
	err  error
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task result; it is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends. Abandoning the wait does
// not cancel the task.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Queue owns a single worker goroutine.
type Queue struct {
	mu     sync.RWMutex
	closed bool
	tasks  chan *Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts the worker. backlog bounds pending tasks before Submit blocks.
func New(backlog int) *Queue {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:  make(chan *Task, backlog),
		ctx:    ctx,
		cancel: cancel,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Submit enqueues fn and returns its future.
func (q *Queue) Submit(name string, fn Func) (*Task, error) {
	if fn == nil {
		return nil, fmt.Errorf("queue: nil task %q", name)
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrClosed
	}
	task := &Task{
		ID:   uuid.NewString(),
		Name: name,
		fn:   fn,
		done: make(chan struct{}),
	}
	q.tasks <- task
	return task, nil
}

// Do submits fn and waits for it with ctx.
func (q *Queue) Do(ctx context.Context, name string, fn Func) error {
	task, err := q.Submit(name, fn)
	if err != nil {
		return err
	}
	return task.Wait(ctx)
}

// Close stops accepting tasks, drains what is queued, and waits for the worker.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
	q.cancel()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for task := range q.tasks {
		q.exec(task)
	}
}

func (q *Queue) exec(task *Task) {
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
			logging.Error("queue", "task panic", "task", task.Name, "id", task.ID, "panic", r)
		}
		task.complete(err)
	}()
	err = task.fn(q.ctx)
	if err != nil {
		logging.Warn("queue", "task failed", "task", task.Name, "id", task.ID, "error", err, "elapsed", time.Since(start))
	}
}
