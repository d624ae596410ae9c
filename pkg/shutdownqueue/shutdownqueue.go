// Package shutdownqueue provides a process-wide LIFO queue of named
// cleanup tasks.
//
// Register tasks anywhere via Add and drain them once at the end of main:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	err := shutdownqueue.Shutdown(ctx)
//
// Tasks run once, in reverse order of registration. Panics are recovered
// and reported under the task's name. Shutdown is idempotent and returns
// an aggregated error via errors.Join.
package shutdownqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task is a shutdown function. It should honor ctx and return an error
// if it can't finish (or ctx is canceled).
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	run  Task
}

type queue struct {
	mu     sync.Mutex
	tasks  []namedTask
	closed bool
}

var q = &queue{tasks: make([]namedTask, 0, 8)}

// Add registers a named task to be run on Shutdown, in LIFO order.
// If t is nil or shutdown has already started, Add does nothing.
func Add(name string, t Task) {
	if t == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.tasks = append(q.tasks, namedTask{name: name, run: t})
}

// Pending reports the names of registered tasks in the order they would run.
func Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	names := make([]string, 0, len(q.tasks))
	for i := len(q.tasks) - 1; i >= 0; i-- {
		names = append(names, q.tasks[i].name)
	}

	return names
}

// Shutdown drains all registered tasks in LIFO order.
// Subsequent calls are no-ops.
//
// If ctx is canceled mid-drain, Shutdown stops early and returns the context
// error joined with any task errors so far.
func Shutdown(ctx context.Context) error {
	q.mu.Lock()

	if q.closed && len(q.tasks) == 0 {
		q.mu.Unlock()

		return nil
	}

	q.closed = true

	tasks := q.tasks

	q.tasks = nil

	q.mu.Unlock()

	var errs []error

	for i := len(tasks) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("shutdown canceled before %q: %w", tasks[i].name, ctx.Err()))

			return errors.Join(errs...)
		default:
		}

		err := runTask(ctx, tasks[i])
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func runTask(ctx context.Context, t namedTask) (err error) {
	start := time.Now()

	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("panic in shutdown task %q: %v", t.name, r)
		}

		if err != nil {
			slog.Error("shutdown task failed", "task", t.name, "error", err)

			return
		}

		slog.Info("shutdown task done", "task", t.name, "took", time.Since(start))
	}()

	err = t.run(ctx)
	if err != nil {
		return fmt.Errorf("shutdown %s: %w", t.name, err)
	}

	return nil
}
