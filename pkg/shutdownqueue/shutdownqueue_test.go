package shutdownqueue

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
)

// fresh empties the global queue now and again when the test ends.
func fresh(t *testing.T) {
	t.Helper()

	reset := func() {
		q.mu.Lock()
		q.tasks = nil
		q.closed = false
		q.mu.Unlock()
	}

	reset()
	t.Cleanup(reset)
}

func record(log *[]string, name string) Task {
	return func(context.Context) error {
		*log = append(*log, name)
		return nil
	}
}

//nolint:paralleltest
func TestShutdown_RunsNamedTasksInReverse(t *testing.T) {
	fresh(t)

	var ran []string

	Add("postgres", record(&ran, "postgres"))
	Add("nil", nil)
	Add("metrics", record(&ran, "metrics"))
	Add("http server", record(&ran, "http server"))

	want := []string{"http server", "metrics", "postgres"}
	if got := Pending(); !slices.Equal(got, want) {
		t.Fatalf("pending: want %v, got %v", want, got)
	}

	err := Shutdown(t.Context())
	if err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !slices.Equal(ran, want) {
		t.Fatalf("run order: want %v, got %v", want, ran)
	}
	if got := Pending(); len(got) != 0 {
		t.Fatalf("queue not drained: %v", got)
	}
}

//nolint:paralleltest
func TestShutdown_EmptyQueue(t *testing.T) {
	fresh(t)

	err := Shutdown(t.Context())
	if err != nil {
		t.Fatalf("want nil, got %v", err)
	}
}

//nolint:paralleltest
func TestShutdown_ErrorsAndPanicsAreJoined(t *testing.T) {
	fresh(t)

	errDB := errors.New("db close failed")

	var ran []string

	Add("first", record(&ran, "first"))
	Add("postgres", func(context.Context) error { return errDB })
	Add("exploder", func(context.Context) error { panic("boom") })

	err := Shutdown(t.Context())
	if err == nil {
		t.Fatal("want aggregated error, got nil")
	}
	if !errors.Is(err, errDB) {
		t.Fatalf("want errors.Is(err, errDB), got %v", err)
	}

	msg := err.Error()
	for _, part := range []string{`shutdown postgres`, `panic in shutdown task "exploder"`, "boom"} {
		if !strings.Contains(msg, part) {
			t.Fatalf("error %q is missing %q", msg, part)
		}
	}

	if !slices.Equal(ran, []string{"first"}) {
		t.Fatalf("tasks after a failure must still run, got %v", ran)
	}
}

//nolint:paralleltest
func TestShutdown_StopsOnCanceledContext(t *testing.T) {
	fresh(t)

	ctx, cancel := context.WithCancel(t.Context())

	var ran []string

	Add("never", record(&ran, "never"))
	Add("cancels", func(context.Context) error {
		ran = append(ran, "cancels")
		cancel()

		return nil
	})

	err := Shutdown(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if !strings.Contains(err.Error(), `"never"`) {
		t.Fatalf("error should name the skipped task: %v", err)
	}
	if !slices.Equal(ran, []string{"cancels"}) {
		t.Fatalf("want only the first task to run, got %v", ran)
	}
}

//nolint:paralleltest
func TestShutdown_RunsOnceAndIgnoresLateAdds(t *testing.T) {
	fresh(t)

	var calls atomic.Int32

	Add("counter", func(context.Context) error {
		calls.Add(1)
		return nil
	})

	for range 3 {
		err := Shutdown(t.Context())
		if err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}

	Add("late", func(context.Context) error {
		calls.Add(100)
		return nil
	})

	if got := Pending(); len(got) != 0 {
		t.Fatalf("late task was queued: %v", got)
	}

	err := Shutdown(t.Context())
	if err != nil {
		t.Fatalf("shutdown after close: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("want 1 call, got %d", n)
	}
}
