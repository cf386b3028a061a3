package toposched

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func noop[T comparable](ctx context.Context, tc *TaskContext[T]) error {
	return nil
}

// recorder collects execution order across task goroutines.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(id string) {
	r.mu.Lock()
	r.order = append(r.order, id)
	r.mu.Unlock()
}

func (r *recorder) index(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, v := range r.order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestRuntimeRunsTasksInDependencyOrder(t *testing.T) {
	rt, err := NewRuntime[string](context.Background())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	rec := &recorder{}
	body := func(ctx context.Context, tc *TaskContext[string]) error {
		rec.add(tc.ID())
		return nil
	}

	for _, id := range []string{"compile", "link", "package"} {
		if err := rt.Submit(id, body); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	rt.AddDependency("link", "compile")
	rt.AddDependency("package", "link")

	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(rec.order) != 3 {
		t.Fatalf("ran %d tasks, want 3: %v", len(rec.order), rec.order)
	}
	if rec.index("compile") > rec.index("link") || rec.index("link") > rec.index("package") {
		t.Errorf("dependency order violated: %v", rec.order)
	}
}

func TestRuntimeAwaitMidFlight(t *testing.T) {
	rt, err := NewRuntime[string](context.Background())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	rec := &recorder{}
	if err := rt.Submit("consumer", func(ctx context.Context, tc *TaskContext[string]) error {
		rec.add("consumer-before")
		if err := tc.Await("producer"); err != nil {
			return err
		}
		rec.add("consumer-after")
		return nil
	}); err != nil {
		t.Fatalf("submit consumer: %v", err)
	}
	if err := rt.Submit("producer", func(ctx context.Context, tc *TaskContext[string]) error {
		rec.add("producer")
		return nil
	}); err != nil {
		t.Fatalf("submit producer: %v", err)
	}

	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if rec.index("producer") > rec.index("consumer-after") {
		t.Fatalf("consumer resumed before producer completed: %v", rec.order)
	}
	if rec.index("consumer-after") == -1 {
		t.Fatalf("consumer never resumed: %v", rec.order)
	}
}

func TestRuntimeSuspendAndWake(t *testing.T) {
	var resumed bool

	var rt *Runtime[string]
	rt, err := NewRuntime[string](context.Background(),
		WithOnTaskSuspended[string](func(id string) {
			// Simulate the external event arriving while the task sleeps.
			rt.Wake(id)
		}),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	if err := rt.Submit("sleeper", func(ctx context.Context, tc *TaskContext[string]) error {
		if err := tc.Suspend(); err != nil {
			return err
		}
		resumed = true
		return nil
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !resumed {
		t.Error("task never resumed after wake")
	}
}

func TestRuntimeWakeAfter(t *testing.T) {
	var rt *Runtime[string]
	rt, err := NewRuntime[string](context.Background(),
		WithOnTaskSuspended[string](func(id string) {
			rt.WakeAfter(id, 10*time.Millisecond)
		}),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	var resumed bool
	if err := rt.Submit("timer", func(ctx context.Context, tc *TaskContext[string]) error {
		if err := tc.Suspend(); err != nil {
			return err
		}
		resumed = true
		return nil
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !resumed {
		t.Error("timer wake never resumed the task")
	}
}

func TestRuntimeDeadlock(t *testing.T) {
	var reported []string
	rt, err := NewRuntime[string](context.Background(),
		WithOnDeadlock[string](func(cycle []string) {
			reported = append([]string(nil), cycle...)
		}),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	await := func(other string) TaskFunc[string] {
		return func(ctx context.Context, tc *TaskContext[string]) error {
			return tc.Await(other)
		}
	}
	rt.Submit("A", await("B"))
	rt.Submit("B", await("A"))

	err = rt.Run(context.Background())
	if err == nil {
		t.Fatal("run must fail on deadlock")
	}
	var dl *DeadlockError[string]
	if !errors.As(err, &dl) {
		t.Fatalf("run returned %v, want a DeadlockError", err)
	}
	if len(dl.Cycle) != 2 {
		t.Fatalf("deadlock cycle %v, want 2 tasks", dl.Cycle)
	}
	if len(reported) != 2 {
		t.Errorf("OnDeadlock saw cycle %v, want 2 tasks", reported)
	}
}

func TestRuntimeAwaitCompletedDependency(t *testing.T) {
	rt, err := NewRuntime[string](context.Background())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	rec := &recorder{}
	rt.Submit("b", func(ctx context.Context, tc *TaskContext[string]) error {
		rec.add("b")
		return nil
	})
	rt.Submit("a", func(ctx context.Context, tc *TaskContext[string]) error {
		// b is guaranteed to have completed by now; the await must be
		// satisfied immediately instead of blocking on its retired node.
		if err := tc.Await("b"); err != nil {
			return err
		}
		rec.add("a")
		return nil
	})
	rt.AddDependency("a", "b")

	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.index("a") == -1 {
		t.Fatalf("a never completed: %v", rec.order)
	}
	if rec.index("b") > rec.index("a") {
		t.Errorf("execution order violated: %v", rec.order)
	}
}

func TestRuntimeDeadlockOnDormantDependency(t *testing.T) {
	rt, err := NewRuntime[string](context.Background())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	rt.Plan("dormant", noop[string])
	rt.Submit("stuck", noop[string])
	rt.AddDependency("stuck", "dormant")

	err = rt.Run(context.Background())
	if err == nil {
		t.Fatal("run must fail when the only work is blocked behind a dormant task")
	}
	var dl *DeadlockError[string]
	if !errors.As(err, &dl) {
		t.Fatalf("run returned %v, want a DeadlockError", err)
	}
	if len(dl.Cycle) != 0 {
		t.Errorf("cycle = %v, want empty without a circular chain", dl.Cycle)
	}
	if len(dl.Blocked) != 1 || dl.Blocked[0] != "stuck" {
		t.Errorf("blocked = %v, want [stuck]", dl.Blocked)
	}
	if !strings.Contains(dl.Error(), "stuck") {
		t.Errorf("diagnostic %q does not name the blocked task", dl.Error())
	}
}

func TestRuntimeTaskFailure(t *testing.T) {
	boom := errors.New("boom")
	var failedID string
	var failedErr error

	rt, err := NewRuntime[string](context.Background(),
		WithOnTaskFailed[string](func(id string, err error) {
			failedID, failedErr = id, err
		}),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	var survivorRan bool
	rt.Submit("failing", func(ctx context.Context, tc *TaskContext[string]) error {
		return boom
	})
	rt.Submit("survivor", func(ctx context.Context, tc *TaskContext[string]) error {
		survivorRan = true
		return nil
	})

	err = rt.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("run returned %v, want the task error joined in", err)
	}
	if failedID != "failing" || !errors.Is(failedErr, boom) {
		t.Errorf("OnTaskFailed got (%q, %v)", failedID, failedErr)
	}
	if !survivorRan {
		t.Error("a task failure must not stop the loop")
	}
}

func TestRuntimePanicBecomesFailure(t *testing.T) {
	rt, err := NewRuntime[string](context.Background())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	rt.Submit("panicky", func(ctx context.Context, tc *TaskContext[string]) error {
		panic("kaboom")
	})

	err = rt.Run(context.Background())
	if err == nil {
		t.Fatal("run must surface the panic as an error")
	}
}

func TestRuntimeSpawn(t *testing.T) {
	rt, err := NewRuntime[string](context.Background())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	rec := &recorder{}
	rt.Submit("parent", func(ctx context.Context, tc *TaskContext[string]) error {
		rec.add("parent")
		return tc.Spawn("child", func(ctx context.Context, tc *TaskContext[string]) error {
			rec.add("child")
			return nil
		})
	})

	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.index("child") == -1 {
		t.Fatalf("spawned child never ran: %v", rec.order)
	}
}

func TestRuntimePlanThenActivate(t *testing.T) {
	rt, err := NewRuntime[string](context.Background())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	var ran bool
	if err := rt.Plan("deferred", func(ctx context.Context, tc *TaskContext[string]) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("plan: %v", err)
	}

	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if ran {
		t.Fatal("planned task must not run before activation")
	}

	rt.Activate("deferred")
	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !ran {
		t.Error("activated task never ran")
	}
}

func TestRuntimeCancel(t *testing.T) {
	rt, err := NewRuntime[string](context.Background())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	rec := &recorder{}
	body := func(ctx context.Context, tc *TaskContext[string]) error {
		rec.add(tc.ID())
		return nil
	}
	rt.Submit("wanted", body)
	rt.Submit("unwanted", body)
	rt.AddDependency("wanted", "unwanted")

	rt.Cancel("unwanted")

	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.index("unwanted") != -1 {
		t.Error("cancelled task must not run")
	}
	if rec.index("wanted") == -1 {
		t.Error("cancelling a dependency must unblock its dependents")
	}
}

func TestRuntimeSubmitValidation(t *testing.T) {
	rt, err := NewRuntime[string](context.Background())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	if err := rt.Submit("a", nil); !errors.Is(err, ErrNilTaskFunc) {
		t.Errorf("nil func submit returned %v, want ErrNilTaskFunc", err)
	}
	if err := rt.Submit("a", noop[string]); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := rt.Submit("a", noop[string]); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("duplicate submit returned %v, want ErrDuplicateTask", err)
	}

	rt.Close()
	if err := rt.Submit("b", noop[string]); !errors.Is(err, ErrRuntimeClosed) {
		t.Errorf("submit after close returned %v, want ErrRuntimeClosed", err)
	}
}

func TestRuntimeCallbacks(t *testing.T) {
	var mu sync.Mutex
	counts := map[string]int{}
	count := func(event string) func(id string) {
		return func(id string) {
			mu.Lock()
			counts[event]++
			mu.Unlock()
		}
	}

	rt, err := NewRuntime[string](context.Background(),
		WithOnTaskSubmitted[string](count("submitted")),
		WithOnTaskStarted[string](count("started")),
		WithOnTaskCompleted[string](count("completed")),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	for i := 0; i < 5; i++ {
		rt.Submit(fmt.Sprintf("task-%d", i), noop[string])
	}
	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, event := range []string{"submitted", "started", "completed"} {
		if counts[event] != 5 {
			t.Errorf("%s fired %d times, want 5", event, counts[event])
		}
	}
}

func TestRuntimeResumeRate(t *testing.T) {
	rt, err := NewRuntime[string](context.Background(), WithResumeRate[string](1000))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	ran := 0
	for i := 0; i < 3; i++ {
		rt.Submit(fmt.Sprintf("task-%d", i), func(ctx context.Context, tc *TaskContext[string]) error {
			ran++
			return nil
		})
	}
	if err := rt.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ran != 3 {
		t.Errorf("ran %d tasks, want 3", ran)
	}

	if _, err := NewRuntime[string](context.Background(), WithResumeRate[string](-1)); err == nil {
		t.Error("negative resume rate must be rejected")
	}
}

func TestRuntimeContextCancellation(t *testing.T) {
	rt, err := NewRuntime[string](context.Background())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	rt.Submit("stuck", func(ctx context.Context, tc *TaskContext[string]) error {
		return tc.Suspend() // nothing ever wakes it
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = rt.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("run returned %v, want context deadline", err)
	}
}

func TestRuntimeStatsSnapshot(t *testing.T) {
	rt, err := NewRuntime[string](context.Background())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	rt.Submit("a", noop[string])
	rt.Submit("b", noop[string])
	rt.AddDependency("b", "a")
	rt.Plan("c", noop[string])

	stats := rt.Stats()
	want := Stats{Planned: 1, Pending: 1, Blocked: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	snap := rt.Snapshot()
	if len(snap.Pending) != 1 || snap.Pending[0] != "a" {
		t.Errorf("snapshot pending = %v, want [a]", snap.Pending)
	}

	if s, err := rt.TaskState("b"); err != nil || s != StateBlocked {
		t.Errorf("TaskState(b) = (%v, %v), want blocked", s, err)
	}
	if _, err := rt.TaskState("nope"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("TaskState(nope) returned %v, want ErrUnknownTask", err)
	}
}
