package toposched

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"runtime"
	"time"

	"github.com/sasha-s/go-deadlock"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/time/rate"

	"github.com/davidroman0O/toposched/logs"
)

func init() {
	maxprocs.Set()

	deadlock.Opts.DeadlockTimeout = time.Second * 2 // Time to wait before reporting a potential deadlock
	deadlock.Opts.OnPotentialDeadlock = func() {
		log.Println("POTENTIAL LOCK-ORDER DEADLOCK DETECTED!")
		buf := make([]byte, 1<<16)
		runtime.Stack(buf, true)
		log.Printf("Goroutine stack dump:\n%s", buf)
	}
}

// Runtime executes cooperative tasks in dependency order. It owns a Graph
// engine, serializes every engine call behind one mutex, and runs the
// scheduling loop: pick a runnable task, hand it the execution context, and
// process whatever the task reports back (suspension, new dependencies, or
// completion). Exactly one task body executes at a time.
//
// Submit, Plan, Activate, AddDependency, RemoveDependency, Cancel and Wake
// are safe to call from any goroutine, including from inside running task
// bodies via TaskContext.
type Runtime[T comparable] struct {
	mu     deadlock.Mutex
	engine Graph[T]
	tasks  map[T]*taskEntry[T]
	config Config[T]

	logger  logs.Logger
	metrics *Metrics
	tracer  trace.Tracer
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wakeCh chan struct{}
	closed bool

	errs []error
}

// NewRuntime creates a runtime with the given configuration. The context
// bounds the lifetime of every task coroutine.
func NewRuntime[T comparable](ctx context.Context, opts ...Option[T]) (*Runtime[T], error) {
	cfg := Config[T]{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logs.NewLogger(slog.LevelError)
	}
	if cfg.graph == nil {
		cfg.graph = New[T]()
	}
	if cfg.resumeRate < 0 {
		return nil, fmt.Errorf("resume rate must be non-negative, got %v", cfg.resumeRate)
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &Runtime[T]{
		engine:  cfg.graph,
		tasks:   make(map[T]*taskEntry[T]),
		config:  cfg,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		tracer:  cfg.tracer,
		ctx:     ctx,
		cancel:  cancel,
		wakeCh:  make(chan struct{}, 1),
	}
	if cfg.resumeRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.resumeRate), cfg.burst)
	}
	return r, nil
}

// Submit registers an active task; it is runnable as soon as the loop reaches
// it. Returns ErrDuplicateTask if the identifier is already registered.
func (r *Runtime[T]) Submit(id T, fn TaskFunc[T]) error {
	if fn == nil {
		return fmt.Errorf("submit %v: %w", id, ErrNilTaskFunc)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRuntimeClosed
	}
	if err := r.engine.Push(id); err != nil {
		r.mu.Unlock()
		return err
	}
	r.tasks[id] = newTaskEntry(id, fn)
	r.observe()
	r.mu.Unlock()

	r.logger.Debug(r.ctx, "task submitted", "task", id)
	if cb := r.config.OnTaskSubmitted; cb != nil {
		cb(id)
	}
	r.signal()
	return nil
}

// Plan registers a dormant task. It never runs until Activate is called, but
// dependencies may already be declared to or from it. Returns
// ErrDuplicateTask if the identifier is already registered.
func (r *Runtime[T]) Plan(id T, fn TaskFunc[T]) error {
	if fn == nil {
		return fmt.Errorf("plan %v: %w", id, ErrNilTaskFunc)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRuntimeClosed
	}
	if err := r.engine.Plan(id); err != nil {
		r.mu.Unlock()
		return err
	}
	r.tasks[id] = newTaskEntry(id, fn)
	r.observe()
	r.mu.Unlock()

	r.logger.Debug(r.ctx, "task planned", "task", id)
	if cb := r.config.OnTaskSubmitted; cb != nil {
		cb(id)
	}
	return nil
}

// Activate schedules a planned task. No-op if the identifier is unknown or
// not planned.
func (r *Runtime[T]) Activate(id T) {
	r.mu.Lock()
	r.engine.Use(id)
	r.observe()
	r.mu.Unlock()
	r.signal()
}

// AddDependency declares that dependent requires dependency. No-op unless
// both identifiers are known.
func (r *Runtime[T]) AddDependency(dependent, dependency T) {
	r.mu.Lock()
	r.engine.Attach(dependent, dependency)
	r.observe()
	r.mu.Unlock()
}

// RemoveDependency withdraws a previously declared dependency. No-op unless
// both identifiers are known.
func (r *Runtime[T]) RemoveDependency(dependent, dependency T) {
	r.mu.Lock()
	r.engine.Detach(dependent, dependency)
	r.observe()
	r.mu.Unlock()
	r.signal()
}

// Cancel retires a task: its dependents no longer wait on it and the
// identifier returns to the dormant pool. The task's coroutine, if it was
// mid-flight, stays parked; re-activating the identifier resumes it where it
// left off, and runtime shutdown releases it.
func (r *Runtime[T]) Cancel(id T) {
	r.mu.Lock()
	r.engine.Erase(id)
	r.observe()
	r.mu.Unlock()
	r.signal()
}

// Wake lifts a task's suspension. Safe to call from event handlers on any
// goroutine. No-op if the identifier is unknown or not suspended.
func (r *Runtime[T]) Wake(id T) {
	r.mu.Lock()
	r.engine.Wake(id)
	r.observe()
	r.mu.Unlock()

	r.logger.Debug(r.ctx, "task woken", "task", id)
	r.signal()
}

// WakeAfter arranges for Wake(id) after the given delay. The returned timer
// can be stopped to abandon the wake.
func (r *Runtime[T]) WakeAfter(id T, d time.Duration) *time.Timer {
	return time.AfterFunc(d, func() {
		r.Wake(id)
	})
}

// TaskState returns a task's current lifecycle state, or ErrUnknownTask if
// the identifier is not registered.
func (r *Runtime[T]) TaskState(id T) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.engine.State(id)
	if !ok {
		return 0, fmt.Errorf("task %v: %w", id, ErrUnknownTask)
	}
	return s, nil
}

// Snapshot returns the engine's per-state membership under the runtime lock.
func (r *Runtime[T]) Snapshot() Snapshot[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.Snapshot()
}

// Stats returns the engine's per-state sizes under the runtime lock.
func (r *Runtime[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.Stats()
}

// Close shuts the runtime down, releasing every parked coroutine. Further
// submissions fail with ErrRuntimeClosed.
func (r *Runtime[T]) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	return nil
}

// Run drives the scheduling loop until no active work remains, the context is
// cancelled, or a deadlock is detected. On deadlock the returned error
// matches a *DeadlockError[T] carrying the diagnosed cycle. Errors returned
// by task bodies do not stop the loop; they are reported through OnTaskFailed
// and joined into the final return value.
//
// Run must not be called concurrently with itself.
func (r *Runtime[T]) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.mu.Lock()
		id, err := r.engine.Top()
		if err != nil {
			if r.engine.Cyclic() {
				cycle := append([]T(nil), r.engine.Cycle()...)
				var blocked []T
				if len(cycle) == 0 {
					blocked = r.engine.Snapshot().Blocked
				}
				r.mu.Unlock()
				return r.deadlock(cycle, blocked)
			}
			if r.engine.Waiting() {
				r.mu.Unlock()
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-r.wakeCh:
					continue
				}
			}
			r.mu.Unlock()
			return errors.Join(r.errs...)
		}
		entry := r.tasks[id]
		r.mu.Unlock()

		if entry == nil {
			// A reactivated identifier with no registered body cannot run.
			r.logger.Warn(ctx, "no task body registered, retiring", "task", id)
			r.mu.Lock()
			r.engine.Erase(id)
			r.observe()
			r.mu.Unlock()
			continue
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		req := r.resumeTask(ctx, entry)
		r.apply(ctx, entry, req)
	}
}

// resumeTask hands control to the task goroutine and blocks until it yields.
func (r *Runtime[T]) resumeTask(ctx context.Context, e *taskEntry[T]) yieldRequest[T] {
	ctx, span := r.startResumeSpan(ctx, e.id)
	start := time.Now()

	if !e.started {
		e.started = true
		r.logger.Debug(ctx, "task starting", "task", e.id)
		if cb := r.config.OnTaskStarted; cb != nil {
			cb(e.id)
		}
		go r.execute(e)
	} else {
		if cb := r.config.OnTaskResumed; cb != nil {
			cb(e.id)
		}
		e.resume <- struct{}{}
	}

	req := <-e.yield
	r.endResumeSpan(span, req)
	if r.metrics != nil {
		r.metrics.RecordResume(resumeOutcome(req), time.Since(start))
	}
	return req
}

// execute runs the task body on its own goroutine and reports the final
// yield. A panicking body is converted into a task failure.
func (r *Runtime[T]) execute(e *taskEntry[T]) {
	defer func() {
		if p := recover(); p != nil {
			e.yield <- yieldRequest[T]{kind: yieldDone, err: fmt.Errorf("task %v panicked: %v", e.id, p)}
		}
	}()

	tc := &TaskContext[T]{rt: r, entry: e}
	err := e.fn(r.ctx, tc)
	e.yield <- yieldRequest[T]{kind: yieldDone, err: err}
}

// apply folds a task's yield back into the engine.
func (r *Runtime[T]) apply(ctx context.Context, e *taskEntry[T], req yieldRequest[T]) {
	switch req.kind {
	case yieldDone:
		r.mu.Lock()
		if req.err != nil {
			// Retired without releasing: the task's outputs were never
			// delivered.
			r.engine.Erase(e.id)
			r.errs = append(r.errs, fmt.Errorf("task %v: %w", e.id, req.err))
		} else {
			r.engine.Release(e.id)
			r.engine.Erase(e.id)
		}
		delete(r.tasks, e.id)
		r.observe()
		r.mu.Unlock()

		if req.err != nil {
			r.logger.Error(ctx, "task failed", "task", e.id, "error", req.err)
			if cb := r.config.OnTaskFailed; cb != nil {
				cb(e.id, req.err)
			}
		} else {
			r.logger.Debug(ctx, "task completed", "task", e.id)
			if cb := r.config.OnTaskCompleted; cb != nil {
				cb(e.id)
			}
		}

	case yieldAwait:
		r.mu.Lock()
		for _, dep := range req.deps {
			if !r.engine.Known(dep) {
				r.logger.Warn(ctx, "awaiting unknown task, dependency ignored", "task", e.id, "dependency", dep)
				continue
			}
			if _, live := r.tasks[dep]; !live {
				// Completed tasks are retired and removed from the entry map;
				// awaiting one is already satisfied. Planned tasks keep their
				// entry, so an edge to them still blocks until activation.
				r.logger.Debug(ctx, "dependency already completed", "task", e.id, "dependency", dep)
				continue
			}
			r.engine.Attach(e.id, dep)
		}
		r.observe()
		r.mu.Unlock()
		r.logger.Debug(ctx, "task awaiting dependencies", "task", e.id, "dependencies", req.deps)

	case yieldSuspend:
		r.mu.Lock()
		r.engine.Halt(e.id)
		r.observe()
		r.mu.Unlock()

		r.logger.Debug(ctx, "task suspended", "task", e.id)
		if cb := r.config.OnTaskSuspended; cb != nil {
			cb(e.id)
		}
	}
}

// deadlock finalizes a detected deadlock and builds Run's return value.
func (r *Runtime[T]) deadlock(cycle, blocked []T) error {
	r.logger.Error(r.ctx, "deadlock detected", "cycle", cycle, "blocked", blocked)
	if r.metrics != nil {
		r.metrics.IncDeadlocks()
	}
	if cb := r.config.OnDeadlock; cb != nil {
		cb(cycle)
	}
	return errors.Join(append(r.errs, &DeadlockError[T]{Cycle: cycle, Blocked: blocked})...)
}

// signal nudges a Run loop that is parked waiting for suspended tasks. The
// buffered channel keeps at most one nudge outstanding; the loop re-derives
// everything from the engine anyway.
func (r *Runtime[T]) signal() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

// observe pushes the current state-set sizes to the metrics gauges. Callers
// hold r.mu.
func (r *Runtime[T]) observe() {
	if r.metrics != nil {
		r.metrics.ObserveStats(r.engine.Stats())
	}
}

func resumeOutcome[T comparable](req yieldRequest[T]) string {
	switch req.kind {
	case yieldAwait:
		return "awaiting"
	case yieldSuspend:
		return "suspended"
	default:
		if req.err != nil {
			return "failed"
		}
		return "completed"
	}
}
