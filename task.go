package toposched

import (
	"context"
	"fmt"
)

// TaskFunc is a task body. It runs on its own goroutine but executes
// cooperatively: exactly one task runs at a time, and control returns to the
// scheduler whenever the body calls Await or Suspend on its TaskContext, or
// returns. The context is the runtime's context and is cancelled when the
// runtime shuts down.
type TaskFunc[T comparable] func(ctx context.Context, tc *TaskContext[T]) error

type yieldKind int

const (
	yieldDone yieldKind = iota
	yieldAwait
	yieldSuspend
)

type yieldRequest[T comparable] struct {
	kind yieldKind
	deps []T
	err  error
}

// taskEntry pairs a task identifier with its coroutine. The resume and yield
// channels carry the lockstep handoff between the scheduling loop and the
// task goroutine; both are buffered so neither side can hang the other during
// shutdown.
type taskEntry[T comparable] struct {
	id      T
	fn      TaskFunc[T]
	started bool
	resume  chan struct{}
	yield   chan yieldRequest[T]
}

func newTaskEntry[T comparable](id T, fn TaskFunc[T]) *taskEntry[T] {
	return &taskEntry[T]{
		id:     id,
		fn:     fn,
		resume: make(chan struct{}, 1),
		yield:  make(chan yieldRequest[T], 1),
	}
}

// TaskContext is handed to a running task body. Its methods may only be
// called from that task's own goroutine while the task is executing.
type TaskContext[T comparable] struct {
	rt    *Runtime[T]
	entry *taskEntry[T]
}

// ID returns the identifier of the running task.
func (tc *TaskContext[T]) ID() T {
	return tc.entry.id
}

// Await declares the given tasks as dependencies of the running task and
// yields to the scheduler. It returns once every dependency has released its
// outputs or been retired and the scheduler resumes this task. Unknown
// identifiers are ignored, matching the engine's edge policy.
func (tc *TaskContext[T]) Await(deps ...T) error {
	tc.entry.yield <- yieldRequest[T]{kind: yieldAwait, deps: deps}
	return tc.park()
}

// Suspend halts the running task pending an external event and yields to the
// scheduler. It returns after a Runtime.Wake (or WakeAfter timer) lifts the
// suspension and the scheduler resumes this task.
func (tc *TaskContext[T]) Suspend() error {
	tc.entry.yield <- yieldRequest[T]{kind: yieldSuspend}
	return tc.park()
}

// Spawn registers a new active task from inside a running one.
func (tc *TaskContext[T]) Spawn(id T, fn TaskFunc[T]) error {
	return tc.rt.Submit(id, fn)
}

// park blocks the task goroutine until the scheduler resumes it or the
// runtime shuts down.
func (tc *TaskContext[T]) park() error {
	select {
	case <-tc.rt.ctx.Done():
		return fmt.Errorf("task %v parked at shutdown: %w", tc.entry.id, tc.rt.ctx.Err())
	case <-tc.entry.resume:
		return nil
	}
}
