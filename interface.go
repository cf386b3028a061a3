package toposched

// Graph is an interface that exposes all of the public methods of the
// Toposort[T] struct. The Runtime schedules against this interface, so hosts
// can wrap the engine (instrumentation, invariant checking in tests) without
// the Runtime knowing.
type Graph[T comparable] interface {
	// Push registers an active task; it is immediately pending.
	Push(t T) error

	// Plan registers a dormant task, excluded from scheduling until Use.
	Plan(t T) error

	// Use activates a planned task unconditionally.
	Use(t T)

	// Attach records that dependent requires dependency.
	Attach(dependent, dependency T)

	// Detach removes the dependent-requires-dependency edge.
	Detach(dependent, dependency T)

	// Erase retires a task back to planned, promoting its freed dependents.
	Erase(t T)

	// Release delivers a task's outputs to its dependents without retiring it.
	Release(t T)

	// Halt suspends a task unconditionally.
	Halt(t T)

	// Wake lifts a suspension and re-evaluates the task's dependencies.
	Wake(t T)

	// Top returns some runnable task, or ErrNoPendingTask.
	Top() (T, error)

	// Empty reports whether nothing is runnable.
	Empty() bool

	// Waiting reports whether any task is suspended.
	Waiting() bool

	// Cyclic reports deadlock.
	Cyclic() bool

	// Cycle returns one dependency cycle responsible for a deadlock.
	Cycle() []T

	// Clear discards all tasks.
	Clear()

	// Known reports whether a task is registered.
	Known(t T) bool

	// Len returns the total number of registered tasks.
	Len() int

	// State returns a task's lifecycle state.
	State(t T) (State, bool)

	// Stats returns the size of each lifecycle category.
	Stats() Stats

	// Snapshot returns a copy of the per-state membership.
	Snapshot() Snapshot[T]
}

var _ Graph[int] = (*Toposort[int])(nil)
