package toposched

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	ErrDuplicateTask = errors.New("task already registered")
	ErrNoPendingTask = errors.New("no pending task")
	ErrUnknownTask   = errors.New("unknown task")
	ErrNilTaskFunc   = errors.New("task function must not be nil")
	ErrRuntimeClosed = errors.New("runtime is closed")
)

// DeadlockError reports that no task is runnable and none is suspended
// awaiting an external event, yet blocked tasks remain. Cycle holds one
// dependency cycle responsible, in dependency order. When the stall is not
// circular (blocked tasks chain to a dormant task that will never run),
// Cycle is empty and Blocked names the stuck tasks instead.
type DeadlockError[T comparable] struct {
	Cycle   []T
	Blocked []T
}

func (e *DeadlockError[T]) Error() string {
	if len(e.Cycle) == 0 {
		return fmt.Sprintf("deadlock: %d tasks blocked on dormant dependencies %v", len(e.Blocked), e.Blocked)
	}
	return fmt.Sprintf("deadlock: %d tasks blocked in a dependency cycle %v", len(e.Cycle), e.Cycle)
}
