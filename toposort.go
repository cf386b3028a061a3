package toposched

import (
	"fmt"
)

// State is the lifecycle category of a registered task. A task is in exactly
// one state at any instant.
type State uint8

const (
	StatePlanned State = iota // registered but inactive, excluded from scheduling
	StatePending              // active, no unresolved dependencies, runnable
	StateBlocked              // active, at least one unresolved dependency
	StateWaiting              // explicitly suspended, regardless of dependencies
)

func (s State) String() string {
	switch s {
	case StatePlanned:
		return "planned"
	case StatePending:
		return "pending"
	case StateBlocked:
		return "blocked"
	case StateWaiting:
		return "waiting"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// node is a vertex of the dependency graph. Edges are stored symmetrically:
// d is in n.ins iff n is in d.outs.
type node[T comparable] struct {
	value T
	state State
	ins   map[T]*node[T] // tasks this one requires
	outs  map[T]*node[T] // tasks that require this one
}

func newNode[T comparable](t T) *node[T] {
	return &node[T]{
		value: t,
		ins:   make(map[T]*node[T]),
		outs:  make(map[T]*node[T]),
	}
}

// anyIn returns an arbitrary predecessor, or nil when there is none.
func (n *node[T]) anyIn() *node[T] {
	for _, p := range n.ins {
		return p
	}
	return nil
}

// Stats holds the size of each lifecycle category.
type Stats struct {
	Planned int
	Pending int
	Blocked int
	Waiting int
}

// Snapshot is a copy of the engine's per-state membership, safe to retain
// after further mutations.
type Snapshot[T comparable] struct {
	Planned []T
	Pending []T
	Blocked []T
	Waiting []T
}

// Toposort is a dynamic topological-ordering engine. It tracks a mutable set
// of task identifiers connected by depends-on edges and continuously exposes
// which tasks are currently runnable.
//
// The engine is a pure, synchronous data structure: it performs no I/O, never
// blocks, and provides no internal synchronization. Callers sharing one
// instance across goroutines must serialize access themselves (Runtime does
// exactly that).
//
// Mutating operations given an unknown task identifier are silent no-ops.
type Toposort[T comparable] struct {
	nodes map[T]*node[T]

	pending map[T]*node[T]
	blocked map[T]*node[T]
	waiting map[T]*node[T]
	planned map[T]*node[T]

	cycle []T // scratch buffer rebuilt by Cycle
}

// New creates an empty engine.
func New[T comparable]() *Toposort[T] {
	ts := &Toposort[T]{}
	ts.Clear()
	return ts
}

// Clear resets the engine to the empty state, discarding all nodes.
func (ts *Toposort[T]) Clear() {
	ts.nodes = make(map[T]*node[T])
	ts.pending = make(map[T]*node[T])
	ts.blocked = make(map[T]*node[T])
	ts.waiting = make(map[T]*node[T])
	ts.planned = make(map[T]*node[T])
	ts.cycle = nil
}

func (ts *Toposort[T]) stateSet(s State) map[T]*node[T] {
	switch s {
	case StatePlanned:
		return ts.planned
	case StatePending:
		return ts.pending
	case StateBlocked:
		return ts.blocked
	default:
		return ts.waiting
	}
}

// transition moves n between state sets, keeping the one-state-per-node
// invariant structural.
func (ts *Toposort[T]) transition(n *node[T], to State) {
	delete(ts.stateSet(n.state), n.value)
	n.state = to
	ts.stateSet(to)[n.value] = n
}

// Push registers t as an active task with no known dependencies yet; it is
// immediately pending. Registering an identifier that is already known
// returns ErrDuplicateTask.
func (ts *Toposort[T]) Push(t T) error {
	if _, ok := ts.nodes[t]; ok {
		return fmt.Errorf("push %v: %w", t, ErrDuplicateTask)
	}
	n := newNode(t)
	n.state = StatePending
	ts.nodes[t] = n
	ts.pending[t] = n
	return nil
}

// Plan registers t as a dormant task. Edges may be attached to or from it,
// but it is excluded from scheduling until activated with Use. Registering an
// identifier that is already known returns ErrDuplicateTask.
func (ts *Toposort[T]) Plan(t T) error {
	if _, ok := ts.nodes[t]; ok {
		return fmt.Errorf("plan %v: %w", t, ErrDuplicateTask)
	}
	n := newNode(t)
	n.state = StatePlanned
	ts.nodes[t] = n
	ts.planned[t] = n
	return nil
}

// Use activates a planned task, moving it to pending unconditionally: any
// predecessor edges recorded while it was dormant are ignored by the move and
// only count again once re-evaluated through Halt/Wake or Attach/Detach.
// No-op if t is unknown or not planned.
func (ts *Toposort[T]) Use(t T) {
	n, ok := ts.nodes[t]
	if !ok || n.state != StatePlanned {
		return
	}
	ts.transition(n, StatePending)
}

// Attach records that dependent requires dependency. Both identifiers must be
// known, otherwise no-op. A pending dependent gaining its first unresolved
// predecessor becomes blocked before the edge is inserted; one already
// carrying predecessors (activated through Use) stays pending until
// re-evaluated. Planned and waiting dependents keep their state.
func (ts *Toposort[T]) Attach(dependent, dependency T) {
	dn, ok := ts.nodes[dependent]
	if !ok {
		return
	}
	pn, ok := ts.nodes[dependency]
	if !ok {
		return
	}
	if dn.state == StatePending && len(dn.ins) == 0 {
		ts.transition(dn, StateBlocked)
	}
	dn.ins[dependency] = pn
	pn.outs[dependent] = dn
}

// Detach removes the dependent-requires-dependency edge. Both identifiers
// must be known, otherwise no-op. A blocked dependent whose predecessor set
// becomes empty returns to pending.
func (ts *Toposort[T]) Detach(dependent, dependency T) {
	dn, ok := ts.nodes[dependent]
	if !ok {
		return
	}
	pn, ok := ts.nodes[dependency]
	if !ok {
		return
	}
	delete(dn.ins, dependency)
	delete(pn.outs, dependent)
	if dn.state == StateBlocked && len(dn.ins) == 0 {
		ts.transition(dn, StatePending)
	}
}

// Erase retires t: every dependent loses t from its predecessor set, and any
// dependent left with no predecessors becomes pending. Unlike Release, this
// promotes waiting dependents too. t itself becomes planned again, dormant
// and reusable via Use. t's own predecessor and dependent sets are left
// untouched; stale edge remnants persist until the node is reused or
// explicitly detached. No-op if t is unknown.
func (ts *Toposort[T]) Erase(t T) {
	n, ok := ts.nodes[t]
	if !ok {
		return
	}
	for _, d := range n.outs {
		delete(d.ins, t)
		if len(d.ins) == 0 && (d.state == StateBlocked || d.state == StateWaiting) {
			ts.transition(d, StatePending)
		}
	}
	ts.transition(n, StatePlanned)
}

// Release marks t's outputs as delivered: every dependent loses t from its
// predecessor set, and any non-waiting dependent left with no predecessors
// becomes pending. t's own dependent set is cleared; its lifecycle state is
// unchanged. No-op if t is unknown.
func (ts *Toposort[T]) Release(t T) {
	n, ok := ts.nodes[t]
	if !ok {
		return
	}
	for _, d := range n.outs {
		delete(d.ins, t)
		if len(d.ins) == 0 && d.state == StateBlocked {
			ts.transition(d, StatePending)
		}
	}
	clear(n.outs)
}

// Halt suspends t unconditionally, regardless of its predecessor state.
// No-op if t is unknown.
func (ts *Toposort[T]) Halt(t T) {
	n, ok := ts.nodes[t]
	if !ok {
		return
	}
	ts.transition(n, StateWaiting)
}

// Wake lifts t's suspension and re-evaluates it against its predecessor set
// as it stands now: pending when empty, blocked otherwise. No-op if t is
// unknown or not waiting.
func (ts *Toposort[T]) Wake(t T) {
	n, ok := ts.nodes[t]
	if !ok || n.state != StateWaiting {
		return
	}
	if len(n.ins) == 0 {
		ts.transition(n, StatePending)
	} else {
		ts.transition(n, StateBlocked)
	}
}

// Top returns some member of the pending set. Which member is unspecified:
// callers must not assume any ordering among simultaneously runnable tasks.
// Returns ErrNoPendingTask when nothing is runnable; guard with Empty first.
func (ts *Toposort[T]) Top() (T, error) {
	for _, n := range ts.pending {
		return n.value, nil
	}
	var zero T
	return zero, ErrNoPendingTask
}

// Empty reports whether the pending set is empty.
func (ts *Toposort[T]) Empty() bool {
	return len(ts.pending) == 0
}

// Waiting reports whether any task is suspended.
func (ts *Toposort[T]) Waiting() bool {
	return len(ts.waiting) > 0
}

// Cyclic reports deadlock: nothing is runnable, nothing is suspended awaiting
// an external wake, yet blocked tasks remain.
func (ts *Toposort[T]) Cyclic() bool {
	return len(ts.pending) == 0 && len(ts.waiting) == 0 && len(ts.blocked) > 0
}

// Cycle produces one cycle of task identifiers responsible for the deadlock,
// in dependency order. Which cycle is reported is unspecified when several
// exist. Returns nil when Cyclic is false.
//
// Starting from an arbitrary blocked node it follows one predecessor link per
// step until a node repeats, then walks the loop once more to record it. The
// predecessor chosen at each node is pinned during the first pass so the
// second pass retraces the same loop.
func (ts *Toposort[T]) Cycle() []T {
	ts.cycle = ts.cycle[:0]
	if !ts.Cyclic() {
		return nil
	}

	var n *node[T]
	for _, b := range ts.blocked {
		n = b
		break
	}

	next := make(map[T]*node[T])
	for {
		if _, seen := next[n.value]; seen {
			break
		}
		p := n.anyIn()
		if p == nil {
			return nil
		}
		next[n.value] = p
		n = p
	}

	start := n
	for {
		ts.cycle = append(ts.cycle, n.value)
		n = next[n.value]
		if n == start {
			break
		}
	}
	return ts.cycle
}

// Known reports whether t is registered.
func (ts *Toposort[T]) Known(t T) bool {
	_, ok := ts.nodes[t]
	return ok
}

// Len returns the total number of registered tasks across all states.
func (ts *Toposort[T]) Len() int {
	return len(ts.nodes)
}

// State returns t's current lifecycle state.
func (ts *Toposort[T]) State(t T) (State, bool) {
	n, ok := ts.nodes[t]
	if !ok {
		return 0, false
	}
	return n.state, true
}

// Predecessors returns the tasks t currently depends on, in no particular
// order.
func (ts *Toposort[T]) Predecessors(t T) []T {
	n, ok := ts.nodes[t]
	if !ok {
		return nil
	}
	out := make([]T, 0, len(n.ins))
	for v := range n.ins {
		out = append(out, v)
	}
	return out
}

// Dependents returns the tasks that currently depend on t, in no particular
// order.
func (ts *Toposort[T]) Dependents(t T) []T {
	n, ok := ts.nodes[t]
	if !ok {
		return nil
	}
	out := make([]T, 0, len(n.outs))
	for v := range n.outs {
		out = append(out, v)
	}
	return out
}

// Stats returns the size of each lifecycle category.
func (ts *Toposort[T]) Stats() Stats {
	return Stats{
		Planned: len(ts.planned),
		Pending: len(ts.pending),
		Blocked: len(ts.blocked),
		Waiting: len(ts.waiting),
	}
}

// Snapshot returns a copy of the per-state membership.
func (ts *Toposort[T]) Snapshot() Snapshot[T] {
	return Snapshot[T]{
		Planned: keys(ts.planned),
		Pending: keys(ts.pending),
		Blocked: keys(ts.blocked),
		Waiting: keys(ts.waiting),
	}
}

func keys[T comparable](set map[T]*node[T]) []T {
	out := make([]T, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out
}
