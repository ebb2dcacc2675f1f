// Package fsm provides explicit transition tables for the status fields of
// orders, deliveries, disputes, returns, refunds and promotions.
package fsm

import (
	"fmt"

	"github.com/xenking/marketplace/internal/domain/fault"
)

// Table maps (current state, action) to the next state. Any pair missing
// from the table is an invalid transition.
type Table[S ~string, A ~string] struct {
	entity  string
	edges   map[S]map[A]S
	actions map[A]struct{}
}

// Edge is a single allowed transition.
type Edge[S ~string, A ~string] struct {
	From   S
	Action A
	To     S
}

// New builds a table for the named entity from the given edges.
func New[S ~string, A ~string](entity string, edges ...Edge[S, A]) *Table[S, A] {
	t := &Table[S, A]{entity: entity, edges: make(map[S]map[A]S), actions: make(map[A]struct{})}
	for _, e := range edges {
		t.actions[e.Action] = struct{}{}
		if t.edges[e.From] == nil {
			t.edges[e.From] = make(map[A]S)
		}
		t.edges[e.From][e.Action] = e.To
	}
	return t
}

// Next returns the state reached by applying action in state from.
func (t *Table[S, A]) Next(from S, action A) (S, error) {
	if to, ok := t.edges[from][action]; ok {
		return to, nil
	}
	_, known := t.actions[action]
	return from, &TransitionError{
		Entity:  t.entity,
		From:    string(from),
		Action:  string(action),
		Unknown: !known,
	}
}

// Known reports whether action appears anywhere in the table.
func (t *Table[S, A]) Known(action A) bool {
	_, ok := t.actions[action]
	return ok
}

// Can reports whether action is allowed in state from.
func (t *Table[S, A]) Can(from S, action A) bool {
	_, ok := t.edges[from][action]
	return ok
}

// Actions lists the actions allowed in state from.
func (t *Table[S, A]) Actions(from S) []A {
	out := make([]A, 0, len(t.edges[from]))
	for a := range t.edges[from] {
		out = append(out, a)
	}
	return out
}

// Terminal reports whether no action leaves state s.
func (t *Table[S, A]) Terminal(s S) bool {
	return len(t.edges[s]) == 0
}

// TransitionError is returned for an action that is not allowed in the
// entity's current state.
type TransitionError struct {
	Entity string
	From   string
	Action string
	// Unknown is set when the action is not part of the table at all.
	Unknown bool
}

func (e *TransitionError) Error() string {
	if e.Unknown {
		return fmt.Sprintf("%s: unknown action %q", e.Entity, e.Action)
	}
	return fmt.Sprintf("%s: cannot %s from status %q", e.Entity, e.Action, e.From)
}

// Kind classifies invalid transitions as conflicts with current state and
// unknown actions as validation failures.
func (e *TransitionError) Kind() fault.Kind {
	if e.Unknown {
		return fault.Validation
	}
	return fault.Conflict
}
