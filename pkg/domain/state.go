package domain

import "fmt"

// State is the lifecycle state of an object tracked by a transaction.
type State uint8

// Tracked object states. The set is closed; no other values are valid.
const (
	StateNew State = iota + 1
	StateDirty
	StateClean
	StateDeleted
)

// States lists every valid state in a stable order.
var States = []State{StateNew, StateDirty, StateClean, StateDeleted}

// Valid reports whether s is one of the four lifecycle states.
func (s State) Valid() bool {
	return s >= StateNew && s <= StateDeleted
}

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateDirty:
		return "dirty"
	case StateClean:
		return "clean"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}
