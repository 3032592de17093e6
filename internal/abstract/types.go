package abstract

import (
	"fmt"
	"strings"
)

// #region handles
// StateID is a stable handle assigned to an abstract state when it is first discovered.
type StateID int

// ActionID is a stable handle assigned to an abstract action when it is created.
type ActionID int

// NoGoal marks the goal of the explore action.
const NoGoal StateID = -1
// #endregion handles

// #region state
// State is a coarse-grained identity derived from a raw observation.
// Key and vector are computed once at construction and never change.
type State struct {
	key    string
	vector []float64
}

// NewState builds a state from its identity key and numeric embedding.
func NewState(key string, vector []float64) State {
	vec := make([]float64, len(vector))
	copy(vec, vector)
	return State{key: key, vector: vec}
}

// Key returns the identity key. Two states are equal iff their keys are equal.
func (s State) Key() string {
	return s.key
}

// Vector returns a copy of the embedding.
func (s State) Vector() []float64 {
	vec := make([]float64, len(s.vector))
	copy(vec, s.vector)
	return vec
}

// Dim returns the embedding length.
func (s State) Dim() int {
	return len(s.vector)
}

// Equal reports key equality.
func (s State) Equal(other State) bool {
	return s.key == other.key
}

// IsZero reports whether s has no identity.
func (s State) IsZero() bool {
	return s.key == ""
}

func (s State) String() string {
	return s.key
}
// #endregion state

// #region action
// Action is a directed edge between two abstract states, executed by the
// level-0 controller. A Goal of NoGoal denotes the explore action.
type Action struct {
	ID         ActionID
	Initial    StateID
	Goal       StateID
	InitialKey string
	GoalKey    string // empty for explore
	InitialVec []float64
	GoalVec    []float64
}

// IsExplore reports whether a is the self-loop explore action.
func (a Action) IsExplore() bool {
	return a.Goal == NoGoal
}

func (a Action) String() string {
	if a.IsExplore() {
		return fmt.Sprintf("%s EXPLORE", a.InitialKey)
	}
	return fmt.Sprintf("%s -> %s", a.InitialKey, a.GoalKey)
}

// OptionKey identifies the (initial, goal) pair independent of handles,
// e.g. for per-option level-0 bookkeeping.
func (a Action) OptionKey() string {
	var b strings.Builder
	b.WriteString(a.InitialKey)
	b.WriteString("->")
	if a.IsExplore() {
		b.WriteString("*")
	} else {
		b.WriteString(a.GoalKey)
	}
	return b.String()
}
// #endregion action

// #region abstractor
// Abstractor maps a raw observation to its abstract state.
type Abstractor interface {
	Abstract(obs []float32) State
}

// AbstractorFunc adapts a plain function to Abstractor.
type AbstractorFunc func(obs []float32) State

// Abstract calls f(obs).
func (f AbstractorFunc) Abstract(obs []float32) State {
	return f(obs)
}
// #endregion abstractor
