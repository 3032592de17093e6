package graph

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/abstract-rmax/internal/abstract"
)

// #region errors
var (
	// ErrStateExists is returned when a state key is created twice.
	ErrStateExists = errors.New("abstract state already exists")
	// ErrUnknownState is returned for handles or keys the graph never issued.
	ErrUnknownState = errors.New("unknown abstract state")
	// ErrDuplicateNeighbor is returned when an action toward an existing neighbor is added.
	ErrDuplicateNeighbor = errors.New("goal is already a neighbor")
)
// #endregion errors

// #region types
// Graph is the discovered abstract state/action graph. It only grows:
// handles returned by CreateState and AddAction stay valid forever.
type Graph struct {
	states  []abstract.State
	index   map[string]abstract.StateID
	actions []abstract.Action           // arena indexed by ActionID
	byState [][]abstract.ActionID       // per-state action list, explore first
	nbrs    [][]abstract.StateID        // per-state neighbors in discovery order
	nbrSet  []map[abstract.StateID]bool // membership for nbrs
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{index: make(map[string]abstract.StateID)}
}
// #endregion types

// #region create-state
// CreateState registers s with a single explore action and no neighbors.
func (g *Graph) CreateState(s abstract.State) (abstract.StateID, error) {
	if _, ok := g.index[s.Key()]; ok {
		return 0, fmt.Errorf("create state %s: %w", s, ErrStateExists)
	}
	id := abstract.StateID(len(g.states))
	g.states = append(g.states, s)
	g.index[s.Key()] = id
	g.byState = append(g.byState, nil)
	g.nbrs = append(g.nbrs, nil)
	g.nbrSet = append(g.nbrSet, make(map[abstract.StateID]bool))

	vec := s.Vector()
	g.appendAction(abstract.Action{
		Initial:    id,
		Goal:       abstract.NoGoal,
		InitialKey: s.Key(),
		InitialVec: vec,
		GoalVec:    vec,
	})
	return id, nil
}
// #endregion create-state

// #region add-action
// AddAction appends an s -> goal action and records goal as a neighbor of s.
func (g *Graph) AddAction(s, goal abstract.StateID) (abstract.Action, error) {
	if !g.valid(s) {
		return abstract.Action{}, fmt.Errorf("add action from %d: %w", s, ErrUnknownState)
	}
	if !g.valid(goal) {
		return abstract.Action{}, fmt.Errorf("add action to %d: %w", goal, ErrUnknownState)
	}
	if g.nbrSet[s][goal] {
		return abstract.Action{}, fmt.Errorf("add action %s -> %s: %w", g.states[s], g.states[goal], ErrDuplicateNeighbor)
	}
	a := g.appendAction(abstract.Action{
		Initial:    s,
		Goal:       goal,
		InitialKey: g.states[s].Key(),
		GoalKey:    g.states[goal].Key(),
		InitialVec: g.states[s].Vector(),
		GoalVec:    g.states[goal].Vector(),
	})
	g.nbrs[s] = append(g.nbrs[s], goal)
	g.nbrSet[s][goal] = true
	return a, nil
}

func (g *Graph) appendAction(a abstract.Action) abstract.Action {
	a.ID = abstract.ActionID(len(g.actions))
	g.actions = append(g.actions, a)
	g.byState[a.Initial] = append(g.byState[a.Initial], a.ID)
	return a
}
// #endregion add-action

// #region queries
// Lookup returns the handle of a known state key.
func (g *Graph) Lookup(key string) (abstract.StateID, bool) {
	id, ok := g.index[key]
	return id, ok
}

// State returns the state behind a handle.
func (g *Graph) State(id abstract.StateID) (abstract.State, error) {
	if !g.valid(id) {
		return abstract.State{}, fmt.Errorf("state %d: %w", id, ErrUnknownState)
	}
	return g.states[id], nil
}

// Action returns the action behind a handle.
func (g *Graph) Action(id abstract.ActionID) (abstract.Action, bool) {
	if id < 0 || int(id) >= len(g.actions) {
		return abstract.Action{}, false
	}
	return g.actions[id], true
}

// Actions returns the actions available at s, explore first.
func (g *Graph) Actions(s abstract.StateID) []abstract.Action {
	if !g.valid(s) {
		return nil
	}
	out := make([]abstract.Action, len(g.byState[s]))
	for i, id := range g.byState[s] {
		out[i] = g.actions[id]
	}
	return out
}

// Neighbors returns the discovered successors of s.
func (g *Graph) Neighbors(s abstract.StateID) []abstract.StateID {
	if !g.valid(s) {
		return nil
	}
	out := make([]abstract.StateID, len(g.nbrs[s]))
	copy(out, g.nbrs[s])
	return out
}

// HasNeighbor reports whether goal is a recorded neighbor of s.
func (g *Graph) HasNeighbor(s, goal abstract.StateID) bool {
	return g.valid(s) && g.nbrSet[s][goal]
}

// Len returns the number of states.
func (g *Graph) Len() int {
	return len(g.states)
}

// NumActions returns the number of actions across all states.
func (g *Graph) NumActions() int {
	return len(g.actions)
}

// StateIDs returns every handle in creation order.
func (g *Graph) StateIDs() []abstract.StateID {
	out := make([]abstract.StateID, len(g.states))
	for i := range out {
		out[i] = abstract.StateID(i)
	}
	return out
}

func (g *Graph) valid(id abstract.StateID) bool {
	return id >= 0 && int(id) < len(g.states)
}
// #endregion queries
