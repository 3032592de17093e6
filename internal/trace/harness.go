package trace

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danielpatrickdp/abstract-rmax/internal/abstract"
	"github.com/danielpatrickdp/abstract-rmax/internal/learner"
)

// ErrUnknownKey is returned when a transition names a state or goal the
// fixture never introduced.
var ErrUnknownKey = errors.New("unknown state key")

// #region types
// ReplayResult captures what one recorded transition did to the graph.
type ReplayResult struct {
	Index     int
	Action    string // "explore" | "goal"
	NewAction bool
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	Transitions int
	States      int
	Actions     int
	Explores    int
	Terminals   int
	Values      map[string]float64
	EvalValues  map[string]float64
}

// KeyValue is one row of a key-sorted value table.
type KeyValue struct {
	Key   string
	Value float64
}

// #endregion types

// #region replay
// Replay rebuilds graph, model and value tables from f. States are created in
// discovery order so handles match the recorded run; each transition is then
// observed with the recorded re-solve cadence, and a final solve runs once
// every transition is in.
func Replay(f *Fixture, opts ...learner.Option) (*learner.Core, []ReplayResult, error) {
	core, err := learner.NewCore(f.Config.ToLearnerConfig(), opts...)
	if err != nil {
		return nil, nil, err
	}
	states := make(map[string]abstract.State, len(f.States))
	for i := range f.States {
		s := f.States[i].ToState()
		if _, err := core.CreateState(s); err != nil {
			return nil, nil, fmt.Errorf("replay state %q: %w", s.Key(), err)
		}
		states[s.Key()] = s
	}

	g := core.Graph()
	results := make([]ReplayResult, 0, len(f.Transitions))
	for i, tr := range f.Transitions {
		from, ok := g.Lookup(tr.From)
		if !ok {
			return nil, nil, fmt.Errorf("transition %d from %q: %w", i, tr.From, ErrUnknownKey)
		}
		to, ok := states[tr.To]
		if !ok {
			return nil, nil, fmt.Errorf("transition %d to %q: %w", i, tr.To, ErrUnknownKey)
		}
		a, err := findAction(core, from, tr.Goal)
		if err != nil {
			return nil, nil, fmt.Errorf("transition %d: %w", i, err)
		}

		before := g.NumActions()
		if _, err := core.Observe(from, a, to, tr.Reward, tr.Terminal); err != nil {
			return nil, nil, fmt.Errorf("transition %d: %w", i, err)
		}
		kind := "goal"
		if a.IsExplore() {
			kind = "explore"
		}
		results = append(results, ReplayResult{
			Index:     i,
			Action:    kind,
			NewAction: g.NumActions() > before,
		})
	}

	if err := core.Solve(); err != nil {
		return nil, nil, err
	}
	return core, results, nil
}

func findAction(core *learner.Core, from abstract.StateID, goal string) (abstract.Action, error) {
	actions := core.Graph().Actions(from)
	if goal == "" {
		return actions[0], nil
	}
	for _, a := range actions {
		if a.GoalKey == goal {
			return a, nil
		}
	}
	return abstract.Action{}, fmt.Errorf("goal %q is not a neighbor of %d: %w", goal, from, ErrUnknownKey)
}

// Summarize computes aggregate stats and key-indexed value tables.
func Summarize(core *learner.Core, results []ReplayResult, f *Fixture) ReplaySummary {
	g := core.Graph()
	s := ReplaySummary{
		Transitions: len(results),
		States:      g.Len(),
		Actions:     g.NumActions(),
		Values:      make(map[string]float64, g.Len()),
		EvalValues:  make(map[string]float64, g.Len()),
	}
	for _, r := range results {
		if r.Action == "explore" {
			s.Explores++
		}
	}
	for _, tr := range f.Transitions {
		if tr.Terminal {
			s.Terminals++
		}
	}
	values, evalValues := core.Values(), core.EvalValues()
	for _, id := range g.StateIDs() {
		st, err := g.State(id)
		if err != nil {
			continue
		}
		s.Values[st.Key()] = values[id]
		s.EvalValues[st.Key()] = evalValues[id]
	}
	return s
}

// Sorted returns the entries of a key-indexed value table in key order.
func Sorted(values map[string]float64) []KeyValue {
	out := make([]KeyValue, 0, len(values))
	for k, v := range values {
		out = append(out, KeyValue{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// #endregion replay
