package planner

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/abstract-rmax/internal/abstract"
	"github.com/danielpatrickdp/abstract-rmax/internal/graph"
	"github.com/danielpatrickdp/abstract-rmax/internal/model"
)

// #region config
// Config holds the value-iteration parameters.
type Config struct {
	Gamma         float64 // discount (default 0.9)
	MaxIterations int     // sweep cap (default 100)
	Delta         float64 // convergence threshold on per-state change (default 0.01)
	RMax          float64 // Q of actions with no observed successors during training (default 10)
}

// DefaultConfig returns the parameters the controller ships with.
func DefaultConfig() Config {
	return Config{
		Gamma:         0.9,
		MaxIterations: 100,
		Delta:         0.01,
		RMax:          10,
	}
}
// #endregion config

// #region values
// Values maps abstract states to scalar values. A state missing from the
// table is not bootstrapped through.
type Values map[abstract.StateID]float64

// Clone returns an independent copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}
// #endregion values

// #region planner
// Stats describes one Solve call.
type Stats struct {
	Iterations int
	MaxDelta   float64
	Converged  bool
}

// Planner solves the abstract MDP defined by a graph and a transition model.
type Planner struct {
	graph *graph.Graph
	model *model.Table
	cfg   Config
}

// New returns a planner reading g and m.
func New(g *graph.Graph, m *model.Table, cfg Config) *Planner {
	return &Planner{graph: g, model: m, cfg: cfg}
}

// Config returns the planner parameters.
func (p *Planner) Config() Config {
	return p.cfg
}
// #endregion planner

// #region q-values
// QValues returns the Q-value of every action at s, in graph action order,
// bootstrapping from values.
func (p *Planner) QValues(s abstract.StateID, values Values, evaluation bool) ([]float64, error) {
	actions := p.graph.Actions(s)
	if len(actions) == 0 {
		return nil, fmt.Errorf("q values of %d: %w", s, graph.ErrUnknownState)
	}
	qs := make([]float64, len(actions))
	for i, a := range actions {
		q, err := p.q(s, a.ID, values, evaluation)
		if err != nil {
			return nil, err
		}
		qs[i] = q
	}
	return qs, nil
}

func (p *Planner) q(s abstract.StateID, a abstract.ActionID, values Values, evaluation bool) (float64, error) {
	succ := p.model.Successors(s, a)
	if len(succ) == 0 {
		if evaluation {
			return 0, nil
		}
		return p.cfg.RMax, nil
	}

	probs := make([]float64, len(succ))
	var z float64
	for i, sp := range succ {
		pr, err := p.model.P(s, a, sp)
		if err != nil {
			return 0, fmt.Errorf("q(%d, %d): %w", s, a, err)
		}
		probs[i] = pr
		z += pr
	}
	if z == 0 {
		// every successor has aged out of the window
		z = 1
	}

	var val float64
	for i, sp := range succ {
		r, err := p.model.R(s, a, sp, evaluation)
		if err != nil {
			return 0, fmt.Errorf("q(%d, %d): %w", s, a, err)
		}
		pn := probs[i] / z
		if v, ok := values[sp]; ok {
			cont := 1 - p.model.ProbTerminal(sp)
			val += pn * (r + p.cfg.Gamma*v*cont)
		} else {
			val += pn * r
		}
	}
	return val, nil
}
// #endregion q-values

// #region solve
// Solve runs synchronous value iteration starting from values and returns a
// new table; values itself is not modified. Every sweep reads only the table
// produced by the previous sweep. Iteration stops once no state that was
// present in the previous table moved by more than Delta, or after
// MaxIterations sweeps.
func (p *Planner) Solve(values Values, evaluation bool) (Values, Stats, error) {
	prev := values.Clone()
	var stats Stats
	ids := p.graph.StateIDs()

	for i := 0; i < p.cfg.MaxIterations; i++ {
		next := make(Values, len(ids))
		maxDelta := 0.0
		for _, s := range ids {
			qs, err := p.QValues(s, prev, evaluation)
			if err != nil {
				return nil, stats, fmt.Errorf("solve sweep %d: %w", i, err)
			}
			best := math.Inf(-1)
			for _, q := range qs {
				best = math.Max(best, q)
			}
			next[s] = best
			if old, ok := prev[s]; ok {
				maxDelta = math.Max(maxDelta, math.Abs(best-old))
			}
		}
		prev = next
		stats.Iterations = i + 1
		stats.MaxDelta = maxDelta
		if maxDelta <= p.cfg.Delta {
			stats.Converged = true
			break
		}
	}
	return prev, stats, nil
}
// #endregion solve

// #region schedule
// Schedule decides when to re-solve: on the first call and then every
// Every-th call. It replaces a global step counter.
type Schedule struct {
	Every int
	calls int
}

// Tick counts one call and reports whether a re-solve is due.
func (s *Schedule) Tick() bool {
	every := s.Every
	if every < 1 {
		every = 1
	}
	due := s.calls%every == 0
	s.calls++
	return due
}

// Calls returns how many times Tick was called.
func (s *Schedule) Calls() int {
	return s.calls
}
// #endregion schedule
