package model

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/abstract-rmax/internal/abstract"
)

// #region errors
// ErrUnobserved is returned when a statistic is queried for a
// (state, action[, next state]) that was never inserted.
var ErrUnobserved = errors.New("transition not observed")
// #endregion errors

// #region config
// Config holds the moving-average and R-max parameters of a Table.
type Config struct {
	Window     int     // moving-average length shared by every window (default 1000)
	Confidence int     // visit count at which empirical rewards are trusted (default 1)
	RMax       float64 // optimistic reward for insufficiently explored pairs (default 10)
}

// DefaultConfig returns the parameters the controller ships with.
func DefaultConfig() Config {
	return Config{
		Window:     1000,
		Confidence: 1,
		RMax:       10,
	}
}
// #endregion config

// #region keys
type saKey struct {
	s abstract.StateID
	a abstract.ActionID
}

type sasKey struct {
	s  abstract.StateID
	a  abstract.ActionID
	sp abstract.StateID
}
// #endregion keys

// #region table
// Table is the online empirical transition/reward model. Every statistic is a
// moving average over the last Config.Window observations.
type Table struct {
	cfg Config

	visits      map[saKey]int
	successors  map[saKey][]abstract.StateID
	valid       map[sasKey]struct{}
	transitions map[sasKey]*Window
	rewards     map[sasKey]*Window
	terminal    map[abstract.StateID]*Window

	states     []abstract.StateID
	stateSeen  map[abstract.StateID]struct{}
	actionSeen map[abstract.ActionID]struct{}
}

// NewTable validates cfg and returns an empty model.
func NewTable(cfg Config) (*Table, error) {
	if cfg.Window < 1 {
		return nil, fmt.Errorf("model window must be positive, got %d", cfg.Window)
	}
	if cfg.Confidence < 0 {
		return nil, fmt.Errorf("model confidence must be non-negative, got %d", cfg.Confidence)
	}
	return &Table{
		cfg:         cfg,
		visits:      make(map[saKey]int),
		successors:  make(map[saKey][]abstract.StateID),
		valid:       make(map[sasKey]struct{}),
		transitions: make(map[sasKey]*Window),
		rewards:     make(map[sasKey]*Window),
		terminal:    make(map[abstract.StateID]*Window),
		stateSeen:   make(map[abstract.StateID]struct{}),
		actionSeen:  make(map[abstract.ActionID]struct{}),
	}, nil
}

// Config returns the table parameters.
func (t *Table) Config() Config {
	return t.cfg
}
// #endregion table

// #region insert
// Insert records that action a taken in s led to sp with reward r.
//
// The visit count of a new (s, a) starts at 0, so after k insertions it
// reads k-1; the confidence threshold is compared against that count.
func (t *Table) Insert(s abstract.StateID, a abstract.ActionID, sp abstract.StateID, r float64, terminal bool) {
	if _, ok := t.stateSeen[s]; !ok {
		t.stateSeen[s] = struct{}{}
		t.states = append(t.states, s)
	}
	t.actionSeen[a] = struct{}{}

	sa := saKey{s, a}
	if _, ok := t.visits[sa]; ok {
		t.visits[sa]++
	} else {
		t.visits[sa] = 0
	}

	key := sasKey{s, a, sp}
	if _, ok := t.valid[key]; !ok {
		t.addSuccessor(sa, key)
	}

	tw, ok := t.terminal[sp]
	if !ok {
		tw = NewWindow(t.cfg.Window)
		t.terminal[sp] = tw
	}
	tw.Push(boolToFloat(terminal))

	for _, next := range t.successors[sa] {
		hit := 0.0
		if next == sp {
			hit = 1.0
		}
		t.transitions[sasKey{s, a, next}].Push(hit)
	}
	t.rewards[key].Push(r)
}

// addSuccessor registers a new successor of sa. The new transition window is
// back-filled with zeros to the length of its siblings so that every
// successor window of the pair covers the same samples.
func (t *Table) addSuccessor(sa saKey, key sasKey) {
	fill := 0
	if sibs := t.successors[sa]; len(sibs) > 0 {
		fill = t.transitions[sasKey{sa.s, sa.a, sibs[0]}].Len()
	}
	w := NewWindow(t.cfg.Window)
	for i := 0; i < fill; i++ {
		w.Push(0)
	}
	t.valid[key] = struct{}{}
	t.successors[sa] = append(t.successors[sa], key.sp)
	t.transitions[key] = w
	t.rewards[key] = NewWindow(t.cfg.Window)
}
// #endregion insert

// #region queries
// P returns the empirical probability that a in s leads to sp.
func (t *Table) P(s abstract.StateID, a abstract.ActionID, sp abstract.StateID) (float64, error) {
	w, ok := t.transitions[sasKey{s, a, sp}]
	if !ok {
		return 0, fmt.Errorf("p(%d, %d, %d): %w", s, a, sp, ErrUnobserved)
	}
	return w.Mean(), nil
}

// R returns the empirical mean reward of (s, a, sp) once (s, a) has reached
// the confidence threshold or when evaluating, and the R-max bonus otherwise.
func (t *Table) R(s abstract.StateID, a abstract.ActionID, sp abstract.StateID, evaluation bool) (float64, error) {
	count, ok := t.visits[saKey{s, a}]
	if !ok {
		return 0, fmt.Errorf("r(%d, %d, %d): %w", s, a, sp, ErrUnobserved)
	}
	w, ok := t.rewards[sasKey{s, a, sp}]
	if !ok {
		return 0, fmt.Errorf("r(%d, %d, %d): %w", s, a, sp, ErrUnobserved)
	}
	if count >= t.cfg.Confidence || evaluation {
		return w.Mean(), nil
	}
	return t.cfg.RMax, nil
}

// ProbTerminal returns the empirical chance that reaching sp ends the
// episode, 0 when sp was never reached.
func (t *Table) ProbTerminal(sp abstract.StateID) float64 {
	w, ok := t.terminal[sp]
	if !ok {
		return 0
	}
	return w.Mean()
}

// Successors returns the observed next states of (s, a) in discovery order.
func (t *Table) Successors(s abstract.StateID, a abstract.ActionID) []abstract.StateID {
	succ := t.successors[saKey{s, a}]
	out := make([]abstract.StateID, len(succ))
	copy(out, succ)
	return out
}

// HasSuccessor reports whether sp was ever observed after (s, a).
func (t *Table) HasSuccessor(s abstract.StateID, a abstract.ActionID, sp abstract.StateID) bool {
	_, ok := t.valid[sasKey{s, a, sp}]
	return ok
}

// Visits returns the recorded visit count of (s, a).
func (t *Table) Visits(s abstract.StateID, a abstract.ActionID) (int, bool) {
	n, ok := t.visits[saKey{s, a}]
	return n, ok
}

// States returns every state an insertion started from, in first-seen order.
func (t *Table) States() []abstract.StateID {
	out := make([]abstract.StateID, len(t.states))
	copy(out, t.states)
	return out
}

// NumActions returns how many distinct actions have been inserted.
func (t *Table) NumActions() int {
	return len(t.actionSeen)
}

// Len returns the number of distinct (s, a, sp) triples.
func (t *Table) Len() int {
	return len(t.valid)
}
// #endregion queries

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
