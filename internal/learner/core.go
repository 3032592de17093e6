package learner

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/abstract-rmax/internal/abstract"
	"github.com/danielpatrickdp/abstract-rmax/internal/graph"
	"github.com/danielpatrickdp/abstract-rmax/internal/model"
	"github.com/danielpatrickdp/abstract-rmax/internal/planner"
	"github.com/danielpatrickdp/abstract-rmax/internal/selector"
)

// #region config
// Config bundles the parameters of the level-1 controller.
type Config struct {
	Model           model.Config
	Planner         planner.Config
	SolveEvery      int     // re-solve cadence in option executions (default 10)
	Temperature     float64 // softmax temperature of the training selector (default 1)
	Seed            uint64  // selector seed
	MaxOptionSteps  int     // primitive step cap per abstract action (default 1000)
	MaxEpisodeSteps int     // primitive step cap per learning episode, 0 = none
}

// DefaultConfig returns the parameters the controller ships with. The model
// and planner share the same R-max constant.
func DefaultConfig() Config {
	return Config{
		Model:          model.DefaultConfig(),
		Planner:        planner.DefaultConfig(),
		SolveEvery:     10,
		Temperature:    1,
		Seed:           1,
		MaxOptionSteps: 1000,
	}
}
// #endregion config

// #region hooks
// Transition is one abstract step expressed by state keys, as recorded for
// offline replay. Goal is empty for the explore action.
type Transition struct {
	From     string  `json:"from"`
	Goal     string  `json:"goal,omitempty"`
	To       string  `json:"to"`
	Reward   float64 `json:"reward"`
	Terminal bool    `json:"terminal"`
}

// Recorder receives every transition inserted into the model.
type Recorder interface {
	Record(Transition)
}

// SolveReport describes one scheduled re-solve.
type SolveReport struct {
	Train      planner.Stats
	Evaluation planner.Stats
	States     int
	Actions    int
}

// Observer is notified when the abstract graph grows or values are re-solved.
type Observer interface {
	StateCreated(id abstract.StateID, s abstract.State)
	ActionAdded(a abstract.Action)
	Solved(r SolveReport)
}

// Option customises a Core or Learner.
type Option func(*Core)

// WithLogger sets the logger used for discovery and solve messages.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Core) { c.log = log }
}

// WithRecorder records every inserted transition.
func WithRecorder(r Recorder) Option {
	return func(c *Core) { c.recorder = r }
}

// WithObserver reports graph growth and re-solves. Repeated options add
// observers, notified in installation order.
func WithObserver(o Observer) Option {
	return func(c *Core) { c.observers = append(c.observers, o) }
}
// #endregion hooks

// #region core
// Core owns the abstract graph, the transition model and both value tables.
// It is single-threaded: callers must not use it concurrently.
type Core struct {
	cfg      Config
	graph    *graph.Graph
	model    *model.Table
	planner  *planner.Planner
	selector *selector.Selector
	schedule planner.Schedule

	values     planner.Values // training values (optimistic fallback)
	evalValues planner.Values // evaluation values (zero fallback)
	solves     int

	log       logrus.FieldLogger
	recorder  Recorder
	observers []Observer
}

// NewCore returns an empty controller state.
func NewCore(cfg Config, opts ...Option) (*Core, error) {
	tbl, err := model.NewTable(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("new model: %w", err)
	}
	g := graph.New()
	c := &Core{
		cfg:        cfg,
		graph:      g,
		model:      tbl,
		planner:    planner.New(g, tbl, cfg.Planner),
		selector:   selector.New(cfg.Seed, cfg.Temperature),
		schedule:   planner.Schedule{Every: cfg.SolveEvery},
		values:     planner.Values{},
		evalValues: planner.Values{},
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}
// #endregion core

// #region growth
// CreateState adds s to the graph with its explore action and zero values in
// both tables.
func (c *Core) CreateState(s abstract.State) (abstract.StateID, error) {
	id, err := c.graph.CreateState(s)
	if err != nil {
		return 0, err
	}
	c.values[id] = 0
	c.evalValues[id] = 0
	c.log.WithFields(logrus.Fields{"state": s.Key(), "id": id}).Info("found new state")
	for _, o := range c.observers {
		o.StateCreated(id, s)
	}
	return id, nil
}

// AddAction adds an s -> goal action. goal must not already be a neighbor of s.
func (c *Core) AddAction(s, goal abstract.StateID) (abstract.Action, error) {
	a, err := c.graph.AddAction(s, goal)
	if err != nil {
		return abstract.Action{}, err
	}
	c.log.WithFields(logrus.Fields{"action": a.String(), "id": a.ID}).Info("found new action")
	for _, o := range c.observers {
		o.ActionAdded(a)
	}
	return a, nil
}

// Ensure returns the handle of s, creating the state first if it was never
// seen. The second result reports whether it was created.
func (c *Core) Ensure(s abstract.State) (abstract.StateID, bool, error) {
	if id, ok := c.graph.Lookup(s.Key()); ok {
		return id, false, nil
	}
	id, err := c.CreateState(s)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Insert records an abstract transition in the model. Both endpoints must
// already be known.
func (c *Core) Insert(s abstract.StateID, a abstract.Action, sp abstract.StateID, r float64, terminal bool) error {
	if a.Initial != s {
		return fmt.Errorf("insert: action %s does not start at state %d", a, s)
	}
	from, err := c.graph.State(s)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	to, err := c.graph.State(sp)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	c.model.Insert(s, a.ID, sp, r, terminal)
	if c.recorder != nil {
		c.recorder.Record(Transition{
			From:     from.Key(),
			Goal:     a.GoalKey,
			To:       to.Key(),
			Reward:   r,
			Terminal: terminal,
		})
	}
	return nil
}

// Observe applies the outcome of executing a from s: it grows the graph when
// next is new or not yet a neighbor, inserts the transition, and re-solves
// on the configured cadence. It returns the handle of next.
func (c *Core) Observe(s abstract.StateID, a abstract.Action, next abstract.State, r float64, terminal bool) (abstract.StateID, error) {
	sp, _, err := c.Ensure(next)
	if err != nil {
		return 0, fmt.Errorf("observe: %w", err)
	}
	if sp != s && !c.graph.HasNeighbor(s, sp) {
		if _, err := c.AddAction(s, sp); err != nil {
			return 0, fmt.Errorf("observe: %w", err)
		}
	}
	if err := c.Insert(s, a, sp, r, terminal); err != nil {
		return 0, err
	}
	if c.schedule.Tick() {
		if err := c.Solve(); err != nil {
			return 0, err
		}
	}
	return sp, nil
}
// #endregion growth

// #region planning
// Solve re-runs value iteration for the training and evaluation tables.
func (c *Core) Solve() error {
	values, trainStats, err := c.planner.Solve(c.values, false)
	if err != nil {
		return fmt.Errorf("solve training values: %w", err)
	}
	evalValues, evalStats, err := c.planner.Solve(c.evalValues, true)
	if err != nil {
		return fmt.Errorf("solve evaluation values: %w", err)
	}
	c.values = values
	c.evalValues = evalValues
	c.solves++

	report := SolveReport{
		Train:      trainStats,
		Evaluation: evalStats,
		States:     c.graph.Len(),
		Actions:    c.graph.NumActions(),
	}
	c.log.WithFields(logrus.Fields{
		"states":     report.States,
		"actions":    report.Actions,
		"iterations": trainStats.Iterations,
		"converged":  trainStats.Converged,
		"executions": c.schedule.Calls(),
	}).Debug("values re-solved")
	for _, o := range c.observers {
		o.Solved(report)
	}
	return nil
}

// QValues returns the Q-value of every action at s against the training or
// evaluation table.
func (c *Core) QValues(s abstract.StateID, evaluation bool) ([]float64, error) {
	values := c.values
	if evaluation {
		values = c.evalValues
	}
	return c.planner.QValues(s, values, evaluation)
}

// SelectOption chooses the abstract action to execute at s: greedy with
// random tie-breaking when evaluating, softmax otherwise.
func (c *Core) SelectOption(s abstract.StateID, evaluation bool) (abstract.Action, error) {
	qs, err := c.QValues(s, evaluation)
	if err != nil {
		return abstract.Action{}, err
	}
	idx, err := c.selector.Select(qs, evaluation)
	if err != nil {
		return abstract.Action{}, fmt.Errorf("select option at %d: %w", s, err)
	}
	return c.graph.Actions(s)[idx], nil
}
// #endregion planning

// #region accessors
// Graph returns the abstract graph. Callers must treat it as read-only.
func (c *Core) Graph() *graph.Graph {
	return c.graph
}

// Model returns the transition model. Callers must treat it as read-only.
func (c *Core) Model() *model.Table {
	return c.model
}

// Values returns a copy of the training value table.
func (c *Core) Values() planner.Values {
	return c.values.Clone()
}

// EvalValues returns a copy of the evaluation value table.
func (c *Core) EvalValues() planner.Values {
	return c.evalValues.Clone()
}

// Config returns the controller parameters.
func (c *Core) Config() Config {
	return c.cfg
}

// Solves returns how many times both value tables have been re-solved.
func (c *Core) Solves() int {
	return c.solves
}
// #endregion accessors
