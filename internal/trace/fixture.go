package trace

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/abstract-rmax/internal/abstract"
	"github.com/danielpatrickdp/abstract-rmax/internal/learner"
	"github.com/danielpatrickdp/abstract-rmax/internal/model"
	"github.com/danielpatrickdp/abstract-rmax/internal/planner"
)

// #region fixture-types

// Fixture is the top-level JSON structure of a recorded run.
type Fixture struct {
	Description    string                 `json:"description"`
	Config         FixtureConfig          `json:"config"`
	States         []FixtureState         `json:"states"`
	Transitions    []learner.Transition   `json:"transitions"`
	ExpectedValues []FixtureExpectedValue `json:"expected_values,omitempty"`
}

// FixtureState is an abstract state in discovery order.
type FixtureState struct {
	Key    string    `json:"key"`
	Vector []float64 `json:"vector"`
}

// FixtureExpectedValue is the evaluation value of a state after replay.
type FixtureExpectedValue struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// FixtureConfig mirrors the model and planner parameters with JSON tags.
type FixtureConfig struct {
	Window        int     `json:"window"`
	Confidence    int     `json:"confidence"`
	RMax          float64 `json:"rmax"`
	Gamma         float64 `json:"gamma"`
	MaxIterations int     `json:"max_iterations"`
	Delta         float64 `json:"delta"`
	SolveEvery    int     `json:"solve_every"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Save writes f as indented JSON.
func (f *Fixture) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ToState converts a FixtureState to an abstract state.
func (fs *FixtureState) ToState() abstract.State {
	return abstract.NewState(fs.Key, fs.Vector)
}

// ToLearnerConfig converts a FixtureConfig to controller parameters. Fields
// the fixture does not carry keep their defaults.
func (fc *FixtureConfig) ToLearnerConfig() learner.Config {
	cfg := learner.DefaultConfig()
	cfg.Model = model.Config{Window: fc.Window, Confidence: fc.Confidence, RMax: fc.RMax}
	cfg.Planner = planner.Config{Gamma: fc.Gamma, MaxIterations: fc.MaxIterations, Delta: fc.Delta, RMax: fc.RMax}
	cfg.SolveEvery = fc.SolveEvery
	return cfg
}

// ConfigFromLearner captures the parameters a replay needs.
func ConfigFromLearner(cfg learner.Config) FixtureConfig {
	return FixtureConfig{
		Window:        cfg.Model.Window,
		Confidence:    cfg.Model.Confidence,
		RMax:          cfg.Model.RMax,
		Gamma:         cfg.Planner.Gamma,
		MaxIterations: cfg.Planner.MaxIterations,
		Delta:         cfg.Planner.Delta,
		SolveEvery:    cfg.SolveEvery,
	}
}

// #endregion fixture-loader

// #region recorder

// Recorder builds a Fixture while a learner runs. Install it with both
// learner.WithRecorder and learner.WithObserver.
type Recorder struct {
	fixture Fixture
}

// NewRecorder starts an empty fixture for a run with cfg.
func NewRecorder(description string, cfg learner.Config) *Recorder {
	return &Recorder{fixture: Fixture{
		Description: description,
		Config:      ConfigFromLearner(cfg),
	}}
}

// Record appends an inserted transition.
func (r *Recorder) Record(t learner.Transition) {
	r.fixture.Transitions = append(r.fixture.Transitions, t)
}

// StateCreated appends a discovered state.
func (r *Recorder) StateCreated(_ abstract.StateID, s abstract.State) {
	r.fixture.States = append(r.fixture.States, FixtureState{Key: s.Key(), Vector: s.Vector()})
}

// ActionAdded is a no-op: actions are rebuilt from the transitions.
func (r *Recorder) ActionAdded(abstract.Action) {}

// Solved is a no-op.
func (r *Recorder) Solved(learner.SolveReport) {}

// Fixture returns the recording so far.
func (r *Recorder) Fixture() *Fixture {
	f := r.fixture
	return &f
}

// #endregion recorder
