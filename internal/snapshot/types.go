package snapshot

import (
	"time"

	"github.com/danielpatrickdp/abstract-rmax/internal/abstract"
	"github.com/danielpatrickdp/abstract-rmax/internal/learner"
	"github.com/danielpatrickdp/abstract-rmax/internal/planner"
)

// #region types
// Run is one training run.
type Run struct {
	RunID       string
	Description string
	ConfigJSON  string
	CreatedAt   time.Time
}

// Snapshot is the planner output of a run at one point of training.
// Values and EvalValues are indexed by state handle; StateKeys names them.
type Snapshot struct {
	SnapshotID  string
	RunID       string
	ParentID    string
	Step        int
	StateKeys   []string
	Values      []float64
	EvalValues  []float64
	MetricsJSON string
	CreatedAt   time.Time
}

// Metrics summarises training progress when a snapshot is taken.
type Metrics struct {
	Episodes   int     `json:"episodes"`
	Solves     int     `json:"solves"`
	Actions    int     `json:"actions"`
	EvalReward float64 `json:"eval_reward,omitempty"`
	Best       bool    `json:"best,omitempty"`
}
// #endregion types

// #region from-core
// FromCore captures the graph keys and both value tables of c.
func FromCore(runID string, step int, c *learner.Core) Snapshot {
	ids := c.Graph().StateIDs()
	snap := Snapshot{
		RunID:      runID,
		Step:       step,
		StateKeys:  make([]string, len(ids)),
		Values:     make([]float64, len(ids)),
		EvalValues: make([]float64, len(ids)),
	}
	train, eval := c.Values(), c.EvalValues()
	for i, id := range ids {
		s, _ := c.Graph().State(id)
		snap.StateKeys[i] = s.Key()
		snap.Values[i] = train[id]
		snap.EvalValues[i] = eval[id]
	}
	return snap
}

// Tables returns the value tables keyed by state handle.
func (s Snapshot) Tables() (train, eval planner.Values) {
	train = make(planner.Values, len(s.Values))
	eval = make(planner.Values, len(s.EvalValues))
	for i, v := range s.Values {
		train[abstract.StateID(i)] = v
	}
	for i, v := range s.EvalValues {
		eval[abstract.StateID(i)] = v
	}
	return train, eval
}

// ValueOf returns the training and evaluation value of the state with key.
func (s Snapshot) ValueOf(key string) (train, eval float64, ok bool) {
	for i, k := range s.StateKeys {
		if k == key {
			return s.Values[i], s.EvalValues[i], true
		}
	}
	return 0, 0, false
}
// #endregion from-core
