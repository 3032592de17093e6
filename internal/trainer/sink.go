package trainer

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/danielpatrickdp/abstract-rmax/internal/learner"
	"github.com/danielpatrickdp/abstract-rmax/internal/logging"
	"github.com/danielpatrickdp/abstract-rmax/internal/snapshot"
)

// #region store-sink
// StoreSink persists a run: every episode and evaluation goes to the event
// log, and every evaluation commits a plan snapshot plus the graph.
type StoreSink struct {
	store    *snapshot.Store
	runID    string
	core     *learner.Core
	episodes int
	bestID   string
}

// NewStoreSink returns a sink writing to store under runID.
func NewStoreSink(store *snapshot.Store, runID string, core *learner.Core) *StoreSink {
	return &StoreSink{store: store, runID: runID, core: core}
}

// Episode logs one learning episode.
func (s *StoreSink) Episode(row EpisodeRow) error {
	s.episodes = row.Episode
	return logging.LogDetail(s.store.DB(), s.runID, logging.KindEpisode, strconv.Itoa(row.Episode), row)
}

// Evaluation logs the evaluation and commits a snapshot of the planner.
func (s *StoreSink) Evaluation(row EvalRow) error {
	if err := logging.LogDetail(s.store.DB(), s.runID, logging.KindEvaluation, strconv.Itoa(row.Step), row); err != nil {
		return err
	}
	_, err := s.Commit(row.Step, snapshot.Metrics{
		Episodes:   s.episodes,
		Solves:     s.core.Solves(),
		Actions:    s.core.Graph().NumActions(),
		EvalReward: row.MeanReward,
		Best:       row.Best,
	})
	return err
}

// Commit saves the graph and a snapshot of both value tables at step.
func (s *StoreSink) Commit(step int, m snapshot.Metrics) (snapshot.Snapshot, error) {
	if err := s.store.Graphs().SaveGraph(s.runID, s.core.Graph()); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("save graph: %w", err)
	}
	snap := snapshot.FromCore(s.runID, step, s.core)
	metrics, err := json.Marshal(m)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("marshal metrics: %w", err)
	}
	snap.MetricsJSON = string(metrics)
	snap, err = s.store.CommitSnapshot(snap)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	if m.Best {
		s.bestID = snap.SnapshotID
	}
	if err := logging.LogDetail(s.store.DB(), s.runID, logging.KindSnapshot, snap.SnapshotID, m); err != nil {
		return snapshot.Snapshot{}, err
	}
	return snap, nil
}

// Finish commits a final snapshot at step, then points the run's active
// snapshot at the best evaluation, if any.
func (s *StoreSink) Finish(step int) error {
	if _, err := s.Commit(step, snapshot.Metrics{
		Episodes: s.episodes,
		Solves:   s.core.Solves(),
		Actions:  s.core.Graph().NumActions(),
	}); err != nil {
		return err
	}
	if s.bestID == "" {
		return nil
	}
	return s.store.Rollback(s.runID, s.bestID)
}

// BestSnapshotID returns the snapshot committed at the best evaluation.
func (s *StoreSink) BestSnapshotID() string {
	return s.bestID
}
// #endregion store-sink
