package logging

import "time"

// Event kinds written to event_log.
const (
	KindRun        = "run"
	KindState      = "state_created"
	KindAction     = "action_added"
	KindSolve      = "values_solved"
	KindEpisode    = "episode"
	KindEvaluation = "evaluation"
	KindSnapshot   = "snapshot"
)

// Event is one row of the event log.
type Event struct {
	ID         int64
	RunID      string
	Kind       string
	Subject    string
	DetailJSON string
	CreatedAt  time.Time
}
