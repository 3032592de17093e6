package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/abstract-rmax/internal/abstract"
	"github.com/danielpatrickdp/abstract-rmax/internal/learner"
)

// #region log-event
// LogEvent writes an event to the event_log table.
func LogEvent(db *sql.DB, ev Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO event_log (run_id, kind, subject, detail_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.RunID,
		ev.Kind,
		nullIfEmpty(ev.Subject),
		nullIfEmpty(ev.DetailJSON),
		ev.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// LogDetail marshals detail to JSON and writes the event.
func LogDetail(db *sql.DB, runID, kind, subject string, detail any) error {
	ev := Event{RunID: runID, Kind: kind, Subject: subject}
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("marshal %s detail: %w", kind, err)
		}
		ev.DetailJSON = string(b)
	}
	return LogEvent(db, ev)
}
// #endregion log-event

// #region list-events
// ListEvents returns the events of a run, oldest first. An empty kind
// matches every kind; limit <= 0 means no limit.
func ListEvents(db *sql.DB, runID, kind string, limit int) ([]Event, error) {
	q := `SELECT id, run_id, kind, COALESCE(subject, ''), COALESCE(detail_json, ''), created_at
	      FROM event_log WHERE run_id = ?`
	args := []any{runID}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var created string
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Kind, &ev.Subject, &ev.DetailJSON, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, ev)
	}
	return out, rows.Err()
}
// #endregion list-events

// #region observer
// Observer writes graph growth and solve events of one run. Write failures
// are logged and otherwise ignored so the learner keeps running.
type Observer struct {
	db    *sql.DB
	runID string
	log   logrus.FieldLogger
}

// NewObserver returns a learner.Observer bound to runID.
func NewObserver(db *sql.DB, runID string, log logrus.FieldLogger) *Observer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Observer{db: db, runID: runID, log: log}
}

func (o *Observer) write(kind, subject string, detail any) {
	if err := LogDetail(o.db, o.runID, kind, subject, detail); err != nil {
		o.log.WithError(err).WithField("kind", kind).Warn("event not written")
	}
}

// StateCreated records a new abstract state.
func (o *Observer) StateCreated(id abstract.StateID, s abstract.State) {
	o.write(KindState, s.Key(), map[string]any{"id": int(id), "vector": s.Vector()})
}

// ActionAdded records a new abstract action.
func (o *Observer) ActionAdded(a abstract.Action) {
	o.write(KindAction, a.String(), map[string]any{
		"id":      int(a.ID),
		"initial": a.InitialKey,
		"goal":    a.GoalKey,
		"explore": a.IsExplore(),
	})
}

// Solved records one re-solve of both value tables.
func (o *Observer) Solved(r learner.SolveReport) {
	o.write(KindSolve, "", r)
}
// #endregion observer

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
