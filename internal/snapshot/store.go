// Package snapshot persists training runs and the value tables the planner
// produced along the way.
package snapshot

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/abstract-rmax/internal/graph"
)

// ErrNoSnapshot is returned when a run has no active snapshot yet.
var ErrNoSnapshot = errors.New("no snapshot")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	description   TEXT,
	config_json   TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS plan_snapshots (
	snapshot_id   TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	parent_id     TEXT,
	step          INTEGER NOT NULL,
	state_keys    TEXT NOT NULL,
	train_values  BLOB,
	eval_values   BLOB,
	metrics_json  TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id),
	FOREIGN KEY (parent_id) REFERENCES plan_snapshots(snapshot_id)
);
CREATE INDEX IF NOT EXISTS idx_plan_snapshots_run ON plan_snapshots(run_id, step);

CREATE TABLE IF NOT EXISTS event_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	kind          TEXT NOT NULL,
	subject       TEXT,
	detail_json   TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS active_snapshot (
	run_id        TEXT PRIMARY KEY,
	snapshot_id   TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id),
	FOREIGN KEY (snapshot_id) REFERENCES plan_snapshots(snapshot_id)
);
`
// #endregion schema

// #region store-struct
// Store manages runs and plan snapshots in SQLite. The abstract graph of
// each run lives in the same database through Graphs.
type Store struct {
	db     *sql.DB
	graphs *graph.Store
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	graphs, err := graph.NewStore(db)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, graphs: graphs}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for the event log.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Graphs returns the abstract graph store sharing this database.
func (s *Store) Graphs() *graph.Store {
	return s.graphs
}
// #endregion constructor

// #region runs
// CreateRun registers a new run with its configuration serialised as JSON.
func (s *Store) CreateRun(description string, cfg any) (Run, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return Run{}, fmt.Errorf("marshal config: %w", err)
	}
	run := Run{
		RunID:       uuid.New().String(),
		Description: description,
		ConfigJSON:  string(cfgJSON),
		CreatedAt:   time.Now().UTC(),
	}
	_, err = s.db.Exec(
		`INSERT INTO runs (run_id, description, config_json, created_at) VALUES (?, ?, ?, ?)`,
		run.RunID, nullIfEmpty(description), run.ConfigJSON, run.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (Run, error) {
	var run Run
	var desc sql.NullString
	var createdStr string
	err := s.db.QueryRow(
		`SELECT run_id, description, config_json, created_at FROM runs WHERE run_id = ?`, id,
	).Scan(&run.RunID, &desc, &run.ConfigJSON, &createdStr)
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	run.Description = desc.String
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return run, nil
}

// ListRuns returns the most recent runs.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT run_id, description, config_json, created_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var desc sql.NullString
		var createdStr string
		if err := rows.Scan(&run.RunID, &desc, &run.ConfigJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Description = desc.String
		run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
// #endregion runs

// #region commit-snapshot
// CommitSnapshot inserts snap and makes it the active snapshot of its run.
// Missing IDs and timestamps are filled in; an empty ParentID links to the
// currently active snapshot. The stored snapshot is returned.
func (s *Store) CommitSnapshot(snap Snapshot) (Snapshot, error) {
	if len(snap.Values) != len(snap.StateKeys) || len(snap.EvalValues) != len(snap.StateKeys) {
		return Snapshot{}, fmt.Errorf("commit snapshot: %d keys, %d values, %d eval values",
			len(snap.StateKeys), len(snap.Values), len(snap.EvalValues))
	}
	if snap.SnapshotID == "" {
		snap.SnapshotID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	keysJSON, err := json.Marshal(snap.StateKeys)
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal state keys: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Snapshot{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if snap.ParentID == "" {
		var active string
		err := tx.QueryRow(`SELECT snapshot_id FROM active_snapshot WHERE run_id = ?`, snap.RunID).Scan(&active)
		switch {
		case err == nil:
			snap.ParentID = active
		case !errors.Is(err, sql.ErrNoRows):
			return Snapshot{}, fmt.Errorf("get active: %w", err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO plan_snapshots (snapshot_id, run_id, parent_id, step, state_keys, train_values, eval_values, metrics_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SnapshotID, snap.RunID, nullIfEmpty(snap.ParentID), snap.Step, string(keysJSON),
		encodeValues(snap.Values), encodeValues(snap.EvalValues),
		nullIfEmpty(snap.MetricsJSON), snap.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_snapshot (run_id, snapshot_id) VALUES (?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET snapshot_id = excluded.snapshot_id`,
		snap.RunID, snap.SnapshotID,
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("commit: %w", err)
	}
	return snap, nil
}
// #endregion commit-snapshot

// #region get-snapshot
// Active reads the active snapshot of a run.
func (s *Store) Active(runID string) (Snapshot, error) {
	var id string
	err := s.db.QueryRow(`SELECT snapshot_id FROM active_snapshot WHERE run_id = ?`, runID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("run %s: %w", runID, ErrNoSnapshot)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetSnapshot(id)
}

// GetSnapshot retrieves a snapshot by ID.
func (s *Store) GetSnapshot(id string) (Snapshot, error) {
	row := s.db.QueryRow(
		`SELECT snapshot_id, run_id, parent_id, step, state_keys, train_values, eval_values, metrics_json, created_at
		 FROM plan_snapshots WHERE snapshot_id = ?`, id,
	)
	snap, err := scanSnapshot(row)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return snap, nil
}

// ListSnapshots returns the snapshots of a run, latest step first.
func (s *Store) ListSnapshots(runID string, limit int) ([]Snapshot, error) {
	rows, err := s.db.Query(
		`SELECT snapshot_id, run_id, parent_id, step, state_keys, train_values, eval_values, metrics_json, created_at
		 FROM plan_snapshots WHERE run_id = ? ORDER BY step DESC, created_at DESC LIMIT ?`, runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(sc scanner) (Snapshot, error) {
	var snap Snapshot
	var parentID, metricsJSON sql.NullString
	var keysJSON, createdStr string
	var trainBlob, evalBlob []byte

	err := sc.Scan(&snap.SnapshotID, &snap.RunID, &parentID, &snap.Step, &keysJSON,
		&trainBlob, &evalBlob, &metricsJSON, &createdStr)
	if err != nil {
		return Snapshot{}, err
	}
	if err := json.Unmarshal([]byte(keysJSON), &snap.StateKeys); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal state keys: %w", err)
	}
	snap.ParentID = parentID.String
	snap.MetricsJSON = metricsJSON.String
	snap.Values = decodeValues(trainBlob)
	snap.EvalValues = decodeValues(evalBlob)
	snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return snap, nil
}
// #endregion get-snapshot

// #region rollback
// Rollback sets the active pointer of a run to one of its snapshots. The
// next commit branches from it.
func (s *Store) Rollback(runID, snapshotID string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM plan_snapshots WHERE snapshot_id = ? AND run_id = ?`, snapshotID, runID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check snapshot: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("snapshot %s not found in run %s", snapshotID, runID)
	}

	_, err = s.db.Exec(`UPDATE active_snapshot SET snapshot_id = ? WHERE run_id = ?`, snapshotID, runID)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
// #endregion rollback

// #region value-encoding
func encodeValues(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeValues(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion value-encoding
