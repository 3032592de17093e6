package graph

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS abstract_states (
    run_id      TEXT NOT NULL,
    state_id    INTEGER NOT NULL,
    state_key   TEXT NOT NULL,
    vector      BLOB,
    created_at  TEXT NOT NULL,
    PRIMARY KEY (run_id, state_id)
);

CREATE TABLE IF NOT EXISTS abstract_edges (
    run_id      TEXT NOT NULL,
    action_id   INTEGER NOT NULL,
    source_id   INTEGER NOT NULL,
    target_id   INTEGER,
    edge_type   TEXT NOT NULL,
    created_at  TEXT NOT NULL,
    PRIMARY KEY (run_id, action_id)
);
CREATE INDEX IF NOT EXISTS idx_abstract_edges_source ON abstract_edges(run_id, source_id);
`

// Edge types stored in abstract_edges.
const (
	EdgeExplore = "explore"
	EdgeGoal    = "goal"
)
// #endregion schema

// #region types
// Edge is a persisted abstract action.
type Edge struct {
	ActionID  int
	SourceID  int
	TargetID  int // -1 for explore
	SourceKey string
	TargetKey string
	EdgeType  string
}

// StateRow is a persisted abstract state.
type StateRow struct {
	ID        int
	Key       string
	Vector    []float64
	CreatedAt time.Time
}

// WalkResult holds the states reachable from an entry state, in BFS order.
type WalkResult struct {
	Keys   []string
	Depths []int
}

// Store persists discovered graphs so runs can be inspected offline.
type Store struct {
	db *sql.DB
}
// #endregion types

// #region constructor
// NewStore creates tables and returns a Store.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("graph schema: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// #region save
// SaveGraph writes every state and action of g under runID. Rows that are
// already stored are left untouched, so repeated saves only add new growth.
func (st *Store) SaveGraph(runID string, g *Graph) error {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := st.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i, s := range g.states {
		_, err := tx.Exec(
			`INSERT OR IGNORE INTO abstract_states (run_id, state_id, state_key, vector, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			runID, i, s.Key(), encodeVector(s.Vector()), now,
		)
		if err != nil {
			return fmt.Errorf("insert state %s: %w", s, err)
		}
	}

	for _, a := range g.actions {
		var target interface{}
		edgeType := EdgeExplore
		if !a.IsExplore() {
			target = int(a.Goal)
			edgeType = EdgeGoal
		}
		_, err := tx.Exec(
			`INSERT OR IGNORE INTO abstract_edges (run_id, action_id, source_id, target_id, edge_type, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			runID, int(a.ID), int(a.Initial), target, edgeType, now,
		)
		if err != nil {
			return fmt.Errorf("insert edge %s: %w", a, err)
		}
	}

	return tx.Commit()
}
// #endregion save

// #region read
// States returns the stored states of a run ordered by handle.
func (st *Store) States(runID string) ([]StateRow, error) {
	rows, err := st.db.Query(
		`SELECT state_id, state_key, vector, created_at FROM abstract_states
		 WHERE run_id = ? ORDER BY state_id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	var out []StateRow
	for rows.Next() {
		var r StateRow
		var blob []byte
		var created string
		if err := rows.Scan(&r.ID, &r.Key, &blob, &created); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		r.Vector = decodeVector(blob)
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Edges returns the stored actions of a run ordered by handle. When
// sourceKey is non-empty only actions leaving that state are returned.
func (st *Store) Edges(runID, sourceKey string) ([]Edge, error) {
	query := `SELECT e.action_id, e.source_id, COALESCE(e.target_id, -1), e.edge_type,
		        s.state_key, COALESCE(t.state_key, '')
		 FROM abstract_edges e
		 JOIN abstract_states s ON s.run_id = e.run_id AND s.state_id = e.source_id
		 LEFT JOIN abstract_states t ON t.run_id = e.run_id AND t.state_id = e.target_id
		 WHERE e.run_id = ?`
	args := []interface{}{runID}
	if sourceKey != "" {
		query += ` AND s.state_key = ?`
		args = append(args, sourceKey)
	}
	query += ` ORDER BY e.action_id`

	rows, err := st.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ActionID, &e.SourceID, &e.TargetID, &e.EdgeType, &e.SourceKey, &e.TargetKey); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
// #endregion read

// #region walk
// Walk performs a BFS over goal edges from entryKey, up to maxDepth hops.
func (st *Store) Walk(runID, entryKey string, maxDepth int) (WalkResult, error) {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	result := WalkResult{Keys: []string{entryKey}, Depths: []int{0}}
	visited := map[string]bool{entryKey: true}

	type queueItem struct {
		key   string
		depth int
	}
	queue := []queueItem{{entryKey, 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxDepth {
			continue
		}

		edges, err := st.Edges(runID, current.key)
		if err != nil {
			return result, fmt.Errorf("walk edges: %w", err)
		}
		for _, e := range edges {
			if e.EdgeType != EdgeGoal || visited[e.TargetKey] {
				continue
			}
			visited[e.TargetKey] = true
			result.Keys = append(result.Keys, e.TargetKey)
			result.Depths = append(result.Depths, current.depth+1)
			queue = append(queue, queueItem{e.TargetKey, current.depth + 1})
		}
	}
	return result, nil
}
// #endregion walk

// #region vector-encoding
func encodeVector(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}
// #endregion vector-encoding
