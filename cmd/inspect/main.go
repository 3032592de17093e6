package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/logrusorgru/aurora"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/abstract-rmax/internal/graph"
	"github.com/danielpatrickdp/abstract-rmax/internal/logging"
	"github.com/danielpatrickdp/abstract-rmax/internal/snapshot"
)

var au aurora.Aurora

// #region main

func main() {
	dbPath := flag.String("db", "", "path to abstract_rmax.db")
	last := flag.Int("last", 20, "show N most recent runs or snapshots")
	runID := flag.String("run", "", "show the snapshots and values of one run")
	snapID := flag.String("snapshot", "", "show single snapshot detail")
	edges := flag.Bool("edges", false, "with --run, list the abstract graph edges")
	from := flag.String("from", "", "with --edges, only edges leaving this state key")
	walk := flag.String("walk", "", "with --run, list states reachable from this state key")
	depth := flag.Int("depth", 3, "with --walk, maximum depth")
	events := flag.String("events", "", "with --run, list events of this kind (\"all\" for every kind)")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	noColor := flag.Bool("no-color", false, "disable colours")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/abstract_rmax.db [--last N] [--run id [--edges [--from key]] [--walk key] [--events kind]] [--snapshot id] [--json]")
		os.Exit(2)
	}
	au = aurora.NewAurora(!*noColor && !*jsonOut)

	store, err := snapshot.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch {
	case *snapID != "":
		err = runSnapshotMode(store, *snapID, *jsonOut)
	case *runID != "" && *edges:
		err = runEdgesMode(store.Graphs(), *runID, *from, *jsonOut)
	case *runID != "" && *walk != "":
		err = runWalkMode(store.Graphs(), *runID, *walk, *depth, *jsonOut)
	case *runID != "" && *events != "":
		err = runEventsMode(store, *runID, *events, *last, *jsonOut)
	case *runID != "":
		err = runRunMode(store, *runID, *last, *jsonOut)
	default:
		err = runListMode(store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type runRow struct {
	RunID       string `json:"run_id"`
	Description string `json:"description,omitempty"`
	Snapshots   int    `json:"snapshots"`
	CreatedAt   string `json:"created_at"`
}

func runListMode(store *snapshot.Store, last int, jsonOut bool) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]runRow, len(runs))
	for i, r := range runs {
		snaps, err := store.ListSnapshots(r.RunID, -1)
		if err != nil {
			return err
		}
		rows[len(runs)-1-i] = runRow{
			RunID:       r.RunID,
			Description: r.Description,
			Snapshots:   len(snaps),
			CreatedAt:   r.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}
	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-12s  %-20s  %9s  %s\n", "Run", "Description", "Snapshots", "Time")
	fmt.Printf("%-12s+-%-20s+-%9s+-%s\n", "------------", "--------------------", "---------", "--------------------")
	for _, r := range rows {
		fmt.Printf("%s  %-20s  %9d  %s\n", au.Cyan(fmt.Sprintf("%-12s", shortID(r.RunID))), r.Description, r.Snapshots, r.CreatedAt)
	}
	return nil
}

// #endregion list-mode

// #region run-mode

type snapshotRow struct {
	SnapshotID string           `json:"snapshot_id"`
	ParentID   string           `json:"parent_id,omitempty"`
	Step       int              `json:"step"`
	States     int              `json:"states"`
	Active     bool             `json:"active"`
	Metrics    snapshot.Metrics `json:"metrics"`
	CreatedAt  string           `json:"created_at"`
}

func runRunMode(store *snapshot.Store, runID string, last int, jsonOut bool) error {
	run, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	snaps, err := store.ListSnapshots(runID, last)
	if err != nil {
		return err
	}
	active, err := store.Active(runID)
	if err != nil && len(snaps) > 0 {
		return err
	}

	rows := make([]snapshotRow, len(snaps))
	for i, s := range snaps {
		rows[len(snaps)-1-i] = snapshotRow{
			SnapshotID: s.SnapshotID,
			ParentID:   s.ParentID,
			Step:       s.Step,
			States:     len(s.StateKeys),
			Active:     s.SnapshotID == active.SnapshotID,
			Metrics:    parseMetrics(s.MetricsJSON),
			CreatedAt:  s.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}
	if jsonOut {
		return printJSON(map[string]any{"run": run, "snapshots": rows})
	}

	fmt.Printf("Run:         %s\n", run.RunID)
	fmt.Printf("Description: %s\n", run.Description)
	fmt.Printf("Created:     %s\n\n", run.CreatedAt.Format("2006-01-02T15:04:05Z"))

	if len(rows) == 0 {
		fmt.Println("no snapshots")
		return nil
	}
	fmt.Printf("%-10s  %-10s  %8s  %6s  %8s  %10s  %s\n", "Snapshot", "Parent", "Step", "States", "Episodes", "Eval", "Time")
	fmt.Printf("%-10s+-%-10s+-%8s+-%6s+-%8s+-%10s+-%s\n", "----------", "----------", "--------", "------", "--------", "----------", "--------------------")
	for _, r := range rows {
		id := fmt.Sprintf("%-10s", shortID(r.SnapshotID))
		if r.Active {
			id = au.Green(id).Bold().String()
		}
		eval := "—"
		if r.Metrics.EvalReward != 0 || r.Metrics.Best {
			eval = fmt.Sprintf("%.4f", r.Metrics.EvalReward)
			if r.Metrics.Best {
				eval = au.Yellow(fmt.Sprintf("%10s", eval)).String()
			}
		}
		fmt.Printf("%s  %-10s  %8d  %6d  %8d  %10s  %s\n",
			id, shortID(r.ParentID), r.Step, r.States, r.Metrics.Episodes, eval, r.CreatedAt)
	}

	fmt.Printf("\nValues (active snapshot %s, step %d):\n", shortID(active.SnapshotID), active.Step)
	printValues(active)
	return nil
}

// #endregion run-mode

// #region snapshot-mode

type valueRow struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	EvalValue float64 `json:"eval_value"`
}

func runSnapshotMode(store *snapshot.Store, id string, jsonOut bool) error {
	s, err := store.GetSnapshot(id)
	if err != nil {
		return err
	}
	if jsonOut {
		values := make([]valueRow, len(s.StateKeys))
		for i, k := range s.StateKeys {
			values[i] = valueRow{Key: k, Value: s.Values[i], EvalValue: s.EvalValues[i]}
		}
		return printJSON(map[string]any{
			"snapshot_id": s.SnapshotID,
			"run_id":      s.RunID,
			"parent_id":   s.ParentID,
			"step":        s.Step,
			"metrics":     parseMetrics(s.MetricsJSON),
			"values":      values,
		})
	}

	m := parseMetrics(s.MetricsJSON)
	fmt.Printf("Snapshot: %s\n", s.SnapshotID)
	fmt.Printf("Run:      %s\n", s.RunID)
	fmt.Printf("Parent:   %s\n", s.ParentID)
	fmt.Printf("Step:     %d\n", s.Step)
	fmt.Printf("Episodes: %d\n", m.Episodes)
	fmt.Printf("Solves:   %d\n", m.Solves)
	fmt.Printf("Actions:  %d\n", m.Actions)
	if m.Best {
		fmt.Printf("Eval:     %s\n", au.Yellow(fmt.Sprintf("%.4f (best)", m.EvalReward)))
	} else {
		fmt.Printf("Eval:     %.4f\n", m.EvalReward)
	}
	fmt.Printf("\nValues:\n")
	printValues(s)
	return nil
}

func printValues(s snapshot.Snapshot) {
	fmt.Printf("  %-20s  %10s  %10s\n", "State", "Train", "Eval")
	for i, k := range s.StateKeys {
		eval := fmt.Sprintf("%10.4f", s.EvalValues[i])
		switch {
		case s.EvalValues[i] > 0:
			eval = au.Green(eval).String()
		case s.EvalValues[i] < 0:
			eval = au.Red(eval).String()
		}
		fmt.Printf("  %-20s  %10.4f  %s\n", k, s.Values[i], eval)
	}
}

// #endregion snapshot-mode

// #region graph-mode

func runEdgesMode(gs *graph.Store, runID, from string, jsonOut bool) error {
	edges, err := gs.Edges(runID, from)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(edges)
	}
	if len(edges) == 0 {
		fmt.Fprintln(os.Stderr, "no edges found")
		return nil
	}
	fmt.Printf("%6s  %-20s  %-8s  %s\n", "Action", "From", "Type", "To")
	for _, e := range edges {
		to := e.TargetKey
		kind := au.Blue(fmt.Sprintf("%-8s", e.EdgeType)).String()
		if e.EdgeType == graph.EdgeExplore {
			to = "*"
			kind = au.Magenta(fmt.Sprintf("%-8s", e.EdgeType)).String()
		}
		fmt.Printf("%6d  %-20s  %s  %s\n", e.ActionID, e.SourceKey, kind, to)
	}
	return nil
}

func runWalkMode(gs *graph.Store, runID, entry string, depth int, jsonOut bool) error {
	res, err := gs.Walk(runID, entry, depth)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(res)
	}
	for i, k := range res.Keys {
		fmt.Printf("%*s%s\n", 2*res.Depths[i], "", au.Cyan(k))
	}
	return nil
}

// #endregion graph-mode

// #region events-mode

func runEventsMode(store *snapshot.Store, runID, kind string, last int, jsonOut bool) error {
	if kind == "all" {
		kind = ""
	}
	evs, err := logging.ListEvents(store.DB(), runID, kind, 0)
	if err != nil {
		return err
	}
	if last > 0 && len(evs) > last {
		evs = evs[len(evs)-last:]
	}
	if jsonOut {
		return printJSON(evs)
	}
	for _, ev := range evs {
		fmt.Printf("%s  %-14s  %-24s  %s\n",
			ev.CreatedAt.Format("15:04:05.000"), au.Cyan(fmt.Sprintf("%-14s", ev.Kind)), ev.Subject, ev.DetailJSON)
	}
	return nil
}

// #endregion events-mode

// #region output

func parseMetrics(s string) snapshot.Metrics {
	var m snapshot.Metrics
	if s != "" {
		_ = json.Unmarshal([]byte(s), &m)
	}
	return m
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
