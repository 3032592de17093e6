package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/abstract-rmax/internal/learner"
	"github.com/danielpatrickdp/abstract-rmax/internal/snapshot"
	"github.com/danielpatrickdp/abstract-rmax/internal/trace"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to a recorded trace JSON")
	dbPath := flag.String("db", "", "compare against a stored snapshot instead of the fixture's expected values")
	snapID := flag.String("snapshot", "", "with --db, the snapshot to compare against (default: active snapshot of --run)")
	runID := flag.String("run", "", "with --db, the run whose active snapshot is compared")
	tolerance := flag.Float64("tolerance", 1e-6, "maximum absolute difference counted as a match")
	jsonOut := flag.Bool("json", false, "print the replay summary as JSON")
	verbose := flag.Bool("v", false, "log discovery and solves while replaying")
	flag.Parse()

	if *fixturePath == "" || (*dbPath != "" && *snapID == "" && *runID == "") {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/trace.json [--tolerance x] [--json]")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/trace.json --db path/to/abstract_rmax.db (--run id | --snapshot id)")
		os.Exit(2)
	}

	f, err := trace.LoadFixture(*fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		os.Exit(2)
	}

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	core, results, err := trace.Replay(f, learner.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(2)
	}
	summary := trace.Summarize(core, results, f)

	if *jsonOut {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal json: %v\n", err)
			os.Exit(2)
		}
		fmt.Println(string(data))
	} else {
		printSummary(f, summary)
	}

	var expected []trace.KeyValue
	if *dbPath != "" {
		expected, err = snapshotValues(*dbPath, *runID, *snapID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load snapshot: %v\n", err)
			os.Exit(2)
		}
	} else {
		for _, e := range f.ExpectedValues {
			expected = append(expected, trace.KeyValue{Key: e.Key, Value: e.Value})
		}
	}
	if len(expected) == 0 {
		os.Exit(0)
	}
	os.Exit(printComparison(expected, summary.EvalValues, *tolerance))
}

// #endregion main

// #region snapshot-source

func snapshotValues(dbPath, runID, snapID string) ([]trace.KeyValue, error) {
	store, err := snapshot.NewStore(dbPath)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	var snap snapshot.Snapshot
	if snapID != "" {
		snap, err = store.GetSnapshot(snapID)
	} else {
		snap, err = store.Active(runID)
	}
	if err != nil {
		return nil, err
	}
	out := make([]trace.KeyValue, len(snap.StateKeys))
	for i, k := range snap.StateKeys {
		out[i] = trace.KeyValue{Key: k, Value: snap.EvalValues[i]}
	}
	return out, nil
}

// #endregion snapshot-source

// #region output

func printSummary(f *trace.Fixture, s trace.ReplaySummary) {
	if f.Description != "" {
		fmt.Printf("Fixture:     %s\n", f.Description)
	}
	fmt.Printf("Transitions: %d (%d explore, %d terminal)\n", s.Transitions, s.Explores, s.Terminals)
	fmt.Printf("States:      %d\n", s.States)
	fmt.Printf("Actions:     %d\n\n", s.Actions)

	fmt.Printf("%-20s  %10s  %10s\n", "State", "Train", "Eval")
	for _, kv := range trace.Sorted(s.Values) {
		fmt.Printf("%-20s  %10.4f  %10.4f\n", kv.Key, kv.Value, s.EvalValues[kv.Key])
	}
	fmt.Println()
}

// printComparison outputs a comparison table of evaluation values and
// returns the exit code.
func printComparison(expected []trace.KeyValue, replayed map[string]float64, tolerance float64) int {
	fmt.Printf("%-20s| %-12s| %-12s| %s\n", "State", "Expected", "Replayed", "Match")
	fmt.Printf("%-20s+%-12s+%-12s+%s\n",
		"--------------------", "-------------", "-------------", "------")

	matches := 0
	for _, e := range expected {
		got, ok := replayed[e.Key]
		gotStr := "missing"
		match := "DIFF"
		if ok {
			gotStr = fmt.Sprintf("%.6f", got)
			if math.Abs(got-e.Value) <= tolerance {
				match = "OK"
				matches++
			}
		}
		fmt.Printf("%-20s| %-12.6f| %-12s| %s\n", e.Key, e.Value, gotStr, match)
	}

	diverge := len(expected) - matches
	fmt.Printf("\nSummary: %d total, %d match, %d diverge\n", len(expected), matches, diverge)

	if diverge > 0 {
		return 1
	}
	return 0
}

// #endregion output
