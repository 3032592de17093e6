package trace

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

// #region fixture-tests

// TestFixture_CorridorSession replays the corridor fixture and compares the
// evaluation value of every room against the recorded expectation.
func TestFixture_CorridorSession(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "corridor_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	core, results, err := Replay(f, quiet())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != len(f.Transitions) {
		t.Fatalf("expected %d results, got %d", len(f.Transitions), len(results))
	}

	summary := Summarize(core, results, f)
	for _, expected := range f.ExpectedValues {
		got, ok := summary.EvalValues[expected.Key]
		if !ok {
			t.Errorf("state %s missing after replay", expected.Key)
			continue
		}
		if math.Abs(got-expected.Value) > 1e-9 {
			t.Errorf("state %s: expected value %v, got %v", expected.Key, expected.Value, got)
		}
	}
}

// TestLoadFixture_NotFound verifies error on missing file.
func TestLoadFixture_NotFound(t *testing.T) {
	_, err := LoadFixture("testdata/nonexistent.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// TestLoadFixture_Malformed verifies error on invalid JSON.
func TestLoadFixture_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not valid json}"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadFixture(path)
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

// TestFixture_SaveLoad checks that Save writes something LoadFixture reads back.
func TestFixture_SaveLoad(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "corridor_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	path := filepath.Join(t.TempDir(), "copy.json")
	if err := f.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	g, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture copy: %v", err)
	}
	if len(g.States) != 3 || len(g.Transitions) != 4 {
		t.Fatalf("copy lost data: %d states, %d transitions", len(g.States), len(g.Transitions))
	}
	if g.Transitions[2].Goal != "room-1" || !g.Transitions[3].Terminal {
		t.Errorf("unexpected transitions %+v", g.Transitions)
	}
	if g.Config.SolveEvery != 10 || g.Config.Gamma != 0.9 {
		t.Errorf("unexpected config %+v", g.Config)
	}
}

// #endregion fixture-tests
