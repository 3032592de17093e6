package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func unsetAfter(t *testing.T, keys ...string) {
	t.Helper()
	t.Cleanup(func() {
		for _, k := range keys {
			os.Unsetenv(k)
		}
	})
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Learner.Model.RMax != cfg.Learner.Planner.RMax {
		t.Errorf("model and planner R-max differ: %v vs %v", cfg.Learner.Model.RMax, cfg.Learner.Planner.RMax)
	}
	if cfg.Tabular.FrameSize != 2 {
		t.Errorf("expected frame size 2 for (x, y) observations, got %d", cfg.Tabular.FrameSize)
	}
	if cfg.PolicyAddr != "" {
		t.Errorf("expected tabular policy by default, got %q", cfg.PolicyAddr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trainer.Steps != Default().Trainer.Steps {
		t.Errorf("expected default steps, got %d", cfg.Trainer.Steps)
	}
}

func TestLoadOverlaysEnvironment(t *testing.T) {
	t.Setenv("ARMAX_STEPS", "1234")
	t.Setenv("ARMAX_RMAX", "2.5")
	t.Setenv("ARMAX_SEED", "42")
	t.Setenv("ARMAX_POLICY_ADDR", "localhost:50051")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trainer.Steps != 1234 {
		t.Errorf("expected 1234 steps, got %d", cfg.Trainer.Steps)
	}
	if cfg.Learner.Model.RMax != 2.5 || cfg.Learner.Planner.RMax != 2.5 {
		t.Errorf("R-max not shared: %+v %+v", cfg.Learner.Model, cfg.Learner.Planner)
	}
	if cfg.Env.Seed != 42 || cfg.Executor.Seed != 42 || cfg.Trainer.Seed != 42 {
		t.Errorf("seed not propagated: env=%d exec=%d trainer=%d", cfg.Env.Seed, cfg.Executor.Seed, cfg.Trainer.Seed)
	}
	if cfg.PolicyAddr != "localhost:50051" {
		t.Errorf("unexpected policy addr %q", cfg.PolicyAddr)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "ARMAX_ROOMS_X=4\nARMAX_TEST_EPSILON=0.2\nARMAX_STEPS=99\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	unsetAfter(t, "ARMAX_ROOMS_X", "ARMAX_TEST_EPSILON")
	t.Setenv("ARMAX_STEPS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env.RoomsX != 4 {
		t.Errorf("expected 4 rooms, got %d", cfg.Env.RoomsX)
	}
	if cfg.Trainer.TestEpsilon != 0.2 {
		t.Errorf("expected test epsilon 0.2, got %v", cfg.Trainer.TestEpsilon)
	}
	if cfg.Trainer.Steps != 7 {
		t.Errorf("process env must win over the file, got %d", cfg.Trainer.Steps)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("ARMAX_WINDOW", "ten")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric window")
	}
}

func TestLoadRejectsBadLevel(t *testing.T) {
	t.Setenv("ARMAX_LOG_LEVEL", "chatty")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	if cfg.Level() != logrus.DebugLevel {
		t.Errorf("expected debug, got %v", cfg.Level())
	}
	cfg.LogLevel = "bogus"
	if cfg.Level() != logrus.InfoLevel {
		t.Errorf("expected info fallback, got %v", cfg.Level())
	}
}
