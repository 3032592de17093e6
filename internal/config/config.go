// Package config assembles the settings of a training run from defaults, an
// optional .env file and ARMAX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/abstract-rmax/internal/env"
	"github.com/danielpatrickdp/abstract-rmax/internal/executor"
	"github.com/danielpatrickdp/abstract-rmax/internal/learner"
	"github.com/danielpatrickdp/abstract-rmax/internal/trainer"
)

// #region config
// Config is everything cmd/train needs to start a run.
type Config struct {
	DBPath     string // ARMAX_DB
	OutDir     string // ARMAX_OUT, reports and traces
	PolicyAddr string // ARMAX_POLICY_ADDR, empty selects the tabular policy
	LogLevel   string // ARMAX_LOG_LEVEL

	Env      env.Config
	Learner  learner.Config
	Executor executor.Config
	Tabular  executor.TabularConfig
	Trainer  trainer.Config
}

// Default returns the settings of the rooms demo.
func Default() Config {
	envCfg := env.DefaultConfig()
	return Config{
		DBPath:   "abstract_rmax.db",
		OutDir:   "results",
		LogLevel: "info",
		Env:      envCfg,
		Learner:  learner.DefaultConfig(),
		Executor: executor.DefaultConfig(),
		Tabular:  executor.DefaultTabularConfig(env.NumActions, 2),
		Trainer:  trainer.DefaultConfig(),
	}
}
// #endregion config

// #region load
// Load reads path as a .env file when it exists, then overlays ARMAX_*
// variables on Default. Variables already set in the process win over the
// file.
func Load(path string) (Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	cfg := Default()
	r := &reader{}

	cfg.DBPath = envOr("ARMAX_DB", cfg.DBPath)
	cfg.OutDir = envOr("ARMAX_OUT", cfg.OutDir)
	cfg.PolicyAddr = envOr("ARMAX_POLICY_ADDR", cfg.PolicyAddr)
	cfg.LogLevel = envOr("ARMAX_LOG_LEVEL", cfg.LogLevel)

	seed := r.uint64("ARMAX_SEED", cfg.Learner.Seed)
	cfg.Env.Seed, cfg.Learner.Seed, cfg.Executor.Seed, cfg.Tabular.Seed, cfg.Trainer.Seed = seed, seed, seed, seed, seed

	cfg.Env.RoomsX = r.int("ARMAX_ROOMS_X", cfg.Env.RoomsX)
	cfg.Env.RoomsY = r.int("ARMAX_ROOMS_Y", cfg.Env.RoomsY)
	cfg.Env.RoomSize = r.int("ARMAX_ROOM_SIZE", cfg.Env.RoomSize)
	cfg.Env.MaxSteps = r.int("ARMAX_EPISODE_STEPS", cfg.Env.MaxSteps)
	cfg.Env.Slip = r.float("ARMAX_SLIP", cfg.Env.Slip)

	rmax := r.float("ARMAX_RMAX", cfg.Learner.Model.RMax)
	cfg.Learner.Model.RMax, cfg.Learner.Planner.RMax = rmax, rmax
	cfg.Learner.Model.Window = r.int("ARMAX_WINDOW", cfg.Learner.Model.Window)
	cfg.Learner.Model.Confidence = r.int("ARMAX_CONFIDENCE", cfg.Learner.Model.Confidence)
	cfg.Learner.Planner.Gamma = r.float("ARMAX_GAMMA", cfg.Learner.Planner.Gamma)
	cfg.Learner.Planner.MaxIterations = r.int("ARMAX_VI_ITERATIONS", cfg.Learner.Planner.MaxIterations)
	cfg.Learner.Planner.Delta = r.float("ARMAX_VI_DELTA", cfg.Learner.Planner.Delta)
	cfg.Learner.SolveEvery = r.int("ARMAX_SOLVE_EVERY", cfg.Learner.SolveEvery)
	cfg.Learner.Temperature = r.float("ARMAX_TEMPERATURE", cfg.Learner.Temperature)
	cfg.Learner.MaxOptionSteps = r.int("ARMAX_OPTION_STEPS", cfg.Learner.MaxOptionSteps)

	cfg.Executor.EpsilonEnd = r.float("ARMAX_EPSILON_END", cfg.Executor.EpsilonEnd)
	cfg.Executor.EpsilonSteps = r.int("ARMAX_EPSILON_STEPS", cfg.Executor.EpsilonSteps)
	cfg.Executor.ReplayStart = r.int("ARMAX_REPLAY_START", cfg.Executor.ReplayStart)
	cfg.Executor.UpdateFreq = r.int("ARMAX_UPDATE_FREQ", cfg.Executor.UpdateFreq)

	cfg.Tabular.FrameHistory = r.int("ARMAX_FRAME_HISTORY", cfg.Tabular.FrameHistory)
	cfg.Tabular.MemorySize = r.int("ARMAX_MEMORY_SIZE", cfg.Tabular.MemorySize)
	cfg.Tabular.BatchSize = r.int("ARMAX_BATCH_SIZE", cfg.Tabular.BatchSize)
	cfg.Tabular.LearningRate = r.float("ARMAX_LEARNING_RATE", cfg.Tabular.LearningRate)
	cfg.Tabular.MMCBeta = r.float("ARMAX_MMC_BETA", cfg.Tabular.MMCBeta)

	cfg.Trainer.Steps = r.int("ARMAX_STEPS", cfg.Trainer.Steps)
	cfg.Trainer.TestInterval = r.int("ARMAX_TEST_INTERVAL", cfg.Trainer.TestInterval)
	cfg.Trainer.TestFrames = r.int("ARMAX_TEST_FRAMES", cfg.Trainer.TestFrames)
	cfg.Trainer.TestEpsilon = r.float("ARMAX_TEST_EPSILON", cfg.Trainer.TestEpsilon)

	if r.err != nil {
		return Config{}, r.err
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("ARMAX_LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// Level returns the parsed log level, info when it does not parse.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
// #endregion load

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// reader parses typed variables and keeps the first error.
type reader struct {
	err error
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s: %w", key, err)
	}
}

func (r *reader) int(key string, fallback int) int {
	v := envOr(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return fallback
	}
	return n
}

func (r *reader) uint64(key string, fallback uint64) uint64 {
	v := envOr(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		r.fail(key, err)
		return fallback
	}
	return n
}

func (r *reader) float(key string, fallback float64) float64 {
	v := envOr(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, err)
		return fallback
	}
	return f
}
// #endregion helpers
