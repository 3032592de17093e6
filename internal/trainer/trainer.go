// Package trainer runs learning episodes against a step budget and
// periodically evaluates the greedy policy.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/abstract-rmax/internal/learner"
)

// ErrNoProgress is returned when an episode ends without a primitive step.
var ErrNoProgress = errors.New("episode took no steps")

// #region config
// Config sets the training budget and the evaluation cadence.
type Config struct {
	Steps        int     `json:"steps"`         // primitive step budget
	TestInterval int     `json:"test_interval"` // primitive steps between evaluations
	TestFrames   int     `json:"test_frames"`   // primitive steps per evaluation
	TestEpsilon  float64 `json:"test_epsilon"`  // random action rate while evaluating
	Seed         uint64  `json:"seed"`
}

// DefaultConfig returns a budget sized for the rooms gridworld.
func DefaultConfig() Config {
	return Config{
		Steps:        50000,
		TestInterval: 5000,
		TestFrames:   2500,
		TestEpsilon:  0.05,
		Seed:         1,
	}
}
// #endregion config

// #region types
// Agent is the part of *learner.Learner the trainer drives.
type Agent interface {
	RunEpisode(ctx context.Context) (learner.EpisodeResult, error)
	Act(ctx context.Context, obs []float32, evaluation bool) (int, error)
}

// EpisodeRow describes one learning episode.
type EpisodeRow struct {
	Episode   int           `json:"episode"`
	Step      int           `json:"step"` // cumulative primitive steps after the episode
	Steps     int           `json:"steps"`
	Options   int           `json:"options"`
	Reward    float64       `json:"reward"`
	NewStates int           `json:"new_states"`
	Teleports int           `json:"teleports"`
	Duration  time.Duration `json:"duration"`
}

// EvalRow describes one evaluation.
type EvalRow struct {
	Step       int       `json:"step"`
	Episodes   int       `json:"episodes"`
	MeanReward float64   `json:"mean_reward"`
	Rewards    []float64 `json:"rewards"`
	Best       bool      `json:"best"`
}

// Result collects every row of a training run.
type Result struct {
	Steps       int
	Episodes    []EpisodeRow
	Evaluations []EvalRow
	BestReward  float64 // -Inf until the first evaluation
}

// Sink receives rows as they are produced.
type Sink interface {
	Episode(row EpisodeRow) error
	Evaluation(row EvalRow) error
}
// #endregion types

// #region trainer
// Trainer alternates learning episodes and evaluations.
type Trainer struct {
	cfg   Config
	agent Agent
	env   learner.Environment
	rng   *rand.Rand
	log   logrus.FieldLogger
	sinks []Sink
}

// Option customises a Trainer.
type Option func(*Trainer)

// WithLogger sets the progress logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(t *Trainer) { t.log = log }
}

// WithSink adds a row sink.
func WithSink(s Sink) Option {
	return func(t *Trainer) { t.sinks = append(t.sinks, s) }
}

// New returns a trainer for agent acting in env.
func New(agent Agent, env learner.Environment, cfg Config, opts ...Option) (*Trainer, error) {
	if cfg.Steps < 1 {
		return nil, fmt.Errorf("step budget must be positive, got %d", cfg.Steps)
	}
	if cfg.TestEpsilon < 0 || cfg.TestEpsilon > 1 {
		return nil, fmt.Errorf("test epsilon %v outside [0, 1]", cfg.TestEpsilon)
	}
	t := &Trainer{
		cfg:   cfg,
		agent: agent,
		env:   env,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		log:   logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Train runs episodes until the step budget is spent. An evaluation runs
// whenever TestInterval steps have passed since the previous one; a zero
// interval disables evaluation.
func (t *Trainer) Train(ctx context.Context) (Result, error) {
	res := Result{BestReward: math.Inf(-1)}
	untilTest := t.cfg.TestInterval

	for res.Steps < t.cfg.Steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := t.env.Reset(); err != nil {
			return res, fmt.Errorf("reset: %w", err)
		}

		start := time.Now()
		ep, err := t.agent.RunEpisode(ctx)
		if err != nil {
			return res, fmt.Errorf("episode %d: %w", len(res.Episodes)+1, err)
		}
		if ep.Steps == 0 {
			return res, fmt.Errorf("episode %d: %w", len(res.Episodes)+1, ErrNoProgress)
		}
		res.Steps += ep.Steps
		row := EpisodeRow{
			Episode:   len(res.Episodes) + 1,
			Step:      res.Steps,
			Steps:     ep.Steps,
			Options:   ep.Options,
			Reward:    ep.Reward,
			NewStates: ep.NewStates,
			Teleports: ep.Teleports,
			Duration:  time.Since(start),
		}
		res.Episodes = append(res.Episodes, row)
		t.log.WithFields(logrus.Fields{
			"step":    row.Step,
			"reward":  row.Reward,
			"options": row.Options,
			"sps":     stepsPerSecond(row.Steps, row.Duration),
		}).Info("episode")
		for _, s := range t.sinks {
			if err := s.Episode(row); err != nil {
				return res, fmt.Errorf("episode sink: %w", err)
			}
		}

		if t.cfg.TestInterval <= 0 {
			continue
		}
		untilTest -= ep.Steps
		if untilTest > 0 {
			continue
		}
		untilTest += t.cfg.TestInterval

		rewards, err := t.Evaluate(ctx)
		if err != nil {
			return res, fmt.Errorf("evaluate: %w", err)
		}
		eval := EvalRow{
			Step:       res.Steps,
			Episodes:   len(rewards),
			MeanReward: stat.Mean(rewards, nil),
			Rewards:    rewards,
		}
		if eval.MeanReward > res.BestReward {
			res.BestReward = eval.MeanReward
			eval.Best = true
		}
		res.Evaluations = append(res.Evaluations, eval)
		t.log.WithFields(logrus.Fields{
			"step": eval.Step,
			"mean": eval.MeanReward,
			"best": res.BestReward,
		}).Info("evaluation")
		for _, s := range t.sinks {
			if err := s.Evaluation(eval); err != nil {
				return res, fmt.Errorf("evaluation sink: %w", err)
			}
		}
	}
	return res, nil
}

// Evaluate plays TestFrames primitive steps with the greedy policy, taking a
// random action with probability TestEpsilon, and returns the reward of each
// finished episode. When no episode finishes the partial reward is returned.
func (t *Trainer) Evaluate(ctx context.Context) ([]float64, error) {
	if err := t.env.Reset(); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	var rewards []float64
	total := 0.0
	for i := 0; i < t.cfg.TestFrames; i++ {
		if err := ctx.Err(); err != nil {
			return rewards, err
		}
		if t.env.IsTerminal() {
			rewards = append(rewards, total)
			total = 0
			if err := t.env.Reset(); err != nil {
				return rewards, fmt.Errorf("reset: %w", err)
			}
		}
		obs := t.env.CurrentState()
		action, err := t.evalAction(ctx, obs)
		if err != nil {
			return rewards, err
		}
		step, err := t.env.Perform(action)
		if err != nil {
			return rewards, fmt.Errorf("perform %d: %w", action, err)
		}
		total += step.Reward
	}
	if len(rewards) == 0 {
		rewards = append(rewards, total)
	}
	return rewards, nil
}

func (t *Trainer) evalAction(ctx context.Context, obs []float32) (int, error) {
	if t.rng.Float64() < t.cfg.TestEpsilon {
		actions := t.env.Actions(obs)
		if len(actions) == 0 {
			return 0, fmt.Errorf("no primitive actions for observation")
		}
		return actions[t.rng.IntN(len(actions))], nil
	}
	return t.agent.Act(ctx, obs, true)
}

func stepsPerSecond(steps int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(steps) / d.Seconds()
}
// #endregion trainer
