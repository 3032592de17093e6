// Package executor runs abstract actions against the raw environment: a
// Driver owns exploration and the step loop, a Policy owns the primitive
// action-value function.
package executor

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/abstract-rmax/internal/abstract"
	"github.com/danielpatrickdp/abstract-rmax/internal/learner"
)

// #region policy
// Policy is the level-0 action-value function, conditioned on the abstract
// action being executed.
type Policy interface {
	// Act returns the greedy primitive action for obs.
	Act(ctx context.Context, obs []float32, a abstract.Action) (int, error)
	// Observe stores one primitive transition with its option reward.
	Observe(a abstract.Action, step learner.Step, reward float64, terminal bool) error
	// EndPath marks the end of one execution of a.
	EndPath(ctx context.Context, a abstract.Action) error
	// Train runs one update for a.
	Train(ctx context.Context, a abstract.Action) error
	// Samples returns how many transitions are stored for a.
	Samples(a abstract.Action) int
}
// #endregion policy

// #region config
// Config controls exploration and training cadence.
type Config struct {
	EpsilonStart float64 // initial exploration rate of every option
	EpsilonEnd   float64 // floor of the exploration rate
	EpsilonSteps int     // primitive steps to anneal from start to end
	ReplayStart  int     // stored samples before annealing and training begin
	UpdateFreq   int     // train every UpdateFreq primitive steps
	GoalReward   float64 // option reward for reaching the goal
	Seed         uint64
}

// DefaultConfig mirrors the tabular settings of the training script.
func DefaultConfig() Config {
	return Config{
		EpsilonStart: 1,
		EpsilonEnd:   0.1,
		EpsilonSteps: 10000,
		ReplayStart:  100,
		UpdateFreq:   4,
		GoalReward:   1,
		Seed:         1,
	}
}
// #endregion config

// #region driver
// Driver is a learner.Executor over a Policy.
type Driver struct {
	cfg     Config
	policy  Policy
	rng     *rand.Rand
	epsilon map[string]float64 // per option key
	ticker  int
	log     logrus.FieldLogger
}

// NewDriver returns a driver for policy.
func NewDriver(policy Policy, cfg Config, log logrus.FieldLogger) *Driver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.UpdateFreq < 1 {
		cfg.UpdateFreq = 1
	}
	return &Driver{
		cfg:     cfg,
		policy:  policy,
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+7)),
		epsilon: make(map[string]float64),
		log:     log,
	}
}

// Epsilon returns the current exploration rate of a.
func (d *Driver) Epsilon(a abstract.Action) float64 {
	if eps, ok := d.epsilon[a.OptionKey()]; ok {
		return eps
	}
	return d.cfg.EpsilonStart
}

func (d *Driver) anneal(a abstract.Action) {
	if d.cfg.EpsilonSteps <= 0 {
		d.epsilon[a.OptionKey()] = d.cfg.EpsilonEnd
		return
	}
	delta := (d.cfg.EpsilonStart - d.cfg.EpsilonEnd) / float64(d.cfg.EpsilonSteps)
	d.epsilon[a.OptionKey()] = max(d.cfg.EpsilonEnd, d.Epsilon(a)-delta)
}

func (d *Driver) explore(env learner.Environment, obs []float32) (int, error) {
	actions := env.Actions(obs)
	if len(actions) == 0 {
		return 0, fmt.Errorf("no primitive actions for observation")
	}
	return actions[d.rng.IntN(len(actions))], nil
}

// RunOption executes t.Action until the abstract state changes, the episode
// ends, or t.MaxSteps primitive steps. The option reward is GoalReward when
// the goal is reached (any other state for explore) and 0 otherwise. The
// option path is ended on every exit, including cancellation, so a cut path
// never runs into the next execution of the same option.
func (d *Driver) RunOption(ctx context.Context, env learner.Environment, t learner.Task) (learner.Outcome, error) {
	a := t.Action
	d.log.WithFields(logrus.Fields{
		"action": a.String(),
		"eps":    d.Epsilon(a),
	}).Debug("executing action")

	out, err := d.step(ctx, env, t)
	if endErr := d.policy.EndPath(context.WithoutCancel(ctx), a); endErr != nil && err == nil {
		err = fmt.Errorf("end path: %w", endErr)
	}
	if err != nil {
		return out, err
	}
	out.Final = t.Abstractor.Abstract(env.CurrentState())
	return out, nil
}

// step runs the primitive loop of one option execution.
func (d *Driver) step(ctx context.Context, env learner.Environment, t learner.Task) (learner.Outcome, error) {
	a := t.Action
	start := t.Abstractor.Abstract(env.CurrentState())
	var out learner.Outcome
	for t.MaxSteps <= 0 || out.Steps < t.MaxSteps {
		if env.IsTerminal() {
			break
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		obs := env.CurrentState()
		action, err := d.Act(ctx, env, obs, a, t.Evaluation)
		if err != nil {
			return out, err
		}
		if d.policy.Samples(a) > d.cfg.ReplayStart {
			d.anneal(a)
		}

		step, err := env.Perform(action)
		if err != nil {
			return out, fmt.Errorf("perform %d: %w", action, err)
		}
		out.Steps++
		out.Reward += step.Reward

		next := t.Abstractor.Abstract(step.Next)
		left := !next.Equal(start)
		reached := left && (a.IsExplore() || next.Key() == a.GoalKey)
		reward := 0.0
		if reached {
			reward = d.cfg.GoalReward
		}
		if err := d.policy.Observe(a, step, reward, step.Terminal || left); err != nil {
			return out, fmt.Errorf("observe: %w", err)
		}

		d.ticker++
		if d.policy.Samples(a) > d.cfg.ReplayStart && d.ticker%d.cfg.UpdateFreq == 0 {
			if err := d.policy.Train(ctx, a); err != nil {
				return out, fmt.Errorf("train %s: %w", a, err)
			}
		}
		if left {
			break
		}
	}
	return out, nil
}

// Act picks a primitive action: epsilon-greedy on the option's exploration
// rate while training, greedy when evaluating.
func (d *Driver) Act(ctx context.Context, env learner.Environment, obs []float32, a abstract.Action, evaluation bool) (int, error) {
	if !evaluation && d.rng.Float64() < d.Epsilon(a) {
		return d.explore(env, obs)
	}
	return d.policy.Act(ctx, obs, a)
}
// #endregion driver
