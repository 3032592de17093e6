package learner

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/abstract-rmax/internal/abstract"
)

// #region interfaces
// Step is one primitive environment transition.
type Step struct {
	State    []float32
	Action   int
	Reward   float64
	Next     []float32
	Terminal bool
}

// Environment is the raw-observation environment.
type Environment interface {
	CurrentState() []float32
	IsTerminal() bool
	Actions(obs []float32) []int
	Perform(action int) (Step, error)
	Reset() error
}

// Task is one abstract action handed to the level-0 executor.
type Task struct {
	Action     abstract.Action
	Abstractor abstract.Abstractor
	MaxSteps   int
	Evaluation bool
}

// Outcome is the result of executing one Task.
type Outcome struct {
	Steps  int
	Reward float64 // accumulated environment reward
	Final  abstract.State
}

// Executor runs abstract actions against the raw environment.
type Executor interface {
	// RunOption executes t until its abstract state changes, the episode
	// ends, or t.MaxSteps primitive steps were taken.
	RunOption(ctx context.Context, env Environment, t Task) (Outcome, error)
	// Act returns one primitive action for obs under abstract action a.
	Act(ctx context.Context, env Environment, obs []float32, a abstract.Action, evaluation bool) (int, error)
}
// #endregion interfaces

// #region learner
// EpisodeResult summarises one learning episode.
type EpisodeResult struct {
	Steps     int
	Options   int
	Reward    float64
	Teleports int
	NewStates int
}

// Learner drives one environment with the level-1 controller.
type Learner struct {
	*Core
	env  Environment
	abs  abstract.Abstractor
	exec Executor
}

// New builds a learner and registers the abstract state of the environment's
// current observation.
func New(env Environment, abs abstract.Abstractor, exec Executor, cfg Config, opts ...Option) (*Learner, error) {
	core, err := NewCore(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := core.CreateState(abs.Abstract(env.CurrentState())); err != nil {
		return nil, fmt.Errorf("create initial state: %w", err)
	}
	return &Learner{Core: core, env: env, abs: abs, exec: exec}, nil
}

// Abstractor returns the abstraction function the learner plans over.
func (l *Learner) Abstractor() abstract.Abstractor {
	return l.abs
}

// RunEpisode plays options from the current environment state until the
// episode terminates, ctx is cancelled, or MaxEpisodeSteps is reached. The
// caller resets the environment between episodes.
func (l *Learner) RunEpisode(ctx context.Context) (EpisodeResult, error) {
	var res EpisodeResult
	for !l.env.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if limit := l.cfg.MaxEpisodeSteps; limit > 0 && res.Steps >= limit {
			break
		}

		s, created, err := l.Ensure(l.abs.Abstract(l.env.CurrentState()))
		if err != nil {
			return res, err
		}
		if created {
			// reached without an inserted transition
			res.Teleports++
			res.NewStates++
			l.log.WithField("state", s).Warn("teleported into unseen abstract state")
		}

		a, err := l.SelectOption(s, false)
		if err != nil {
			return res, err
		}
		out, err := l.exec.RunOption(ctx, l.env, Task{
			Action:     a,
			Abstractor: l.abs,
			MaxSteps:   l.cfg.MaxOptionSteps,
		})
		if err != nil {
			return res, fmt.Errorf("run option %s: %w", a, err)
		}
		res.Steps += out.Steps
		res.Options++
		res.Reward += out.Reward

		before := l.graph.Len()
		if _, err := l.Observe(s, a, out.Final, out.Reward, l.env.IsTerminal()); err != nil {
			return res, err
		}
		res.NewStates += l.graph.Len() - before
	}
	l.log.WithFields(logrus.Fields{
		"steps":   res.Steps,
		"options": res.Options,
		"reward":  res.Reward,
		"states":  l.graph.Len(),
	}).Info("episode finished")
	return res, nil
}

// Act returns a primitive action for obs: the level-1 controller selects an
// abstract action and the executor turns it into a primitive one. An
// observation whose abstract state is unknown falls back to exploring it
// without growing the graph.
func (l *Learner) Act(ctx context.Context, obs []float32, evaluation bool) (int, error) {
	s := l.abs.Abstract(obs)
	id, ok := l.graph.Lookup(s.Key())
	if !ok {
		return l.exec.Act(ctx, l.env, obs, transientExplore(s), evaluation)
	}
	a, err := l.SelectOption(id, evaluation)
	if err != nil {
		return 0, fmt.Errorf("act: %w", err)
	}
	return l.exec.Act(ctx, l.env, obs, a, evaluation)
}

// transientExplore describes exploring s without registering it.
func transientExplore(s abstract.State) abstract.Action {
	return abstract.Action{
		ID:         -1,
		Initial:    abstract.NoGoal,
		Goal:       abstract.NoGoal,
		InitialKey: s.Key(),
		InitialVec: s.Vector(),
		GoalVec:    s.Vector(),
	}
}
// #endregion learner
