package executor

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/abstract-rmax/internal/abstract"
	"github.com/danielpatrickdp/abstract-rmax/internal/env"
	"github.com/danielpatrickdp/abstract-rmax/internal/learner"
)

// #region fakes
type observed struct {
	reward   float64
	terminal bool
}

type fakePolicy struct {
	samples  int
	action   int
	observed []observed
	trains   int
	ends     int
}

func (p *fakePolicy) Act(context.Context, []float32, abstract.Action) (int, error) {
	return p.action, nil
}

func (p *fakePolicy) Observe(_ abstract.Action, _ learner.Step, reward float64, terminal bool) error {
	p.observed = append(p.observed, observed{reward, terminal})
	p.samples++
	return nil
}

func (p *fakePolicy) EndPath(context.Context, abstract.Action) error {
	p.ends++
	return nil
}

func (p *fakePolicy) Train(context.Context, abstract.Action) error {
	p.trains++
	return nil
}

func (p *fakePolicy) Samples(abstract.Action) int { return p.samples }

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newRooms(t *testing.T, roomsX, roomsY, size int) *env.Rooms {
	t.Helper()
	cfg := env.DefaultConfig()
	cfg.RoomsX, cfg.RoomsY, cfg.RoomSize = roomsX, roomsY, size
	cfg.MaxSteps = 0
	r, err := env.New(cfg)
	require.NoError(t, err)
	return r
}

func exploreAt(abs abstract.Abstractor, r *env.Rooms) abstract.Action {
	s := abs.Abstract(r.CurrentState())
	return abstract.Action{ID: 0, Goal: abstract.NoGoal, InitialKey: s.Key()}
}
// #endregion fakes

// #region driver-tests
func TestRunOptionExploreStopsOnLeaving(t *testing.T) {
	rooms := newRooms(t, 2, 1, 2)
	abs := rooms.Abstractor()
	policy := &fakePolicy{}
	d := NewDriver(policy, DefaultConfig(), quietLogger())

	out, err := d.RunOption(context.Background(), rooms, learner.Task{
		Action:     exploreAt(abs, rooms),
		Abstractor: abs,
		MaxSteps:   100000,
	})
	require.NoError(t, err)
	assert.Equal(t, "room-1-0", out.Final.Key())
	require.Len(t, policy.observed, out.Steps)
	for _, o := range policy.observed[:out.Steps-1] {
		assert.Equal(t, observed{0, false}, o)
	}
	assert.Equal(t, observed{1, true}, policy.observed[out.Steps-1])
	assert.Equal(t, 1, policy.ends)
}

func TestRunOptionGoalRewardOnlyAtGoal(t *testing.T) {
	abs := env.RoomAbstractor{RoomSize: 2, RoomsX: 2, RoomsY: 2}
	for seed := uint64(1); seed <= 10; seed++ {
		rooms := newRooms(t, 2, 2, 2)
		policy := &fakePolicy{}
		cfg := DefaultConfig()
		cfg.Seed = seed
		d := NewDriver(policy, cfg, quietLogger())
		a := abstract.Action{ID: 1, Initial: 0, Goal: 1, InitialKey: "room-0-0", GoalKey: "room-1-0"}

		out, err := d.RunOption(context.Background(), rooms, learner.Task{Action: a, Abstractor: abs, MaxSteps: 100000})
		require.NoError(t, err)
		last := policy.observed[len(policy.observed)-1]
		assert.True(t, last.terminal)
		if out.Final.Key() == "room-1-0" {
			assert.Equal(t, 1.0, last.reward)
		} else {
			assert.Equal(t, "room-0-1", out.Final.Key())
			assert.Equal(t, 0.0, last.reward)
		}
	}
}

func TestRunOptionRespectsMaxSteps(t *testing.T) {
	rooms := newRooms(t, 1, 1, 10)
	abs := rooms.Abstractor()
	policy := &fakePolicy{}
	d := NewDriver(policy, DefaultConfig(), quietLogger())

	out, err := d.RunOption(context.Background(), rooms, learner.Task{
		Action:     exploreAt(abs, rooms),
		Abstractor: abs,
		MaxSteps:   5,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, out.Steps)
	assert.Equal(t, "room-0-0", out.Final.Key())
	assert.Equal(t, 1, policy.ends)
}

func TestRunOptionStopsAtTerminalEnvironment(t *testing.T) {
	rooms := newRooms(t, 1, 1, 2)
	require.NoError(t, rooms.Teleport(1, 1))
	_, err := rooms.Perform(env.Up)
	require.NoError(t, err)
	_, err = rooms.Perform(env.Down)
	require.NoError(t, err)
	require.True(t, rooms.IsTerminal())

	abs := rooms.Abstractor()
	out, err := NewDriver(&fakePolicy{}, DefaultConfig(), quietLogger()).RunOption(
		context.Background(), rooms, learner.Task{Action: exploreAt(abs, rooms), Abstractor: abs, MaxSteps: 10})
	require.NoError(t, err)
	assert.Zero(t, out.Steps)
}

func TestEpsilonAnnealsPerOption(t *testing.T) {
	rooms := newRooms(t, 1, 1, 10)
	abs := rooms.Abstractor()
	policy := &fakePolicy{samples: 1000}
	cfg := DefaultConfig()
	cfg.EpsilonStart, cfg.EpsilonEnd, cfg.EpsilonSteps = 1, 0.5, 10
	d := NewDriver(policy, cfg, quietLogger())
	a := exploreAt(abs, rooms)
	other := abstract.Action{ID: 9, Goal: abstract.NoGoal, InitialKey: "elsewhere"}

	_, err := d.RunOption(context.Background(), rooms, learner.Task{Action: a, Abstractor: abs, MaxSteps: 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, d.Epsilon(a), 1e-9)
	assert.Equal(t, 1.0, d.Epsilon(other))

	_, err = d.RunOption(context.Background(), rooms, learner.Task{Action: a, Abstractor: abs, MaxSteps: 20})
	require.NoError(t, err)
	assert.Equal(t, 0.5, d.Epsilon(a))
}

func TestTrainEveryUpdateFreq(t *testing.T) {
	rooms := newRooms(t, 1, 1, 10)
	abs := rooms.Abstractor()
	policy := &fakePolicy{samples: 1000}
	cfg := DefaultConfig()
	cfg.UpdateFreq = 3
	d := NewDriver(policy, cfg, quietLogger())

	_, err := d.RunOption(context.Background(), rooms, learner.Task{Action: exploreAt(abs, rooms), Abstractor: abs, MaxSteps: 9})
	require.NoError(t, err)
	assert.Equal(t, 3, policy.trains)
}

func TestNoTrainingBeforeReplayStart(t *testing.T) {
	rooms := newRooms(t, 1, 1, 10)
	abs := rooms.Abstractor()
	policy := &fakePolicy{}
	cfg := DefaultConfig()
	cfg.ReplayStart = 50
	cfg.UpdateFreq = 1
	d := NewDriver(policy, cfg, quietLogger())

	_, err := d.RunOption(context.Background(), rooms, learner.Task{Action: exploreAt(abs, rooms), Abstractor: abs, MaxSteps: 40})
	require.NoError(t, err)
	assert.Zero(t, policy.trains)
	assert.Equal(t, cfg.EpsilonStart, d.Epsilon(exploreAt(abs, rooms)))
}

func TestActEvaluationIsGreedy(t *testing.T) {
	rooms := newRooms(t, 1, 1, 10)
	policy := &fakePolicy{action: env.Left}
	d := NewDriver(policy, DefaultConfig(), quietLogger())
	a := exploreAt(rooms.Abstractor(), rooms)
	for i := 0; i < 20; i++ {
		got, err := d.Act(context.Background(), rooms, rooms.CurrentState(), a, true)
		require.NoError(t, err)
		assert.Equal(t, env.Left, got)
	}
}

func TestRunOptionCancelled(t *testing.T) {
	rooms := newRooms(t, 1, 1, 10)
	abs := rooms.Abstractor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := &fakePolicy{}
	_, err := NewDriver(policy, DefaultConfig(), quietLogger()).RunOption(
		ctx, rooms, learner.Task{Action: exploreAt(abs, rooms), Abstractor: abs, MaxSteps: 10})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, policy.ends, "a cancelled option still ends its path")
}
// #endregion driver-tests

// #region tabular-tests
func TestStackKeyMasksFrames(t *testing.T) {
	frames := [][]float32{{1, 2}, {3, 4.5}, {6, 7}}
	assert.Equal(t, "_|3,4.5|6,7", stackKey(frames, []float32{0, 1, 1}))
	assert.Equal(t, "1,2|3,4.5|6,7", stackKey(frames, []float32{1, 1, 1}))
	assert.Equal(t, "_|_|6,7", stackKey([][]float32{nil, nil, {6, 7}}, []float32{1, 0, 1}))
}

func TestNewTabularPolicyValidates(t *testing.T) {
	_, err := NewTabularPolicy(DefaultTabularConfig(0, 2))
	assert.Error(t, err)
	cfg := DefaultTabularConfig(4, 2)
	cfg.MemorySize = 1
	_, err = NewTabularPolicy(cfg)
	assert.Error(t, err)
}

func TestTabularLearnsTwoStepPath(t *testing.T) {
	cfg := DefaultTabularConfig(4, 2)
	cfg.MemorySize = 16
	cfg.BatchSize = 8
	cfg.LearningRate = 0.2
	p, err := NewTabularPolicy(cfg)
	require.NoError(t, err)
	a := abstract.Action{Goal: abstract.NoGoal, InitialKey: "room-0-0"}

	for i := 0; i < 2; i++ {
		require.NoError(t, p.Observe(a, learner.Step{State: []float32{0, 0}, Action: env.Right, Next: []float32{1, 0}}, 0, false))
		require.NoError(t, p.Observe(a, learner.Step{State: []float32{1, 0}, Action: env.Right, Next: []float32{2, 0}}, 1, true))
		require.NoError(t, p.EndPath(context.Background(), a))
	}
	assert.Equal(t, 4, p.Samples(a))
	assert.Equal(t, 1, p.Options())

	for i := 0; i < 300; i++ {
		require.NoError(t, p.Train(context.Background(), a))
	}
	near := p.QValues(a, []float32{1, 0})
	far := p.QValues(a, []float32{0, 0})
	assert.InDelta(t, 1.0, near[env.Right], 0.05)
	assert.Greater(t, far[env.Right], 0.5)
	assert.Zero(t, far[env.Left])

	got, err := p.Act(context.Background(), []float32{1, 0}, a)
	require.NoError(t, err)
	assert.Equal(t, env.Right, got)
}

func TestTabularTrainWithoutDataIsNoop(t *testing.T) {
	p, err := NewTabularPolicy(DefaultTabularConfig(4, 2))
	require.NoError(t, err)
	a := abstract.Action{Goal: abstract.NoGoal, InitialKey: "room-0-0"}
	assert.NoError(t, p.Train(context.Background(), a))
	assert.Zero(t, p.Samples(abstract.Action{Goal: abstract.NoGoal, InitialKey: "unseen"}))
}

func TestTabularFrameHistoryKeys(t *testing.T) {
	cfg := DefaultTabularConfig(4, 1)
	cfg.FrameHistory = 3
	cfg.MemorySize = 16
	p, err := NewTabularPolicy(cfg)
	require.NoError(t, err)
	a := abstract.Action{Goal: abstract.NoGoal, InitialKey: "x"}

	for i := 0; i < 4; i++ {
		require.NoError(t, p.Observe(a, learner.Step{State: []float32{float32(i)}, Action: 0, Next: []float32{float32(i + 1)}}, 0, false))
	}
	o := p.options[a.OptionKey()]
	require.Len(t, o.recent, 2)
	assert.Equal(t, []float32{2}, o.recent[0])
	assert.Equal(t, []float32{3}, o.recent[1])

	require.NoError(t, p.EndPath(context.Background(), a))
	assert.Empty(t, o.recent)
	assert.Equal(t, 4, p.Samples(a))
}

func TestDriverWithTabularPolicy(t *testing.T) {
	rooms := newRooms(t, 2, 1, 3)
	abs := rooms.Abstractor()
	p, err := NewTabularPolicy(DefaultTabularConfig(env.NumActions, 2))
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.ReplayStart = 5
	d := NewDriver(p, cfg, quietLogger())
	a := exploreAt(abs, rooms)

	for i := 0; i < 5; i++ {
		require.NoError(t, rooms.Reset())
		out, err := d.RunOption(context.Background(), rooms, learner.Task{Action: a, Abstractor: abs, MaxSteps: 10000})
		require.NoError(t, err)
		assert.Equal(t, "room-1-0", out.Final.Key())
	}
	assert.Greater(t, p.Samples(a), 5)
	assert.Less(t, d.Epsilon(a), 1.0)
}
func TestCutPathsDoNotLeakAcrossExecutions(t *testing.T) {
	rooms := newRooms(t, 1, 1, 10)
	abs := rooms.Abstractor()
	cfg := DefaultTabularConfig(env.NumActions, 2)
	cfg.FrameHistory = 2
	p, err := NewTabularPolicy(cfg)
	require.NoError(t, err)
	d := NewDriver(p, DefaultConfig(), quietLogger())
	a := exploreAt(abs, rooms)
	task := learner.Task{Action: a, Abstractor: abs, MaxSteps: 1}

	_, err = d.RunOption(context.Background(), rooms, task)
	require.NoError(t, err)
	require.NoError(t, rooms.Teleport(7, 7))
	_, err = d.RunOption(context.Background(), rooms, task)
	require.NoError(t, err)

	mem := p.options[a.OptionKey()].mem
	require.Equal(t, 2, mem.Size())
	first := mem.Get(0)
	assert.True(t, first.Terminal, "a path cut by the step cap ends terminal")
	second := mem.Get(1)
	assert.Equal(t, []float32{7, 7}, second.State[1])
	assert.Equal(t, []float32{0, 1}, second.Mask, "the previous path's frame must be masked")
}
// #endregion tabular-tests
