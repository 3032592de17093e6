package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/danielpatrickdp/abstract-rmax/internal/abstract"
	"github.com/danielpatrickdp/abstract-rmax/internal/learner"
	"github.com/danielpatrickdp/abstract-rmax/internal/replay"
	"github.com/danielpatrickdp/abstract-rmax/internal/selector"
)

// #region tabular-config
// TabularConfig sizes the per-option replay memories and the update rule.
type TabularConfig struct {
	NumActions    int
	FrameSize     int
	FrameHistory  int
	MemorySize    int
	BatchSize     int
	LearningRate  float64
	Gamma         float64
	MMCBeta       float64 // weight of the Monte-Carlo return in the target
	MaxPathLength int
	Seed          uint64
}

// DefaultTabularConfig returns settings for small gridworlds.
func DefaultTabularConfig(numActions, frameSize int) TabularConfig {
	return TabularConfig{
		NumActions:    numActions,
		FrameSize:     frameSize,
		FrameHistory:  1,
		MemorySize:    10001,
		BatchSize:     32,
		LearningRate:  0.1,
		Gamma:         0.99,
		MMCBeta:       0.1,
		MaxPathLength: 1000,
		Seed:          1,
	}
}
// #endregion tabular-config

// #region tabular
type optionTable struct {
	mem     *replay.Memory
	tracker *replay.PathTracker
	q       map[string][]float64
	recent  [][]float32 // frames preceding the current observation
}

// TabularPolicy keeps one replay memory and one Q table per option, keyed by
// the masked frame stack.
type TabularPolicy struct {
	cfg     TabularConfig
	options map[string]*optionTable
	sel     *selector.Selector
	seeds   uint64
}

// NewTabularPolicy returns an empty policy.
func NewTabularPolicy(cfg TabularConfig) (*TabularPolicy, error) {
	if cfg.NumActions < 1 {
		return nil, fmt.Errorf("num actions must be positive, got %d", cfg.NumActions)
	}
	if cfg.FrameHistory < 1 {
		cfg.FrameHistory = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	// validate memory sizing once up front
	if _, err := replay.NewMemory(cfg.FrameSize, cfg.MemorySize, cfg.FrameHistory, cfg.Seed); err != nil {
		return nil, fmt.Errorf("new tabular policy: %w", err)
	}
	return &TabularPolicy{
		cfg:     cfg,
		options: make(map[string]*optionTable),
		sel:     selector.New(cfg.Seed, 1),
		seeds:   cfg.Seed,
	}, nil
}

func (p *TabularPolicy) option(a abstract.Action) (*optionTable, error) {
	key := a.OptionKey()
	if o, ok := p.options[key]; ok {
		return o, nil
	}
	p.seeds++
	mem, err := replay.NewMemory(p.cfg.FrameSize, p.cfg.MemorySize, p.cfg.FrameHistory, p.seeds)
	if err != nil {
		return nil, err
	}
	o := &optionTable{
		mem:     mem,
		tracker: replay.NewPathTracker(mem, p.cfg.MaxPathLength, p.cfg.Gamma),
		q:       make(map[string][]float64),
	}
	p.options[key] = o
	return o, nil
}

// Act returns the greedy action for the stack of recent frames ending at obs.
// Unvisited stacks break ties uniformly.
func (p *TabularPolicy) Act(_ context.Context, obs []float32, a abstract.Action) (int, error) {
	o, err := p.option(a)
	if err != nil {
		return 0, err
	}
	fh := p.cfg.FrameHistory
	frames := make([][]float32, fh)
	mask := make([]float32, fh)
	offset := fh - 1 - len(o.recent)
	for i, f := range o.recent {
		frames[offset+i] = f
		mask[offset+i] = 1
	}
	frames[fh-1] = obs
	mask[fh-1] = 1
	return p.sel.Greedy(p.values(o, stackKey(frames, mask)))
}

// Observe appends one transition to the option's current path.
func (p *TabularPolicy) Observe(a abstract.Action, step learner.Step, reward float64, terminal bool) error {
	o, err := p.option(a)
	if err != nil {
		return err
	}
	o.tracker.Append(step.State, step.Action, float32(reward), step.Next, terminal)
	if p.cfg.FrameHistory > 1 {
		o.recent = append(o.recent, append([]float32(nil), step.State...))
		if n := len(o.recent) - (p.cfg.FrameHistory - 1); n > 0 {
			o.recent = o.recent[n:]
		}
	}
	return nil
}

// EndPath flushes the option's path into its memory with Monte-Carlo returns.
func (p *TabularPolicy) EndPath(_ context.Context, a abstract.Action) error {
	o, err := p.option(a)
	if err != nil {
		return err
	}
	o.tracker.Flush()
	o.recent = nil
	return nil
}

// Train applies one mixed Monte-Carlo update over a sampled batch:
// target = (1-β)·(r + γ·max Q(next)) + β·return.
func (p *TabularPolicy) Train(_ context.Context, a abstract.Action) error {
	o, err := p.option(a)
	if err != nil {
		return err
	}
	b, err := o.mem.Sample(p.cfg.BatchSize)
	if errors.Is(err, replay.ErrNotEnoughData) {
		return nil
	}
	if err != nil {
		return err
	}
	for i := 0; i < b.Len(); i++ {
		y := float64(b.Rewards[i])
		if !b.Terminals[i] {
			next := p.values(o, stackKey(b.Next[i], b.NextMasks[i]))
			y += p.cfg.Gamma * floats.Max(next)
		}
		target := (1-p.cfg.MMCBeta)*y + p.cfg.MMCBeta*float64(b.Returns[i])
		qs := p.row(o, stackKey(b.States[i], b.Masks[i]))
		act := b.Actions[i]
		if act < 0 || act >= len(qs) {
			return fmt.Errorf("sampled action %d outside [0, %d)", act, len(qs))
		}
		qs[act] += p.cfg.LearningRate * (target - qs[act])
	}
	return nil
}

// Samples returns the size of a's replay memory.
func (p *TabularPolicy) Samples(a abstract.Action) int {
	if o, ok := p.options[a.OptionKey()]; ok {
		return o.mem.Size()
	}
	return 0
}

// QValues returns the action values stored for obs with no frame history.
func (p *TabularPolicy) QValues(a abstract.Action, obs []float32) []float64 {
	o, ok := p.options[a.OptionKey()]
	if !ok {
		return make([]float64, p.cfg.NumActions)
	}
	fh := p.cfg.FrameHistory
	frames := make([][]float32, fh)
	mask := make([]float32, fh)
	frames[fh-1] = obs
	mask[fh-1] = 1
	return append([]float64(nil), p.values(o, stackKey(frames, mask))...)
}

// Options returns the number of options seen so far.
func (p *TabularPolicy) Options() int {
	return len(p.options)
}

func (p *TabularPolicy) values(o *optionTable, key string) []float64 {
	if qs, ok := o.q[key]; ok {
		return qs
	}
	return make([]float64, p.cfg.NumActions)
}

func (p *TabularPolicy) row(o *optionTable, key string) []float64 {
	qs, ok := o.q[key]
	if !ok {
		qs = make([]float64, p.cfg.NumActions)
		o.q[key] = qs
	}
	return qs
}
// #endregion tabular

// #region keys
// stackKey encodes the unmasked frames of a stack; masked frames encode as "_".
func stackKey(frames [][]float32, mask []float32) string {
	var b strings.Builder
	for i, f := range frames {
		if i > 0 {
			b.WriteByte('|')
		}
		if mask[i] == 0 || f == nil {
			b.WriteByte('_')
			continue
		}
		for j, v := range f {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
	}
	return b.String()
}
// #endregion keys
