package replay

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrNotEnoughData is returned by Sample before any index can be drawn.
var ErrNotEnoughData = errors.New("replay memory has too few transitions")

// #region types
// Sample is one training example with stacked frame history.
type Sample struct {
	State    [][]float32 // frameHistory frames ending at the sampled index
	Action   int
	Reward   float32
	Return   float32 // Monte-Carlo return, 0 unless appended with one
	Next     [][]float32
	Terminal bool
	Mask     []float32 // 0 for frames that belong to a previous episode
	NextMask []float32
}

// Batch holds Sample fields column-wise.
type Batch struct {
	States    [][][]float32
	Actions   []int
	Rewards   []float32
	Returns   []float32
	Next      [][][]float32
	Terminals []bool
	Masks     [][]float32
	NextMasks [][]float32
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int {
	return len(b.Actions)
}

// Memory is a fixed-capacity circular store of single-step transitions over
// raw observations. It is owned by one writer; it is not safe for
// concurrent use.
type Memory struct {
	frameSize    int
	capacity     int
	frameHistory int

	frames    [][]float32
	actions   []int
	rewards   []float32
	returns   []float32
	terminals []bool

	t      int
	filled bool
	rng    *rand.Rand
}
// #endregion types

// #region constructor
// NewMemory allocates a memory for frames of frameSize values.
func NewMemory(frameSize, capacity, frameHistory int, seed uint64) (*Memory, error) {
	if frameSize < 1 {
		return nil, fmt.Errorf("frame size must be positive, got %d", frameSize)
	}
	if frameHistory < 1 {
		return nil, fmt.Errorf("frame history must be positive, got %d", frameHistory)
	}
	if capacity <= frameHistory+1 {
		return nil, fmt.Errorf("capacity %d must exceed frame history + 1 (%d)", capacity, frameHistory+1)
	}
	backing := make([]float32, capacity*frameSize)
	frames := make([][]float32, capacity)
	for i := range frames {
		frames[i] = backing[i*frameSize : (i+1)*frameSize : (i+1)*frameSize]
	}
	return &Memory{
		frameSize:    frameSize,
		capacity:     capacity,
		frameHistory: frameHistory,
		frames:       frames,
		actions:      make([]int, capacity),
		rewards:      make([]float32, capacity),
		returns:      make([]float32, capacity),
		terminals:    make([]bool, capacity),
		rng:          rand.New(rand.NewPCG(seed, seed+1)),
	}, nil
}
// #endregion constructor

// #region append
// Append overwrites the slot at the write cursor with s1, a, r and terminal.
// s2 is not stored: the next state of a transition is the following slot.
func (m *Memory) Append(s1 []float32, a int, r float32, s2 []float32, terminal bool) {
	m.AppendWithReturn(s1, a, r, 0, s2, terminal)
}

// AppendWithReturn is Append with an accompanying Monte-Carlo return.
func (m *Memory) AppendWithReturn(s1 []float32, a int, r, mcReturn float32, _ []float32, terminal bool) {
	copy(m.frames[m.t], s1)
	for i := len(s1); i < m.frameSize; i++ {
		m.frames[m.t][i] = 0
	}
	m.actions[m.t] = a
	m.rewards[m.t] = r
	m.returns[m.t] = mcReturn
	m.terminals[m.t] = terminal

	m.t++
	if m.t >= m.capacity {
		m.t = 0
		m.filled = true
	}
}
// #endregion append

// #region accessors
// Size returns the number of stored transitions.
func (m *Memory) Size() int {
	if m.filled {
		return m.capacity
	}
	return m.t
}

// Filled reports whether the write cursor has wrapped at least once.
func (m *Memory) Filled() bool {
	return m.filled
}

// Capacity returns the maximum number of stored transitions.
func (m *Memory) Capacity() int {
	return m.capacity
}

// FrameHistory returns the number of frames stacked per sample.
func (m *Memory) FrameHistory() int {
	return m.frameHistory
}

// Cursor returns the next write position.
func (m *Memory) Cursor() int {
	return m.t
}
// #endregion accessors

// #region get-sample
// Get builds the stacked sample for transition index. Frames before the most
// recent terminal transition inside the history window are masked out.
func (m *Memory) Get(index int) Sample {
	fh := m.frameHistory
	start := index - (fh - 1)
	end := index + 2
	frames := Window(m.frames, start, end)
	terms := Window(m.terminals, start, end-1)

	mask := make([]float32, fh)
	for i := range mask {
		mask[i] = 1
	}
	for i := fh - 2; i >= 0; i-- {
		if terms.At(i) {
			for k := i; k >= 0; k-- {
				mask[k] = 0
			}
			break
		}
	}
	nextMask := make([]float32, 0, fh)
	nextMask = append(nextMask, mask[1:]...)
	nextMask = append(nextMask, 1)

	state := make([][]float32, fh)
	next := make([][]float32, fh)
	for i := 0; i < fh; i++ {
		state[i] = append([]float32(nil), frames.At(i)...)
		next[i] = append([]float32(nil), frames.At(i+1)...)
	}

	return Sample{
		State:    state,
		Action:   m.actions[index],
		Reward:   m.rewards[index],
		Return:   m.returns[index],
		Next:     next,
		Terminal: m.terminals[index],
		Mask:     mask,
		NextMask: nextMask,
	}
}
// #endregion get-sample

// #region sample
// drawIndex picks a stored transition. Before the buffer wraps any index below
// the cursor is valid; the newest one is the end of a path and stored
// terminal, so its unwritten next frame is never bootstrapped. When the
// buffer is full the frameHistory+1 slots starting at the cursor are skipped:
// their history would straddle the oldest/newest boundary.
func (m *Memory) drawIndex() (int, error) {
	if !m.filled {
		if m.t < 1 {
			return 0, ErrNotEnoughData
		}
		return m.rng.IntN(m.t), nil
	}
	span := m.capacity - (m.frameHistory + 1)
	return (m.t + m.frameHistory + m.rng.IntN(span)) % m.capacity, nil
}

// Sample draws n transitions uniformly from the valid range.
func (m *Memory) Sample(n int) (Batch, error) {
	b := Batch{
		States:    make([][][]float32, 0, n),
		Actions:   make([]int, 0, n),
		Rewards:   make([]float32, 0, n),
		Returns:   make([]float32, 0, n),
		Next:      make([][][]float32, 0, n),
		Terminals: make([]bool, 0, n),
		Masks:     make([][]float32, 0, n),
		NextMasks: make([][]float32, 0, n),
	}
	for i := 0; i < n; i++ {
		idx, err := m.drawIndex()
		if err != nil {
			return Batch{}, err
		}
		s := m.Get(idx)
		b.States = append(b.States, s.State)
		b.Actions = append(b.Actions, s.Action)
		b.Rewards = append(b.Rewards, s.Reward)
		b.Returns = append(b.Returns, s.Return)
		b.Next = append(b.Next, s.Next)
		b.Terminals = append(b.Terminals, s.Terminal)
		b.Masks = append(b.Masks, s.Mask)
		b.NextMasks = append(b.NextMasks, s.NextMask)
	}
	return b, nil
}
// #endregion sample
