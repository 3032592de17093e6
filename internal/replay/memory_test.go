package replay

import (
	"errors"
	"reflect"
	"testing"
)

func frame(v float32) []float32 {
	return []float32{v, -v}
}

func newTestMemory(t *testing.T, capacity, frameHistory int) *Memory {
	t.Helper()
	m, err := NewMemory(2, capacity, frameHistory, 1)
	if err != nil {
		t.Fatalf("new memory: %v", err)
	}
	return m
}

// fill appends n transitions whose frame, action and reward all encode the
// global step number, marking the given steps terminal.
func fill(m *Memory, n int, terminalAt ...int) {
	term := map[int]bool{}
	for _, i := range terminalAt {
		term[i] = true
	}
	for i := 0; i < n; i++ {
		m.Append(frame(float32(i)), i, float32(i), frame(float32(i+1)), term[i])
	}
}

func firstValues(frames [][]float32) []float32 {
	out := make([]float32, len(frames))
	for i, f := range frames {
		out[i] = f[0]
	}
	return out
}

// #region window-tests
func TestWindowPlain(t *testing.T) {
	arr := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	v := Window(arr, 2, 5)
	if !reflect.DeepEqual(v.Slice(), []int{2, 3, 4}) {
		t.Errorf("unexpected plain window %v", v.Slice())
	}
}

func TestWindowWrapsNegativeStart(t *testing.T) {
	arr := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	v := Window(arr, -2, 3)
	if v.Len() != 5 {
		t.Fatalf("expected length 5, got %d", v.Len())
	}
	if !reflect.DeepEqual(v.Slice(), []int{8, 9, 0, 1, 2}) {
		t.Errorf("unexpected window %v", v.Slice())
	}
	if v.At(1) != 9 || v.At(2) != 0 {
		t.Errorf("At crosses the seam incorrectly: %d %d", v.At(1), v.At(2))
	}
}

func TestWindowWrapsPastEnd(t *testing.T) {
	arr := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	v := Window(arr, 8, 12)
	if v.Len() != 4 {
		t.Fatalf("expected length 4, got %d", v.Len())
	}
	if !reflect.DeepEqual(v.Slice(), []int{8, 9, 0, 1}) {
		t.Errorf("unexpected window %v", v.Slice())
	}
}

func TestWindowSliceIsCopy(t *testing.T) {
	arr := []int{0, 1, 2, 3}
	s := Window(arr, 0, 2).Slice()
	s[0] = 42
	if arr[0] != 0 {
		t.Error("Slice must not alias the backing array")
	}
}

// #endregion window-tests

// #region append-tests
func TestNewMemoryValidation(t *testing.T) {
	if _, err := NewMemory(2, 5, 4, 1); err == nil {
		t.Error("capacity must exceed frame history + 1")
	}
	if _, err := NewMemory(0, 10, 1, 1); err == nil {
		t.Error("frame size must be positive")
	}
	if _, err := NewMemory(2, 10, 0, 1); err == nil {
		t.Error("frame history must be positive")
	}
}

func TestSizeAndFilled(t *testing.T) {
	m := newTestMemory(t, 6, 2)
	for i := 0; i < 6; i++ {
		if m.Filled() {
			t.Fatalf("filled too early after %d appends", i)
		}
		if m.Size() != i {
			t.Fatalf("expected size %d, got %d", i, m.Size())
		}
		m.Append(frame(1), 0, 0, frame(2), false)
	}
	if !m.Filled() || m.Size() != 6 {
		t.Fatalf("after capacity appends: filled=%v size=%d", m.Filled(), m.Size())
	}
	if m.Cursor() != 0 {
		t.Errorf("cursor should wrap to 0, got %d", m.Cursor())
	}
	for i := 0; i < 20; i++ {
		m.Append(frame(1), 0, 0, frame(2), false)
		if m.Size() > m.Capacity() {
			t.Fatalf("size %d exceeds capacity", m.Size())
		}
	}
}

func TestAppendOverwritesOldest(t *testing.T) {
	m := newTestMemory(t, 4, 1)
	fill(m, 6)
	// slots hold steps 4, 5, 2, 3
	s := m.Get(0)
	if s.Action != 4 || s.Reward != 4 || s.State[0][0] != 4 || s.State[0][1] != -4 {
		t.Errorf("slot 0 should hold step 4, got %+v", s)
	}
}

// #endregion append-tests

// #region mask-tests
func TestMaskTerminalInHistory(t *testing.T) {
	m := newTestMemory(t, 10, 4)
	fill(m, 6, 2) // third transition terminal

	s := m.Get(4)
	if got := firstValues(s.State); !reflect.DeepEqual(got, []float32{1, 2, 3, 4}) {
		t.Fatalf("unexpected state frames %v", got)
	}
	if got := firstValues(s.Next); !reflect.DeepEqual(got, []float32{2, 3, 4, 5}) {
		t.Fatalf("unexpected next frames %v", got)
	}
	// frames 1 and 2 belong to the finished episode
	if !reflect.DeepEqual(s.Mask, []float32{0, 0, 1, 1}) {
		t.Errorf("unexpected mask %v", s.Mask)
	}
	if !reflect.DeepEqual(s.NextMask, []float32{0, 1, 1, 1}) {
		t.Errorf("unexpected next mask %v", s.NextMask)
	}
}

func TestMaskZeroesThreeEarliestSlots(t *testing.T) {
	m := newTestMemory(t, 10, 4)
	fill(m, 6, 3)

	s := m.Get(4)
	if !reflect.DeepEqual(s.Mask, []float32{0, 0, 0, 1}) {
		t.Errorf("unexpected mask %v", s.Mask)
	}
	if !reflect.DeepEqual(s.NextMask, []float32{0, 0, 1, 1}) {
		t.Errorf("unexpected next mask %v", s.NextMask)
	}
}

func TestMaskUsesMostRecentTerminal(t *testing.T) {
	m := newTestMemory(t, 10, 4)
	fill(m, 6, 1, 2)

	s := m.Get(4)
	if !reflect.DeepEqual(s.Mask, []float32{0, 0, 1, 1}) {
		t.Errorf("unexpected mask %v", s.Mask)
	}
}

func TestMaskIgnoresTerminalAtSampledIndex(t *testing.T) {
	m := newTestMemory(t, 10, 4)
	fill(m, 6, 4)

	s := m.Get(4)
	if !s.Terminal {
		t.Error("sample should carry its terminal flag")
	}
	if !reflect.DeepEqual(s.Mask, []float32{1, 1, 1, 1}) {
		t.Errorf("unexpected mask %v", s.Mask)
	}
}

// #endregion mask-tests

// #region wrap-tests
func TestGetWrapsNearStart(t *testing.T) {
	m := newTestMemory(t, 6, 3)
	fill(m, 8) // slots: 6 7 2 3 4 5

	s := m.Get(0)
	if got := firstValues(s.State); !reflect.DeepEqual(got, []float32{4, 5, 6}) {
		t.Errorf("unexpected state frames %v", got)
	}
	if got := firstValues(s.Next); !reflect.DeepEqual(got, []float32{5, 6, 7}) {
		t.Errorf("unexpected next frames %v", got)
	}
}

func TestGetWrapsNearEnd(t *testing.T) {
	m := newTestMemory(t, 6, 3)
	fill(m, 8)

	s := m.Get(5)
	if got := firstValues(s.State); !reflect.DeepEqual(got, []float32{3, 4, 5}) {
		t.Errorf("unexpected state frames %v", got)
	}
	if got := firstValues(s.Next); !reflect.DeepEqual(got, []float32{4, 5, 6}) {
		t.Errorf("unexpected next frames %v", got)
	}
	if len(s.State) != 3 || len(s.Next) != 3 {
		t.Errorf("stacks must have frame history length")
	}
}

func TestGetReturnsCopies(t *testing.T) {
	m := newTestMemory(t, 6, 2)
	fill(m, 4)
	s := m.Get(2)
	s.State[1][0] = 99
	if m.Get(2).State[1][0] != 2 {
		t.Error("sample frames must not alias memory storage")
	}
}

// #endregion wrap-tests

// #region sample-tests
func TestSampleNotEnoughData(t *testing.T) {
	m := newTestMemory(t, 6, 2)
	if _, err := m.Sample(1); !errors.Is(err, ErrNotEnoughData) {
		t.Fatalf("expected ErrNotEnoughData on empty memory, got %v", err)
	}
}

func TestSampleSingleTransition(t *testing.T) {
	m := newTestMemory(t, 6, 2)
	fill(m, 1, 0)
	b, err := m.Sample(3)
	if err != nil {
		t.Fatalf("a lone stored transition must be sampleable: %v", err)
	}
	for i, a := range b.Actions {
		if a != 0 || !b.Terminals[i] {
			t.Fatalf("expected the terminal transition 0, got action %d terminal %v", a, b.Terminals[i])
		}
	}
}

func TestSamplePartiallyFilled(t *testing.T) {
	m := newTestMemory(t, 20, 2)
	fill(m, 5, 4)

	b, err := m.Sample(1000)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if b.Len() != 1000 {
		t.Fatalf("expected 1000 samples, got %d", b.Len())
	}
	seen := map[int]bool{}
	for _, a := range b.Actions {
		if a < 0 || a > 4 {
			t.Fatalf("sampled index %d outside [0, cursor)", a)
		}
		seen[a] = true
	}
	if len(seen) != 5 {
		t.Errorf("expected all 5 indices below the cursor to be drawn, got %v", seen)
	}
}

func TestSampleFullSkipsBoundary(t *testing.T) {
	m := newTestMemory(t, 10, 3)
	for i := 0; i < 13; i++ {
		m.Append(frame(float32(i)), i%10, 0, nil, false)
	}
	// cursor at 3: newest is slot 2, oldest are slots 3, 4, 5
	b, err := m.Sample(2000)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	allowed := map[int]bool{6: true, 7: true, 8: true, 9: true, 0: true, 1: true}
	seen := map[int]bool{}
	for i, slot := range b.Actions {
		if !allowed[slot] {
			t.Fatalf("sampled boundary slot %d", slot)
		}
		seen[slot] = true
		if len(b.States[i]) != 3 || len(b.Masks[i]) != 3 || len(b.NextMasks[i]) != 3 {
			t.Fatalf("unexpected stack sizes")
		}
	}
	if len(seen) != len(allowed) {
		t.Errorf("expected every valid slot drawn, got %v", seen)
	}
}

// #endregion sample-tests

// #region tracker-tests
func TestPathTrackerReturns(t *testing.T) {
	m := newTestMemory(t, 10, 1)
	p := NewPathTracker(m, 100, 0.5)

	p.Append(frame(0), 0, 1, frame(1), false)
	p.Append(frame(1), 1, 2, frame(2), false)
	if m.Size() != 0 || p.Pending() != 2 {
		t.Fatalf("path should be buffered until it ends: size=%d pending=%d", m.Size(), p.Pending())
	}
	p.Append(frame(2), 2, 4, frame(3), true)

	if m.Size() != 3 || p.Pending() != 0 {
		t.Fatalf("terminal should flush: size=%d pending=%d", m.Size(), p.Pending())
	}
	want := []float32{3, 4, 4}
	for i, w := range want {
		if got := m.Get(i).Return; got != w {
			t.Errorf("return[%d]: want %v got %v", i, w, got)
		}
	}
	if m.Get(1).Reward != 2 {
		t.Errorf("reward must be kept alongside return")
	}
}

func TestPathTrackerCutsLongPaths(t *testing.T) {
	m := newTestMemory(t, 10, 1)
	p := NewPathTracker(m, 2, 1)
	for i := 0; i < 3; i++ {
		p.Append(frame(float32(i)), i, 1, nil, false)
	}
	if m.Size() != 2 || p.Pending() != 1 {
		t.Fatalf("expected 2 flushed and 1 pending, got size=%d pending=%d", m.Size(), p.Pending())
	}
	if m.Get(0).Return != 2 || m.Get(1).Return != 1 {
		t.Errorf("unexpected returns %v %v", m.Get(0).Return, m.Get(1).Return)
	}
	p.Flush()
	p.Flush()
	if m.Size() != 3 {
		t.Errorf("explicit flush should write the remainder once, size=%d", m.Size())
	}
	if m.Get(0).Terminal || !m.Get(1).Terminal || !m.Get(2).Terminal {
		t.Errorf("each cut path should end terminal: %v %v %v",
			m.Get(0).Terminal, m.Get(1).Terminal, m.Get(2).Terminal)
	}
}

func TestPathTrackerCutPathMasksNextPath(t *testing.T) {
	m := newTestMemory(t, 10, 2)
	p := NewPathTracker(m, 100, 1)

	p.Append(frame(0), 0, 0, frame(1), false)
	p.Flush()
	p.Append(frame(7), 1, 0, frame(8), false)
	p.Flush()

	first := m.Get(0)
	if !first.Terminal {
		t.Fatalf("truncated step must be stored terminal")
	}
	second := m.Get(1)
	if got := firstValues(second.State); !reflect.DeepEqual(got, []float32{0, 7}) {
		t.Fatalf("unexpected stacked frames %v", got)
	}
	if !reflect.DeepEqual(second.Mask, []float32{0, 1}) {
		t.Errorf("frame from the previous path must be masked, got %v", second.Mask)
	}
}

// #endregion tracker-tests
