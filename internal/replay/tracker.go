package replay

// #region tracker
type pendingStep struct {
	s1       []float32
	action   int
	reward   float32
	s2       []float32
	terminal bool
}

// PathTracker buffers the transitions of the current path and, when the path
// ends, appends them to a Memory together with their discounted Monte-Carlo
// returns. Paths longer than maxLength are cut and flushed early.
type PathTracker struct {
	mem       *Memory
	maxLength int
	gamma     float32
	path      []pendingStep
}

// NewPathTracker returns a tracker writing into mem.
func NewPathTracker(mem *Memory, maxLength int, gamma float64) *PathTracker {
	if maxLength < 1 {
		maxLength = 1
	}
	return &PathTracker{mem: mem, maxLength: maxLength, gamma: float32(gamma)}
}

// Append buffers one transition, flushing on terminal or at the length cap.
func (p *PathTracker) Append(s1 []float32, a int, r float32, s2 []float32, terminal bool) {
	p.path = append(p.path, pendingStep{
		s1:       append([]float32(nil), s1...),
		action:   a,
		reward:   r,
		s2:       append([]float32(nil), s2...),
		terminal: terminal,
	})
	if terminal || len(p.path) >= p.maxLength {
		p.Flush()
	}
}

// Flush writes the buffered path to memory. The return of the last step is
// its own reward: nothing is bootstrapped past the end of the path. The last
// step is stored terminal even when the path was cut short, so the next path
// appended to the same memory neither bootstraps through it nor stacks its
// frames.
func (p *PathTracker) Flush() {
	if len(p.path) == 0 {
		return
	}
	p.path[len(p.path)-1].terminal = true
	returns := make([]float32, len(p.path))
	var acc float32
	for i := len(p.path) - 1; i >= 0; i-- {
		acc = p.path[i].reward + p.gamma*acc
		returns[i] = acc
	}
	for i, st := range p.path {
		p.mem.AppendWithReturn(st.s1, st.action, st.reward, returns[i], st.s2, st.terminal)
	}
	p.path = p.path[:0]
}

// Pending returns the number of buffered, unflushed transitions.
func (p *PathTracker) Pending() int {
	return len(p.path)
}
// #endregion tracker
