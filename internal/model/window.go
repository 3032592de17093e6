package model

import "gonum.org/v1/gonum/floats"

// #region window
// Window is a bounded moving-average buffer holding the most recent
// observations, oldest evicted first.
type Window struct {
	buf    []float64
	head   int
	n      int
	sum    float64
	pushes int
}

// NewWindow returns an empty window holding at most capacity values.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]float64, capacity)}
}

// Push appends x, evicting the oldest value when full.
func (w *Window) Push(x float64) {
	c := len(w.buf)
	if w.n < c {
		w.buf[w.n] = x
		w.n++
	} else {
		w.sum -= w.buf[w.head]
		w.buf[w.head] = x
		w.head = (w.head + 1) % c
	}
	w.sum += x
	w.pushes++
	// re-sum once per full turnover so the running sum cannot drift
	if w.pushes%c == 0 {
		w.sum = floats.Sum(w.buf[:w.n])
	}
}

// Mean returns the average of the held values, 0 when empty.
func (w *Window) Mean() float64 {
	if w.n == 0 {
		return 0
	}
	return w.sum / float64(w.n)
}

// Len returns the number of held values.
func (w *Window) Len() int {
	return w.n
}

// Cap returns the window capacity.
func (w *Window) Cap() int {
	return len(w.buf)
}

// Values returns the held values oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, 0, w.n)
	if w.n < len(w.buf) {
		return append(out, w.buf[:w.n]...)
	}
	out = append(out, w.buf[w.head:]...)
	return append(out, w.buf[:w.head]...)
}
// #endregion window
