package model

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/danielpatrickdp/abstract-rmax/internal/abstract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	stateA abstract.StateID = 0
	stateB abstract.StateID = 1
	stateC abstract.StateID = 2
	stateD abstract.StateID = 3

	explore abstract.ActionID = 0
)

func newTable(t *testing.T, window, confidence int) *Table {
	t.Helper()
	tbl, err := NewTable(Config{Window: window, Confidence: confidence, RMax: 10})
	require.NoError(t, err)
	return tbl
}

// #region window-tests
func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	assert.Equal(t, 0.0, w.Mean())

	for _, x := range []float64{1, 2, 3, 4} {
		w.Push(x)
	}
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, []float64{2, 3, 4}, w.Values())
	assert.InDelta(t, 3.0, w.Mean(), 1e-12)
}

func TestWindowRunningSumStaysExact(t *testing.T) {
	w := NewWindow(7)
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 10_000; i++ {
		w.Push(rng.Float64() * 1e6)
	}
	var sum float64
	for _, v := range w.Values() {
		sum += v
	}
	assert.InDelta(t, sum/7, w.Mean(), 1e-6)
}

func TestNewTableRejectsBadConfig(t *testing.T) {
	_, err := NewTable(Config{Window: 0})
	assert.Error(t, err)
	_, err = NewTable(Config{Window: 5, Confidence: -1})
	assert.Error(t, err)
}
// #endregion window-tests

// #region insert-tests
func TestInsertSingleTransition(t *testing.T) {
	tbl := newTable(t, 100, 3)
	tbl.Insert(stateA, explore, stateB, 1.0, false)

	assert.Equal(t, []abstract.StateID{stateB}, tbl.Successors(stateA, explore))

	p, err := tbl.P(stateA, explore, stateB)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)

	visits, ok := tbl.Visits(stateA, explore)
	require.True(t, ok)
	assert.Equal(t, 0, visits, "first visit is recorded as 0")

	r, err := tbl.R(stateA, explore, stateB, false)
	require.NoError(t, err)
	assert.Equal(t, 10.0, r, "below confidence the R-max bonus is returned")

	r, err = tbl.R(stateA, explore, stateB, true)
	require.NoError(t, err)
	assert.Equal(t, 1.0, r, "evaluation always uses the empirical mean")
}

func TestRewardBecomesEmpiricalAtConfidence(t *testing.T) {
	const confidence = 3
	tbl := newTable(t, 100, confidence)

	// visit count after k insertions is k-1
	for i := 0; i < confidence; i++ {
		tbl.Insert(stateA, explore, stateB, 1.0, false)
		r, err := tbl.R(stateA, explore, stateB, false)
		require.NoError(t, err)
		assert.Equal(t, 10.0, r, "insertion %d", i+1)
	}
	tbl.Insert(stateA, explore, stateB, 1.0, false)
	r, err := tbl.R(stateA, explore, stateB, false)
	require.NoError(t, err)
	assert.Equal(t, 1.0, r)
}

func TestProbabilitiesSumToOne(t *testing.T) {
	tbl := newTable(t, 16, 1)
	rng := rand.New(rand.NewPCG(7, 7))
	nexts := []abstract.StateID{stateB, stateC, stateD}

	for i := 0; i < 200; i++ {
		// successors are discovered progressively
		sp := nexts[rng.IntN(1+min(i/20, 2))]
		tbl.Insert(stateA, explore, sp, rng.Float64(), false)

		var sum float64
		for _, succ := range tbl.Successors(stateA, explore) {
			p, err := tbl.P(stateA, explore, succ)
			require.NoError(t, err)
			sum += p
		}
		require.InDelta(t, 1.0, sum, 1e-9, "after insertion %d", i+1)
	}
}

func TestSuccessorWindowsStaySynchronised(t *testing.T) {
	tbl := newTable(t, 4, 1)
	tbl.Insert(stateA, explore, stateB, 0, false)
	tbl.Insert(stateA, explore, stateB, 0, false)
	tbl.Insert(stateA, explore, stateC, 0, false)

	pb, _ := tbl.P(stateA, explore, stateB)
	pc, _ := tbl.P(stateA, explore, stateC)
	assert.InDelta(t, 2.0/3.0, pb, 1e-12)
	assert.InDelta(t, 1.0/3.0, pc, 1e-12)

	// windows of length 4 forget the early B samples
	tbl.Insert(stateA, explore, stateC, 0, false)
	tbl.Insert(stateA, explore, stateC, 0, false)
	tbl.Insert(stateA, explore, stateC, 0, false)
	pb, _ = tbl.P(stateA, explore, stateB)
	pc, _ = tbl.P(stateA, explore, stateC)
	assert.Equal(t, 0.0, pb)
	assert.Equal(t, 1.0, pc)
	assert.Equal(t, []float64{0, 0, 0, 0}, tbl.transitions[sasKey{stateA, explore, stateB}].Values())
}

func TestRewardWindowIsPerTriple(t *testing.T) {
	tbl := newTable(t, 2, 0)
	tbl.Insert(stateA, explore, stateB, 1, false)
	tbl.Insert(stateA, explore, stateB, 3, false)
	tbl.Insert(stateA, explore, stateB, 5, false)
	tbl.Insert(stateA, explore, stateC, -1, false)

	rb, err := tbl.R(stateA, explore, stateB, false)
	require.NoError(t, err)
	assert.Equal(t, 4.0, rb)
	rc, err := tbl.R(stateA, explore, stateC, false)
	require.NoError(t, err)
	assert.Equal(t, -1.0, rc)
}

func TestProbTerminalIgnoresAction(t *testing.T) {
	tbl := newTable(t, 10, 1)
	assert.Equal(t, 0.0, tbl.ProbTerminal(stateB), "no samples means 0")

	tbl.Insert(stateA, explore, stateB, 0, true)
	tbl.Insert(stateC, 5, stateB, 0, false)
	assert.InDelta(t, 0.5, tbl.ProbTerminal(stateB), 1e-12)
}

func TestQueriesOnUnobservedTriple(t *testing.T) {
	tbl := newTable(t, 10, 1)
	_, err := tbl.P(stateA, explore, stateB)
	assert.ErrorIs(t, err, ErrUnobserved)
	_, err = tbl.R(stateA, explore, stateB, true)
	assert.ErrorIs(t, err, ErrUnobserved)

	tbl.Insert(stateA, explore, stateB, 0, false)
	_, err = tbl.R(stateA, explore, stateC, true)
	assert.ErrorIs(t, err, ErrUnobserved)
	assert.False(t, tbl.HasSuccessor(stateA, explore, stateC))
	assert.True(t, tbl.HasSuccessor(stateA, explore, stateB))
}

func TestGlobalSets(t *testing.T) {
	tbl := newTable(t, 10, 1)
	tbl.Insert(stateB, 1, stateA, 0, false)
	tbl.Insert(stateA, 0, stateB, 0, false)
	tbl.Insert(stateB, 2, stateC, 0, false)

	assert.Equal(t, []abstract.StateID{stateB, stateA}, tbl.States())
	assert.Equal(t, 3, tbl.NumActions())
	assert.Equal(t, 3, tbl.Len())
	assert.False(t, math.IsNaN(tbl.ProbTerminal(stateC)))
}
// #endregion insert-tests
