package selector

import (
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrNoActions is returned when asked to choose among zero Q-values.
var ErrNoActions = errors.New("no actions to select from")

// #region selector
// Selector turns per-action values into a choice of action index.
type Selector struct {
	src         rand.Source
	rng         *rand.Rand
	temperature float64
}

// New returns a selector with its own seeded random source. A non-positive
// temperature defaults to 1.
func New(seed uint64, temperature float64) *Selector {
	if temperature <= 0 {
		temperature = 1
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Selector{src: src, rng: rand.New(src), temperature: temperature}
}

// Select picks greedily when evaluating and by softmax otherwise.
func (s *Selector) Select(qs []float64, evaluation bool) (int, error) {
	if evaluation {
		return s.Greedy(qs)
	}
	return s.Softmax(qs)
}
// #endregion selector

// #region greedy
// Greedy picks uniformly at random among the indices attaining the maximum.
func (s *Selector) Greedy(qs []float64) (int, error) {
	if len(qs) == 0 {
		return 0, ErrNoActions
	}
	best := floats.Max(qs)
	var ties []int
	for i, q := range qs {
		if q == best {
			ties = append(ties, i)
		}
	}
	return ties[s.rng.IntN(len(ties))], nil
}
// #endregion greedy

// #region softmax
// Distribution min-max normalises qs to [0, 1] and applies a softmax with the
// selector's temperature. A constant vector yields the uniform distribution.
func (s *Selector) Distribution(qs []float64) ([]float64, error) {
	if len(qs) == 0 {
		return nil, ErrNoActions
	}
	lo, hi := floats.Min(qs), floats.Max(qs)
	dist := make([]float64, len(qs))
	if hi == lo {
		for i := range dist {
			dist[i] = 1 / float64(len(qs))
		}
		return dist, nil
	}
	for i, q := range qs {
		dist[i] = math.Exp(s.temperature * (q - lo) / (hi - lo))
	}
	floats.Scale(1/floats.Sum(dist), dist)
	return dist, nil
}

// Softmax samples an index from Distribution(qs).
func (s *Selector) Softmax(qs []float64) (int, error) {
	dist, err := s.Distribution(qs)
	if err != nil {
		return 0, err
	}
	return int(distuv.NewCategorical(dist, s.src).Rand()), nil
}
// #endregion softmax
