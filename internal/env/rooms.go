// Package env provides a rooms gridworld: square rooms laid out on a grid,
// connected by one door in the middle of every shared wall. The goal cell is
// the far corner of the last room.
package env

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/danielpatrickdp/abstract-rmax/internal/abstract"
	"github.com/danielpatrickdp/abstract-rmax/internal/learner"
)

// Primitive actions.
const (
	Up = iota
	Right
	Down
	Left
	NumActions
)

// ErrEpisodeOver is returned by Perform after the episode has terminated.
var ErrEpisodeOver = errors.New("episode is over")

// #region config
// Config describes the layout and dynamics.
type Config struct {
	RoomsX     int     // rooms per row
	RoomsY     int     // rooms per column
	RoomSize   int     // cells per room side
	MaxSteps   int     // episode length cap, 0 = none
	GoalReward float64 // reward for reaching the goal cell
	StepReward float64 // reward for every other step
	Slip       float64 // probability of a uniformly random action
	Seed       uint64
}

// DefaultConfig is a 3x1 corridor of 5x5 rooms.
func DefaultConfig() Config {
	return Config{
		RoomsX:     3,
		RoomsY:     1,
		RoomSize:   5,
		MaxSteps:   500,
		GoalReward: 1,
		Slip:       0,
		Seed:       1,
	}
}

func (c Config) validate() error {
	if c.RoomsX < 1 || c.RoomsY < 1 {
		return fmt.Errorf("rooms layout %dx%d must be at least 1x1", c.RoomsX, c.RoomsY)
	}
	if c.RoomSize < 2 {
		return fmt.Errorf("room size %d must be at least 2", c.RoomSize)
	}
	if c.Slip < 0 || c.Slip > 1 {
		return fmt.Errorf("slip %v outside [0, 1]", c.Slip)
	}
	return nil
}
// #endregion config

// #region rooms
// Rooms is a learner.Environment. Observations are the agent's (x, y) cell.
type Rooms struct {
	cfg      Config
	rng      *rand.Rand
	x, y     int
	steps    int
	terminal bool
}

// New returns a gridworld with the agent in its start cell.
func New(cfg Config) (*Rooms, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &Rooms{cfg: cfg, rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))}
	if err := r.Reset(); err != nil {
		return nil, err
	}
	return r, nil
}

// Width returns the number of cell columns.
func (r *Rooms) Width() int { return r.cfg.RoomsX * r.cfg.RoomSize }

// Height returns the number of cell rows.
func (r *Rooms) Height() int { return r.cfg.RoomsY * r.cfg.RoomSize }

// Goal returns the goal cell.
func (r *Rooms) Goal() (int, int) { return r.Width() - 1, r.Height() - 1 }

// Position returns the agent's cell.
func (r *Rooms) Position() (int, int) { return r.x, r.y }

// Teleport moves the agent to (x, y) without taking a step.
func (r *Rooms) Teleport(x, y int) error {
	if x < 0 || y < 0 || x >= r.Width() || y >= r.Height() {
		return fmt.Errorf("teleport to (%d, %d): outside %dx%d grid", x, y, r.Width(), r.Height())
	}
	r.x, r.y = x, y
	return nil
}

// CurrentState returns the observation of the agent's cell.
func (r *Rooms) CurrentState() []float32 {
	return []float32{float32(r.x), float32(r.y)}
}

// IsTerminal reports whether the goal was reached or the step cap hit.
func (r *Rooms) IsTerminal() bool {
	return r.terminal
}

// Actions returns the primitive actions; all are legal everywhere.
func (r *Rooms) Actions([]float32) []int {
	return []int{Up, Right, Down, Left}
}

// Reset puts the agent back in the first cell of the first room.
func (r *Rooms) Reset() error {
	r.x, r.y = 0, 0
	r.steps = 0
	r.terminal = false
	return nil
}

// Perform applies a primitive action. Moves into a wall leave the agent in
// place.
func (r *Rooms) Perform(action int) (learner.Step, error) {
	if r.terminal {
		return learner.Step{}, ErrEpisodeOver
	}
	if action < 0 || action >= NumActions {
		return learner.Step{}, fmt.Errorf("unknown action %d", action)
	}
	before := r.CurrentState()
	if r.cfg.Slip > 0 && r.rng.Float64() < r.cfg.Slip {
		action = r.rng.IntN(NumActions)
	}

	nx, ny := r.x, r.y
	switch action {
	case Up:
		ny--
	case Right:
		nx++
	case Down:
		ny++
	case Left:
		nx--
	}
	if r.passable(r.x, r.y, nx, ny) {
		r.x, r.y = nx, ny
	}
	r.steps++

	reward := r.cfg.StepReward
	if gx, gy := r.Goal(); r.x == gx && r.y == gy {
		reward = r.cfg.GoalReward
		r.terminal = true
	}
	if r.cfg.MaxSteps > 0 && r.steps >= r.cfg.MaxSteps {
		r.terminal = true
	}
	return learner.Step{
		State:    before,
		Action:   action,
		Reward:   reward,
		Next:     r.CurrentState(),
		Terminal: r.terminal,
	}, nil
}

// passable reports whether a move between two adjacent cells is allowed:
// inside the grid and, across a room boundary, only through the door.
func (r *Rooms) passable(x, y, nx, ny int) bool {
	if nx < 0 || ny < 0 || nx >= r.Width() || ny >= r.Height() {
		return false
	}
	size := r.cfg.RoomSize
	door := size / 2
	if x/size != nx/size {
		return y%size == door
	}
	if y/size != ny/size {
		return x%size == door
	}
	return true
}
// #endregion rooms

// #region abstraction
// RoomAbstractor maps a cell observation to the room containing it.
type RoomAbstractor struct {
	RoomSize int
	RoomsX   int
	RoomsY   int
}

// Abstractor returns the room abstraction of r's layout.
func (r *Rooms) Abstractor() RoomAbstractor {
	return RoomAbstractor{RoomSize: r.cfg.RoomSize, RoomsX: r.cfg.RoomsX, RoomsY: r.cfg.RoomsY}
}

// Abstract implements abstract.Abstractor. The vector is the room position
// scaled to [0, 1].
func (a RoomAbstractor) Abstract(obs []float32) abstract.State {
	rx := int(obs[0]) / a.RoomSize
	ry := int(obs[1]) / a.RoomSize
	return abstract.NewState(
		fmt.Sprintf("room-%d-%d", rx, ry),
		[]float64{scale(rx, a.RoomsX), scale(ry, a.RoomsY)},
	)
}

func scale(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return float64(i) / float64(n-1)
}
// #endregion abstraction
