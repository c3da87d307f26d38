// Package timestep implements the fine-side sub-cycling state machine.
//
// The fine integrator takes any number of sub-steps inside one coarse cycle.
// The last sub-step of a cycle is shortened so that the time elapsed in the
// cycle lands exactly on the budget that the coarse side granted. The state
// transitions are pure functions so that they can be tested without any
// communication.
package timestep

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrNonPositiveBudget   = errors.New("timestep: cycle budget must be positive and finite")
	ErrCheckpointRegressed = errors.New("timestep: coarse checkpoint is not ahead of the fine clock")
	ErrNegativeStep        = errors.New("timestep: step size must be non-negative and finite")
	ErrNoBudget            = errors.New("timestep: no budget negotiated for the current cycle")
	ErrNotCatchingUp       = errors.New("timestep: negotiation requested in the middle of a cycle")
)

// LandingTolerance is the relative slack, scaled by max(1, budget), under
// which the time left in a cycle after a step counts as zero. It keeps
// rounding in the running sum from producing a vanishing extra sub-step.
const LandingTolerance = 1e-9

// State is the sub-cycling state of the fine side.
type State struct {
	// Catchup is set when a new budget must be negotiated before stepping.
	Catchup bool

	// Budget is the duration the current cycle must consume exactly.
	Budget float64

	// Elapsed is the time consumed so far in the current cycle.
	Elapsed float64

	// Clock is the absolute fine time at the start of the current cycle.
	Clock float64

	// Cycle counts negotiated cycles.
	Cycle int
}

// Initial returns the state of a freshly created fine exchanger.
func Initial() State {
	return State{Catchup: true}
}

// Phase returns CATCHUP or RUNNING.
func (s State) Phase() string {
	if s.Catchup {
		return "CATCHUP"
	}

	return "RUNNING"
}

// Now returns the absolute fine time.
func (s State) Now() float64 {
	return s.Clock + s.Elapsed
}

// Remaining returns the time left in the current cycle.
func (s State) Remaining() float64 {
	return s.Budget - s.Elapsed
}

// BeginCycle starts a new cycle with the budget granted by the coarse side.
// checkpoint is the coarse time at which the new cycle ends; it must lie
// ahead of the fine clock.
func BeginCycle(s State, budget, checkpoint float64) (State, error) {
	if !s.Catchup {
		return s, ErrNotCatchingUp
	}

	if !(budget > 0) || math.IsInf(budget, 0) {
		return s, fmt.Errorf("%w: got %v", ErrNonPositiveBudget, budget)
	}

	clock := s.Clock + s.Elapsed
	if !(checkpoint > clock) {
		return s, fmt.Errorf("%w: checkpoint %v, fine clock %v",
			ErrCheckpointRegressed, checkpoint, clock)
	}

	return State{
		Catchup: false,
		Budget:  budget,
		Elapsed: 0,
		Clock:   clock,
		Cycle:   s.Cycle + 1,
	}, nil
}

// Advance accounts for a proposed step dt and returns the step that may
// actually be taken. When the cycle budget is reached, the returned step is
// clipped so that the cycle ends exactly on the budget, and the state goes
// back to catching up. A step that would leave less than LandingTolerance of
// the budget is stretched to close the cycle instead.
func Advance(s State, dt float64) (State, float64, error) {
	if s.Catchup {
		return s, 0, ErrNoBudget
	}

	if !(dt >= 0) || math.IsInf(dt, 0) {
		return s, 0, fmt.Errorf("%w: got %v", ErrNegativeStep, dt)
	}

	remaining := s.Remaining()
	if remaining-dt > LandingTolerance*math.Max(1, s.Budget) {
		s.Elapsed += dt
		return s, dt, nil
	}

	// The remainder rather than dt - (Elapsed + dt - Budget), so the
	// overshooting sum is never formed.
	s.Elapsed = s.Budget
	s.Catchup = true

	return s, remaining, nil
}
