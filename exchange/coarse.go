package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sarchlab/gridexchange/boundary"
	"github.com/sarchlab/gridexchange/comm"
)

// Coarse is the exchanger of the solver that covers the whole domain. It
// owns the canonical boundary and grants a time budget per coarse step.
type Coarse struct {
	exchangerBase

	clock  float64
	budget float64
	cycle  int
	steps  int
	pushes int
	open   bool
}

// NewCoarse creates a coarse-side exchanger.
func NewCoarse(opts Options) *Coarse {
	opts = opts.withDefaults(RoleCoarse)

	return &Coarse{
		exchangerBase: exchangerBase{name: opts.Name, opts: opts},
	}
}

// Role returns RoleCoarse.
func (c *Coarse) Role() Role {
	return RoleCoarse
}

// Clock returns the coarse time at the end of the last completed cycle.
func (c *Coarse) Clock() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.clock
}

// CreateExchanger binds the exchanger to the coarse solver.
func (c *Coarse) CreateExchanger(s Solver) error {
	if c.opts.Interface == nil {
		return fmt.Errorf("%w: coarse side needs an interface selector",
			ErrInvalidSetup)
	}

	return c.create(s)
}

// FindBoundary enumerates the interface nodes in canonical order and sends
// them to the fine side.
func (c *Coarse) FindBoundary(ctx context.Context) (*boundary.Boundary, error) {
	if err := c.mustBeCreated(); err != nil {
		return nil, err
	}

	b, m, err := boundary.Create(c.binding.Mesh, c.opts.Interface, c.opts.Tolerance)
	if err != nil {
		return nil, fmt.Errorf("exchange: creating boundary: %w", err)
	}

	if err := c.peer.SendBoundary(ctx, b.ID(), b.Points()); err != nil {
		return nil, fmt.Errorf("exchange: sending boundary: %w", err)
	}

	if err := c.setBoundary(b, m); err != nil {
		return nil, err
	}

	c.invoke(c, HookPosBoundary, b, nil)

	return b, nil
}

// InitializeFields sends the coarse field sampled at the boundary.
func (c *Coarse) InitializeFields(ctx context.Context) error {
	if err := c.mustHaveBoundary(); err != nil {
		return err
	}

	values, err := c.mapping.Gather(c.field())
	if err != nil {
		return err
	}

	if err := c.peer.SendField(ctx, c.opts.Field, values); err != nil {
		return fmt.Errorf("exchange: sending initial %s: %w", c.opts.Field, err)
	}

	c.invoke(c, HookPosFieldsInit, values, nil)

	return nil
}

// NewStep waits until the fine side opens the next cycle.
func (c *Coarse) NewStep(ctx context.Context) error {
	if err := c.mustHaveBoundary(); err != nil {
		return err
	}

	if c.open {
		return fmt.Errorf("%w: cycle %d has not been closed", ErrOutOfOrder, c.cycle)
	}

	msg, err := c.peer.WaitReady(ctx)
	if err != nil {
		return fmt.Errorf("exchange: waiting for ready: %w", err)
	}

	if msg.Cycle != c.cycle+1 {
		return fmt.Errorf("%w: fine opens cycle %d, coarse expects %d",
			ErrCycleMismatch, msg.Cycle, c.cycle+1)
	}

	pushed := msg.Values != nil
	if pushed != c.opts.PushFieldOnCycleStart {
		return fmt.Errorf("%w: field push on cycle start is %v here, %v there",
			ErrOptionMismatch, c.opts.PushFieldOnCycleStart, pushed)
	}

	if pushed {
		if err := c.mapping.Scatter(msg.Values, c.field()); err != nil {
			return err
		}
	}

	c.invoke(c, HookPosReady, msg.Values, nil)

	return nil
}

// StableTimestep answers the budget request of the fine side with dt and
// returns dt unchanged.
func (c *Coarse) StableTimestep(ctx context.Context, dt float64) (float64, error) {
	if err := c.mustHaveBoundary(); err != nil {
		return 0, err
	}

	if c.open {
		return 0, fmt.Errorf("%w: cycle %d has not been closed", ErrOutOfOrder, c.cycle)
	}

	if !(dt > 0) || math.IsInf(dt, 0) {
		return 0, fmt.Errorf("%w: coarse step %v", ErrInvalidSetup, dt)
	}

	req, err := c.peer.ServeTimestep(ctx, dt, c.clock+dt)
	if err != nil {
		return 0, fmt.Errorf("exchange: serving timestep: %w", err)
	}

	c.mu.Lock()
	c.budget = dt
	c.cycle++
	c.steps++
	c.pushes = 0
	c.open = true
	c.mu.Unlock()

	c.invoke(c, HookPosNegotiate, req, c.detail(req.Proposed, dt))

	return dt, nil
}

// ApplyBoundaryConditions receives the fine boundary values of every
// sub-step of the current cycle and writes each into the coarse field. Pushes
// must arrive numbered 1, 2, ... without gaps, and the final push must report
// that the fine side consumed the whole budget.
func (c *Coarse) ApplyBoundaryConditions(ctx context.Context) error {
	if err := c.mustHaveBoundary(); err != nil {
		return err
	}

	if !c.open {
		return fmt.Errorf("%w: no cycle in progress", ErrOutOfOrder)
	}

	for {
		msg, err := c.peer.RecvBoundaryValues(ctx)
		if err != nil {
			return fmt.Errorf("exchange: receiving boundary values: %w", err)
		}

		if msg.Field != c.opts.Field {
			return fmt.Errorf("%w: fine pushes %s, coarse expects %s",
				ErrOptionMismatch, msg.Field, c.opts.Field)
		}

		if msg.Step != c.pushes+1 {
			return fmt.Errorf("%w: cycle %d got push of sub-step %d, expected %d",
				ErrOutOfOrder, c.cycle, msg.Step, c.pushes+1)
		}

		if err := c.landing(msg); err != nil {
			return err
		}

		c.pushes++

		if err := c.mapping.Scatter(msg.Values, c.field()); err != nil {
			return err
		}

		c.invoke(c, HookPosBoundaryPush, msg, nil)

		if msg.Final {
			break
		}
	}

	c.mu.Lock()
	c.clock += c.budget
	c.open = false
	c.mu.Unlock()

	c.invoke(c, HookPosCycleEnd, nil, c.detail(0, c.budget))

	return nil
}

func (c *Coarse) landing(msg *comm.BoundaryValuesMsg) error {
	tol := c.opts.Tolerance * math.Max(1, c.budget)

	if msg.Final && math.Abs(msg.Elapsed-c.budget) > tol {
		return fmt.Errorf("%w: cycle %d elapsed %v, budget %v",
			ErrLandingMismatch, c.cycle, msg.Elapsed, c.budget)
	}

	if !msg.Final && msg.Elapsed > c.budget+tol {
		return fmt.Errorf("%w: cycle %d overshot to %v, budget %v",
			ErrLandingMismatch, c.cycle, msg.Elapsed, c.budget)
	}

	return nil
}

// Finish waits for the fine side to leave. A peer that closes the transport
// without saying goodbye is accepted as well.
func (c *Coarse) Finish(ctx context.Context) error {
	if err := c.mustBeCreated(); err != nil {
		return err
	}

	msg, err := c.binding.Intercomm.Recv(ctx)
	if errors.Is(err, comm.ErrClosed) {
		return nil
	}

	if err != nil {
		return err
	}

	if msg.Kind() != comm.KindBye {
		return &comm.UnexpectedMsgError{Want: comm.KindBye, Got: msg.Kind()}
	}

	return nil
}

// Snapshot reports the progress of the coarse side.
func (c *Coarse) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.snapshotBase(RoleCoarse)
	s.Phase = "WAITING"
	if c.open {
		s.Phase = "CYCLE"
	}

	s.Landed = !c.open
	s.Cycle = c.cycle
	s.Budget = c.budget
	s.Clock = c.clock
	s.Steps = c.steps

	return s
}

func (c *Coarse) detail(proposed, taken float64) StepDetail {
	return StepDetail{
		Role:     RoleCoarse,
		Cycle:    c.cycle,
		Proposed: proposed,
		Taken:    taken,
		Budget:   c.budget,
		Clock:    c.clock,
		Catchup:  !c.open,
	}
}
