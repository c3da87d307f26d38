package exchange

import (
	"context"
	"fmt"

	"github.com/sarchlab/gridexchange/boundary"
	"github.com/sarchlab/gridexchange/comm"
	"github.com/sarchlab/gridexchange/timestep"
)

// Fine is the exchanger of the solver that runs on the sub-region. It
// sub-cycles inside every coarse step.
type Fine struct {
	exchangerBase

	state     timestep.State
	steps     int
	cycleStep int
	readySent bool
	pushed    bool
}

// NewFine creates a fine-side exchanger.
func NewFine(opts Options) *Fine {
	opts = opts.withDefaults(RoleFine)

	return &Fine{
		exchangerBase: exchangerBase{name: opts.Name, opts: opts},
		state:         timestep.Initial(),
	}
}

// Role returns RoleFine.
func (f *Fine) Role() Role {
	return RoleFine
}

// State returns the sub-cycling state.
func (f *Fine) State() timestep.State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

// CreateExchanger binds the exchanger to the fine solver.
func (f *Fine) CreateExchanger(s Solver) error {
	return f.create(s)
}

// FindBoundary receives the canonical boundary from the coarse side and maps
// every point onto a node of the fine mesh.
func (f *Fine) FindBoundary(ctx context.Context) (*boundary.Boundary, error) {
	if err := f.mustBeCreated(); err != nil {
		return nil, err
	}

	msg, err := f.peer.RecvBoundary(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange: receiving boundary: %w", err)
	}

	b := boundary.New(msg.BoundaryID, msg.Points)

	m, err := boundary.Resolve(b, f.binding.Mesh, f.opts.Tolerance)
	if err != nil {
		return nil, fmt.Errorf("exchange: mapping boundary %s: %w", b.ID(), err)
	}

	if err := f.setBoundary(b, m); err != nil {
		return nil, err
	}

	f.invoke(f, HookPosBoundary, b, nil)

	return b, nil
}

// InitializeFields receives the initial coarse values and writes them into
// the fine field.
func (f *Fine) InitializeFields(ctx context.Context) error {
	if err := f.mustHaveBoundary(); err != nil {
		return err
	}

	values, err := f.peer.RecvField(ctx, f.opts.Field)
	if err != nil {
		return fmt.Errorf("exchange: receiving initial %s: %w", f.opts.Field, err)
	}

	if err := f.mapping.Scatter(values, f.field()); err != nil {
		return err
	}

	f.invoke(f, HookPosFieldsInit, values, nil)

	return nil
}

// NewStep opens a new cycle with a ready signal if the previous cycle has
// landed. It does not wait for the coarse side.
func (f *Fine) NewStep(_ context.Context) error {
	if err := f.mustHaveBoundary(); err != nil {
		return err
	}

	if !f.state.Catchup || f.readySent {
		return nil
	}

	var values []float64
	if f.opts.PushFieldOnCycleStart {
		var err error

		values, err = f.mapping.Gather(f.field())
		if err != nil {
			return err
		}
	}

	if err := f.peer.Ready(f.state.Cycle+1, values); err != nil {
		return fmt.Errorf("exchange: signaling ready: %w", err)
	}

	f.readySent = true
	f.invoke(f, HookPosReady, values, f.detail(0, 0))

	return nil
}

// StableTimestep negotiates a budget when a cycle starts and clips dt so that
// the fine clock lands exactly on the coarse checkpoint.
func (f *Fine) StableTimestep(ctx context.Context, dt float64) (float64, error) {
	if err := f.mustHaveBoundary(); err != nil {
		return 0, err
	}

	if f.steps > 0 && !f.pushed {
		return 0, fmt.Errorf("%w: step %d of cycle %d was never pushed",
			ErrOutOfOrder, f.cycleStep, f.state.Cycle)
	}

	if f.state.Catchup {
		if err := f.negotiate(ctx, dt); err != nil {
			return 0, err
		}
	}

	next, taken, err := timestep.Advance(f.state, dt)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	f.state = next
	f.steps++
	f.cycleStep++
	f.pushed = false
	f.mu.Unlock()

	f.invoke(f, HookPosStep, nil, f.detail(dt, taken))

	return taken, nil
}

func (f *Fine) negotiate(ctx context.Context, dt float64) error {
	if !f.readySent {
		return fmt.Errorf("%w: NewStep must open the cycle before StableTimestep",
			ErrOutOfOrder)
	}

	rsp, err := f.peer.ExchangeTimestep(ctx, dt)
	if err != nil {
		return fmt.Errorf("exchange: negotiating timestep: %w", err)
	}

	next, err := timestep.BeginCycle(f.state, rsp.Budget, rsp.Checkpoint)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.state = next
	f.cycleStep = 0
	f.readySent = false
	f.mu.Unlock()

	f.invoke(f, HookPosNegotiate, rsp, f.detail(dt, 0))

	return nil
}

// ApplyBoundaryConditions pushes the fine boundary values of the current
// step to the coarse side. The push of the step that closes a cycle is marked
// final.
func (f *Fine) ApplyBoundaryConditions(ctx context.Context) error {
	if err := f.mustHaveBoundary(); err != nil {
		return err
	}

	if f.steps == 0 || f.pushed {
		return fmt.Errorf("%w: one boundary push per StableTimestep",
			ErrOutOfOrder)
	}

	values, err := f.mapping.Gather(f.field())
	if err != nil {
		return err
	}

	final := f.state.Catchup
	err = f.peer.PushBoundaryValues(ctx, f.opts.Field, values, f.cycleStep,
		final, f.state.Elapsed)
	if err != nil {
		return fmt.Errorf("exchange: pushing boundary values: %w", err)
	}

	f.pushed = true
	f.invoke(f, HookPosBoundaryPush, &comm.BoundaryValuesMsg{
		Field:   f.opts.Field,
		Values:  values,
		Step:    f.cycleStep,
		Final:   final,
		Elapsed: f.state.Elapsed,
	}, nil)

	return nil
}

// Finish tells the coarse side that the fine side is done.
func (f *Fine) Finish(ctx context.Context) error {
	if err := f.mustBeCreated(); err != nil {
		return err
	}

	return f.peer.Bye(ctx)
}

// Snapshot reports the progress of the fine side.
func (f *Fine) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.snapshotBase(RoleFine)
	s.Phase = f.state.Phase()
	s.Landed = f.state.Catchup
	s.Cycle = f.state.Cycle
	s.Budget = f.state.Budget
	s.Elapsed = f.state.Elapsed
	s.Clock = f.state.Clock
	s.Steps = f.steps

	return s
}

func (f *Fine) detail(proposed, taken float64) StepDetail {
	return StepDetail{
		Role:     RoleFine,
		Cycle:    f.state.Cycle,
		Proposed: proposed,
		Taken:    taken,
		Budget:   f.state.Budget,
		Elapsed:  f.state.Elapsed,
		Clock:    f.state.Clock,
		Catchup:  f.state.Catchup,
	}
}
