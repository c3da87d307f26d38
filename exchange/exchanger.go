// Package exchange couples a coarse solver with a fine solver that covers a
// sub-region of it.
//
// The two sides agree on a common interface boundary, exchange field values
// across it, and keep their clocks consistent. The fine side may take several
// shorter steps per coarse step; the exchanger makes sure that the fine clock
// lands exactly on the coarse clock at the end of every coarse step.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sarchlab/gridexchange/boundary"
	"github.com/sarchlab/gridexchange/comm"
	"github.com/sarchlab/gridexchange/mesh"
)

var (
	ErrInvalidSetup    = errors.New("exchange: invalid setup")
	ErrAlreadyCreated  = errors.New("exchange: exchanger already created")
	ErrNotCreated      = errors.New("exchange: exchanger not created")
	ErrNoBoundary      = errors.New("exchange: boundary not established")
	ErrOutOfOrder      = errors.New("exchange: operation called out of order")
	ErrLandingMismatch = errors.New("exchange: fine clock did not land on the coarse budget")
	ErrCycleMismatch   = errors.New("exchange: cycle counters disagree")
	ErrOptionMismatch  = errors.New("exchange: sides disagree on exchange options")
	ErrNoRole          = errors.New("exchange: process has no coupling role")
)

// Role tells which side of the coupling a process is on.
type Role int

// The roles a process can take.
const (
	RoleNone Role = iota
	RoleCoarse
	RoleFine
)

func (r Role) String() string {
	switch r {
	case RoleCoarse:
		return "coarse"
	case RoleFine:
		return "fine"
	default:
		return "none"
	}
}

// ParseRole converts the textual form of a role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "coarse":
		return RoleCoarse, nil
	case "fine":
		return RoleFine, nil
	case "", "none":
		return RoleNone, nil
	}

	return RoleNone, fmt.Errorf("exchange: unknown role %q", s)
}

// A Solver is what the exchanger needs to know about the solver it is
// attached to. The exchanger borrows these references and never owns them.
type Solver interface {
	// Group is the communicator of the local side.
	Group() comm.Group

	// Intercomm connects the local leader with the remote leader.
	Intercomm() comm.Transport

	// LocalLeader is the rank within Group that talks to the other side.
	LocalLeader() int

	// RemoteLeader is the rank of the leader of the other side.
	RemoteLeader() int

	// Fields holds the nodal fields of the solver.
	Fields() *Fields

	// Mesh locates nodes of the local discretization.
	Mesh() mesh.Mesh
}

// Exchanger is the contract shared by the coarse and the fine side.
type Exchanger interface {
	Hookable

	// Name returns the name of the exchanger.
	Name() string

	// Role tells which side the exchanger serves.
	Role() Role

	// CreateExchanger binds the exchanger to the solver. It can only be
	// called once.
	CreateExchanger(s Solver) error

	// FindBoundary establishes the interface boundary on both sides.
	FindBoundary(ctx context.Context) (*boundary.Boundary, error)

	// InitializeFields transfers the initial coarse field values to the fine
	// side.
	InitializeFields(ctx context.Context) error

	// NewStep is called at the start of every solver step.
	NewStep(ctx context.Context) error

	// ApplyBoundaryConditions moves the fine boundary values to the coarse
	// side.
	ApplyBoundaryConditions(ctx context.Context) error

	// StableTimestep returns the step the solver may take, given the step dt
	// it would like to take.
	StableTimestep(ctx context.Context, dt float64) (float64, error)

	// Finish ends the exchange.
	Finish(ctx context.Context) error

	// Snapshot reports the progress of the exchange. It is safe to call from
	// any goroutine.
	Snapshot() Snapshot
}

// Options configure an exchanger. Both sides must use the same values for
// Field and PushFieldOnCycleStart.
type Options struct {
	// Name identifies the exchanger in logs and records.
	Name string

	// Field is the field exchanged across the boundary. Defaults to
	// temperature.
	Field string

	// Interface selects the coarse nodes that form the interface boundary.
	// Required on the coarse side.
	Interface mesh.Selector

	// Tolerance is used to match points to nodes and to verify that the fine
	// clock landed on the coarse budget.
	Tolerance float64

	// PushFieldOnCycleStart sends the fine boundary values along with the
	// ready signal that opens every cycle.
	PushFieldOnCycleStart bool
}

// DefaultOptions returns the options used when nothing else is configured.
func DefaultOptions() Options {
	return Options{
		Field:     FieldTemperature,
		Tolerance: 1e-9,
	}
}

func (o Options) withDefaults(r Role) Options {
	def := DefaultOptions()

	if o.Name == "" {
		o.Name = r.String()
	}

	if o.Field == "" {
		o.Field = def.Field
	}

	if o.Tolerance <= 0 {
		o.Tolerance = def.Tolerance
	}

	return o
}

// New creates the exchanger variant of the given role. The variant is fixed
// for the lifetime of the exchanger.
func New(r Role, opts Options) (Exchanger, error) {
	opts = opts.withDefaults(r)

	switch r {
	case RoleCoarse:
		if opts.Interface == nil {
			return nil, fmt.Errorf("%w: coarse side needs an interface selector",
				ErrInvalidSetup)
		}

		return NewCoarse(opts), nil
	case RoleFine:
		return NewFine(opts), nil
	}

	return nil, ErrNoRole
}

// Snapshot is a point-in-time view of an exchanger.
type Snapshot struct {
	Name         string
	Role         string
	Phase        string
	Landed       bool
	Cycle        int
	Budget       float64
	Elapsed      float64
	Clock        float64
	Steps        int
	BoundaryID   string
	BoundarySize int
}
