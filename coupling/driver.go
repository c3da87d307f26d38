package coupling

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sarchlab/gridexchange/exchange"
)

// Host is a solver that the driver can step.
type Host interface {
	exchange.Solver

	// ProposeTimestep returns the step the solver would like to take.
	ProposeTimestep() float64

	// Advance integrates the solver over dt.
	Advance(dt float64)
}

// Driver runs the exchange protocol of one rank from setup to the last
// coarse cycle.
type Driver struct {
	assignment Assignment
	exchanger  exchange.Exchanger
	host       Host
	cycles     int
	timeout    time.Duration
	logger     zerolog.Logger
}

// DriverBuilder can build drivers.
type DriverBuilder struct {
	assignment Assignment
	exchanger  exchange.Exchanger
	host       Host
	cycles     int
	timeout    time.Duration
	logger     *zerolog.Logger
}

// MakeDriverBuilder returns a builder with default parameters.
func MakeDriverBuilder() DriverBuilder {
	return DriverBuilder{cycles: 1}
}

// WithAssignment sets the place of the rank in the layout.
func (b DriverBuilder) WithAssignment(a Assignment) DriverBuilder {
	b.assignment = a
	return b
}

// WithExchanger sets the exchanger. Orphans do not need one.
func (b DriverBuilder) WithExchanger(x exchange.Exchanger) DriverBuilder {
	b.exchanger = x
	return b
}

// WithHost sets the solver that is stepped.
func (b DriverBuilder) WithHost(h Host) DriverBuilder {
	b.host = h
	return b
}

// WithCycles sets the number of coarse cycles to run.
func (b DriverBuilder) WithCycles(n int) DriverBuilder {
	b.cycles = n
	return b
}

// WithTimeout bounds every blocking exchange operation. Zero waits forever.
func (b DriverBuilder) WithTimeout(d time.Duration) DriverBuilder {
	b.timeout = d
	return b
}

// WithLogger sets the logger. The global zerolog logger is used by default.
func (b DriverBuilder) WithLogger(l zerolog.Logger) DriverBuilder {
	b.logger = &l
	return b
}

// Build creates the driver.
func (b DriverBuilder) Build() (*Driver, error) {
	d := &Driver{
		assignment: b.assignment,
		exchanger:  b.exchanger,
		host:       b.host,
		cycles:     b.cycles,
		timeout:    b.timeout,
		logger:     log.Logger,
	}

	if b.logger != nil {
		d.logger = *b.logger
	}

	if d.assignment.Orphan() {
		return d, nil
	}

	switch {
	case d.exchanger == nil:
		return nil, fmt.Errorf("%w: no exchanger", exchange.ErrInvalidSetup)
	case d.host == nil:
		return nil, fmt.Errorf("%w: no host solver", exchange.ErrInvalidSetup)
	case d.exchanger.Role() != d.assignment.Role:
		return nil, fmt.Errorf("%w: %s exchanger on a %s rank",
			exchange.ErrInvalidSetup, d.exchanger.Role(), d.assignment.Role)
	case d.cycles <= 0:
		return nil, fmt.Errorf("%w: %d cycles", exchange.ErrInvalidSetup, d.cycles)
	case d.timeout < 0:
		return nil, fmt.Errorf("%w: negative timeout", exchange.ErrInvalidSetup)
	}

	return d, nil
}

// Exchanger returns the exchanger of the driver, nil for an orphan.
func (d *Driver) Exchanger() exchange.Exchanger {
	return d.exchanger
}

// Run performs the exchange. An orphan rank only logs a warning.
func (d *Driver) Run(ctx context.Context) error {
	if d.assignment.Orphan() {
		d.logger.Warn().
			Int("rank", d.assignment.Rank).
			Msgf("node '%d' is an orphan", d.assignment.Rank)

		return nil
	}

	d.logger.Info().
		Str("role", d.assignment.Role.String()).
		Int("rank", d.assignment.Rank).
		Int("local_leader", d.assignment.LocalLeader).
		Int("remote_leader", d.assignment.RemoteLeader).
		Msg("layout resolved")

	if err := d.exchanger.CreateExchanger(d.host); err != nil {
		return wrap("create exchanger", err)
	}

	if err := d.setup(ctx); err != nil {
		return err
	}

	for !d.done() {
		if err := d.step(ctx); err != nil {
			return err
		}
	}

	err := d.within(ctx, func(ctx context.Context) error {
		return d.exchanger.Finish(ctx)
	})
	if err != nil {
		return wrap("finish", err)
	}

	s := d.exchanger.Snapshot()
	d.logger.Info().
		Str("role", s.Role).
		Int("cycles", s.Cycle).
		Int("steps", s.Steps).
		Msg("exchange completed")

	return nil
}

func (d *Driver) setup(ctx context.Context) error {
	err := d.within(ctx, func(ctx context.Context) error {
		_, err := d.exchanger.FindBoundary(ctx)
		return err
	})
	if err != nil {
		return wrap("find boundary", err)
	}

	err = d.within(ctx, d.exchanger.InitializeFields)
	if err != nil {
		return wrap("initialize fields", err)
	}

	return nil
}

func (d *Driver) step(ctx context.Context) error {
	if err := d.within(ctx, d.exchanger.NewStep); err != nil {
		return wrap("new step", err)
	}

	var taken float64
	err := d.within(ctx, func(ctx context.Context) error {
		var err error
		taken, err = d.exchanger.StableTimestep(ctx, d.host.ProposeTimestep())
		return err
	})
	if err != nil {
		return wrap("stable timestep", err)
	}

	d.host.Advance(taken)

	err = d.within(ctx, d.exchanger.ApplyBoundaryConditions)
	if err != nil {
		return wrap("apply boundary conditions", err)
	}

	return nil
}

func (d *Driver) done() bool {
	s := d.exchanger.Snapshot()
	return s.Cycle >= d.cycles && s.Landed
}

func (d *Driver) within(
	ctx context.Context,
	f func(ctx context.Context) error,
) error {
	if d.timeout == 0 {
		return f(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	return f(ctx)
}
