package coupling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/sarchlab/gridexchange/boundary"
	"github.com/sarchlab/gridexchange/comm"
	"github.com/sarchlab/gridexchange/comm/tcp"
	"github.com/sarchlab/gridexchange/comm/wire"
	"github.com/sarchlab/gridexchange/exchange"
	"github.com/sarchlab/gridexchange/timestep"
)

// Category names the invariant that a failed exchange broke.
type Category string

// The failure categories of an exchange.
const (
	CategorySetup       Category = "setup"
	CategoryMapping     Category = "mapping"
	CategoryNegotiation Category = "negotiation"
	CategoryTransport   Category = "transport"
)

// Error is returned by the driver when an exchange operation fails. Every
// such failure is fatal for the run.
type Error struct {
	Category Category
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Category == "" {
		return fmt.Sprintf("failure during %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s failure during %s: %v", e.Category, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	setupErrors = []error{
		exchange.ErrInvalidSetup,
		exchange.ErrAlreadyCreated,
		exchange.ErrNotCreated,
		exchange.ErrNoRole,
		ErrInvalidLayout,
	}

	mappingErrors = []error{
		exchange.ErrNoBoundary,
		boundary.ErrEmptyBoundary,
		boundary.ErrDuplicateNode,
		boundary.ErrBoundaryMismatch,
		boundary.ErrSizeMismatch,
	}

	negotiationErrors = []error{
		exchange.ErrLandingMismatch,
		exchange.ErrCycleMismatch,
		exchange.ErrOptionMismatch,
		exchange.ErrOutOfOrder,
		timestep.ErrNonPositiveBudget,
		timestep.ErrCheckpointRegressed,
		timestep.ErrNegativeStep,
		timestep.ErrNoBudget,
		timestep.ErrNotCatchingUp,
	}

	transportErrors = []error{
		comm.ErrClosed,
		comm.ErrPeerLeft,
		tcp.ErrHandshake,
		wire.ErrShortHeader,
		wire.ErrInvalidMagic,
		wire.ErrUnsupportedVersion,
		wire.ErrInvalidHeaderLen,
		wire.ErrPayloadTooLarge,
		wire.ErrShortField,
		wire.ErrFieldTypeMismatch,
		wire.ErrInvalidLength,
		io.EOF,
		io.ErrUnexpectedEOF,
		context.DeadlineExceeded,
	}
)

// Classify tells which category err belongs to. It returns an empty
// category for errors that did not come out of the exchange, such as bad
// flags or an invalid configuration file.
func Classify(err error) Category {
	var (
		unmapped   *boundary.UnmappedPointError
		unexpected *comm.UnexpectedMsgError
		netErr     net.Error
	)

	switch {
	case isAny(err, setupErrors):
		return CategorySetup
	case isAny(err, mappingErrors), errors.As(err, &unmapped):
		return CategoryMapping
	case isAny(err, negotiationErrors), errors.As(err, &unexpected):
		return CategoryNegotiation
	case isAny(err, transportErrors), errors.As(err, &netErr):
		return CategoryTransport
	}

	return ""
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}

	return false
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Category: Classify(err), Op: op, Err: err}
}
