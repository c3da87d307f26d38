package comm

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrClosed     = errors.New("comm: transport closed")
	ErrPeerLeft   = errors.New("comm: peer left the exchange")
	ErrNoIntercom = errors.New("comm: no inter-process transport")
)

// UnexpectedMsgError is returned when the peer sends a message that the
// protocol does not allow at this point.
type UnexpectedMsgError struct {
	Want Kind
	Got  Kind
}

func (e *UnexpectedMsgError) Error() string {
	return fmt.Sprintf("comm: expected %s message, got %s", e.Want, e.Got)
}

// A Transport connects the leader of one side with the leader of the other
// side. Messages are delivered in order.
type Transport interface {
	// Send blocks until msg is handed over to the transport.
	Send(ctx context.Context, msg Msg) error

	// Recv blocks until the next message arrives.
	Recv(ctx context.Context) (Msg, error)

	// Notify queues msg without waiting.
	Notify(msg Msg) error

	// Close shuts the transport down. Pending messages are still delivered
	// to the peer.
	Close() error
}

// A Group is the local communicator of one side.
type Group interface {
	Rank() int
	Size() int
}

type solo struct{}

func (solo) Rank() int { return 0 }
func (solo) Size() int { return 1 }

// Self returns the group of a side that runs as a single rank.
func Self() Group {
	return solo{}
}

// RankGroup is a group whose membership is known from configuration.
type RankGroup struct {
	MyRank, NumRanks int
}

// Rank returns the rank of the current process within the group.
func (g RankGroup) Rank() int { return g.MyRank }

// Size returns the number of ranks in the group.
func (g RankGroup) Size() int { return g.NumRanks }
