package comm

import (
	"context"
	"fmt"

	"github.com/sarchlab/gridexchange/mesh"
)

// Peer talks the exchange protocol with the remote leader over a Transport.
type Peer struct {
	Transport Transport

	// Local and Remote are the leader ranks stamped on outgoing messages.
	Local, Remote int
}

func expect[T Msg](ctx context.Context, t Transport, want Kind) (T, error) {
	var zero T

	msg, err := t.Recv(ctx)
	if err != nil {
		return zero, err
	}

	typed, ok := msg.(T)
	if ok {
		return typed, nil
	}

	if msg.Kind() == KindBye {
		return zero, ErrPeerLeft
	}

	return zero, &UnexpectedMsgError{Want: want, Got: msg.Kind()}
}

// SendBoundary transmits the canonical boundary.
func (p Peer) SendBoundary(
	ctx context.Context,
	id string,
	points []mesh.Point,
) error {
	pts := make([]mesh.Point, len(points))
	copy(pts, points)

	return p.Transport.Send(ctx, &BoundaryMsg{
		MsgMeta:    newMeta(p.Local, p.Remote),
		BoundaryID: id,
		Points:     pts,
	})
}

// RecvBoundary waits for the canonical boundary.
func (p Peer) RecvBoundary(ctx context.Context) (*BoundaryMsg, error) {
	return expect[*BoundaryMsg](ctx, p.Transport, KindBoundary)
}

// SendField transmits boundary-ordered values of a named field.
func (p Peer) SendField(ctx context.Context, name string, values []float64) error {
	return p.Transport.Send(ctx, &FieldMsg{
		MsgMeta: newMeta(p.Local, p.Remote),
		Name:    name,
		Values:  cloneValues(values),
	})
}

// RecvField waits for the values of the named field.
func (p Peer) RecvField(ctx context.Context, name string) ([]float64, error) {
	msg, err := expect[*FieldMsg](ctx, p.Transport, KindField)
	if err != nil {
		return nil, err
	}

	if msg.Name != name {
		return nil, fmt.Errorf("comm: expected field %q, got %q", name, msg.Name)
	}

	return msg.Values, nil
}

// Ready signals the start of a cycle without waiting for delivery. values
// may be nil.
func (p Peer) Ready(cycle int, values []float64) error {
	return p.Transport.Notify(&ReadyMsg{
		MsgMeta: newMeta(p.Local, p.Remote),
		Cycle:   cycle,
		Values:  cloneValues(values),
	})
}

// WaitReady blocks until the fine side starts a new cycle.
func (p Peer) WaitReady(ctx context.Context) (*ReadyMsg, error) {
	return expect[*ReadyMsg](ctx, p.Transport, KindReady)
}

// ExchangeTimestep proposes dt and waits for the budget of the cycle.
func (p Peer) ExchangeTimestep(ctx context.Context, dt float64) (*TimestepRsp, error) {
	req := &TimestepReq{
		MsgMeta:  newMeta(p.Local, p.Remote),
		Proposed: dt,
	}

	if err := p.Transport.Send(ctx, req); err != nil {
		return nil, err
	}

	rsp, err := expect[*TimestepRsp](ctx, p.Transport, KindTimestepRsp)
	if err != nil {
		return nil, err
	}

	if rsp.RspTo != req.ID {
		return nil, fmt.Errorf("comm: timestep response to %q, request was %q",
			rsp.RspTo, req.ID)
	}

	return rsp, nil
}

// RecvTimestepReq waits for a budget request.
func (p Peer) RecvTimestepReq(ctx context.Context) (*TimestepReq, error) {
	return expect[*TimestepReq](ctx, p.Transport, KindTimestepReq)
}

// ReplyTimestep grants the budget requested by req.
func (p Peer) ReplyTimestep(
	ctx context.Context,
	req *TimestepReq,
	budget, checkpoint float64,
) error {
	return p.Transport.Send(ctx, &TimestepRsp{
		MsgMeta:    newMeta(p.Local, p.Remote),
		RspTo:      req.ID,
		Budget:     budget,
		Checkpoint: checkpoint,
	})
}

// ServeTimestep answers the next budget request with budget and checkpoint.
func (p Peer) ServeTimestep(
	ctx context.Context,
	budget, checkpoint float64,
) (*TimestepReq, error) {
	req, err := p.RecvTimestepReq(ctx)
	if err != nil {
		return nil, err
	}

	return req, p.ReplyTimestep(ctx, req, budget, checkpoint)
}

// PushBoundaryValues sends fine boundary values to the coarse side.
func (p Peer) PushBoundaryValues(
	ctx context.Context,
	field string,
	values []float64,
	step int,
	final bool,
	elapsed float64,
) error {
	return p.Transport.Send(ctx, &BoundaryValuesMsg{
		MsgMeta: newMeta(p.Local, p.Remote),
		Field:   field,
		Values:  cloneValues(values),
		Step:    step,
		Final:   final,
		Elapsed: elapsed,
	})
}

// RecvBoundaryValues waits for the next boundary push.
func (p Peer) RecvBoundaryValues(ctx context.Context) (*BoundaryValuesMsg, error) {
	return expect[*BoundaryValuesMsg](ctx, p.Transport, KindBoundaryValues)
}

// Bye tells the peer that no more messages will follow.
func (p Peer) Bye(ctx context.Context) error {
	return p.Transport.Send(ctx, &ByeMsg{MsgMeta: newMeta(p.Local, p.Remote)})
}
