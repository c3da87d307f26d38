// Package comm is the communication module shared by the coarse and fine
// exchangers. It defines the protocol messages, the Transport that carries
// them between the two leader ranks, and typed helpers for every step of the
// exchange protocol.
package comm

import (
	"fmt"

	"github.com/sarchlab/gridexchange/idgen"
	"github.com/sarchlab/gridexchange/mesh"
)

// Kind identifies a protocol message type.
type Kind uint32

// The protocol message kinds. The values are part of the wire format.
const (
	KindHello Kind = iota + 1
	KindBoundary
	KindField
	KindReady
	KindTimestepReq
	KindTimestepRsp
	KindBoundaryValues
	KindBye
)

var kindNames = map[Kind]string{
	KindHello:          "hello",
	KindBoundary:       "boundary",
	KindField:          "field",
	KindReady:          "ready",
	KindTimestepReq:    "timestep_req",
	KindTimestepRsp:    "timestep_rsp",
	KindBoundaryValues: "boundary_values",
	KindBye:            "bye",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", uint32(k))
}

// A Msg is a piece of information that travels between the two sides.
type Msg interface {
	Meta() *MsgMeta
	Kind() Kind
}

// MsgMeta is attached to every message. Src and Dst are leader ranks.
type MsgMeta struct {
	ID       string
	Src, Dst int
}

// Meta returns the meta data of the message.
func (m *MsgMeta) Meta() *MsgMeta {
	return m
}

func newMeta(src, dst int) MsgMeta {
	return MsgMeta{
		ID:  idgen.Get().Generate(),
		Src: src,
		Dst: dst,
	}
}

func cloneValues(v []float64) []float64 {
	if v == nil {
		return nil
	}

	out := make([]float64, len(v))
	copy(out, v)

	return out
}

// Hello opens a connection between two leaders.
type Hello struct {
	MsgMeta
	Role    string
	Version uint16
}

func (*Hello) Kind() Kind { return KindHello }

// BoundaryMsg carries the canonical boundary from the coarse side.
type BoundaryMsg struct {
	MsgMeta
	BoundaryID string
	Points     []mesh.Point
}

func (*BoundaryMsg) Kind() Kind { return KindBoundary }

// FieldMsg carries field values sampled at the boundary points.
type FieldMsg struct {
	MsgMeta
	Name   string
	Values []float64
}

func (*FieldMsg) Kind() Kind { return KindField }

// ReadyMsg tells the coarse side that the fine side starts a new cycle. It
// may carry the fine temperature at the boundary.
type ReadyMsg struct {
	MsgMeta
	Cycle  int
	Values []float64
}

func (*ReadyMsg) Kind() Kind { return KindReady }

// TimestepReq proposes the fine step size and asks for the cycle budget.
type TimestepReq struct {
	MsgMeta
	Proposed float64
}

func (*TimestepReq) Kind() Kind { return KindTimestepReq }

// TimestepRsp grants the budget of a cycle. Checkpoint is the coarse time at
// which the cycle ends.
type TimestepRsp struct {
	MsgMeta
	RspTo      string
	Budget     float64
	Checkpoint float64
}

func (*TimestepRsp) Kind() Kind { return KindTimestepRsp }

// BoundaryValuesMsg pushes fine boundary values to the coarse side. Step is
// the 1-based sub-step of the cycle the values belong to. Final marks the
// push that closes a cycle; Elapsed is the time the fine side consumed in the
// cycle so far.
type BoundaryValuesMsg struct {
	MsgMeta
	Field   string
	Values  []float64
	Step    int
	Final   bool
	Elapsed float64
}

func (*BoundaryValuesMsg) Kind() Kind { return KindBoundaryValues }

// ByeMsg announces that the sender leaves the exchange.
type ByeMsg struct {
	MsgMeta
}

func (*ByeMsg) Kind() Kind { return KindBye }
