package wire

import (
	"fmt"

	"github.com/sarchlab/gridexchange/comm"
	"github.com/sarchlab/gridexchange/mesh"
)

// TLV field IDs.
const (
	fieldMsgID uint16 = iota + 1
	fieldSrc
	fieldDst
	fieldRole
	fieldVersion
	fieldBoundaryID
	fieldPoints
	fieldName
	fieldValues
	fieldCycle
	fieldProposed
	fieldRspTo
	fieldBudget
	fieldCheckpoint
	fieldFinal
	fieldElapsed
	fieldStep
)

// UnknownKindError reports a frame whose message type is not part of the
// protocol.
type UnknownKindError struct {
	Type uint32
}

func (e UnknownKindError) Error() string {
	return fmt.Sprintf("wire: unknown message type %d", e.Type)
}

// Encode converts msg into a frame with the given message ID.
func Encode(msg comm.Msg, id uint64, notify bool) (Frame, error) {
	meta := msg.Meta()
	fields := []Field{
		newString(fieldMsgID, meta.ID),
		newI64(fieldSrc, int64(meta.Src)),
		newI64(fieldDst, int64(meta.Dst)),
	}

	switch m := msg.(type) {
	case *comm.Hello:
		fields = append(fields,
			newString(fieldRole, m.Role),
			newU16(fieldVersion, m.Version))
	case *comm.BoundaryMsg:
		fields = append(fields,
			newString(fieldBoundaryID, m.BoundaryID),
			newF64s(fieldPoints, flattenPoints(m.Points)))
	case *comm.FieldMsg:
		fields = append(fields,
			newString(fieldName, m.Name),
			newF64s(fieldValues, m.Values))
	case *comm.ReadyMsg:
		fields = append(fields, newI64(fieldCycle, int64(m.Cycle)))
		if m.Values != nil {
			fields = append(fields, newF64s(fieldValues, m.Values))
		}
	case *comm.TimestepReq:
		fields = append(fields, newF64(fieldProposed, m.Proposed))
	case *comm.TimestepRsp:
		fields = append(fields,
			newString(fieldRspTo, m.RspTo),
			newF64(fieldBudget, m.Budget),
			newF64(fieldCheckpoint, m.Checkpoint))
	case *comm.BoundaryValuesMsg:
		fields = append(fields,
			newString(fieldName, m.Field),
			newF64s(fieldValues, m.Values),
			newI64(fieldStep, int64(m.Step)),
			newBool(fieldFinal, m.Final),
			newF64(fieldElapsed, m.Elapsed))
	case *comm.ByeMsg:
	default:
		return Frame{}, UnknownKindError{Type: uint32(msg.Kind())}
	}

	var flags uint32
	if notify {
		flags |= FlagNotify
	}

	return Frame{
		Header: Header{
			MessageID:   id,
			MessageType: uint32(msg.Kind()),
			Flags:       flags,
		},
		Payload: EncodeFields(fields),
	}, nil
}

// decoder reads typed fields and remembers the first error.
type decoder struct {
	set fieldSet
	err error
}

func (d *decoder) field(id uint16) (Field, bool) {
	if d.err != nil {
		return Field{}, false
	}

	f, err := d.set.get(id)
	if err != nil {
		d.err = err
		return Field{}, false
	}

	return f, true
}

func (d *decoder) str(id uint16) string {
	f, ok := d.field(id)
	if !ok {
		return ""
	}

	v, err := f.String()
	d.err = err

	return v
}

func (d *decoder) integer(id uint16) int {
	f, ok := d.field(id)
	if !ok {
		return 0
	}

	v, err := f.I64()
	d.err = err

	return int(v)
}

func (d *decoder) u16(id uint16) uint16 {
	f, ok := d.field(id)
	if !ok {
		return 0
	}

	v, err := f.U16()
	d.err = err

	return v
}

func (d *decoder) boolean(id uint16) bool {
	f, ok := d.field(id)
	if !ok {
		return false
	}

	v, err := f.Bool()
	d.err = err

	return v
}

func (d *decoder) f64(id uint16) float64 {
	f, ok := d.field(id)
	if !ok {
		return 0
	}

	v, err := f.F64()
	d.err = err

	return v
}

func (d *decoder) f64s(id uint16) []float64 {
	f, ok := d.field(id)
	if !ok {
		return nil
	}

	v, err := f.F64s()
	d.err = err

	return v
}

func (d *decoder) optionalF64s(id uint16) []float64 {
	if _, ok := d.set[id]; !ok {
		return nil
	}

	return d.f64s(id)
}

// Decode converts a frame back into a protocol message.
func Decode(f Frame) (comm.Msg, error) {
	fields, err := DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}

	d := &decoder{set: indexFields(fields)}
	meta := comm.MsgMeta{
		ID:  d.str(fieldMsgID),
		Src: d.integer(fieldSrc),
		Dst: d.integer(fieldDst),
	}

	var msg comm.Msg

	switch comm.Kind(f.Header.MessageType) {
	case comm.KindHello:
		msg = &comm.Hello{
			MsgMeta: meta,
			Role:    d.str(fieldRole),
			Version: d.u16(fieldVersion),
		}
	case comm.KindBoundary:
		b := &comm.BoundaryMsg{
			MsgMeta:    meta,
			BoundaryID: d.str(fieldBoundaryID),
		}
		b.Points, err = unflattenPoints(d.f64s(fieldPoints))
		if err != nil && d.err == nil {
			d.err = err
		}
		msg = b
	case comm.KindField:
		msg = &comm.FieldMsg{
			MsgMeta: meta,
			Name:    d.str(fieldName),
			Values:  d.f64s(fieldValues),
		}
	case comm.KindReady:
		msg = &comm.ReadyMsg{
			MsgMeta: meta,
			Cycle:   d.integer(fieldCycle),
			Values:  d.optionalF64s(fieldValues),
		}
	case comm.KindTimestepReq:
		msg = &comm.TimestepReq{
			MsgMeta:  meta,
			Proposed: d.f64(fieldProposed),
		}
	case comm.KindTimestepRsp:
		msg = &comm.TimestepRsp{
			MsgMeta:    meta,
			RspTo:      d.str(fieldRspTo),
			Budget:     d.f64(fieldBudget),
			Checkpoint: d.f64(fieldCheckpoint),
		}
	case comm.KindBoundaryValues:
		msg = &comm.BoundaryValuesMsg{
			MsgMeta: meta,
			Field:   d.str(fieldName),
			Values:  d.f64s(fieldValues),
			Step:    d.integer(fieldStep),
			Final:   d.boolean(fieldFinal),
			Elapsed: d.f64(fieldElapsed),
		}
	case comm.KindBye:
		msg = &comm.ByeMsg{MsgMeta: meta}
	default:
		return nil, UnknownKindError{Type: f.Header.MessageType}
	}

	if d.err != nil {
		return nil, d.err
	}

	return msg, nil
}

func flattenPoints(points []mesh.Point) []float64 {
	out := make([]float64, 0, 3*len(points))
	for _, p := range points {
		out = append(out, p[0], p[1], p[2])
	}

	return out
}

func unflattenPoints(flat []float64) ([]mesh.Point, error) {
	if len(flat)%3 != 0 {
		return nil, fmt.Errorf("%w: %d point coordinates", ErrInvalidLength, len(flat))
	}

	out := make([]mesh.Point, len(flat)/3)
	for i := range out {
		out[i] = mesh.Point{flat[3*i], flat[3*i+1], flat[3*i+2]}
	}

	return out, nil
}
