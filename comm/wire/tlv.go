package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const fieldHeaderLen = 7

var (
	ErrShortField        = errors.New("wire: truncated tlv field")
	ErrFieldTypeMismatch = errors.New("wire: field type mismatch")
	ErrInvalidLength     = errors.New("wire: invalid field length")
)

// FieldType is the TLV value type.
type FieldType uint8

// TLV value types.
const (
	TypeU16 FieldType = iota + 1
	TypeI64
	TypeBool
	TypeString
	TypeF64
	TypeF64s
)

// Field is one TLV field.
type Field struct {
	ID    uint16
	Type  FieldType
	Value []byte
}

// MissingFieldError indicates a required field was not present.
type MissingFieldError struct {
	FieldID uint16
}

func (e MissingFieldError) Error() string {
	return fmt.Sprintf("wire: missing required field %d", e.FieldID)
}

func newU16(id uint16, v uint16) Field {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)

	return Field{ID: id, Type: TypeU16, Value: buf}
}

func newI64(id uint16, v int64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))

	return Field{ID: id, Type: TypeI64, Value: buf}
}

func newBool(id uint16, v bool) Field {
	b := byte(0)
	if v {
		b = 1
	}

	return Field{ID: id, Type: TypeBool, Value: []byte{b}}
}

func newString(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

func newF64(id uint16, v float64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))

	return Field{ID: id, Type: TypeF64, Value: buf}
}

func newF64s(id uint16, v []float64) Field {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.BigEndian.PutUint64(buf[8*i:], math.Float64bits(x))
	}

	return Field{ID: id, Type: TypeF64s, Value: buf}
}

func (f Field) mustBe(t FieldType, size int) error {
	if f.Type != t {
		return fmt.Errorf("%w: field %d is type %d, want %d",
			ErrFieldTypeMismatch, f.ID, f.Type, t)
	}

	if size >= 0 && len(f.Value) != size {
		return fmt.Errorf("%w: field %d has %d bytes", ErrInvalidLength, f.ID, len(f.Value))
	}

	return nil
}

// U16 returns the value as uint16.
func (f Field) U16() (uint16, error) {
	if err := f.mustBe(TypeU16, 2); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(f.Value), nil
}

// I64 returns the value as int64.
func (f Field) I64() (int64, error) {
	if err := f.mustBe(TypeI64, 8); err != nil {
		return 0, err
	}

	return int64(binary.BigEndian.Uint64(f.Value)), nil
}

// Bool returns the value as bool.
func (f Field) Bool() (bool, error) {
	if err := f.mustBe(TypeBool, 1); err != nil {
		return false, err
	}

	switch f.Value[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.New("wire: invalid bool value")
	}
}

// String returns the value as string.
func (f Field) String() (string, error) {
	if err := f.mustBe(TypeString, -1); err != nil {
		return "", err
	}

	return string(f.Value), nil
}

// F64 returns the value as float64.
func (f Field) F64() (float64, error) {
	if err := f.mustBe(TypeF64, 8); err != nil {
		return 0, err
	}

	return math.Float64frombits(binary.BigEndian.Uint64(f.Value)), nil
}

// F64s returns the value as a float64 vector.
func (f Field) F64s() ([]float64, error) {
	if err := f.mustBe(TypeF64s, -1); err != nil {
		return nil, err
	}

	if len(f.Value)%8 != 0 {
		return nil, fmt.Errorf("%w: field %d has %d bytes", ErrInvalidLength, f.ID, len(f.Value))
	}

	out := make([]float64, len(f.Value)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.BigEndian.Uint64(f.Value[8*i:]))
	}

	return out, nil
}

// EncodeFields concatenates the TLV encoding of fields.
func EncodeFields(fields []Field) []byte {
	size := 0
	for _, f := range fields {
		size += fieldHeaderLen + len(f.Value)
	}

	out := make([]byte, 0, size)
	for _, f := range fields {
		var head [fieldHeaderLen]byte
		binary.BigEndian.PutUint16(head[0:2], f.ID)
		head[2] = byte(f.Type)
		binary.BigEndian.PutUint32(head[3:7], uint32(len(f.Value)))

		out = append(out, head[:]...)
		out = append(out, f.Value...)
	}

	return out
}

// DecodeFields splits a payload into TLV fields.
func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0, 8)

	for offset := 0; offset < len(payload); {
		if len(payload)-offset < fieldHeaderLen {
			return nil, ErrShortField
		}

		id := binary.BigEndian.Uint16(payload[offset : offset+2])
		ft := FieldType(payload[offset+2])
		length := binary.BigEndian.Uint32(payload[offset+3 : offset+7])
		offset += fieldHeaderLen

		if uint64(length) > uint64(len(payload)-offset) {
			return nil, ErrShortField
		}

		end := offset + int(length)
		value := make([]byte, length)
		copy(value, payload[offset:end])
		fields = append(fields, Field{ID: id, Type: ft, Value: value})
		offset = end
	}

	return fields, nil
}

type fieldSet map[uint16]Field

func indexFields(fields []Field) fieldSet {
	set := make(fieldSet, len(fields))
	for _, f := range fields {
		set[f.ID] = f
	}

	return set
}

func (s fieldSet) get(id uint16) (Field, error) {
	f, ok := s[id]
	if !ok {
		return Field{}, MissingFieldError{FieldID: id}
	}

	return f, nil
}
