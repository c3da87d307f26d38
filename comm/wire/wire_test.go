package wire

import (
	"bytes"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/gridexchange/comm"
	"github.com/sarchlab/gridexchange/mesh"
)

func roundTrip(msg comm.Msg) comm.Msg {
	f, err := Encode(msg, 7, false)
	Expect(err).NotTo(HaveOccurred())

	buf := &bytes.Buffer{}
	Expect(WriteFrame(buf, f, DefaultLimits())).To(Succeed())

	got, err := ReadFrame(buf, DefaultLimits())
	Expect(err).NotTo(HaveOccurred())
	Expect(got.Header.MessageID).To(Equal(uint64(7)))

	decoded, err := Decode(got)
	Expect(err).NotTo(HaveOccurred())

	return decoded
}

var _ = Describe("Codec", func() {
	meta := comm.MsgMeta{ID: "42", Src: 0, Dst: 3}

	It("should carry boundary points", func() {
		msg := &comm.BoundaryMsg{
			MsgMeta:    meta,
			BoundaryID: "bnd-x",
			Points:     []mesh.Point{{0, 0.5, 1}, {-1, 2, 3.25}},
		}

		Expect(roundTrip(msg)).To(Equal(msg))
	})

	It("should carry a timestep response", func() {
		msg := &comm.TimestepRsp{
			MsgMeta:    meta,
			RspTo:      "41",
			Budget:     1.0,
			Checkpoint: 3.0,
		}

		Expect(roundTrip(msg)).To(Equal(msg))
	})

	It("should carry a final boundary push", func() {
		msg := &comm.BoundaryValuesMsg{
			MsgMeta: meta,
			Field:   "temperature",
			Values:  []float64{1, 2, 3},
			Step:    5,
			Final:   true,
			Elapsed: 0.75,
		}

		Expect(roundTrip(msg)).To(Equal(msg))
	})

	It("should keep a ready signal without values empty", func() {
		msg := &comm.ReadyMsg{MsgMeta: meta, Cycle: 4}

		decoded := roundTrip(msg).(*comm.ReadyMsg)

		Expect(decoded.Cycle).To(Equal(4))
		Expect(decoded.Values).To(BeNil())
	})

	It("should mark notifications", func() {
		f, err := Encode(&comm.ReadyMsg{MsgMeta: meta}, 1, true)

		Expect(err).NotTo(HaveOccurred())
		Expect(f.Header.Flags & FlagNotify).NotTo(BeZero())
	})

	It("should reject unknown message types", func() {
		_, err := Decode(Frame{Header: Header{MessageType: 99}})

		Expect(err).To(BeAssignableToTypeOf(UnknownKindError{}))
	})

	It("should report missing fields", func() {
		payload := EncodeFields([]Field{newString(fieldMsgID, "1")})

		_, err := Decode(Frame{
			Header:  Header{MessageType: uint32(comm.KindBye)},
			Payload: payload,
		})

		Expect(err).To(Equal(MissingFieldError{FieldID: fieldSrc}))
	})

	It("should reject mistyped fields", func() {
		f := newBool(fieldProposed, true)

		_, err := f.F64()

		Expect(err).To(MatchError(ErrFieldTypeMismatch))
	})
})

var _ = Describe("Frame", func() {
	It("should reject a bad magic", func() {
		h := EncodeHeader(Header{Magic: 1, Version: Version, HeaderLen: FixedHeaderLen})

		_, err := ReadFrame(bytes.NewReader(h), DefaultLimits())

		Expect(err).To(MatchError(ErrInvalidMagic))
	})

	It("should reject oversized payloads", func() {
		buf := &bytes.Buffer{}
		f := Frame{Payload: make([]byte, 16)}

		err := WriteFrame(buf, f, Limits{MaxPayloadBytes: 8})

		Expect(err).To(MatchError(ErrPayloadTooLarge))
	})

	It("should report a truncated header", func() {
		_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())

		Expect(err).To(MatchError(ErrShortHeader))
	})

	It("should pass through a clean end of stream", func() {
		_, err := ReadFrame(bytes.NewReader(nil), DefaultLimits())

		Expect(err).To(MatchError(io.EOF))
	})
})
