package bitstream

import (
	"errors"
	"math"
)

// Sentinel errors for bit writing.
var (
	ErrFieldWidth = errors.New("bitstream: field width out of range")
	ErrOverflow   = errors.New("bitstream: value not representable")
)

// Writer appends bits MSB-first into a growing byte slice. A field is either
// appended completely or rejected with an error; the writer is never left
// holding part of a field.
type Writer struct {
	data   []byte
	bitPos int
}

// NewWriter returns a Writer with room for sizeHint bytes before it grows.
func NewWriter(sizeHint int) *Writer {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Writer{data: make([]byte, 0, sizeHint)}
}

// PutBit appends a single bit.
func (w *Writer) PutBit(v bool) {
	if w.bitPos%8 == 0 {
		w.data = append(w.data, 0)
	}
	if v {
		w.data[w.bitPos/8] |= 1 << uint(7-w.bitPos%8)
	}
	w.bitPos++
}

// PutFlag is PutBit with a 0/1 spelling, matching the u(1) fields of the
// H.264 syntax tables.
func (w *Writer) PutFlag(v bool) {
	w.PutBit(v)
}

// PutBits appends the low width bits of value, most significant first.
// Width 0 writes nothing.
func (w *Writer) PutBits(value uint32, width int) error {
	if width < 0 || width > 32 {
		return ErrFieldWidth
	}
	for i := width - 1; i >= 0; i-- {
		w.PutBit((value>>uint(i))&1 == 1)
	}
	return nil
}

// putBits is PutBits for widths known to be valid at the call site.
func (w *Writer) putBits(value uint32, width int) {
	for i := width - 1; i >= 0; i-- {
		w.PutBit((value>>uint(i))&1 == 1)
	}
}

// PutUE appends value as an unsigned Exp-Golomb code: for code = value+1
// with bit length L, L-1 zero bits followed by the L bits of code.
func (w *Writer) PutUE(value uint32) error {
	if value == math.MaxUint32 {
		return ErrOverflow
	}
	code := value + 1
	n := bitLength(code)
	w.putBits(0, n-1)
	w.putBits(code, n)
	return nil
}

// PutSE appends value as a signed Exp-Golomb code. Positive v maps to 2v-1,
// non-positive v maps to -2v.
func (w *Writer) PutSE(value int32) error {
	var code uint64
	if value > 0 {
		code = uint64(value)*2 - 1
	} else {
		code = uint64(-int64(value)) * 2
	}
	if code >= math.MaxUint32 {
		return ErrOverflow
	}
	return w.PutUE(uint32(code))
}

// AlignToByte pads with the fill bit until the position is a multiple of 8.
// Fill must be 0 or 1.
func (w *Writer) AlignToByte(fill uint8) {
	for w.bitPos%8 != 0 {
		w.PutBit(fill != 0)
	}
}

// WriteTrailingBits writes rbsp_trailing_bits: a stop bit followed by zero
// alignment bits.
func (w *Writer) WriteTrailingBits() {
	w.PutBit(true)
	w.AlignToByte(0)
}

// WriteNALHeader writes the one-byte NAL unit header: forbidden_zero_bit,
// nal_ref_idc (2 bits) and nal_unit_type (5 bits).
func (w *Writer) WriteNALHeader(refIdc, unitType uint8) error {
	if refIdc > 3 || unitType > 31 {
		return ErrOverflow
	}
	w.PutBit(false)
	w.putBits(uint32(refIdc), 2)
	w.putBits(uint32(unitType), 5)
	return nil
}

// PutBytes appends whole bytes at the current bit position.
func (w *Writer) PutBytes(b []byte) {
	if w.bitPos%8 == 0 {
		w.data = append(w.data, b...)
		w.bitPos += len(b) * 8
		return
	}
	for _, v := range b {
		w.putBits(uint32(v), 8)
	}
}

// BitLen returns the number of bits written.
func (w *Writer) BitLen() int {
	return w.bitPos
}

// ByteAligned reports whether the write position sits on a byte boundary.
func (w *Writer) ByteAligned() bool {
	return w.bitPos%8 == 0
}

// Bytes returns the written data. A partial final byte is zero-padded.
// The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte {
	return w.data
}

// Reset discards all written bits, keeping the allocated buffer.
func (w *Writer) Reset() {
	w.data = w.data[:0]
	w.bitPos = 0
}

func bitLength(v uint32) int {
	n := 0
	for v != 0 {
		n++
		v >>= 1
	}
	return n
}
