package bitstream

import "errors"

// ErrShortRead is returned when a read runs past the end of the data.
var ErrShortRead = errors.New("bitstream: read past end of data")

// Reader reads bits MSB-first from a byte slice. Reads past the end return
// zero bits and latch an overflow, reported by Err.
type Reader struct {
	data     []byte
	bitPos   int
	overflow bool
}

// NewReader returns a Reader over data. The data must already have emulation
// prevention bytes removed.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// BitsLeft returns the number of unread bits.
func (r *Reader) BitsLeft() int {
	total := len(r.data) * 8
	if r.bitPos > total {
		return 0
	}
	return total - r.bitPos
}

// Pos returns the current bit offset.
func (r *Reader) Pos() int {
	return r.bitPos
}

// Err returns ErrShortRead once any read has run past the end.
func (r *Reader) Err() error {
	if r.overflow {
		return ErrShortRead
	}
	return nil
}

// ReadBit reads one bit. Past the end it returns 0 and sets Err.
func (r *Reader) ReadBit() uint32 {
	if r.bitPos >= len(r.data)*8 {
		r.overflow = true
		return 0
	}
	byteIdx := r.bitPos / 8
	bitIdx := 7 - (r.bitPos % 8)
	r.bitPos++
	return uint32(r.data[byteIdx]>>uint(bitIdx)) & 1
}

// ReadFlag reads one bit as a boolean.
func (r *Reader) ReadFlag() bool {
	return r.ReadBit() == 1
}

// ReadBits reads n bits (n ≤ 32) as an unsigned value.
func (r *Reader) ReadBits(n int) uint32 {
	var val uint32
	for i := 0; i < n; i++ {
		val = (val << 1) | r.ReadBit()
	}
	return val
}

// ReadUE reads an unsigned Exp-Golomb code.
func (r *Reader) ReadUE() uint32 {
	leadingZeros := 0
	for r.ReadBit() == 0 {
		if r.overflow || leadingZeros >= 32 {
			r.overflow = true
			return 0
		}
		leadingZeros++
	}
	if leadingZeros == 0 {
		return 0
	}
	return (1<<uint(leadingZeros) - 1) + r.ReadBits(leadingZeros)
}

// ReadSE reads a signed Exp-Golomb code.
func (r *Reader) ReadSE() int32 {
	v := r.ReadUE()
	if v%2 == 0 {
		return -int32(v / 2)
	}
	return int32(v/2) + 1
}

// Skip advances n bits.
func (r *Reader) Skip(n int) {
	r.bitPos += n
	if r.bitPos > len(r.data)*8 {
		r.overflow = true
	}
}
