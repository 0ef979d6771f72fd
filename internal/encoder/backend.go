package encoder

import (
	"context"

	"github.com/zsiec/hwcodec/internal/h264"
	"github.com/zsiec/hwcodec/internal/media"
	"github.com/zsiec/hwcodec/internal/reflist"
)

// Backend is the hardware collaborator that codes pixels. The encoder hands
// it fully prepared parameters and a packed slice header.
type Backend interface {
	Encode(ctx context.Context, job *Job) (Coded, error)
}

// Coded is the result of one Backend.Encode call. Its payload may not be
// ready until Sync returns.
type Coded interface {
	// Sync blocks until the payload is complete.
	Sync(ctx context.Context) error
	// Bytes returns the coded slice NAL units as an Annex B byte stream.
	Bytes() []byte
	// Reconstructed is the decoded copy of the picture, used as a reference.
	Reconstructed() media.Surface
}

// Job describes one picture to encode.
type Job struct {
	Type    media.PictureType
	IDR     bool
	POC     uint32
	Input   media.Surface
	List0   []reflist.Entry
	List1   []reflist.Entry
	PTS     int64
	Profile h264.Profile

	Sequence *h264.SequenceParams
	Picture  *h264.PictureParams
	Slice    *h264.SliceParams

	// SliceHeader holds the packed NAL header and slice_header(), not byte
	// aligned; SliceHeaderBits is its length in bits.
	SliceHeader     []byte
	SliceHeaderBits int

	RateControl RateControl
	BitRate     uint32
	QP          uint32
	MinQP       uint32

	// MaxCodedSize bounds the payload the backend may produce.
	MaxCodedSize int
}
