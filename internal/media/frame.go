// Package media defines the picture vocabulary shared by the encoder,
// decoder and caption paths: picture types, hardware surfaces and the raw
// frames handed to the encoder.
package media

import "fmt"

// PictureType is the coding type of a picture.
type PictureType uint8

const (
	PictureI PictureType = iota + 1
	PictureP
	PictureB
)

func (t PictureType) String() string {
	switch t {
	case PictureI:
		return "I"
	case PictureP:
		return "P"
	case PictureB:
		return "B"
	default:
		return fmt.Sprintf("PictureType(%d)", uint8(t))
	}
}

// Surface is an opaque handle to a picture buffer owned by the hardware
// collaborator. The core never touches pixels; it only passes surfaces
// through and reports them back when pictures leave the buffer.
type Surface interface {
	ID() uint32
}

// SurfaceID is a Surface that is nothing more than its identifier. It is
// used by software backends and tests.
type SurfaceID uint32

func (s SurfaceID) ID() uint32 { return uint32(s) }

// CaptionPair is one CEA-608 byte pair for a field, without parity.
type CaptionPair struct {
	Field uint8 // 0 = field 1, 1 = field 2
	Data  [2]byte
}

// Frame is a raw input picture presented to the encoder in display order.
type Frame struct {
	Surface  Surface
	PTS      int64
	ForceKey bool
	Captions []CaptionPair
}

// CodedFrame is one coded access unit leaving the encoder in decode order.
// Data is an Annex B byte stream.
type CodedFrame struct {
	PTS        int64
	Type       PictureType
	IsKeyframe bool
	Data       []byte
	SPS        []byte
	PPS        []byte
}
