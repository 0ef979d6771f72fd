package dpb

import (
	"fmt"

	"github.com/zsiec/hwcodec/internal/media"
)

// Picture is a decoded picture held by the buffer.
type Picture struct {
	POC       int32
	FrameNum  uint32
	Type      media.PictureType
	Reference bool
	Skipped   bool
	Surface   media.Surface
	PTS       int64

	// SEI holds SEI NAL units that arrived with the picture.
	SEI [][]byte

	output bool
}

// IsOutput reports whether the picture has been handed to the OutputFunc.
func (p *Picture) IsOutput() bool {
	return p.output
}

func (p *Picture) String() string {
	ref := "non-ref"
	if p.Reference {
		ref = "ref"
	}
	return fmt.Sprintf("%v poc=%d frame_num=%d %s", p.Type, p.POC, p.FrameNum, ref)
}
