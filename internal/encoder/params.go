package encoder

import (
	"fmt"
	"reflect"

	"github.com/zsiec/hwcodec/internal/h264"
)

// Defaults applied by New.
const (
	DefaultWidth          = 1280
	DefaultHeight         = 720
	DefaultFrameRateNum   = 30
	DefaultFrameRateDenom = 1
	DefaultIntraPeriod    = 30
	DefaultIDRInterval    = 30
	DefaultLevel          = 40
	DefaultInitQP         = 26
	DefaultMinQP          = 1

	maxKeyFramePeriod = 512
	maxDimension      = 8192
)

// RateControl selects the rate control mode passed to the backend.
type RateControl uint8

const (
	RateControlCQP RateControl = iota
	RateControlCBR
	RateControlVBR
)

func (r RateControl) String() string {
	switch r {
	case RateControlCQP:
		return "cqp"
	case RateControlCBR:
		return "cbr"
	case RateControlVBR:
		return "vbr"
	default:
		return fmt.Sprintf("RateControl(%d)", uint8(r))
	}
}

// ParamBlock is a typed parameter block accepted by SetParameters and
// filled by GetParameters: *CommonParams, *AVCParams or *IntraPeriodConfig.
type ParamBlock interface {
	paramBlock()
}

// CommonParams are codec-independent settings.
type CommonParams struct {
	Width          int
	Height         int
	FrameRateNum   uint32
	FrameRateDenom uint32
	IntraPeriod    uint32
	Profile        h264.Profile
	Level          uint8
	RateControl    RateControl
	BitRate        uint32 // bits per second, CBR and VBR
	InitQP         uint32
	MinQP          uint32
}

// AVCParams are H.264 specific settings.
type AVCParams struct {
	IDRInterval  uint32 // key frame period in frames
	NumBFrames   uint32
	CABAC        bool
	Transform8x8 bool
}

// IntraPeriodConfig adjusts the GOP structure alone.
type IntraPeriodConfig struct {
	IntraPeriod uint32
	IDRInterval uint32
}

func (*CommonParams) paramBlock()      {}
func (*AVCParams) paramBlock()         {}
func (*IntraPeriodConfig) paramBlock() {}

// isNil catches both a nil interface and a typed nil pointer.
func isNil(b ParamBlock) bool {
	if b == nil {
		return true
	}
	v := reflect.ValueOf(b)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func (p *CommonParams) validate() error {
	switch {
	case p.Width <= 0 || p.Height <= 0 || p.Width > maxDimension || p.Height > maxDimension:
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalidParams, p.Width, p.Height)
	case p.Width%2 != 0 || p.Height%2 != 0:
		return fmt.Errorf("%w: odd resolution %dx%d", ErrInvalidParams, p.Width, p.Height)
	case p.FrameRateNum == 0 || p.FrameRateDenom == 0:
		return fmt.Errorf("%w: frame rate %d/%d", ErrInvalidParams, p.FrameRateNum, p.FrameRateDenom)
	case p.IntraPeriod == 0:
		return fmt.Errorf("%w: intra period 0", ErrInvalidParams)
	case p.InitQP > 51 || p.MinQP > 51:
		return fmt.Errorf("%w: qp out of range", ErrInvalidParams)
	case p.RateControl > RateControlVBR:
		return fmt.Errorf("%w: rate control %v", ErrInvalidParams, p.RateControl)
	case p.RateControl != RateControlCQP && p.BitRate == 0:
		return fmt.Errorf("%w: %v without bitrate", ErrInvalidParams, p.RateControl)
	case !p.Profile.Supported():
		return fmt.Errorf("encoder: profile %d: %w", p.Profile, ErrUnsupported)
	}
	return nil
}

// settings is the complete configuration guarded by Encoder.paramMu.
type settings struct {
	common CommonParams
	avc    AVCParams
}

// gop holds the values derived from settings when the encoder starts.
type gop struct {
	intraPeriod     uint32
	keyFramePeriod  uint32
	numBFrames      uint32
	log2MaxFrameNum int
	maxFrameNum     uint32
	log2MaxPOC      int
	maxPOC          uint32
	maxList0        int
	maxList1        int
	maxRefFrames    int
	minQP           uint32
	cabac           bool
	transform8x8    bool
}

// derive applies the clamping rules that make a settings value usable and
// returns the adjustments made, for logging.
func (s settings) derive() (gop, []string) {
	var notes []string
	c, a := s.common, s.avc
	g := gop{
		intraPeriod:    c.IntraPeriod,
		keyFramePeriod: a.IDRInterval,
		numBFrames:     a.NumBFrames,
		minQP:          c.MinQP,
		cabac:          a.CABAC,
		transform8x8:   a.Transform8x8,
	}

	if g.keyFramePeriod < g.intraPeriod {
		notes = append(notes, "key frame period raised to intra period")
		g.keyFramePeriod = g.intraPeriod
	}
	if g.keyFramePeriod > maxKeyFramePeriod {
		notes = append(notes, "key frame period capped")
		g.keyFramePeriod = maxKeyFramePeriod
	}
	if c.InitQP < g.minQP {
		notes = append(notes, "min qp lowered to init qp")
		g.minQP = c.InitQP
	}
	if limit := (g.intraPeriod + 1) / 2; g.numBFrames > limit {
		notes = append(notes, "b frames limited by intra period")
		g.numBFrames = limit
	}
	if c.Profile == h264.ProfileBaseline {
		if g.numBFrames > 0 {
			notes = append(notes, "b frames disabled for baseline")
			g.numBFrames = 0
		}
		if g.cabac {
			notes = append(notes, "cabac disabled for baseline")
			g.cabac = false
		}
	}
	if g.transform8x8 && c.Profile != h264.ProfileHigh {
		notes = append(notes, "8x8 transform requires high profile")
		g.transform8x8 = false
	}

	g.log2MaxFrameNum = h264.Log2MaxFrameNum(g.keyFramePeriod)
	g.maxFrameNum = 1 << uint(g.log2MaxFrameNum)
	g.log2MaxPOC = g.log2MaxFrameNum + 1
	g.maxPOC = 1 << uint(g.log2MaxPOC)

	g.maxList0 = 1
	if g.numBFrames > 0 {
		g.maxList1 = 1
	}
	g.maxRefFrames = g.maxList0 + g.maxList1
	return g, notes
}
