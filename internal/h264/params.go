package h264

import "github.com/zsiec/hwcodec/internal/media"

// Profile is a profile_idc value.
type Profile uint8

const (
	ProfileBaseline Profile = 66
	ProfileMain     Profile = 77
	ProfileHigh     Profile = 100
)

func (p Profile) String() string {
	switch p {
	case ProfileBaseline:
		return "baseline"
	case ProfileMain:
		return "main"
	case ProfileHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Supported reports whether the writers can produce headers for p.
func (p Profile) Supported() bool {
	return p == ProfileBaseline || p == ProfileMain || p == ProfileHigh
}

// high reports whether p carries the High-profile SPS extension fields.
func (p Profile) high() bool {
	return p >= ProfileHigh
}

// SequenceParams carries the values written into a sequence parameter set.
// Picture dimensions are in macroblocks; cropping offsets are in crop units.
type SequenceParams struct {
	Profile               Profile
	LevelIDC              uint8
	ID                    uint32
	ChromaFormatIDC       uint32
	BitDepthLumaMinus8    uint32
	BitDepthChromaMinus8  uint32
	ScalingMatrixPresent  bool
	Log2MaxFrameNumMinus4 uint32
	PicOrderCntType       uint32
	Log2MaxPOCLsbMinus4   uint32
	MaxNumRefFrames       uint32
	GapsInFrameNumAllowed bool
	WidthInMbs            uint32
	HeightInMapUnits      uint32
	FrameMbsOnly          bool
	Direct8x8Inference    bool

	FrameCropping bool
	CropLeft      uint32
	CropRight     uint32
	CropTop       uint32
	CropBottom    uint32

	VUI *VUIParams
}

// Log2MaxFrameNum returns log2_max_frame_num.
func (s *SequenceParams) Log2MaxFrameNum() int {
	return int(s.Log2MaxFrameNumMinus4) + 4
}

// Log2MaxPOCLsb returns log2_max_pic_order_cnt_lsb.
func (s *SequenceParams) Log2MaxPOCLsb() int {
	return int(s.Log2MaxPOCLsbMinus4) + 4
}

// VUIParams carries the subset of video usability information the writer
// emits. A non-zero HRDBitRate adds NAL HRD parameters for a CBR stream of
// that many bits per second.
type VUIParams struct {
	AspectRatioInfoPresent bool
	AspectRatioIDC         uint8
	SarWidth               uint16
	SarHeight              uint16

	TimingInfoPresent bool
	NumUnitsInTick    uint32
	TimeScale         uint32
	FixedFrameRate    bool

	HRDBitRate uint32

	BitstreamRestriction bool
	MaxNumReorderFrames  uint32
	MaxDecFrameBuffering uint32
}

// PictureParams carries the values written into a picture parameter set.
// Reference index counts are the active counts, not minus-one values.
type PictureParams struct {
	ID                             uint32
	SeqParameterSetID              uint32
	EntropyCodingCABAC             bool
	BottomFieldPicOrderPresent     bool
	NumSliceGroups                 uint32
	NumRefIdxL0Active              uint32
	NumRefIdxL1Active              uint32
	WeightedPred                   bool
	WeightedBipredIDC              uint32
	PicInitQP                      int32
	ChromaQPIndexOffset            int32
	DeblockingFilterControlPresent bool
	ConstrainedIntraPred           bool
	RedundantPicCntPresent         bool
	Transform8x8Mode               bool
	ScalingMatrixPresent           bool
	SecondChromaQPIndexOffset      int32
}

// SliceParams carries the values written into a slice header.
type SliceParams struct {
	FirstMbInSlice      uint32
	Type                media.PictureType
	IDR                 bool
	NALRefIdc           uint8
	FrameNum            uint32
	IDRPicID            uint32
	POCLsb              uint32
	DirectSpatialMvPred bool

	NumRefIdxActiveOverride bool
	NumRefIdxL0Active       uint32
	NumRefIdxL1Active       uint32

	LongTermReference bool
	CabacInitIDC      uint32
	QPDelta           int32

	DisableDeblockingFilterIDC uint32
	AlphaC0OffsetDiv2          int32
	BetaOffsetDiv2             int32
}

// SliceTypeCode returns the slice_type value for a picture type.
func SliceTypeCode(t media.PictureType) (uint32, bool) {
	switch t {
	case media.PictureP:
		return 0, true
	case media.PictureB:
		return 1, true
	case media.PictureI:
		return 2, true
	default:
		return 0, false
	}
}

// Log2MaxFrameNum returns the smallest v with 2^v greater than
// keyFramePeriod, clamped to [4, 10].
func Log2MaxFrameNum(keyFramePeriod uint32) int {
	v := 0
	for p := keyFramePeriod; p != 0; p >>= 1 {
		v++
	}
	if v < 4 {
		v = 4
	}
	if v > 10 {
		v = 10
	}
	return v
}
