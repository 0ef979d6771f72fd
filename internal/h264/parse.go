package h264

import (
	"fmt"

	"github.com/zsiec/hwcodec/internal/bitstream"
)

// SPSInfo holds the sequence parameters a receiver needs: display size,
// profile/level identifiers and the field widths for slice header parsing.
type SPSInfo struct {
	ID               uint32
	Width            int
	Height           int
	ProfileIDC       byte
	ConstraintFlags  byte
	LevelIDC         byte
	Log2MaxFrameNum  int
	PicOrderCntType  uint32
	Log2MaxPOCLsb    int
	MaxNumRefFrames  uint32
	FrameMbsOnly     bool
	TimingPresent    bool
	NumUnitsInTick   uint32
	TimeScale        uint32
	HRDPresent       bool
	MaxNumReorder    uint32
	RestrictionFound bool
}

// CodecString returns the RFC 6381 codec parameter string, e.g. "avc1.4D0028".
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// MaxPOCLsb returns MaxPicOrderCntLsb.
func (s SPSInfo) MaxPOCLsb() uint32 {
	return 1 << uint(s.Log2MaxPOCLsb)
}

// ParseSPS parses an SPS NAL unit including the NAL header byte but without
// the start code. Parsing stops after the VUI fields the writer emits.
func ParseSPS(nal []byte) (SPSInfo, error) {
	if len(nal) < 4 {
		return SPSInfo{}, ErrShortData
	}
	if nal[0]&0x1F != NALTypeSPS {
		return SPSInfo{}, ErrNotSPS
	}

	r := bitstream.NewReader(bitstream.UnescapeEmulation(nal[1:]))
	info := SPSInfo{
		ProfileIDC:      byte(r.ReadBits(8)),
		ConstraintFlags: byte(r.ReadBits(8)),
		LevelIDC:        byte(r.ReadBits(8)),
	}
	info.ID = r.ReadUE()

	chromaFormatIDC := uint32(1)
	if hasChromaInfo(info.ProfileIDC) {
		chromaFormatIDC = r.ReadUE()
		if chromaFormatIDC == 3 && r.ReadFlag() {
			chromaFormatIDC = 0 // separate colour planes crop like monochrome
		}
		r.ReadUE() // bit_depth_luma_minus8
		r.ReadUE() // bit_depth_chroma_minus8
		r.ReadFlag()
		if r.ReadFlag() {
			n := 8
			if chromaFormatIDC == 3 {
				n = 12
			}
			for i := 0; i < n; i++ {
				if !r.ReadFlag() {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				skipScalingList(r, size)
			}
		}
	}

	info.Log2MaxFrameNum = int(r.ReadUE()) + 4
	info.PicOrderCntType = r.ReadUE()
	switch info.PicOrderCntType {
	case 0:
		info.Log2MaxPOCLsb = int(r.ReadUE()) + 4
	case 1:
		r.ReadFlag()
		r.ReadSE()
		r.ReadSE()
		n := r.ReadUE()
		for i := uint32(0); i < n && r.Err() == nil; i++ {
			r.ReadSE()
		}
	}

	info.MaxNumRefFrames = r.ReadUE()
	r.ReadFlag() // gaps_in_frame_num_value_allowed_flag
	widthMbs := r.ReadUE() + 1
	heightMapUnits := r.ReadUE() + 1
	info.FrameMbsOnly = r.ReadFlag()
	if !info.FrameMbsOnly {
		r.ReadFlag() // mb_adaptive_frame_field_flag
	}
	r.ReadFlag() // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint32
	if r.ReadFlag() {
		cropLeft, cropRight = r.ReadUE(), r.ReadUE()
		cropTop, cropBottom = r.ReadUE(), r.ReadUE()
	}
	if err := r.Err(); err != nil {
		return SPSInfo{}, &SyntaxError{Element: "seq_parameter_set", Err: err}
	}

	subWidthC, subHeightC := uint32(2), uint32(2)
	switch chromaFormatIDC {
	case 0, 3:
		subWidthC, subHeightC = 1, 1
	case 2:
		subHeightC = 1
	}
	fieldMul := uint32(2)
	if info.FrameMbsOnly {
		fieldMul = 1
	}
	info.Width = int(widthMbs*16 - subWidthC*(cropLeft+cropRight))
	info.Height = int(heightMapUnits*16*fieldMul - subHeightC*fieldMul*(cropTop+cropBottom))

	if r.ReadFlag() {
		parseVUI(r, &info)
	}
	return info, nil
}

func hasChromaInfo(profile byte) bool {
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

func skipScalingList(r *bitstream.Reader, size int) {
	lastScale, nextScale := int32(8), int32(8)
	for j := 0; j < size && r.Err() == nil; j++ {
		if nextScale != 0 {
			nextScale = (lastScale + r.ReadSE() + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
}

// parseVUI fills timing and reorder fields. A truncated VUI leaves the
// already parsed sequence fields intact.
func parseVUI(r *bitstream.Reader, info *SPSInfo) {
	if r.ReadFlag() {
		if r.ReadBits(8) == 255 {
			r.Skip(32)
		}
	}
	if r.ReadFlag() { // overscan_info_present_flag
		r.Skip(1)
	}
	if r.ReadFlag() { // video_signal_type_present_flag
		r.Skip(4)
		if r.ReadFlag() {
			r.Skip(24)
		}
	}
	if r.ReadFlag() { // chroma_loc_info_present_flag
		r.ReadUE()
		r.ReadUE()
	}
	if r.ReadFlag() {
		info.TimingPresent = true
		info.NumUnitsInTick = r.ReadBits(32)
		info.TimeScale = r.ReadBits(32)
		r.Skip(1)
	}
	nalHRD := r.ReadFlag()
	if nalHRD {
		skipHRD(r)
	}
	vclHRD := r.ReadFlag()
	if vclHRD {
		skipHRD(r)
	}
	info.HRDPresent = nalHRD || vclHRD
	if info.HRDPresent {
		r.Skip(1) // low_delay_hrd_flag
	}
	r.Skip(1) // pic_struct_present_flag
	if r.ReadFlag() {
		r.Skip(1)
		r.ReadUE()
		r.ReadUE()
		r.ReadUE()
		r.ReadUE()
		reorder := r.ReadUE()
		r.ReadUE()
		if r.Err() == nil {
			info.RestrictionFound = true
			info.MaxNumReorder = reorder
		}
	}
}

func skipHRD(r *bitstream.Reader) {
	cpbCnt := r.ReadUE()
	r.Skip(8)
	for i := uint32(0); i <= cpbCnt && r.Err() == nil; i++ {
		r.ReadUE()
		r.ReadUE()
		r.Skip(1)
	}
	r.Skip(20)
}
