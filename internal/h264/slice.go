package h264

import (
	"github.com/zsiec/hwcodec/internal/bitstream"
	"github.com/zsiec/hwcodec/internal/media"
)

// WriteSliceHeader writes the NAL header and slice_header() for one slice.
// The result is not byte aligned; slice data follows directly. The caller
// reads the header length from w.BitLen.
func WriteSliceHeader(w *bitstream.Writer, sl *SliceParams, seq *SequenceParams, pic *PictureParams) error {
	if err := validateSlice(sl, seq, pic); err != nil {
		return err
	}
	sliceType, _ := SliceTypeCode(sl.Type)

	nalType := uint8(NALTypeSlice)
	if sl.IDR {
		nalType = NALTypeIDR
	}
	if err := w.WriteNALHeader(sl.NALRefIdc, nalType); err != nil {
		return err
	}

	putUE(w, sl.FirstMbInSlice)
	putUE(w, sliceType)
	putUE(w, pic.ID)
	putBits(w, sl.FrameNum, seq.Log2MaxFrameNum())
	if sl.IDR {
		putUE(w, sl.IDRPicID)
	}
	if seq.PicOrderCntType == 0 {
		putBits(w, sl.POCLsb, seq.Log2MaxPOCLsb())
		if pic.BottomFieldPicOrderPresent {
			putSE(w, 0) // delta_pic_order_cnt_bottom
		}
	}
	if pic.RedundantPicCntPresent {
		putUE(w, 0) // redundant_pic_cnt
	}

	if sl.Type == media.PictureB {
		w.PutFlag(sl.DirectSpatialMvPred)
	}
	if sl.Type != media.PictureI {
		w.PutFlag(sl.NumRefIdxActiveOverride)
		if sl.NumRefIdxActiveOverride {
			putUE(w, sl.NumRefIdxL0Active-1)
			if sl.Type == media.PictureB {
				putUE(w, sl.NumRefIdxL1Active-1)
			}
		}
		w.PutFlag(false) // ref_pic_list_modification_flag_l0
		if sl.Type == media.PictureB {
			w.PutFlag(false) // ref_pic_list_modification_flag_l1
		}
	}

	if sl.NALRefIdc != 0 {
		if sl.IDR {
			w.PutFlag(false) // no_output_of_prior_pics_flag
			w.PutFlag(sl.LongTermReference)
		} else {
			w.PutFlag(false) // adaptive_ref_pic_marking_mode_flag
		}
	}

	if pic.EntropyCodingCABAC && sl.Type != media.PictureI {
		putUE(w, sl.CabacInitIDC)
	}
	putSE(w, sl.QPDelta)

	if pic.DeblockingFilterControlPresent {
		putUE(w, sl.DisableDeblockingFilterIDC)
		if sl.DisableDeblockingFilterIDC != 1 {
			putSE(w, sl.AlphaC0OffsetDiv2)
			putSE(w, sl.BetaOffsetDiv2)
		}
	}
	return nil
}

func validateSlice(sl *SliceParams, seq *SequenceParams, pic *PictureParams) error {
	if sl == nil || seq == nil || pic == nil {
		return &SyntaxError{Element: "slice_header", Err: ErrInvalidParams}
	}
	if err := validateSPS(seq); err != nil {
		return err
	}
	if err := validatePPS(pic, seq.Profile); err != nil {
		return err
	}
	if _, ok := SliceTypeCode(sl.Type); !ok {
		return &SyntaxError{Element: "slice_type", Err: ErrInvalidParams}
	}
	switch {
	case sl.IDR && sl.Type != media.PictureI:
		return &SyntaxError{Element: "slice_type", Err: ErrInvalidParams}
	case sl.IDR && sl.NALRefIdc == 0:
		return &SyntaxError{Element: "nal_ref_idc", Err: ErrInvalidParams}
	case sl.NALRefIdc > 3:
		return &SyntaxError{Element: "nal_ref_idc", Err: ErrInvalidParams}
	case sl.FrameNum >= 1<<uint(seq.Log2MaxFrameNum()):
		return &SyntaxError{Element: "frame_num", Err: ErrInvalidParams}
	case seq.PicOrderCntType == 0 && sl.POCLsb >= 1<<uint(seq.Log2MaxPOCLsb()):
		return &SyntaxError{Element: "pic_order_cnt_lsb", Err: ErrInvalidParams}
	case sl.NumRefIdxActiveOverride && (sl.NumRefIdxL0Active == 0 || sl.NumRefIdxL0Active > 32):
		return &SyntaxError{Element: "num_ref_idx_l0_active", Err: ErrInvalidParams}
	case sl.NumRefIdxActiveOverride && sl.Type == media.PictureB && (sl.NumRefIdxL1Active == 0 || sl.NumRefIdxL1Active > 32):
		return &SyntaxError{Element: "num_ref_idx_l1_active", Err: ErrInvalidParams}
	case sl.DisableDeblockingFilterIDC > 2:
		return &SyntaxError{Element: "disable_deblocking_filter_idc", Err: ErrInvalidParams}
	case sl.CabacInitIDC > 2:
		return &SyntaxError{Element: "cabac_init_idc", Err: ErrInvalidParams}
	}
	return nil
}

// SliceHeaderPrefix is the leading part of a parsed slice header, enough to
// order pictures for display.
type SliceHeaderPrefix struct {
	NALType        byte
	NALRefIdc      uint8
	FirstMbInSlice uint32
	Type           media.PictureType
	PPSID          uint32
	FrameNum       uint32
	IDRPicID       uint32
	POCLsb         uint32
}

// ParseSliceHeader parses a slice NAL unit (header byte included, no start
// code) up to pic_order_cnt_lsb using the active SPS.
func ParseSliceHeader(nal []byte, sps SPSInfo) (SliceHeaderPrefix, error) {
	if len(nal) < 2 {
		return SliceHeaderPrefix{}, ErrShortData
	}
	nalType := nal[0] & 0x1F
	if !IsSlice(nalType) {
		return SliceHeaderPrefix{}, ErrNotSlice
	}
	if sps.PicOrderCntType != 0 {
		return SliceHeaderPrefix{}, unsupported("pic_order_cnt_type")
	}

	r := bitstream.NewReader(bitstream.UnescapeEmulation(nal[1:]))
	h := SliceHeaderPrefix{
		NALType:   nalType,
		NALRefIdc: (nal[0] >> 5) & 0x03,
	}
	h.FirstMbInSlice = r.ReadUE()
	switch r.ReadUE() % 5 {
	case 0, 3:
		h.Type = media.PictureP
	case 1:
		h.Type = media.PictureB
	default:
		h.Type = media.PictureI
	}
	h.PPSID = r.ReadUE()
	h.FrameNum = r.ReadBits(sps.Log2MaxFrameNum)
	if !sps.FrameMbsOnly {
		if r.ReadFlag() { // field_pic_flag
			return SliceHeaderPrefix{}, unsupported("field_pic_flag")
		}
	}
	if nalType == NALTypeIDR {
		h.IDRPicID = r.ReadUE()
	}
	h.POCLsb = r.ReadBits(sps.Log2MaxPOCLsb)
	if err := r.Err(); err != nil {
		return SliceHeaderPrefix{}, &SyntaxError{Element: "slice_header", Err: err}
	}
	return h, nil
}
