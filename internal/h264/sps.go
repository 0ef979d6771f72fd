package h264

import "github.com/zsiec/hwcodec/internal/bitstream"

// HRD field values for a single constant-bitrate CPB entry.
const (
	hrdBitRateScale      = 4
	hrdCpbSizeScale      = 6
	hrdDelayLengthMinus1 = 23
	hrdTimeOffsetLength  = 23
)

// WriteSPS writes a complete SPS NAL unit (header, RBSP, trailing bits) to w.
// The output is not escaped. Nothing is written when seq requests syntax the
// writer does not implement.
func WriteSPS(w *bitstream.Writer, seq *SequenceParams) error {
	if err := validateSPS(seq); err != nil {
		return err
	}

	if err := w.WriteNALHeader(RefIdcHighest, NALTypeSPS); err != nil {
		return err
	}
	profile := seq.Profile
	putBits(w, uint32(profile), 8)

	// constraint_set0..3, then constraint_set4/5 and reserved_zero_2bits.
	w.PutFlag(profile == ProfileBaseline)
	w.PutFlag(profile <= ProfileMain)
	w.PutFlag(false)
	w.PutFlag(false)
	putBits(w, 0, 4)

	putBits(w, uint32(seq.LevelIDC), 8)
	putUE(w, seq.ID)

	if profile.high() {
		putUE(w, seq.ChromaFormatIDC)
		if seq.ChromaFormatIDC == 3 {
			w.PutFlag(false) // separate_colour_plane_flag
		}
		putUE(w, seq.BitDepthLumaMinus8)
		putUE(w, seq.BitDepthChromaMinus8)
		w.PutFlag(false) // qpprime_y_zero_transform_bypass_flag
		w.PutFlag(false) // seq_scaling_matrix_present_flag
	}

	putUE(w, seq.Log2MaxFrameNumMinus4)
	putUE(w, seq.PicOrderCntType)
	if seq.PicOrderCntType == 0 {
		putUE(w, seq.Log2MaxPOCLsbMinus4)
	}

	putUE(w, seq.MaxNumRefFrames)
	w.PutFlag(seq.GapsInFrameNumAllowed)
	putUE(w, seq.WidthInMbs-1)
	putUE(w, seq.HeightInMapUnits-1)
	w.PutFlag(true) // frame_mbs_only_flag
	w.PutFlag(seq.Direct8x8Inference)

	w.PutFlag(seq.FrameCropping)
	if seq.FrameCropping {
		putUE(w, seq.CropLeft)
		putUE(w, seq.CropRight)
		putUE(w, seq.CropTop)
		putUE(w, seq.CropBottom)
	}

	w.PutFlag(seq.VUI != nil)
	if seq.VUI != nil {
		writeVUI(w, seq.VUI)
	}

	w.WriteTrailingBits()
	return nil
}

func validateSPS(seq *SequenceParams) error {
	switch {
	case seq == nil:
		return &SyntaxError{Element: "seq_parameter_set", Err: ErrInvalidParams}
	case !seq.Profile.Supported():
		return unsupported("profile_idc")
	case seq.ScalingMatrixPresent:
		return unsupported("seq_scaling_matrix_present_flag")
	case !seq.FrameMbsOnly:
		return unsupported("frame_mbs_only_flag")
	case seq.PicOrderCntType == 1 || seq.PicOrderCntType > 2:
		return unsupported("pic_order_cnt_type")
	case !seq.Profile.high() && (seq.ChromaFormatIDC > 1 || seq.BitDepthLumaMinus8 != 0 || seq.BitDepthChromaMinus8 != 0):
		return unsupported("chroma_format_idc")
	case seq.WidthInMbs == 0 || seq.HeightInMapUnits == 0:
		return &SyntaxError{Element: "pic_width_in_mbs", Err: ErrInvalidParams}
	case seq.Log2MaxFrameNumMinus4 > 12 || seq.Log2MaxPOCLsbMinus4 > 12:
		return &SyntaxError{Element: "log2_max_frame_num", Err: ErrInvalidParams}
	}
	return nil
}

func writeVUI(w *bitstream.Writer, vui *VUIParams) {
	w.PutFlag(vui.AspectRatioInfoPresent)
	if vui.AspectRatioInfoPresent {
		putBits(w, uint32(vui.AspectRatioIDC), 8)
		if vui.AspectRatioIDC == 255 { // Extended_SAR
			putBits(w, uint32(vui.SarWidth), 16)
			putBits(w, uint32(vui.SarHeight), 16)
		}
	}
	w.PutFlag(false) // overscan_info_present_flag
	w.PutFlag(false) // video_signal_type_present_flag
	w.PutFlag(false) // chroma_loc_info_present_flag

	w.PutFlag(vui.TimingInfoPresent)
	if vui.TimingInfoPresent {
		putBits(w, vui.NumUnitsInTick, 32)
		putBits(w, vui.TimeScale, 32)
		w.PutFlag(vui.FixedFrameRate)
	}

	nalHRD := vui.HRDBitRate > 0
	w.PutFlag(nalHRD)
	if nalHRD {
		writeHRD(w, vui.HRDBitRate)
	}
	w.PutFlag(false) // vcl_hrd_parameters_present_flag
	if nalHRD {
		w.PutFlag(false) // low_delay_hrd_flag
	}
	w.PutFlag(false) // pic_struct_present_flag

	w.PutFlag(vui.BitstreamRestriction)
	if vui.BitstreamRestriction {
		w.PutFlag(true) // motion_vectors_over_pic_boundaries_flag
		putUE(w, 2)     // max_bytes_per_pic_denom
		putUE(w, 1)     // max_bits_per_mb_denom
		putUE(w, 16)    // log2_max_mv_length_horizontal
		putUE(w, 16)    // log2_max_mv_length_vertical
		putUE(w, vui.MaxNumReorderFrames)
		putUE(w, vui.MaxDecFrameBuffering)
	}
}

func writeHRD(w *bitstream.Writer, bitRate uint32) {
	units := bitRate / 1024
	if units == 0 {
		units = 1
	}
	putUE(w, 0) // cpb_cnt_minus1
	putBits(w, hrdBitRateScale, 4)
	putBits(w, hrdCpbSizeScale, 4)
	putUE(w, units-1)   // bit_rate_value_minus1
	putUE(w, units*8-1) // cpb_size_value_minus1
	w.PutFlag(true)     // cbr_flag
	putBits(w, hrdDelayLengthMinus1, 5)
	putBits(w, hrdDelayLengthMinus1, 5)
	putBits(w, hrdDelayLengthMinus1, 5)
	putBits(w, hrdTimeOffsetLength, 5)
}

// putBits and putUE write fields whose widths and ranges were validated
// before any output started.
func putBits(w *bitstream.Writer, v uint32, n int) {
	_ = w.PutBits(v, n)
}

func putUE(w *bitstream.Writer, v uint32) {
	_ = w.PutUE(v)
}

func putSE(w *bitstream.Writer, v int32) {
	_ = w.PutSE(v)
}
