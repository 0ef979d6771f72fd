package h264

import "github.com/zsiec/hwcodec/internal/bitstream"

// WritePPS writes a complete PPS NAL unit to w. The High-profile tail
// (transform_8x8_mode_flag onwards) is written only when profile is High.
func WritePPS(w *bitstream.Writer, pic *PictureParams, profile Profile) error {
	if err := validatePPS(pic, profile); err != nil {
		return err
	}

	if err := w.WriteNALHeader(RefIdcHighest, NALTypePPS); err != nil {
		return err
	}
	putUE(w, pic.ID)
	putUE(w, pic.SeqParameterSetID)
	w.PutFlag(pic.EntropyCodingCABAC)
	w.PutFlag(pic.BottomFieldPicOrderPresent)
	putUE(w, 0) // num_slice_groups_minus1

	putUE(w, pic.NumRefIdxL0Active-1)
	putUE(w, pic.NumRefIdxL1Active-1)
	w.PutFlag(pic.WeightedPred)
	putBits(w, pic.WeightedBipredIDC, 2)
	putSE(w, pic.PicInitQP-26)
	putSE(w, 0) // pic_init_qs_minus26
	putSE(w, pic.ChromaQPIndexOffset)
	w.PutFlag(pic.DeblockingFilterControlPresent)
	w.PutFlag(pic.ConstrainedIntraPred)
	w.PutFlag(pic.RedundantPicCntPresent)

	if profile.high() {
		w.PutFlag(pic.Transform8x8Mode)
		w.PutFlag(false) // pic_scaling_matrix_present_flag
		putSE(w, pic.SecondChromaQPIndexOffset)
	}

	w.WriteTrailingBits()
	return nil
}

func validatePPS(pic *PictureParams, profile Profile) error {
	switch {
	case pic == nil:
		return &SyntaxError{Element: "pic_parameter_set", Err: ErrInvalidParams}
	case !profile.Supported():
		return unsupported("profile_idc")
	case pic.NumSliceGroups > 1:
		return unsupported("num_slice_groups_minus1")
	case pic.ScalingMatrixPresent:
		return unsupported("pic_scaling_matrix_present_flag")
	case pic.WeightedPred || pic.WeightedBipredIDC == 1:
		return unsupported("pred_weight_table")
	case pic.WeightedBipredIDC > 2:
		return &SyntaxError{Element: "weighted_bipred_idc", Err: ErrInvalidParams}
	case pic.NumRefIdxL0Active == 0 || pic.NumRefIdxL0Active > 32 ||
		pic.NumRefIdxL1Active == 0 || pic.NumRefIdxL1Active > 32:
		return &SyntaxError{Element: "num_ref_idx_default_active", Err: ErrInvalidParams}
	case pic.PicInitQP < 0 || pic.PicInitQP > 51:
		return &SyntaxError{Element: "pic_init_qp", Err: ErrInvalidParams}
	case pic.ChromaQPIndexOffset < -12 || pic.ChromaQPIndexOffset > 12 ||
		pic.SecondChromaQPIndexOffset < -12 || pic.SecondChromaQPIndexOffset > 12:
		return &SyntaxError{Element: "chroma_qp_index_offset", Err: ErrInvalidParams}
	case !profile.high() && pic.Transform8x8Mode:
		return unsupported("transform_8x8_mode_flag")
	}
	return nil
}
