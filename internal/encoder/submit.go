package encoder

import (
	"context"
	"fmt"

	"github.com/zsiec/hwcodec/internal/bitstream"
	"github.com/zsiec/hwcodec/internal/h264"
	"github.com/zsiec/hwcodec/internal/media"
	"github.com/zsiec/hwcodec/internal/reflist"
)

// Slice-level constants for a single-slice picture.
const (
	maxSliceQPDelta  = 4
	deblockOffsetDiv = 2
	captionsPerSEI   = 31
)

// encodePicture builds the headers for pic, runs the backend and records
// the result as a reference.
func (e *Encoder) encodePicture(ctx context.Context, pic *picture) (*outputEntry, error) {
	e.paramMu.Lock()
	s, g := e.settings, e.gop
	if err := e.ensureHeadersLocked(); err != nil {
		e.paramMu.Unlock()
		return nil, err
	}
	if pic.typ == media.PictureI || e.unannounced {
		pic.sps, pic.pps = e.sps, e.pps
	}
	seq, pp := e.seqParams, e.picParams
	e.paramMu.Unlock()

	info := reflist.Info{Type: pic.typ, IDR: pic.idr, FrameNum: pic.frameNum, POC: pic.poc}
	var list0, list1 []reflist.Entry
	if pic.typ != media.PictureI {
		var err error
		list0, list1, err = e.refs.Init(info)
		if err != nil {
			return nil, fmt.Errorf("%w: poc %d: %w", ErrEncodeFailed, pic.poc, err)
		}
		if len(list0) == 0 || (pic.typ == media.PictureB && len(list1) == 0) {
			return nil, fmt.Errorf("%w: poc %d: missing references", ErrEncodeFailed, pic.poc)
		}
	}

	sl := fillSlice(pic, s, g, pp, list0, list1)
	w := bitstream.NewWriter(32)
	if err := h264.WriteSliceHeader(w, sl, seq, pp); err != nil {
		return nil, err
	}

	prefix, err := captionSEI(pic.captions)
	if err != nil {
		return nil, err
	}

	job := &Job{
		Type:            pic.typ,
		IDR:             pic.idr,
		POC:             pic.poc,
		Input:           pic.surface,
		List0:           list0,
		List1:           list1,
		PTS:             pic.pts,
		Profile:         s.common.Profile,
		Sequence:        seq,
		Picture:         pp,
		Slice:           sl,
		SliceHeader:     w.Bytes(),
		SliceHeaderBits: w.BitLen(),
		RateControl:     s.common.RateControl,
		BitRate:         s.common.BitRate,
		QP:              s.common.InitQP,
		MinQP:           g.minQP,
		MaxCodedSize:    maxCodedSize(s.common.Width, s.common.Height),
	}
	coded, err := e.backend.Encode(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("%w: poc %d: %w", ErrEncodeFailed, pic.poc, err)
	}
	if coded == nil {
		return nil, fmt.Errorf("%w: poc %d: backend returned no buffer", ErrEncodeFailed, pic.poc)
	}
	e.refs.Update(info, coded.Reconstructed())

	e.log.Debug("submitted picture",
		"type", pic.typ,
		"poc", pic.poc,
		"frame_num", pic.frameNum,
		"refs_l0", len(list0),
		"refs_l1", len(list1),
	)
	return &outputEntry{pic: pic, coded: coded, prefix: prefix}, nil
}

// markAnnounced records that a queued picture carries the current parameter
// sets. Pictures dropped before that point leave them unannounced.
func (e *Encoder) markAnnounced(pic *picture) {
	if pic.sps == nil {
		return
	}
	e.paramMu.Lock()
	if pic.sps == e.sps && pic.pps == e.pps {
		e.unannounced = false
	}
	e.paramMu.Unlock()
}

// unannounce re-arms header attachment after a picture carrying the current
// parameter sets was dropped from the queue.
func (e *Encoder) unannounce(pic *picture) {
	if pic.sps == nil {
		return
	}
	e.paramMu.Lock()
	if pic.sps == e.sps && pic.pps == e.pps {
		e.unannounced = true
	}
	e.paramMu.Unlock()
}

// ensureHeadersLocked regenerates the parameter sets that are out of date
// and marks them unannounced. Callers hold paramMu.
func (e *Encoder) ensureHeadersLocked() error {
	if !e.seqDirty && !e.picDirty && e.sps != nil && e.pps != nil {
		return nil
	}
	c := e.settings.common

	if e.seqDirty || e.sps == nil {
		seq := fillSequence(e.settings, e.gop)
		sps, err := h264.BuildSPS(seq)
		if err != nil {
			return err
		}
		if err := h264.VerifySPS(sps, c.Width, c.Height, c.Profile); err != nil {
			return fmt.Errorf("encoder: generated sps: %w", err)
		}
		e.seqParams, e.sps = seq, sps
		e.seqDirty = false
		e.log.Debug("built sps", "bytes", len(sps.Raw()))
	}

	if e.picDirty || e.pps == nil {
		pp := fillPicture(e.settings, e.gop)
		pps, err := h264.BuildPPS(pp, c.Profile)
		if err != nil {
			return err
		}
		e.picParams, e.pps = pp, pps
		e.picDirty = false
		e.log.Debug("built pps", "bytes", len(pps.Raw()))
	}
	e.unannounced = true
	return nil
}

func fillSequence(s settings, g gop) *h264.SequenceParams {
	c := s.common
	mbW := uint32(c.Width+15) / 16
	mbH := uint32(c.Height+15) / 16
	seq := &h264.SequenceParams{
		Profile:               c.Profile,
		LevelIDC:              c.Level,
		ChromaFormatIDC:       1,
		Log2MaxFrameNumMinus4: uint32(g.log2MaxFrameNum - 4),
		PicOrderCntType:       0,
		Log2MaxPOCLsbMinus4:   uint32(g.log2MaxPOC - 4),
		MaxNumRefFrames:       uint32(g.maxRefFrames),
		WidthInMbs:            mbW,
		HeightInMapUnits:      mbH,
		FrameMbsOnly:          true,
		Direct8x8Inference:    true,
	}
	// 4:2:0 crop units are two luma samples.
	if mbW*16 != uint32(c.Width) || mbH*16 != uint32(c.Height) {
		seq.FrameCropping = true
		seq.CropRight = (mbW*16 - uint32(c.Width)) / 2
		seq.CropBottom = (mbH*16 - uint32(c.Height)) / 2
	}

	vui := &h264.VUIParams{
		TimingInfoPresent: true,
		NumUnitsInTick:    c.FrameRateDenom,
		TimeScale:         c.FrameRateNum * 2,
		FixedFrameRate:    true,
	}
	if c.RateControl != RateControlCQP {
		vui.HRDBitRate = c.BitRate
	}
	if g.numBFrames > 0 {
		vui.BitstreamRestriction = true
		vui.MaxNumReorderFrames = 1
		vui.MaxDecFrameBuffering = uint32(g.maxRefFrames)
	}
	seq.VUI = vui
	return seq
}

func fillPicture(s settings, g gop) *h264.PictureParams {
	return &h264.PictureParams{
		EntropyCodingCABAC:             g.cabac,
		NumRefIdxL0Active:              uint32(g.maxList0),
		NumRefIdxL1Active:              uint32(max(g.maxList1, 1)),
		PicInitQP:                      int32(s.common.InitQP),
		DeblockingFilterControlPresent: true,
		Transform8x8Mode:               g.transform8x8,
	}
}

func fillSlice(pic *picture, s settings, g gop, pp *h264.PictureParams, list0, list1 []reflist.Entry) *h264.SliceParams {
	sl := &h264.SliceParams{
		Type:                pic.typ,
		IDR:                 pic.idr,
		FrameNum:            pic.frameNum,
		IDRPicID:            pic.idrPicID,
		POCLsb:              pic.poc,
		DirectSpatialMvPred: pic.typ == media.PictureB,
		QPDelta:             sliceQPDelta(s.common.InitQP, g.minQP),
		AlphaC0OffsetDiv2:   deblockOffsetDiv,
		BetaOffsetDiv2:      deblockOffsetDiv,
	}
	switch pic.typ {
	case media.PictureI:
		sl.NALRefIdc = h264.RefIdcHighest
	case media.PictureP:
		sl.NALRefIdc = h264.RefIdcNormal
	}
	if pic.typ != media.PictureI {
		l0, l1 := uint32(len(list0)), uint32(len(list1))
		if l0 != pp.NumRefIdxL0Active || (pic.typ == media.PictureB && l1 != pp.NumRefIdxL1Active) {
			sl.NumRefIdxActiveOverride = true
			sl.NumRefIdxL0Active = l0
			sl.NumRefIdxL1Active = l1
		}
	}
	return sl
}

func sliceQPDelta(initQP, minQP uint32) int32 {
	return min(int32(initQP)-int32(minQP), maxSliceQPDelta)
}

// captionSEI packs caption pairs into as many SEI NAL units as needed.
func captionSEI(pairs []media.CaptionPair) ([]byte, error) {
	var out []byte
	for len(pairs) > 0 {
		n := min(len(pairs), captionsPerSEI)
		sei, err := h264.BuildCaptionSEI(pairs[:n])
		if err != nil {
			return nil, err
		}
		out = append(out, sei...)
		pairs = pairs[n:]
	}
	return out, nil
}
