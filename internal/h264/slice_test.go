package h264

import (
	"errors"
	"testing"

	"github.com/zsiec/hwcodec/internal/bitstream"
	"github.com/zsiec/hwcodec/internal/media"
)

func spsInfoFor(t *testing.T, seq *SequenceParams) SPSInfo {
	t.Helper()
	sps, err := BuildSPS(seq)
	if err != nil {
		t.Fatalf("BuildSPS: %v", err)
	}
	info, err := ParseSPS(sps.Escaped())
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	return info
}

func TestWriteSliceHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	seq := testSequence()
	pic := testPicture()
	info := spsInfoFor(t, seq)

	tests := []struct {
		name string
		sl   SliceParams
	}{
		{"idr", SliceParams{Type: media.PictureI, IDR: true, NALRefIdc: 3, IDRPicID: 7, QPDelta: 4}},
		{"p", SliceParams{Type: media.PictureP, NALRefIdc: 2, FrameNum: 3, POCLsb: 6, NumRefIdxActiveOverride: true, NumRefIdxL0Active: 1}},
		{"b", SliceParams{Type: media.PictureB, FrameNum: 4, POCLsb: 42, DirectSpatialMvPred: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := bitstream.NewWriter(16)
			if err := WriteSliceHeader(w, &tt.sl, seq, pic); err != nil {
				t.Fatalf("WriteSliceHeader: %v", err)
			}
			w.WriteTrailingBits()
			nal := bitstream.EscapeEmulation(w.Bytes())

			got, err := ParseSliceHeader(nal, info)
			if err != nil {
				t.Fatalf("ParseSliceHeader: %v", err)
			}
			if got.Type != tt.sl.Type {
				t.Errorf("type: got %v, want %v", got.Type, tt.sl.Type)
			}
			if got.NALRefIdc != tt.sl.NALRefIdc {
				t.Errorf("nal_ref_idc: got %d, want %d", got.NALRefIdc, tt.sl.NALRefIdc)
			}
			if (got.NALType == NALTypeIDR) != tt.sl.IDR {
				t.Errorf("nal type %d, idr=%v", got.NALType, tt.sl.IDR)
			}
			if got.FrameNum != tt.sl.FrameNum || got.POCLsb != tt.sl.POCLsb || got.IDRPicID != tt.sl.IDRPicID {
				t.Errorf("got frame_num=%d poc=%d idr_pic_id=%d, want %d/%d/%d",
					got.FrameNum, got.POCLsb, got.IDRPicID, tt.sl.FrameNum, tt.sl.POCLsb, tt.sl.IDRPicID)
			}
		})
	}
}

func TestWriteSliceHeaderIDRFields(t *testing.T) {
	t.Parallel()
	seq := testSequence()
	pic := testPicture()
	sl := &SliceParams{Type: media.PictureI, IDR: true, NALRefIdc: 3, QPDelta: -2, AlphaC0OffsetDiv2: 2, BetaOffsetDiv2: 2}
	w := bitstream.NewWriter(16)
	if err := WriteSliceHeader(w, sl, seq, pic); err != nil {
		t.Fatalf("WriteSliceHeader: %v", err)
	}
	if w.Bytes()[0] != 0x65 {
		t.Fatalf("NAL header: got 0x%02X, want 0x65", w.Bytes()[0])
	}

	r := bitstream.NewReader(w.Bytes()[1:])
	r.ReadUE()                     // first_mb_in_slice
	if st := r.ReadUE(); st != 2 { // slice_type
		t.Errorf("slice_type: got %d, want 2", st)
	}
	r.ReadUE()                        // pps id
	r.ReadBits(seq.Log2MaxFrameNum()) // frame_num
	r.ReadUE()                        // idr_pic_id
	r.ReadBits(seq.Log2MaxPOCLsb())   // poc lsb
	if r.ReadFlag() || r.ReadFlag() { // dec_ref_pic_marking
		t.Error("unexpected dec_ref_pic_marking flags")
	}
	if qp := r.ReadSE(); qp != -2 {
		t.Errorf("slice_qp_delta: got %d, want -2", qp)
	}
	if idc := r.ReadUE(); idc != 0 {
		t.Errorf("disable_deblocking_filter_idc: got %d", idc)
	}
	if a, b := r.ReadSE(), r.ReadSE(); a != 2 || b != 2 {
		t.Errorf("offsets: got %d/%d, want 2/2", a, b)
	}
	if want := w.BitLen() - 8; r.Pos() != want {
		t.Errorf("header length: parsed %d bits, wrote %d", r.Pos(), want)
	}
}

func TestWriteSliceHeaderRejects(t *testing.T) {
	t.Parallel()
	seq := testSequence()
	pic := testPicture()
	tests := []struct {
		name string
		sl   SliceParams
	}{
		{"idr p slice", SliceParams{Type: media.PictureP, IDR: true, NALRefIdc: 3}},
		{"idr non-ref", SliceParams{Type: media.PictureI, IDR: true}},
		{"frame_num range", SliceParams{Type: media.PictureP, FrameNum: 32}},
		{"poc range", SliceParams{Type: media.PictureP, POCLsb: 64}},
		{"unknown type", SliceParams{Type: 0}},
	}
	for _, tt := range tests {
		w := bitstream.NewWriter(16)
		if err := WriteSliceHeader(w, &tt.sl, seq, pic); !errors.Is(err, ErrInvalidParams) {
			t.Errorf("%s: got %v, want ErrInvalidParams", tt.name, err)
		}
		if w.BitLen() != 0 {
			t.Errorf("%s: wrote %d bits", tt.name, w.BitLen())
		}
	}
}

func TestParseSliceHeaderNotSlice(t *testing.T) {
	t.Parallel()
	if _, err := ParseSliceHeader([]byte{0x67, 0x00}, SPSInfo{}); !errors.Is(err, ErrNotSlice) {
		t.Errorf("got %v, want ErrNotSlice", err)
	}
}
