package h264

import (
	"sync"

	"github.com/zsiec/hwcodec/internal/bitstream"
)

// StreamHeader is a parameter set NAL unit kept in two forms: the raw
// unescaped NAL (header byte plus RBSP) and the Annex B form with start code
// and emulation prevention. The Annex B form is derived once, on first use,
// and is immutable afterwards.
type StreamHeader struct {
	raw []byte

	once    sync.Once
	escaped []byte // NAL without start code, emulation prevented
	stream  []byte // start code + escaped
}

// NewStreamHeader takes ownership of raw, an unescaped NAL unit without start
// code such as the output of WriteSPS.
func NewStreamHeader(raw []byte) *StreamHeader {
	return &StreamHeader{raw: raw}
}

// Raw returns the unescaped NAL unit.
func (h *StreamHeader) Raw() []byte {
	return h.raw
}

// Escaped returns the emulation-prevented NAL unit without start code.
func (h *StreamHeader) Escaped() []byte {
	h.derive()
	return h.escaped
}

// ByteStream returns the Annex B form: start code plus escaped NAL unit.
func (h *StreamHeader) ByteStream() []byte {
	h.derive()
	return h.stream
}

func (h *StreamHeader) derive() {
	h.once.Do(func() {
		h.stream = bitstream.ByteStream(h.raw)
		h.escaped = h.stream[len(bitstream.StartCode):]
	})
}

// BuildSPS writes seq into a fresh StreamHeader.
func BuildSPS(seq *SequenceParams) (*StreamHeader, error) {
	w := bitstream.NewWriter(64)
	if err := WriteSPS(w, seq); err != nil {
		return nil, err
	}
	return NewStreamHeader(w.Bytes()), nil
}

// BuildPPS writes pic into a fresh StreamHeader.
func BuildPPS(pic *PictureParams, profile Profile) (*StreamHeader, error) {
	w := bitstream.NewWriter(16)
	if err := WritePPS(w, pic, profile); err != nil {
		return nil, err
	}
	return NewStreamHeader(w.Bytes()), nil
}

// configRecordOverhead is the fixed part of an AVCDecoderConfigurationRecord
// with one SPS and one PPS.
const configRecordOverhead = 11

// BuildConfigRecord builds an AVCDecoderConfigurationRecord (ISO 14496-15
// 5.2.4.1.1) from one SPS and one PPS. NAL units are stored escaped, without
// start codes, with 4-byte length fields declared for the sample data. The
// stored bytes are StreamHeader.Escaped, not Raw, so their lengths can exceed
// len(Raw()).
func BuildConfigRecord(sps, pps *StreamHeader) ([]byte, error) {
	if sps == nil || pps == nil || len(sps.Raw()) < 4 || len(pps.Raw()) == 0 {
		return nil, ErrShortData
	}
	s, p := sps.Escaped(), pps.Escaped()
	if len(s) > 0xFFFF || len(p) > 0xFFFF {
		return nil, &SyntaxError{Element: "parameter set length", Err: ErrInvalidParams}
	}

	raw := sps.Raw()
	buf := make([]byte, 0, configRecordOverhead+len(s)+len(p))
	buf = append(buf, 1)      // configurationVersion
	buf = append(buf, raw[1]) // AVCProfileIndication
	buf = append(buf, raw[2]) // profile_compatibility
	buf = append(buf, raw[3]) // AVCLevelIndication
	buf = append(buf, 0xFC|3) // reserved | lengthSizeMinusOne
	buf = append(buf, 0xE0|1) // reserved | numOfSequenceParameterSets

	buf = append(buf, byte(len(s)>>8), byte(len(s)))
	buf = append(buf, s...)

	buf = append(buf, 1) // numOfPictureParameterSets
	buf = append(buf, byte(len(p)>>8), byte(len(p)))
	buf = append(buf, p...)
	return buf, nil
}

// ConfigRecordSize returns the length BuildConfigRecord would produce.
func ConfigRecordSize(sps, pps *StreamHeader) int {
	return configRecordOverhead + len(sps.Escaped()) + len(pps.Escaped())
}
