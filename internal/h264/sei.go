package h264

import (
	"github.com/zsiec/hwcodec/internal/bitstream"
	"github.com/zsiec/hwcodec/internal/media"
)

const (
	seiPayloadRegisteredITUT35 = 4
	maxCaptionPairs            = 31 // cc_count is 5 bits
)

// WriteCaptionSEI writes an SEI NAL unit carrying CEA-608 byte pairs as ATSC
// A/53 cc_data in a user_data_registered_itu_t_t35 message. Parity is added
// here; pairs carry 7-bit data. The output is not escaped.
func WriteCaptionSEI(w *bitstream.Writer, pairs []media.CaptionPair) error {
	if len(pairs) == 0 {
		return &SyntaxError{Element: "cc_count", Err: ErrInvalidParams}
	}
	if len(pairs) > maxCaptionPairs {
		return &SyntaxError{Element: "cc_count", Err: ErrUnsupported}
	}

	payload := make([]byte, 0, 10+3*len(pairs)+1)
	payload = append(payload,
		0xB5,       // itu_t_t35_country_code: United States
		0x00, 0x31, // itu_t_t35_provider_code: ATSC
		'G', 'A', '9', '4',
		0x03,                  // user_data_type_code: cc_data
		0x40|byte(len(pairs)), // process_cc_data_flag | cc_count
		0xFF,                  // em_data
	)
	for _, p := range pairs {
		payload = append(payload, 0xFC|(p.Field&0x01), oddParity(p.Data[0]), oddParity(p.Data[1]))
	}
	payload = append(payload, 0xFF) // marker_bits

	if err := w.WriteNALHeader(RefIdcNone, NALTypeSEI); err != nil {
		return err
	}
	putBits(w, seiPayloadRegisteredITUT35, 8)
	size := len(payload)
	for size >= 255 {
		putBits(w, 0xFF, 8)
		size -= 255
	}
	putBits(w, uint32(size), 8)
	w.PutBytes(payload)
	w.WriteTrailingBits()
	return nil
}

// BuildCaptionSEI returns a caption SEI NAL unit in Annex B form.
func BuildCaptionSEI(pairs []media.CaptionPair) ([]byte, error) {
	w := bitstream.NewWriter(16 + 3*len(pairs))
	if err := WriteCaptionSEI(w, pairs); err != nil {
		return nil, err
	}
	return bitstream.ByteStream(w.Bytes()), nil
}

// oddParity sets bit 7 so the byte has an odd number of one bits.
func oddParity(b byte) byte {
	b &= 0x7F
	ones := 0
	for v := b; v != 0; v >>= 1 {
		ones += int(v & 1)
	}
	if ones%2 == 0 {
		b |= 0x80
	}
	return b
}
