package bitstream

// StartCode is the four-byte Annex B start code prefix.
var StartCode = []byte{0x00, 0x00, 0x00, 0x01}

// EscapeEmulation inserts an emulation prevention byte (0x03) wherever two
// zero bytes are followed by a byte in 0x00..0x03, so the escaped payload can
// never contain a start code prefix.
func EscapeEmulation(raw []byte) []byte {
	out := make([]byte, 0, len(raw)+len(raw)/2)
	zeros := 0
	for _, b := range raw {
		if zeros == 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0x00 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// UnescapeEmulation removes emulation prevention bytes: any 0x03 that follows
// two zero bytes is dropped.
func UnescapeEmulation(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
		if zeros == 2 && b == 0x03 {
			zeros = 0
			continue
		}
		out = append(out, b)
		if b == 0x00 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// ByteStream returns raw as an Annex B byte stream unit: the four-byte start
// code followed by the escaped payload.
func ByteStream(raw []byte) []byte {
	escaped := EscapeEmulation(raw)
	out := make([]byte, 0, len(StartCode)+len(escaped))
	out = append(out, StartCode...)
	return append(out, escaped...)
}
