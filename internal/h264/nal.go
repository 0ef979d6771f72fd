package h264

import "github.com/zsiec/hwcodec/internal/bitstream"

// NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// nal_ref_idc values used by the writers.
const (
	RefIdcNone    = 0
	RefIdcLow     = 1
	RefIdcNormal  = 2
	RefIdcHighest = 3
)

// NALUnit is one NAL unit of an Annex B byte stream.
type NALUnit struct {
	Type byte   // nal_unit_type
	Data []byte // NAL header byte plus escaped payload, without start code
}

// RefIdc returns nal_ref_idc of the unit.
func (n NALUnit) RefIdc() uint8 {
	if len(n.Data) == 0 {
		return 0
	}
	return (n.Data[0] >> 5) & 0x03
}

// RBSP returns the payload after the NAL header with emulation prevention
// bytes removed.
func (n NALUnit) RBSP() []byte {
	if len(n.Data) < 2 {
		return nil
	}
	return bitstream.UnescapeEmulation(n.Data[1:])
}

// ParseAnnexB splits an Annex B byte stream into NAL units. Both 3-byte
// (0x000001) and 4-byte (0x00000001) start codes are recognized.
func ParseAnnexB(data []byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}

	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, pos := range positions {
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}
		nal := data[pos.dataStart:end]
		units = append(units, NALUnit{Type: nal[0] & 0x1F, Data: nal})
	}
	return units
}

// IsSlice reports whether the NAL type carries coded slice data.
func IsSlice(nalType byte) bool {
	return nalType == NALTypeSlice || nalType == NALTypeIDR
}
