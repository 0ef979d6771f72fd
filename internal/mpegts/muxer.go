// Package mpegts multiplexes the coded H.264 stream into a single-program
// MPEG transport stream for the SRT publisher.
package mpegts

import (
	"github.com/zsiec/hwcodec/internal/h264"
	"github.com/zsiec/hwcodec/internal/media"
)

const (
	PacketSize = 188

	syncByte          = 0x47
	packetHeaderSize  = 4
	packetPayloadSize = PacketSize - packetHeaderSize

	pidPAT   = 0x0000
	pidPMT   = 0x1000
	pidVideo = 0x0100

	tableIDPAT = 0x00
	tableIDPMT = 0x02

	programNumber     = 1
	transportStreamID = 1

	streamTypeH264 = 0x1B
	streamIDVideo  = 0xE0

	afRandomAccess = 0x40
	afPCR          = 0x10
)

// audNAL is an access unit delimiter allowing any slice type.
var audNAL = []byte{0x00, 0x00, 0x00, 0x01, h264.NALTypeAUD, 0xF0}

// Muxer turns coded frames in decode order into transport stream packets.
// Video carries the PCR; PAT and PMT precede the first frame and every key
// frame. It is not safe for concurrent use.
type Muxer struct {
	frameDuration int64
	delay         int64

	frames   int64
	firstPTS int64
	cc       map[uint16]uint8
	pes      []byte
}

// NewMuxer creates a Muxer. frameDuration is in 90 kHz ticks; reorder is
// the number of frames the decoder must hold back (the B-frame count), used
// to derive decode timestamps.
func NewMuxer(frameDuration int64, reorder int) *Muxer {
	return &Muxer{
		frameDuration: frameDuration,
		delay:         frameDuration * int64(reorder),
		cc:            make(map[uint16]uint8),
	}
}

// AppendFrame appends the packets carrying f to dst.
func (m *Muxer) AppendFrame(dst []byte, f *media.CodedFrame) []byte {
	if m.frames == 0 {
		m.firstPTS = f.PTS
	}
	if m.frames == 0 || f.IsKeyframe {
		dst = m.appendSection(dst, pidPAT, patSection())
		dst = m.appendSection(dst, pidPMT, pmtSection())
	}

	// Presentation is shifted by the reorder delay so decode timestamps,
	// advancing one frame per access unit, never pass it.
	pts := f.PTS + m.delay
	dts := m.firstPTS + m.frames*m.frameDuration
	m.frames++

	m.pes = appendPESHeader(m.pes[:0], pts, dts)
	if !startsWithAUD(f.Data) {
		m.pes = append(m.pes, audNAL...)
	}
	m.pes = append(m.pes, f.Data...)

	return m.appendPES(dst, m.pes, dts, f.IsKeyframe)
}

func startsWithAUD(au []byte) bool {
	for i := 0; i+3 < len(au) && i < 4; i++ {
		if au[i] == 0 && au[i+1] == 0 && au[i+2] == 1 {
			return au[i+3]&0x1F == h264.NALTypeAUD
		}
	}
	return false
}

func (m *Muxer) nextCC(pid uint16) uint8 {
	cc := m.cc[pid]
	m.cc[pid] = (cc + 1) & 0x0F
	return cc
}

func (m *Muxer) appendHeader(dst []byte, pid uint16, start, adaptation bool) []byte {
	b1 := byte(pid>>8) & 0x1F
	if start {
		b1 |= 0x40
	}
	afc := byte(0x10)
	if adaptation {
		afc = 0x30
	}
	return append(dst, syncByte, b1, byte(pid), afc|m.nextCC(pid))
}

// appendSection writes one PSI section in a single packet padded with 0xFF.
func (m *Muxer) appendSection(dst []byte, pid uint16, section []byte) []byte {
	dst = m.appendHeader(dst, pid, true, false)
	dst = append(dst, 0x00) // pointer_field
	dst = append(dst, section...)
	for range packetPayloadSize - 1 - len(section) {
		dst = append(dst, 0xFF)
	}
	return dst
}

// appendPES splits a PES packet over transport packets. The first packet
// carries the PCR and, for key frames, the random access indicator; the last
// is padded through its adaptation field.
func (m *Muxer) appendPES(dst, pes []byte, pcr int64, key bool) []byte {
	first := true
	for len(pes) > 0 {
		var af []byte
		if first {
			flags := byte(afPCR)
			if key {
				flags |= afRandomAccess
			}
			af = appendPCR(append(af, flags), pcr)
		}

		avail := packetPayloadSize
		if af != nil {
			avail -= 1 + len(af)
		}
		n := min(len(pes), avail)
		stuffing := avail - n

		switch {
		case stuffing == 0:
		case af != nil:
			for range stuffing {
				af = append(af, 0xFF)
			}
		case stuffing == 1:
			// A zero-length adaptation field consumes the single byte.
			af = []byte{}
		default:
			af = append(af, 0x00)
			for range stuffing - 2 {
				af = append(af, 0xFF)
			}
		}

		dst = m.appendHeader(dst, pidVideo, first, af != nil)
		if af != nil {
			dst = append(dst, byte(len(af)))
			dst = append(dst, af...)
		}
		dst = append(dst, pes[:n]...)
		pes = pes[n:]
		first = false
	}
	return dst
}

func appendPESHeader(dst []byte, pts, dts int64) []byte {
	// PES_packet_length 0: unbounded, allowed for video.
	dst = append(dst, 0x00, 0x00, 0x01, streamIDVideo, 0x00, 0x00, 0x80)
	if pts == dts {
		dst = append(dst, 0x80, 5)
		return appendTimestamp(dst, 0x2, pts)
	}
	dst = append(dst, 0xC0, 10)
	dst = appendTimestamp(dst, 0x3, pts)
	return appendTimestamp(dst, 0x1, dts)
}

// appendTimestamp writes a 33-bit 90 kHz timestamp with marker bits.
func appendTimestamp(dst []byte, prefix byte, ts int64) []byte {
	ts &= 1<<33 - 1
	return append(dst,
		prefix<<4|byte(ts>>29)&0x0E|1,
		byte(ts>>22),
		byte(ts>>14)&0xFE|1,
		byte(ts>>7),
		byte(ts<<1)&0xFE|1,
	)
}

// appendPCR writes a program clock reference with a zero extension.
func appendPCR(dst []byte, base int64) []byte {
	base &= 1<<33 - 1
	return append(dst,
		byte(base>>25),
		byte(base>>17),
		byte(base>>9),
		byte(base>>1),
		byte(base<<7)|0x7E,
		0x00,
	)
}

func patSection() []byte {
	s := []byte{
		tableIDPAT,
		0xB0, 0x0D, // section_syntax_indicator, section_length 13
		byte(transportStreamID >> 8), byte(transportStreamID),
		0xC1,       // version 0, current_next
		0x00, 0x00, // section_number, last_section_number
		byte(programNumber >> 8), byte(programNumber),
		0xE0 | byte(pidPMT>>8), byte(pidPMT & 0xFF),
	}
	return appendCRC32(s)
}

func pmtSection() []byte {
	s := []byte{
		tableIDPMT,
		0xB0, 0x12, // section_length 18
		byte(programNumber >> 8), byte(programNumber),
		0xC1,
		0x00, 0x00,
		0xE0 | byte(pidVideo>>8), byte(pidVideo & 0xFF), // PCR_PID
		0xF0, 0x00, // program_info_length 0
		streamTypeH264, 0xE0 | byte(pidVideo>>8), byte(pidVideo & 0xFF), 0xF0, 0x00,
	}
	return appendCRC32(s)
}
