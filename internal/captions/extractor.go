// Package captions carries CEA-608 captions through the coder: a roll-up
// scheduler that turns SubRip cues into per-frame caption pairs for the
// encoder, and an extractor that recovers them from a coded H.264 stream in
// display order.
package captions

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/ccx"
	"github.com/zsiec/hwcodec/internal/dpb"
	"github.com/zsiec/hwcodec/internal/h264"
	"github.com/zsiec/hwcodec/internal/media"
)

// DefaultReorder is the reorder depth assumed when the SPS does not signal
// one.
const DefaultReorder = 2

// ErrNoSPS is returned for a slice that arrives before any SPS.
var ErrNoSPS = errors.New("captions: slice before sequence parameter set")

// Config selects what the Extractor reports.
type Config struct {
	// Reorder overrides the reorder depth read from the SPS when positive.
	Reorder int
	// Captions receives decoded caption updates in display order.
	Captions func(*ccx.CaptionFrame)
	// Pairs receives every CEA-608 pair, parity stripped, in display order.
	Pairs func(pts int64, pair media.CaptionPair)
}

// Extractor reorders access units into display order and decodes the
// caption SEI they carry. It is not safe for concurrent use.
type Extractor struct {
	log *slog.Logger
	cfg Config

	sps     h264.SPSInfo
	haveSPS bool
	buf     *dpb.DPB

	prevPOCMsb int32
	prevPOCLsb int32

	dec608   map[int]*ccx.CEA608Decoder
	svc708   map[int]*ccx.CEA708Service
	dtvccBuf []byte

	pictures    int
	lastCtrl    [2][2]byte
	lastWasCtrl [2]bool
	lastCtrlPic [2]int
}

// NewExtractor creates an Extractor. If log is nil, slog.Default() is used.
func NewExtractor(cfg Config, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	x := &Extractor{
		log: log.With("component", "captions"),
		cfg: cfg,
		dec608: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
		svc708: make(map[int]*ccx.CEA708Service),
	}
	for i := 1; i <= 6; i++ {
		x.svc708[i] = ccx.NewCEA708Service()
	}
	return x
}

// Push consumes one access unit in decode order.
func (x *Extractor) Push(au []byte, pts int64) error {
	var sei [][]byte
	var slice *h264.NALUnit
	units := h264.ParseAnnexB(au)
	for i := range units {
		u := &units[i]
		switch {
		case u.Type == h264.NALTypeSPS:
			if err := x.setSPS(u.Data); err != nil {
				return err
			}
		case u.Type == h264.NALTypeSEI:
			sei = append(sei, u.Data)
		case h264.IsSlice(u.Type) && slice == nil:
			slice = u
		}
	}
	if slice == nil {
		return nil
	}
	if !x.haveSPS {
		return ErrNoSPS
	}

	hdr, err := h264.ParseSliceHeader(slice.Data, x.sps)
	if err != nil {
		return err
	}
	if hdr.NALType == h264.NALTypeIDR {
		if err := x.buf.Flush(); err != nil {
			return err
		}
		x.prevPOCMsb, x.prevPOCLsb = 0, 0
	}

	pic := &dpb.Picture{
		POC:      x.poc(hdr),
		FrameNum: hdr.FrameNum,
		Type:     hdr.Type,
		PTS:      pts,
		SEI:      sei,
	}
	return x.buf.Add(pic)
}

// Flush outputs every buffered picture. Call it at end of stream.
func (x *Extractor) Flush() error {
	if x.buf == nil {
		return nil
	}
	return x.buf.Flush()
}

func (x *Extractor) setSPS(nal []byte) error {
	info, err := h264.ParseSPS(nal)
	if err != nil {
		return fmt.Errorf("captions: %w", err)
	}
	depth := DefaultReorder
	switch {
	case x.cfg.Reorder > 0:
		depth = x.cfg.Reorder
	case info.RestrictionFound:
		depth = int(info.MaxNumReorder)
	}

	if x.buf != nil && x.haveSPS && info.ID == x.sps.ID && x.buf.Capacity() == depth+2 {
		x.sps = info
		return nil
	}
	if x.buf != nil {
		if err := x.buf.Flush(); err != nil {
			return err
		}
	}
	// Pictures are buffered as non-reference so the buffer only reorders.
	// Two extra slots keep the capacity clear of the pair policy.
	buf, err := dpb.New(depth+2, x.output, x.log)
	if err != nil {
		return err
	}
	x.buf = buf
	x.sps = info
	x.haveSPS = true
	x.log.Debug("caption reorder buffer", "depth", depth, "sps_id", info.ID)
	return nil
}

// poc derives the picture order count for pic_order_cnt_type 0.
func (x *Extractor) poc(hdr h264.SliceHeaderPrefix) int32 {
	maxLsb := int32(x.sps.MaxPOCLsb())
	lsb := int32(hdr.POCLsb)
	msb := x.prevPOCMsb
	switch {
	case lsb < x.prevPOCLsb && x.prevPOCLsb-lsb >= maxLsb/2:
		msb += maxLsb
	case lsb > x.prevPOCLsb && lsb-x.prevPOCLsb > maxLsb/2:
		msb -= maxLsb
	}
	if hdr.NALRefIdc != 0 {
		x.prevPOCMsb, x.prevPOCLsb = msb, lsb
	}
	return msb + lsb
}

func (x *Extractor) output(p *dpb.Picture) error {
	x.pictures++
	for _, nal := range p.SEI {
		x.decodeSEI(nal, p.PTS)
	}
	return nil
}

func (x *Extractor) decodeSEI(nal []byte, pts int64) {
	cd := ccx.ExtractCaptions(nal)
	if cd == nil {
		return
	}

	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]
		f := pair.Field
		if x.cfg.Pairs != nil {
			x.cfg.Pairs(pts, media.CaptionPair{Field: uint8(f), Data: [2]byte{cc1 & 0x7F, cc2 & 0x7F}})
		}

		// Control codes are sent twice; act on the first copy only.
		if isCtrl := cc1&0x7F >= 0x10 && cc1&0x7F <= 0x1F; isCtrl {
			cp := [2]byte{cc1, cc2}
			gap := x.pictures - x.lastCtrlPic[f]
			if x.lastWasCtrl[f] && x.lastCtrl[f] == cp && gap <= 2 {
				x.lastWasCtrl[f] = false
				continue
			}
			x.lastCtrl[f] = cp
			x.lastWasCtrl[f] = true
			x.lastCtrlPic[f] = x.pictures
		} else {
			x.lastWasCtrl[f] = false
		}

		dec := x.dec608[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			frame := &ccx.CaptionFrame{PTS: pts, Text: text, Channel: pair.Channel}
			frame.Regions = dec.StyledRegions()
			x.emit(frame)
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			x.drainDTVCC(pts)
			x.dtvccBuf = x.dtvccBuf[:0]
		}
		x.dtvccBuf = append(x.dtvccBuf, t.Data[0], t.Data[1])
	}
}

func (x *Extractor) drainDTVCC(pts int64) {
	if len(x.dtvccBuf) < 1 {
		return
	}
	size := ccx.DTVCCPacketSize(x.dtvccBuf[0])
	if len(x.dtvccBuf) < size {
		return
	}
	for _, block := range ccx.ParseDTVCCPacket(x.dtvccBuf[:size]) {
		svc := x.svc708[block.ServiceNum]
		if svc == nil || !svc.ProcessBlock(block.Data) {
			continue
		}
		if text := svc.DisplayText(); text != "" {
			frame := &ccx.CaptionFrame{PTS: pts, Text: text, Channel: block.ServiceNum + 6}
			frame.Regions = svc.StyledRegions()
			x.emit(frame)
		}
	}
	x.dtvccBuf = x.dtvccBuf[size:]
}

func (x *Extractor) emit(f *ccx.CaptionFrame) {
	if x.cfg.Captions != nil {
		x.cfg.Captions(f)
	}
}
