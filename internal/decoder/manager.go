// Package decoder manages pictures for an MPEG-2 style decoder: it assigns
// picture order counts from temporal references, finds the reference
// pictures a B or P picture predicts from and hands decoded pictures to the
// caller in display order.
package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/hwcodec/internal/dpb"
	"github.com/zsiec/hwcodec/internal/media"
)

// temporalRefMod is the modulus of the 10-bit temporal_reference field.
const temporalRefMod = 1024

var ErrMissingReference = errors.New("decoder: reference picture missing")

// PictureHeader carries the fields of a picture header the manager needs.
type PictureHeader struct {
	Type              media.PictureType
	TemporalReference uint16
	// GOPStart is set on the first picture after a GOP header.
	GOPStart bool
	// BrokenLink marks B pictures after GOPStart whose forward reference
	// is unavailable.
	BrokenLink bool
	Surface    media.Surface
	PTS        int64
}

// References are the pictures a decode call predicts from. Forward is the
// past reference, Backward the future one.
type References struct {
	Forward  *dpb.Picture
	Backward *dpb.Picture
}

// Stats counts pictures by outcome.
type Stats struct {
	Decoded int64
	Skipped int64
	Output  int64
}

// Manager tracks decoded pictures in a two-slot buffer.
type Manager struct {
	log *slog.Logger
	buf *dpb.DPB
	out dpb.OutputFunc

	gopBase   int32
	maxTR     int32
	seenFirst bool

	decoded atomic.Int64
	skipped atomic.Int64
	output  atomic.Int64
}

// New creates a Manager that passes pictures to out in display order. If log
// is nil, slog.Default() is used.
func New(out dpb.OutputFunc, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{log: log.With("component", "decoder"), out: out}
	buf, err := dpb.New(2, m.emit, m.log)
	if err != nil {
		return nil, err
	}
	m.buf = buf
	return m, nil
}

// Decode registers the picture described by h and returns the references it
// predicts from. B pictures after a broken link are skipped: they are never
// output and Decode returns ErrMissingReference for them.
func (m *Manager) Decode(h PictureHeader) (*dpb.Picture, References, error) {
	if h.TemporalReference >= temporalRefMod {
		return nil, References{}, fmt.Errorf("decoder: temporal reference %d out of range", h.TemporalReference)
	}
	if h.GOPStart && m.seenFirst {
		m.gopBase += m.maxTR + 1
		m.maxTR = 0
	}
	m.seenFirst = true
	tr := int32(h.TemporalReference)
	m.maxTR = max(m.maxTR, tr)

	pic := &dpb.Picture{
		POC:       m.gopBase + tr,
		Type:      h.Type,
		Reference: h.Type != media.PictureB,
		Surface:   h.Surface,
		PTS:       h.PTS,
	}

	var refs References
	var err error
	switch h.Type {
	case media.PictureP:
		refs.Forward, _ = m.buf.Neighbours(pic)
		if refs.Forward == nil {
			err = fmt.Errorf("%w: P picture poc %d", ErrMissingReference, pic.POC)
		}
	case media.PictureB:
		refs.Forward, refs.Backward = m.buf.Neighbours(pic)
		switch {
		case refs.Backward == nil:
			err = fmt.Errorf("%w: B picture poc %d has no backward reference", ErrMissingReference, pic.POC)
		case refs.Forward == nil || h.BrokenLink:
			pic.Skipped = true
			err = fmt.Errorf("%w: B picture poc %d after broken link", ErrMissingReference, pic.POC)
		}
	}

	if pic.Skipped {
		m.skipped.Add(1)
		if addErr := m.buf.Add(pic); addErr != nil {
			return nil, References{}, addErr
		}
		m.log.Debug("skipped picture", "poc", pic.POC)
		return pic, References{}, err
	}
	if err != nil {
		return nil, References{}, err
	}
	if err := m.buf.Add(pic); err != nil {
		return nil, References{}, err
	}
	m.decoded.Add(1)
	return pic, refs, nil
}

// Flush outputs the held reference pictures, as at the end of a sequence.
func (m *Manager) Flush() error {
	m.seenFirst = false
	m.gopBase, m.maxTR = 0, 0
	return m.buf.Flush()
}

// Stats returns the picture counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Decoded: m.decoded.Load(),
		Skipped: m.skipped.Load(),
		Output:  m.output.Load(),
	}
}

func (m *Manager) emit(p *dpb.Picture) error {
	m.output.Add(1)
	if m.out == nil {
		return nil
	}
	return m.out(p)
}
