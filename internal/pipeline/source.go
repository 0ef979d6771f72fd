package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/zsiec/hwcodec/internal/media"
)

// SurfaceAllocator hands out input surfaces. The loopback backend
// implements it.
type SurfaceAllocator interface {
	CreateSurface(ctx context.Context) (media.Surface, error)
}

// CaptionSource supplies the caption pairs for a frame index.
type CaptionSource interface {
	Pairs(frame int) []media.CaptionPair
}

// SyntheticConfig describes a generated test stream.
type SyntheticConfig struct {
	// Frames is the number of frames to produce; zero means unbounded.
	Frames         int
	FrameRateNum   uint32
	FrameRateDenom uint32
	// Realtime paces frames at the frame rate instead of as fast as the
	// encoder accepts them.
	Realtime bool
	// KeyEvery forces a key frame every KeyEvery frames when positive.
	KeyEvery int
	Captions CaptionSource
}

// Synthetic is a Source of generated frames with 90 kHz timestamps.
type Synthetic struct {
	cfg   SyntheticConfig
	alloc SurfaceAllocator
	n     int
	tick  *time.Ticker
}

// NewSynthetic creates a Synthetic source.
func NewSynthetic(cfg SyntheticConfig, alloc SurfaceAllocator) (*Synthetic, error) {
	if cfg.FrameRateNum == 0 || cfg.FrameRateDenom == 0 {
		return nil, fmt.Errorf("pipeline: frame rate %d/%d", cfg.FrameRateNum, cfg.FrameRateDenom)
	}
	if alloc == nil {
		return nil, fmt.Errorf("pipeline: nil surface allocator")
	}
	return &Synthetic{cfg: cfg, alloc: alloc}, nil
}

// FrameDuration is the display duration of one frame.
func (s *Synthetic) FrameDuration() time.Duration {
	return time.Duration(int64(time.Second) * int64(s.cfg.FrameRateDenom) / int64(s.cfg.FrameRateNum))
}

func (s *Synthetic) Next(ctx context.Context) (media.Frame, error) {
	if s.cfg.Frames > 0 && s.n >= s.cfg.Frames {
		s.stop()
		return media.Frame{}, io.EOF
	}
	if s.cfg.Realtime {
		if s.tick == nil {
			s.tick = time.NewTicker(s.FrameDuration())
		} else {
			select {
			case <-s.tick.C:
			case <-ctx.Done():
				s.stop()
				return media.Frame{}, ctx.Err()
			}
		}
	}

	surf, err := s.alloc.CreateSurface(ctx)
	if err != nil {
		return media.Frame{}, err
	}
	f := media.Frame{
		Surface: surf,
		PTS:     int64(s.n) * 90000 * int64(s.cfg.FrameRateDenom) / int64(s.cfg.FrameRateNum),
	}
	if s.cfg.KeyEvery > 0 && s.n > 0 && s.n%s.cfg.KeyEvery == 0 {
		f.ForceKey = true
	}
	if s.cfg.Captions != nil {
		f.Captions = s.cfg.Captions.Pairs(s.n)
	}
	s.n++
	return f, nil
}

func (s *Synthetic) stop() {
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
}
