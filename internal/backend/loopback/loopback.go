// Package loopback is a software stand-in for a hardware encode device. It
// turns each encoder job into a well-formed slice NAL unit whose slice data
// is a deterministic filler, and hands the input surface back as the
// reconstructed picture.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/hwcodec/internal/bitstream"
	"github.com/zsiec/hwcodec/internal/encoder"
	"github.com/zsiec/hwcodec/internal/media"
)

// Default filler sizes per picture type, in bytes.
const (
	DefaultIntraBytes = 2048
	DefaultInterBytes = 512
	DefaultBBytes     = 128
)

var ErrClosed = errors.New("loopback: backend closed")

// Config tunes the simulated device.
type Config struct {
	// Latency delays Sync to mimic an asynchronous device.
	Latency    time.Duration
	IntraBytes int
	InterBytes int
	BBytes     int
}

// Backend implements encoder.Backend.
type Backend struct {
	cfg      Config
	log      *slog.Logger
	closed   atomic.Bool
	jobs     atomic.Int64
	surfaces atomic.Uint32
}

// New creates a Backend. Zero sizes in cfg take the defaults.
func New(cfg Config, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	if cfg.IntraBytes <= 0 {
		cfg.IntraBytes = DefaultIntraBytes
	}
	if cfg.InterBytes <= 0 {
		cfg.InterBytes = DefaultInterBytes
	}
	if cfg.BBytes <= 0 {
		cfg.BBytes = DefaultBBytes
	}
	return &Backend{cfg: cfg, log: log.With("component", "loopback")}
}

// Close makes further Encode calls fail.
func (b *Backend) Close() {
	if b.closed.CompareAndSwap(false, true) {
		b.log.Info("backend closed", "jobs", b.jobs.Load())
	}
}

// CreateSurface allocates an input surface. Surfaces are plain IDs; the
// loopback device never touches pixels.
func (b *Backend) CreateSurface(ctx context.Context) (media.Surface, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return media.SurfaceID(b.surfaces.Add(1)), nil
}

// Jobs returns the number of jobs accepted.
func (b *Backend) Jobs() int64 { return b.jobs.Load() }

// Encode packs job's slice header and filler into one slice NAL unit. The
// returned buffer becomes ready after the configured latency.
func (b *Backend) Encode(ctx context.Context, job *encoder.Job) (encoder.Coded, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if job == nil || job.SliceHeaderBits <= 0 || job.Input == nil {
		return nil, fmt.Errorf("loopback: incomplete job")
	}

	n := b.fillerSize(job.Type)
	w := bitstream.NewWriter(len(job.SliceHeader) + n + 2)
	if err := appendBits(w, job.SliceHeader, job.SliceHeaderBits); err != nil {
		return nil, err
	}
	fill := byte(job.POC) | 0x80
	for range n {
		if err := w.PutBits(uint32(fill), 8); err != nil {
			return nil, err
		}
	}
	w.WriteTrailingBits()

	nal := bitstream.ByteStream(w.Bytes())
	if job.MaxCodedSize > 0 && len(nal) > job.MaxCodedSize {
		return nil, fmt.Errorf("loopback: %d bytes exceeds coded buffer of %d", len(nal), job.MaxCodedSize)
	}
	b.jobs.Add(1)

	c := &coded{data: nal, recon: job.Input, done: make(chan struct{})}
	if b.cfg.Latency > 0 {
		time.AfterFunc(b.cfg.Latency, func() { close(c.done) })
	} else {
		close(c.done)
	}
	return c, nil
}

func (b *Backend) fillerSize(t media.PictureType) int {
	switch t {
	case media.PictureI:
		return b.cfg.IntraBytes
	case media.PictureB:
		return b.cfg.BBytes
	default:
		return b.cfg.InterBytes
	}
}

// appendBits copies the first nbits of src into w.
func appendBits(w *bitstream.Writer, src []byte, nbits int) error {
	if nbits > len(src)*8 {
		return fmt.Errorf("loopback: header claims %d bits, has %d", nbits, len(src)*8)
	}
	full := nbits / 8
	for _, v := range src[:full] {
		if err := w.PutBits(uint32(v), 8); err != nil {
			return err
		}
	}
	if rem := nbits % 8; rem > 0 {
		return w.PutBits(uint32(src[full]>>(8-rem)), rem)
	}
	return nil
}

type coded struct {
	data  []byte
	recon media.Surface
	done  chan struct{}
}

func (c *coded) Sync(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *coded) Bytes() []byte                { return c.data }
func (c *coded) Reconstructed() media.Surface { return c.recon }
