// Package pipeline runs the two execution contexts of an encode session: a
// submit loop feeding raw frames to the encoder and a consume loop
// delivering coded access units to the sinks, in decode order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/hwcodec/internal/encoder"
	"github.com/zsiec/hwcodec/internal/h264"
	"github.com/zsiec/hwcodec/internal/media"
)

// Source produces raw frames in display order. Next returns io.EOF after
// the last frame.
type Source interface {
	Next(ctx context.Context) (media.Frame, error)
}

// Sink receives coded access units. Frames must not be retained past the
// call unless copied; the pipeline hands each sink its own copy.
type Sink interface {
	WriteFrame(ctx context.Context, frame *media.CodedFrame) error
}

// Stats is a point-in-time snapshot of the session.
type Stats struct {
	UptimeMs       int64
	FramesIn       int64
	FramesOut      int64
	BytesOut       int64
	KeyFrames      int64
	LastPTS        int64
	Encoder        encoder.Stats
	CodecString    string
	Width          int
	Height         int
	SinkErrors     int64
	OutputQueueLen int
}

// Pipeline bridges a Source, an Encoder and a set of Sinks.
type Pipeline struct {
	log       *slog.Logger
	enc       *encoder.Encoder
	src       Source
	sinks     []Sink
	startTime time.Time

	framesIn   atomic.Int64
	framesOut  atomic.Int64
	bytesOut   atomic.Int64
	keyFrames  atomic.Int64
	lastPTS    atomic.Int64
	sinkErrors atomic.Int64
	codec      atomic.Pointer[h264.SPSInfo]
}

// New creates a Pipeline. The encoder must be started before Run.
func New(enc *encoder.Encoder, src Source, log *slog.Logger, sinks ...Sink) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log:       log.With("component", "pipeline"),
		enc:       enc,
		src:       src,
		sinks:     sinks,
		startTime: time.Now(),
	}
}

// Run blocks until the source is exhausted and every coded frame has been
// delivered, a component fails, or ctx is cancelled. Cancellation is not an
// error.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	submitted := make(chan struct{})

	g.Go(func() error {
		defer close(submitted)
		return p.submitLoop(gctx)
	})
	g.Go(func() error {
		return p.consumeLoop(gctx, submitted)
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (p *Pipeline) submitLoop(ctx context.Context) error {
	for {
		f, err := p.src.Next(ctx)
		if errors.Is(err, io.EOF) {
			p.log.Info("source finished", "frames", p.framesIn.Load())
			return p.enc.Drain(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pipeline: source: %w", err)
		}
		p.framesIn.Add(1)
		if err := p.enc.Encode(ctx, f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// consumeLoop waits for output until the submit loop is done, then drains
// what is left without waiting.
func (p *Pipeline) consumeLoop(ctx context.Context, submitted <-chan struct{}) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-submitted:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	out := &encoder.OutputBuffer{Format: encoder.OutputEverything, Data: make([]byte, p.enc.MaxOutputSize())}
	for {
		err := p.enc.GetOutput(waitCtx, out, true)
		switch {
		case err == nil:
			if err := p.forward(ctx, out); err != nil {
				return err
			}
			continue
		case ctx.Err() != nil:
			return nil
		case waitCtx.Err() != nil:
			return p.drain(ctx, out)
		case errors.Is(err, encoder.ErrBufferTooSmall):
			out.Data = make([]byte, 2*len(out.Data))
			p.log.Warn("grew output buffer", "bytes", len(out.Data))
			continue
		default:
			return err
		}
	}
}

func (p *Pipeline) drain(ctx context.Context, out *encoder.OutputBuffer) error {
	for {
		err := p.enc.GetOutput(ctx, out, false)
		switch {
		case errors.Is(err, encoder.ErrNoData):
			p.log.Info("output drained", "frames", p.framesOut.Load())
			return nil
		case err != nil:
			return err
		}
		if err := p.forward(ctx, out); err != nil {
			return err
		}
	}
}

// forward turns one output buffer into a CodedFrame and hands it to every
// sink. The first sink error stops the pipeline.
func (p *Pipeline) forward(ctx context.Context, out *encoder.OutputBuffer) error {
	data := out.Data[:out.Size]
	frame := &media.CodedFrame{
		PTS:        out.PTS,
		Type:       out.Type,
		IsKeyframe: out.Flags&encoder.FlagSyncFrame != 0,
	}
	for _, u := range h264.ParseAnnexB(data) {
		switch u.Type {
		case h264.NALTypeSPS:
			frame.SPS = append([]byte(nil), u.Data...)
		case h264.NALTypePPS:
			frame.PPS = append([]byte(nil), u.Data...)
		}
	}
	if frame.SPS != nil {
		p.recordCodec(frame.SPS)
	}

	for i, s := range p.sinks {
		f := *frame
		f.Data = append([]byte(nil), data...)
		if err := s.WriteFrame(ctx, &f); err != nil {
			p.sinkErrors.Add(1)
			return fmt.Errorf("pipeline: sink %d: %w", i, err)
		}
	}

	p.framesOut.Add(1)
	p.bytesOut.Add(int64(len(data)))
	p.lastPTS.Store(out.PTS)
	if frame.IsKeyframe {
		p.keyFrames.Add(1)
	}
	return nil
}

func (p *Pipeline) recordCodec(sps []byte) {
	info, err := h264.ParseSPS(sps)
	if err != nil {
		p.log.Warn("unparsable sps in output", "error", err)
		return
	}
	if prev := p.codec.Swap(&info); prev == nil || prev.Width != info.Width || prev.Height != info.Height {
		p.log.Info("stream format",
			"codec", info.CodecString(),
			"width", info.Width,
			"height", info.Height,
		)
	}
}

// Stats returns a snapshot of the pipeline and encoder counters.
func (p *Pipeline) Stats() Stats {
	st := Stats{
		UptimeMs:   time.Since(p.startTime).Milliseconds(),
		FramesIn:   p.framesIn.Load(),
		FramesOut:  p.framesOut.Load(),
		BytesOut:   p.bytesOut.Load(),
		KeyFrames:  p.keyFrames.Load(),
		LastPTS:    p.lastPTS.Load(),
		SinkErrors: p.sinkErrors.Load(),
		Encoder:    p.enc.Stats(),
	}
	st.OutputQueueLen = st.Encoder.QueueDepth
	if info := p.codec.Load(); info != nil {
		st.CodecString = info.CodecString()
		st.Width, st.Height = info.Width, info.Height
	}
	return st
}
