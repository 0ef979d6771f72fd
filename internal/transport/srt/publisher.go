// Package srt publishes the coded stream to a remote SRT listener in live
// mode, multiplexed into an MPEG transport stream.
package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/hwcodec/internal/media"
	"github.com/zsiec/hwcodec/internal/mpegts"
)

// ChunkSize is the live-mode payload size: seven 188-byte transport
// packets, the size SRT receivers expect per message.
const ChunkSize = 7 * mpegts.PacketSize

// latencyNs is the SRT latency setting in nanoseconds (120ms).
const latencyNs = 120_000_000

const defaultDialTimeout = 10 * time.Second

var ErrClosed = errors.New("srt: publisher closed")

// Config selects the remote listener. StreamID defaults to
// "live/<StreamKey>", and StreamKey to a random UUID.
type Config struct {
	Addr        string
	StreamKey   string
	StreamID    string
	DialTimeout time.Duration

	// FrameDuration in 90 kHz ticks and Reorder, the B-frame count, derive
	// the transport stream's decode timestamps.
	FrameDuration int64
	Reorder       int
}

// streamID returns the SRT stream ID announced at handshake.
func (c Config) streamID() string {
	if c.StreamID != "" {
		return c.StreamID
	}
	key := c.StreamKey
	if key == "" {
		key = uuid.NewString()
	}
	return "live/" + key
}

// Publisher is a pipeline sink writing each access unit as a sequence of
// transport stream messages of at most ChunkSize bytes.
type Publisher struct {
	log       *slog.Logger
	w         io.Writer
	closeConn func()

	mu     sync.Mutex
	mux    *mpegts.Muxer
	ts     []byte
	closed bool

	bytes  atomic.Int64
	chunks atomic.Int64
}

// Dial connects to the listener at cfg.Addr. The handshake runs in the
// background and is abandoned after the dial timeout or when ctx ends.
func Dial(ctx context.Context, cfg Config, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("address is required")
	}

	scfg := srtgo.DefaultConfig()
	scfg.Latency = latencyNs
	scfg.StreamID = cfg.streamID()

	log = log.With("component", "srt-publisher", "stream_id", scfg.StreamID)
	log.Info("dialing", "address", cfg.Addr)

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(cfg.Addr, scfg)
		ch <- dialResult{conn, err}
	}()

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial failed: %w", res.err)
		}
		log.Info("connected", "address", cfg.Addr)
		conn := res.conn
		return newPublisher(conn, func() { conn.Close() }, cfg, log), nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("SRT dial timed out after %s", dialTimeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

func newPublisher(w io.Writer, closeConn func(), cfg Config, log *slog.Logger) *Publisher {
	return &Publisher{
		log:       log,
		w:         w,
		closeConn: closeConn,
		mux:       mpegts.NewMuxer(cfg.FrameDuration, cfg.Reorder),
	}
}

// WriteFrame multiplexes and sends the access unit in f.Data.
func (p *Publisher) WriteFrame(ctx context.Context, f *media.CodedFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.ts = p.mux.AppendFrame(p.ts[:0], f)
	for data := p.ts; len(data) > 0; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(len(data), ChunkSize)
		if _, err := p.w.Write(data[:n]); err != nil {
			return fmt.Errorf("srt write: %w", err)
		}
		p.chunks.Add(1)
		p.bytes.Add(int64(n))
		data = data[n:]
	}
	return nil
}

// Stats returns the number of bytes and messages written.
func (p *Publisher) Stats() (bytes, chunks int64) {
	return p.bytes.Load(), p.chunks.Load()
}

// Close closes the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.closeConn()
	p.log.Info("closed", "bytes", p.bytes.Load(), "chunks", p.chunks.Load())
	return nil
}
