// Package rtp sends coded access units as RFC 6184 RTP packets over UDP.
package rtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"

	pionrtp "github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/zsiec/hwcodec/internal/media"
)

const (
	// DefaultPayloadType is the first dynamic payload type.
	DefaultPayloadType = 96
	// DefaultMTU keeps packets clear of common tunnel overheads.
	DefaultMTU = 1200

	rtpHeaderSize = 12
	minMTU        = 64
)

var (
	ErrClosed = errors.New("rtp: sender closed")
	ErrMTU    = errors.New("rtp: MTU too small")
)

// Config configures a Sender. Zero values select the defaults; a zero SSRC
// is replaced by a random one.
type Config struct {
	Addr        string
	PayloadType uint8
	SSRC        uint32
	MTU         int
}

// Sender is a pipeline sink that packetizes each access unit and writes the
// packets to one UDP peer. RTP timestamps are the frames' 90 kHz PTS.
type Sender struct {
	log       *slog.Logger
	w         io.Writer
	closeConn func() error

	mu        sync.Mutex
	payloader *codecs.H264Payloader
	seq       pionrtp.Sequencer
	pt        uint8
	ssrc      uint32
	mtu       int
	closed    bool

	packets atomic.Int64
	bytes   atomic.Int64
}

// Dial creates a Sender writing to cfg.Addr.
func Dial(cfg Config, log *slog.Logger) (*Sender, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("address is required")
	}
	conn, err := net.Dial("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("rtp dial %s: %w", cfg.Addr, err)
	}
	s, err := newSender(conn, conn.Close, cfg, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.log.Info("sending", "address", cfg.Addr, "ssrc", s.ssrc, "payload_type", s.pt)
	return s, nil
}

func newSender(w io.Writer, closeConn func() error, cfg Config, log *slog.Logger) (*Sender, error) {
	if log == nil {
		log = slog.Default()
	}
	mtu := cfg.MTU
	if mtu == 0 {
		mtu = DefaultMTU
	}
	if mtu < minMTU {
		return nil, fmt.Errorf("%w: %d", ErrMTU, mtu)
	}
	pt := cfg.PayloadType
	if pt == 0 {
		pt = DefaultPayloadType
	}
	ssrc := cfg.SSRC
	if ssrc == 0 {
		ssrc = rand.Uint32()
	}
	return &Sender{
		log:       log.With("component", "rtp-sender"),
		w:         w,
		closeConn: closeConn,
		payloader: &codecs.H264Payloader{},
		seq:       pionrtp.NewRandomSequencer(),
		pt:        pt,
		ssrc:      ssrc,
		mtu:       mtu,
	}, nil
}

// WriteFrame packetizes and sends f.Data. The marker bit is set on the last
// packet of the access unit.
func (s *Sender) WriteFrame(ctx context.Context, f *media.CodedFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	payloads := s.payloader.Payload(uint16(s.mtu-rtpHeaderSize), f.Data)
	for i, payload := range payloads {
		if err := ctx.Err(); err != nil {
			return err
		}
		pkt := pionrtp.Packet{
			Header: pionrtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    s.pt,
				SequenceNumber: s.seq.NextSequenceNumber(),
				Timestamp:      uint32(f.PTS),
				SSRC:           s.ssrc,
			},
			Payload: payload,
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("rtp marshal: %w", err)
		}
		if _, err := s.w.Write(raw); err != nil {
			return fmt.Errorf("rtp write: %w", err)
		}
		s.packets.Add(1)
		s.bytes.Add(int64(len(raw)))
	}
	return nil
}

// Stats returns the packets and bytes written.
func (s *Sender) Stats() (packets, bytes int64) {
	return s.packets.Load(), s.bytes.Load()
}

// Close closes the UDP socket.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.log.Info("closed", "packets", s.packets.Load(), "bytes", s.bytes.Load())
	return s.closeConn()
}
