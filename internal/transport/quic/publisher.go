// Package quic carries coded access units between an encoder and a remote
// receiver over a single unidirectional QUIC stream per session.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	quicgo "github.com/quic-go/quic-go"

	"github.com/zsiec/hwcodec/internal/media"
)

// ALPN is the TLS application protocol both ends negotiate.
const ALPN = "hwcodec"

const (
	defaultDialTimeout = 10 * time.Second
	closeLinger        = 2 * time.Second
	idleTimeout        = 30 * time.Second
)

// Application error codes carried in CONNECTION_CLOSE.
const (
	codeOK         quicgo.ApplicationErrorCode = 0x0
	codeRejected   quicgo.ApplicationErrorCode = 0x1
	codeBadStream  quicgo.ApplicationErrorCode = 0x2
	codeShutdown   quicgo.ApplicationErrorCode = 0x3
	codeHandlerErr quicgo.ApplicationErrorCode = 0x4
)

var ErrClosed = errors.New("quic: publisher closed")

// PublisherConfig configures a Publisher. A zero SessionID is replaced by a
// random one.
type PublisherConfig struct {
	Addr        string
	TLS         *tls.Config
	SessionID   uuid.UUID
	DialTimeout time.Duration
}

// Publisher is a pipeline sink that sends every coded frame to a Receiver.
type Publisher struct {
	log  *slog.Logger
	id   uuid.UUID
	conn quicgo.Connection

	mu     sync.Mutex
	stream quicgo.SendStream
	buf    []byte
	closed bool
}

func quicConfig() *quicgo.Config {
	return &quicgo.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: idleTimeout / 3,
	}
}

// Dial connects to a receiver and opens the session stream.
func Dial(ctx context.Context, cfg PublisherConfig, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TLS == nil {
		return nil, errors.New("quic: TLS config required")
	}
	id := cfg.SessionID
	if id == uuid.Nil {
		id = uuid.New()
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := quicgo.DialAddr(dialCtx, cfg.Addr, cfg.TLS, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", cfg.Addr, err)
	}
	stream, err := conn.OpenUniStreamSync(dialCtx)
	if err != nil {
		_ = conn.CloseWithError(codeBadStream, "open stream")
		return nil, fmt.Errorf("quic open stream: %w", err)
	}

	p := &Publisher{
		log:    log.With("component", "quic-publisher", "session", id),
		id:     id,
		conn:   conn,
		stream: stream,
	}
	p.buf = appendHeader(p.buf[:0], id)
	if _, err := stream.Write(p.buf); err != nil {
		_ = conn.CloseWithError(codeBadStream, "write header")
		return nil, fmt.Errorf("quic write header: %w", err)
	}
	p.log.Info("connected", "addr", cfg.Addr)
	return p, nil
}

// ID returns the session identifier announced to the receiver.
func (p *Publisher) ID() uuid.UUID { return p.id }

// WriteFrame sends one coded frame. The context deadline, if any, bounds the
// write.
func (p *Publisher) WriteFrame(ctx context.Context, f *media.CodedFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	var err error
	p.buf, err = appendFrame(p.buf[:0], f)
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = p.stream.SetWriteDeadline(dl)
		defer func() { _ = p.stream.SetWriteDeadline(time.Time{}) }()
	}
	if _, err := p.stream.Write(p.buf); err != nil {
		return fmt.Errorf("quic write frame: %w", err)
	}
	return nil
}

// Close ends the session. It waits briefly for the receiver to acknowledge
// the end of stream before tearing the connection down.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	_, werr := p.stream.Write(appendEnd(p.buf[:0]))
	cerr := p.stream.Close()
	p.mu.Unlock()

	select {
	case <-p.conn.Context().Done():
	case <-time.After(closeLinger):
		p.log.Warn("receiver did not close session, closing")
	}
	_ = p.conn.CloseWithError(codeOK, "")
	p.log.Info("closed")
	return errors.Join(werr, cerr)
}
