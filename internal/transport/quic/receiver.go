package quic

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	quicgo "github.com/quic-go/quic-go"

	"github.com/zsiec/hwcodec/internal/media"
	"github.com/zsiec/hwcodec/internal/stream"
)

// Handler consumes frames received on a session, in the publisher's send
// order. Returning an error aborts that session.
type Handler func(ctx context.Context, sess *stream.Session, f *media.CodedFrame) error

// Receiver accepts publisher sessions and hands their frames to a Handler.
type Receiver struct {
	log      *slog.Logger
	ln       *quicgo.Listener
	sessions *stream.Manager
	handler  Handler
	wg       sync.WaitGroup
}

// Listen starts listening on addr. If sessions is nil a private manager is
// used.
func Listen(addr string, tlsConf *tls.Config, sessions *stream.Manager, h Handler, log *slog.Logger) (*Receiver, error) {
	if log == nil {
		log = slog.Default()
	}
	if h == nil {
		return nil, errors.New("quic: nil handler")
	}
	if sessions == nil {
		sessions = stream.NewManager(log)
	}
	ln, err := quicgo.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic listen %s: %w", addr, err)
	}
	return &Receiver{
		log:      log.With("component", "quic-receiver"),
		ln:       ln,
		sessions: sessions,
		handler:  h,
	}, nil
}

// Addr returns the listening address.
func (r *Receiver) Addr() net.Addr { return r.ln.Addr() }

// Sessions returns the manager tracking open sessions.
func (r *Receiver) Sessions() *stream.Manager { return r.sessions }

// Serve accepts sessions until ctx is cancelled, then closes the listener
// and waits for the session handlers to return.
func (r *Receiver) Serve(ctx context.Context) error {
	defer r.wg.Wait()
	defer r.ln.Close()

	r.log.Info("listening", "addr", r.ln.Addr())
	for {
		conn, err := r.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("quic accept: %w", err)
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.handle(ctx, conn)
		}()
	}
}

func (r *Receiver) handle(ctx context.Context, conn quicgo.Connection) {
	remote := conn.RemoteAddr().String()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.CloseWithError(codeShutdown, "shutdown")
	})
	defer stop()

	str, err := conn.AcceptUniStream(ctx)
	if err != nil {
		r.log.Debug("no session stream", "remote", remote, "error", err)
		_ = conn.CloseWithError(codeBadStream, "no stream")
		return
	}
	br := bufio.NewReader(str)
	id, err := readHeader(br)
	if err != nil {
		r.log.Warn("bad session header", "remote", remote, "error", err)
		_ = conn.CloseWithError(codeBadStream, "bad header")
		return
	}

	sess, ok := r.sessions.Open(id, remote)
	if !ok {
		_ = conn.CloseWithError(codeRejected, "duplicate session")
		return
	}
	defer r.sessions.Close(id)

	for {
		f, err := readMessage(br)
		if errors.Is(err, io.EOF) {
			_ = conn.CloseWithError(codeOK, "")
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				r.log.Warn("session stream failed", "session", id, "error", err)
			}
			_ = conn.CloseWithError(codeBadStream, "bad message")
			return
		}
		sess.Record(len(f.Data), f.IsKeyframe)
		if err := r.handler(ctx, sess, f); err != nil {
			r.log.Error("handler failed", "session", id, "error", err)
			_ = conn.CloseWithError(codeHandlerErr, "handler failed")
			return
		}
	}
}
