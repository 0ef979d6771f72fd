package quic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/hwcodec/internal/certs"
	"github.com/zsiec/hwcodec/internal/media"
	"github.com/zsiec/hwcodec/internal/stream"
)

type received struct {
	session uuid.UUID
	frame   *media.CodedFrame
}

func startReceiver(t *testing.T, h Handler) (*Receiver, *certs.CertInfo, context.CancelFunc, <-chan error) {
	t.Helper()
	cert, err := certs.Generate("hwcodec", time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	r, err := Listen("127.0.0.1:0", cert.ServerConfig(ALPN), stream.NewManager(nil), h, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()
	return r, cert, cancel, done
}

func TestPublishReceive(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []received
	finished := make(chan struct{})
	h := func(_ context.Context, sess *stream.Session, f *media.CodedFrame) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, received{sess.ID, f})
		if len(got) == 3 {
			close(finished)
		}
		return nil
	}
	r, cert, cancel, done := startReceiver(t, h)
	defer cancel()

	ctx, cancelDial := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelDial()
	id := uuid.New()
	p, err := Dial(ctx, PublisherConfig{
		Addr:      r.Addr().String(),
		TLS:       certs.PinnedClientConfig(cert.Fingerprint, ALPN),
		SessionID: id,
	}, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if p.ID() != id {
		t.Errorf("ID: got %v, want %v", p.ID(), id)
	}

	frames := []*media.CodedFrame{
		{PTS: 0, Type: media.PictureI, IsKeyframe: true, SPS: []byte{0x67, 0x64}, PPS: []byte{0x68}, Data: []byte{0, 0, 0, 1, 0x65, 1, 2, 3}},
		{PTS: 9009, Type: media.PictureP, Data: []byte{0, 0, 0, 1, 0x41, 4}},
		{PTS: 3003, Type: media.PictureB, Data: []byte{0, 0, 0, 1, 0x01, 5}},
	}
	for _, f := range frames {
		if err := p.WriteFrame(ctx, f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	select {
	case <-finished:
	case <-ctx.Done():
		t.Fatal("timed out waiting for frames")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := p.WriteFrame(ctx, frames[0]); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteFrame after Close: err = %v, want ErrClosed", err)
	}

	mu.Lock()
	for i, rc := range got {
		if rc.session != id {
			t.Errorf("frame %d: session %v, want %v", i, rc.session, id)
		}
		if rc.frame.PTS != frames[i].PTS || rc.frame.Type != frames[i].Type {
			t.Errorf("frame %d: got pts=%d type=%v, want pts=%d type=%v",
				i, rc.frame.PTS, rc.frame.Type, frames[i].PTS, frames[i].Type)
		}
	}
	mu.Unlock()

	// The receiver closes the session once the end message arrives.
	deadline := time.Now().Add(5 * time.Second)
	for len(r.Sessions().List()) != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(r.Sessions().List()); n != 0 {
		t.Errorf("open sessions after close: %d", n)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve: %v", err)
	}
}

func TestDialRejectsWrongFingerprint(t *testing.T) {
	t.Parallel()
	r, _, cancel, done := startReceiver(t, func(context.Context, *stream.Session, *media.CodedFrame) error { return nil })
	defer func() {
		cancel()
		<-done
	}()

	other, err := certs.Generate("other", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancelDial := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelDial()
	_, err = Dial(ctx, PublisherConfig{
		Addr: r.Addr().String(),
		TLS:  certs.PinnedClientConfig(other.Fingerprint, ALPN),
	}, nil)
	if err == nil {
		t.Fatal("Dial succeeded against an unpinned certificate")
	}
}

func TestListenNilHandler(t *testing.T) {
	t.Parallel()
	if _, err := Listen("127.0.0.1:0", nil, nil, nil, nil); err == nil {
		t.Error("expected error for nil handler")
	}
}
