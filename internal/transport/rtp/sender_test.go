package rtp

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/zsiec/hwcodec/internal/media"
)

type packetRecorder struct {
	packets [][]byte
}

func (r *packetRecorder) Write(b []byte) (int, error) {
	r.packets = append(r.packets, bytes.Clone(b))
	return len(b), nil
}

func accessUnit(sizes ...int) []byte {
	var au []byte
	for i, n := range sizes {
		au = append(au, 0, 0, 0, 1)
		nal := make([]byte, n)
		nal[0] = 0x41
		if i == 0 {
			nal[0] = 0x65
		}
		for j := 1; j < n; j++ {
			nal[j] = byte(j%250) + 1
		}
		au = append(au, nal...)
	}
	return au
}

func TestWriteFramePacketizes(t *testing.T) {
	t.Parallel()
	rec := &packetRecorder{}
	s, err := newSender(rec, func() error { return nil }, Config{SSRC: 0xCAFE, MTU: 500}, nil)
	if err != nil {
		t.Fatal(err)
	}

	au := accessUnit(1800, 100)
	if err := s.WriteFrame(context.Background(), &media.CodedFrame{PTS: 3003, Data: au}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if len(rec.packets) < 5 {
		t.Fatalf("got %d packets, want FU-A fragmentation", len(rec.packets))
	}

	var depack codecs.H264Packet
	var reassembled []byte
	var prevSeq uint16
	for i, raw := range rec.packets {
		if len(raw) > 500 {
			t.Errorf("packet %d: %d bytes exceeds MTU", i, len(raw))
		}
		var pkt pionrtp.Packet
		if err := pkt.Unmarshal(raw); err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if pkt.SSRC != 0xCAFE || pkt.PayloadType != DefaultPayloadType || pkt.Timestamp != 3003 {
			t.Errorf("packet %d: ssrc=%x pt=%d ts=%d", i, pkt.SSRC, pkt.PayloadType, pkt.Timestamp)
		}
		if want := i == len(rec.packets)-1; pkt.Marker != want {
			t.Errorf("packet %d: marker %v, want %v", i, pkt.Marker, want)
		}
		if i > 0 && pkt.SequenceNumber != prevSeq+1 {
			t.Errorf("packet %d: sequence %d after %d", i, pkt.SequenceNumber, prevSeq)
		}
		prevSeq = pkt.SequenceNumber

		out, err := depack.Unmarshal(pkt.Payload)
		if err != nil {
			t.Fatalf("depacketize %d: %v", i, err)
		}
		reassembled = append(reassembled, out...)
	}
	if !bytes.Equal(reassembled, au) {
		t.Errorf("reassembled %d bytes, want %d bytes of the original access unit", len(reassembled), len(au))
	}

	packets, n := s.Stats()
	if packets != int64(len(rec.packets)) || n == 0 {
		t.Errorf("stats = %d packets %d bytes", packets, n)
	}
}

func TestNewSenderDefaults(t *testing.T) {
	t.Parallel()
	s, err := newSender(&packetRecorder{}, nil, Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.mtu != DefaultMTU || s.pt != DefaultPayloadType {
		t.Errorf("mtu=%d pt=%d", s.mtu, s.pt)
	}
	if _, err := newSender(&packetRecorder{}, nil, Config{MTU: 20}, nil); !errors.Is(err, ErrMTU) {
		t.Errorf("small MTU: err = %v, want ErrMTU", err)
	}
}

func TestSenderUDP(t *testing.T) {
	t.Parallel()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()

	s, err := Dial(Config{Addr: pc.LocalAddr().String()}, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := s.WriteFrame(context.Background(), &media.CodedFrame{PTS: 90000, Data: accessUnit(50)}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	_ = pc.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	var pkt pionrtp.Packet
	if err := pkt.Unmarshal(buf[:n]); err != nil {
		t.Fatal(err)
	}
	if !pkt.Marker || pkt.Timestamp != 90000 || pkt.Payload[0]&0x1f != 5 {
		t.Errorf("got marker=%v ts=%d nal=%d", pkt.Marker, pkt.Timestamp, pkt.Payload[0]&0x1f)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := s.WriteFrame(context.Background(), &media.CodedFrame{Data: accessUnit(10)}); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteFrame after Close: err = %v, want ErrClosed", err)
	}
}
