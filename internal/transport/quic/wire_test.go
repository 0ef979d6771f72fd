package quic

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/hwcodec/internal/media"
)

func TestWireSession(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	frames := []*media.CodedFrame{
		{PTS: 0, Type: media.PictureI, IsKeyframe: true, Data: []byte{0, 0, 0, 1, 0x65, 0x88}, SPS: []byte{0x67, 0x42}, PPS: []byte{0x68, 0xce}},
		{PTS: 3003, Type: media.PictureP, Data: []byte{0, 0, 0, 1, 0x41, 0x9a}},
		{PTS: 1 << 40, Type: media.PictureB, Data: nil},
	}

	buf := appendHeader(nil, id)
	for _, f := range frames {
		var err error
		if buf, err = appendFrame(buf, f); err != nil {
			t.Fatalf("appendFrame: %v", err)
		}
	}
	buf = appendEnd(buf)

	r := bufio.NewReader(bytes.NewReader(buf))
	gotID, err := readHeader(r)
	if err != nil {
		t.Fatalf("readHeader: %v", err)
	}
	if gotID != id {
		t.Errorf("session id: got %v, want %v", gotID, id)
	}
	for i, want := range frames {
		got, err := readMessage(r)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if got.PTS != want.PTS || got.Type != want.Type || got.IsKeyframe != want.IsKeyframe {
			t.Errorf("frame %d: got pts=%d type=%v key=%v, want pts=%d type=%v key=%v",
				i, got.PTS, got.Type, got.IsKeyframe, want.PTS, want.Type, want.IsKeyframe)
		}
		if !bytes.Equal(got.Data, want.Data) || !bytes.Equal(got.SPS, want.SPS) || !bytes.Equal(got.PPS, want.PPS) {
			t.Errorf("frame %d: payload mismatch", i)
		}
	}
	if _, err := readMessage(r); !errors.Is(err, io.EOF) {
		t.Errorf("after end message: err = %v, want io.EOF", err)
	}
}

func TestReadHeaderErrors(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	good := appendHeader(nil, id)

	badVersion := append([]byte("HWC1"), quicvarint.Append(nil, 9)...)
	badVersion = append(badVersion, id[:]...)

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"bad magic", append([]byte("RIFF"), good[4:]...), ErrBadMagic},
		{"bad version", badVersion, ErrVersion},
		{"short id", good[:10], io.ErrUnexpectedEOF},
		{"empty", nil, io.EOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := readHeader(bufio.NewReader(bytes.NewReader(tt.in)))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadMessageErrors(t *testing.T) {
	t.Parallel()
	frame, _ := appendFrame(nil, &media.CodedFrame{PTS: 1, Type: media.PictureP, SPS: []byte{1, 2, 3}, Data: []byte{9}})

	unknown := quicvarint.Append(nil, 0x7)
	unknown = quicvarint.Append(unknown, 0)

	huge := quicvarint.Append(nil, msgFrame)
	huge = quicvarint.Append(huge, maxMessageSize+1)

	// A frame whose sps length claims more bytes than the payload holds.
	lying := []byte{0x01, byte(media.PictureP), 0, 0x3f}
	badBlock := quicvarint.Append(nil, msgFrame)
	badBlock = quicvarint.Append(badBlock, uint64(len(lying)))
	badBlock = append(badBlock, lying...)

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"unknown type", unknown, ErrUnknownMessage},
		{"too large", huge, ErrMessageTooLarge},
		{"truncated payload", frame[:len(frame)-1], io.ErrUnexpectedEOF},
		{"sps overrun", badBlock, io.ErrUnexpectedEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := readMessage(bufio.NewReader(bytes.NewReader(tt.in)))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAppendFramePTSRange(t *testing.T) {
	t.Parallel()
	for _, pts := range []int64{-1, 1 << 62} {
		if _, err := appendFrame(nil, &media.CodedFrame{PTS: pts}); !errors.Is(err, ErrPTSRange) {
			t.Errorf("pts %d: err = %v, want ErrPTSRange", pts, err)
		}
	}
}

func FuzzReadMessage(f *testing.F) {
	seed, _ := appendFrame(nil, &media.CodedFrame{PTS: 90000, Type: media.PictureI, IsKeyframe: true, SPS: []byte{0x67}, PPS: []byte{0x68}, Data: []byte{0, 0, 1, 0x65}})
	f.Add(seed)
	f.Add(appendEnd(nil))
	f.Fuzz(func(t *testing.T, data []byte) {
		r := bufio.NewReader(bytes.NewReader(data))
		for range 8 {
			if _, err := readMessage(r); err != nil {
				return
			}
		}
	})
}
