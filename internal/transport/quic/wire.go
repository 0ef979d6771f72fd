package quic

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/hwcodec/internal/media"
)

// Stream layout, one unidirectional stream per session:
//
//	header:  "HWC1" [version (varint)] [session id (16 bytes)]
//	message: [type (varint)] [length (varint)] [payload]
//
// A frame payload is [pts (varint)] [picture type (1)] [flags (1)]
// [sps length (varint)] [sps] [pps length (varint)] [pps] [access unit].
const (
	wireVersion = 1

	msgFrame = 0x0
	msgEnd   = 0x1

	flagKeyframe = 0x01

	// maxMessageSize bounds a single access unit on the wire.
	maxMessageSize = 8 << 20
)

var magic = [4]byte{'H', 'W', 'C', '1'}

var (
	ErrBadMagic        = errors.New("quic: bad stream magic")
	ErrVersion         = errors.New("quic: unsupported wire version")
	ErrMessageTooLarge = errors.New("quic: message too large")
	ErrPTSRange        = errors.New("quic: pts out of range")
	ErrUnknownMessage  = errors.New("quic: unknown message type")
)

// ParseError records which field of a message failed to parse.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("quic: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func appendHeader(buf []byte, id uuid.UUID) []byte {
	buf = append(buf, magic[:]...)
	buf = quicvarint.Append(buf, wireVersion)
	return append(buf, id[:]...)
}

// readHeader reads the stream header and returns the publisher's session ID.
func readHeader(r *bufio.Reader) (uuid.UUID, error) {
	var id uuid.UUID
	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return id, &ParseError{Field: "magic", Err: err}
	}
	if m != magic {
		return id, ErrBadMagic
	}
	v, err := quicvarint.Read(r)
	if err != nil {
		return id, &ParseError{Field: "version", Err: err}
	}
	if v != wireVersion {
		return id, fmt.Errorf("%w: %d", ErrVersion, v)
	}
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return id, &ParseError{Field: "session_id", Err: err}
	}
	return id, nil
}

// appendFrame appends a frame message. The whole message is built before
// writing so a stream sees it in one Write call.
func appendFrame(buf []byte, f *media.CodedFrame) ([]byte, error) {
	if f.PTS < 0 || uint64(f.PTS) > quicvarint.Max {
		return buf, fmt.Errorf("%w: %d", ErrPTSRange, f.PTS)
	}
	payload := make([]byte, 0, 16+len(f.SPS)+len(f.PPS)+len(f.Data))
	payload = quicvarint.Append(payload, uint64(f.PTS))
	var flags byte
	if f.IsKeyframe {
		flags |= flagKeyframe
	}
	payload = append(payload, byte(f.Type), flags)
	payload = quicvarint.Append(payload, uint64(len(f.SPS)))
	payload = append(payload, f.SPS...)
	payload = quicvarint.Append(payload, uint64(len(f.PPS)))
	payload = append(payload, f.PPS...)
	payload = append(payload, f.Data...)
	if len(payload) > maxMessageSize {
		return buf, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}

	buf = quicvarint.Append(buf, msgFrame)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...), nil
}

func appendEnd(buf []byte) []byte {
	buf = quicvarint.Append(buf, msgEnd)
	return quicvarint.Append(buf, 0)
}

// readMessage reads the next message. It returns io.EOF after an end
// message or a clean end of stream.
func readMessage(r *bufio.Reader) (*media.CodedFrame, error) {
	msgType, err := quicvarint.Read(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &ParseError{Field: "message_type", Err: err}
	}
	length, err := quicvarint.Read(r)
	if err != nil {
		return nil, &ParseError{Field: "message_length", Err: err}
	}
	if length > maxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &ParseError{Field: "message_payload", Err: err}
	}

	switch msgType {
	case msgFrame:
		return parseFrame(payload)
	case msgEnd:
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("%w: 0x%x", ErrUnknownMessage, msgType)
	}
}

func parseFrame(payload []byte) (*media.CodedFrame, error) {
	r := bytes.NewReader(payload)
	pts, err := quicvarint.Read(r)
	if err != nil {
		return nil, &ParseError{Field: "pts", Err: err}
	}
	var tf [2]byte
	if _, err := io.ReadFull(r, tf[:]); err != nil {
		return nil, &ParseError{Field: "picture_type", Err: err}
	}
	sps, err := readBlock(r, "sps")
	if err != nil {
		return nil, err
	}
	pps, err := readBlock(r, "pps")
	if err != nil {
		return nil, err
	}
	data := payload[len(payload)-r.Len():]

	return &media.CodedFrame{
		PTS:        int64(pts),
		Type:       media.PictureType(tf[0]),
		IsKeyframe: tf[1]&flagKeyframe != 0,
		Data:       data,
		SPS:        sps,
		PPS:        pps,
	}, nil
}

func readBlock(r *bytes.Reader, field string) ([]byte, error) {
	n, err := quicvarint.Read(r)
	if err != nil {
		return nil, &ParseError{Field: field + "_length", Err: err}
	}
	if n == 0 {
		return nil, nil
	}
	if n > uint64(r.Len()) {
		return nil, &ParseError{Field: field, Err: io.ErrUnexpectedEOF}
	}
	b := make([]byte, n)
	_, _ = r.Read(b)
	return b, nil
}
