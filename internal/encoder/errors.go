package encoder

import (
	"errors"

	"github.com/zsiec/hwcodec/internal/h264"
)

// Sentinel errors returned by the encoder. Callers distinguish them with
// errors.Is.
var (
	ErrInvalidParams  = errors.New("encoder: invalid parameters")
	ErrBufferTooSmall = errors.New("encoder: output buffer too small")
	ErrNoData         = errors.New("encoder: no output available")
	ErrEncodeFailed   = errors.New("encoder: encode failed")
	ErrNotStarted     = errors.New("encoder: not started")
	ErrRunning        = errors.New("encoder: parameter cannot change while running")

	// ErrUnsupported is the header writers' error, so a rejected syntax
	// branch matches it however deep it was wrapped.
	ErrUnsupported = h264.ErrUnsupported
)
