package h264

import (
	"errors"
	"fmt"
)

// Sentinel errors for header building and parsing.
var (
	ErrUnsupported   = errors.New("h264: unsupported syntax")
	ErrInvalidParams = errors.New("h264: invalid parameters")
	ErrShortData     = errors.New("h264: data too short")
	ErrNotSPS        = errors.New("h264: not a sequence parameter set")
	ErrNotSlice      = errors.New("h264: not a coded slice")
)

// SyntaxError records which syntax element could not be written or parsed.
type SyntaxError struct {
	Element string
	Err     error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("h264: %s: %v", e.Element, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

func unsupported(element string) error {
	return &SyntaxError{Element: element, Err: ErrUnsupported}
}
