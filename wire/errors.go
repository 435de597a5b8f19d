package wire

import (
	"errors"
	"fmt"
)

// ErrInvalidProtocol is returned when the marker bytes at offset 12..14 are
// not 0x30 0x30 — the frame is not overlay traffic.
var ErrInvalidProtocol = errors.New("wire: invalid protocol marker")

// ErrInvalidMessageType is returned for an unrecognized class/sub-kind pair.
var ErrInvalidMessageType = errors.New("wire: invalid message type")

var errBufferTooShort = errors.New("wire: buffer too short")

// ParseError wraps a parser failure, in the style of the transmit package's
// SendError/RecvError wrappers, so callers can errors.Is/errors.As instead
// of string-matching.
type ParseError struct {
	error
}

func (e *ParseError) Error() string {
	return "ParseError: " + e.error.Error()
}

func (e *ParseError) Unwrap() error {
	return e.error
}

// ErrBufferTooShort builds a ParseError carrying the expected and actual
// lengths, wrapping the errBufferTooShort sentinel so errors.Is still works.
func ErrBufferTooShort(expected, actual int) error {
	return &ParseError{fmt.Errorf("expected at least %d bytes, got %d: %w", expected, actual, errBufferTooShort)}
}

// IsBufferTooShort reports whether err is (or wraps) a buffer-too-short parse error.
func IsBufferTooShort(err error) bool {
	return errors.Is(err, errBufferTooShort)
}

func wrapProtocol() error {
	return &ParseError{ErrInvalidProtocol}
}

func wrapMessageType() error {
	return &ParseError{ErrInvalidMessageType}
}
