package transmit

import "fmt"

// SendError wraps a failure writing a frame to a sink, in the style of
// the daemon's enclave client errors: a named wrapper around the
// underlying cause so callers can type-switch instead of string-match.
type SendError struct {
	error
}

func (e SendError) Error() string {
	return fmt.Sprintf("SendError: %s", e.error.Error())
}

func (e SendError) Unwrap() error { return e.error }

// RecvError wraps a failure reading a frame from a sink.
type RecvError struct {
	error
}

func (e RecvError) Error() string {
	return fmt.Sprintf("RecvError: %s", e.error.Error())
}

func (e RecvError) Unwrap() error { return e.error }
