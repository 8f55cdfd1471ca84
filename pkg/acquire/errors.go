package acquire

import (
	"errors"
	"fmt"
)

// Kind classifies acquisition failures.
type Kind int

const (
	// KindDevice is an open or configure failure. Fatal to the session.
	KindDevice Kind = iota
	// KindResource is an allocation or copy failure. Aborts one request.
	KindResource
	// KindTiming is a missing timestamp or dropped frame. Never returned,
	// only logged and counted.
	KindTiming
	// KindProtocol is a start/stop sequencing violation seen by the
	// notifier. Logged and counted.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindResource:
		return "resource"
	case KindTiming:
		return "timing"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

var (
	ErrStartFailed      = errors.New("unable to start acquisition")
	ErrClosed           = errors.New("session closed")
	ErrNotStarted       = errors.New("acquisition not started")
	ErrInvalidRingSize  = errors.New("ring size must be at least 1")
	ErrInvalidState     = errors.New("invalid session state")
	ErrAllocationFailed = errors.New("failed to allocate buffer")
)

// Error is a typed acquisition failure carrying the driver's message.
type Error struct {
	Kind   Kind
	Op     string
	Device string
	Msg    string // human-readable text from the driver
	Fatal  bool
	Err    error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s %s", e.Kind, e.Op)
	if e.Device != "" {
		s += " " + e.Device
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	if e.Msg != "" && (e.Err == nil || e.Msg != e.Err.Error()) {
		s += " (" + e.Msg + ")"
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// IsFatal reports whether err ends the session.
func IsFatal(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Fatal
}

// KindOf returns the Kind of err, and false if err is not an *Error.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return 0, false
}

func newError(kind Kind, op, device string, err error) *Error {
	e := &Error{Kind: kind, Op: op, Device: device, Err: err}
	var de *Error
	if err != nil && !errors.As(err, &de) {
		e.Msg = err.Error()
	}
	return e
}
