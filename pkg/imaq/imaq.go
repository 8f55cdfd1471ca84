// Package imaq binds the National Instruments IMAQ frame-grabber C API to
// acquire.Driver. The binding is compiled with the imaq build tag; without
// it every call reports ErrNotAvailable.
package imaq

import (
	"errors"
	"fmt"
	"log/slog"
)

// DefaultInterface is the interface opened when none is configured.
const DefaultInterface = "img0"

// ErrNotAvailable is returned when the binary was built without IMAQ
// support.
var ErrNotAvailable = errors.New("NI-IMAQ not available - build with -tags imaq")

// Options configures New.
type Options struct {
	Logger *slog.Logger
}

// CodeError is a non-zero IMAQ status code with the library's description.
type CodeError struct {
	Code int32
	Text string
}

func (e *CodeError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("IMAQ error %d", e.Code)
	}
	return fmt.Sprintf("%s (code %d)", e.Text, e.Code)
}
