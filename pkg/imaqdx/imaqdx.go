// Package imaqdx binds the National Instruments IMAQdx camera API
// (FireWire, USB and GigE Vision cameras) to acquire.Driver. The binding is
// compiled with the imaqdx build tag; without it every call reports
// ErrNotAvailable.
//
// IMAQdx has no interface/session split: the camera handle serves as both
// the interface and the session ID. Ring buffers cannot be lent out, so
// every frame is copied by cumulative buffer number.
package imaqdx

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Defaults for an IMAQdx input.
const (
	DefaultCamera      = "cam0"
	DefaultRingBuffers = 3
)

// ErrNotAvailable is returned when the binary was built without IMAQdx
// support.
var ErrNotAvailable = errors.New("NI-IMAQdx not available - build with -tags imaqdx")

// ErrNoExamine is returned by ExamineBuffer. IMAQdx only copies.
var ErrNoExamine = errors.New("IMAQdx cannot lend ring buffers")

// Options configures New.
type Options struct {
	// Attributes are set on the camera when it is opened, written as
	// "name=value;name=value".
	Attributes string `yaml:"attributes"`
	// BayerAsGray delivers Bayer mosaics as gray samples of the same depth.
	BayerAsGray bool `yaml:"bayer_as_gray"`

	Logger *slog.Logger `yaml:"-"`
}

// CodeError is a non-zero IMAQdx status code with the library's
// description.
type CodeError struct {
	Code int32
	Text string
}

func (e *CodeError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("IMAQdx error 0x%08X", uint32(e.Code))
	}
	return fmt.Sprintf("%s (code 0x%08X)", e.Text, uint32(e.Code))
}

// Attribute is one camera attribute assignment.
type Attribute struct {
	Name  string
	Value string
}

// ParseAttributes splits "name=value;name=value". Empty entries are
// skipped; values may contain '='.
func ParseAttributes(s string) ([]Attribute, error) {
	var attrs []Attribute
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, value, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("attribute %q: want name=value", entry)
		}
		attrs = append(attrs, Attribute{Name: name, Value: strings.TrimSpace(value)})
	}
	return attrs, nil
}

// Layout is how a camera pixel format lands in a ring buffer.
type Layout struct {
	BytesPerPixel int
	BitsPerPixel  int
	// Swap16 is set when 16-bit samples arrive big-endian. They are
	// swapped to little-endian on copy.
	Swap16 bool
}

type pixelFormat struct {
	bytes, bits int
	bayer       bool
}

var pixelFormats = map[string]pixelFormat{
	"Mono 8":        {bytes: 1, bits: 8},
	"Mono 10":       {bytes: 2, bits: 10},
	"Mono 12":       {bytes: 2, bits: 12},
	"Mono 14":       {bytes: 2, bits: 14},
	"Mono14":        {bytes: 2, bits: 14},
	"Mono 16":       {bytes: 2, bits: 16},
	"BGRA 8 Packed": {bytes: 4, bits: 32},
	"Bayer BG 8":    {bytes: 1, bits: 8, bayer: true},
	"Bayer GR 8":    {bytes: 1, bits: 8, bayer: true},
	"Bayer GR 12":   {bytes: 2, bits: 12, bayer: true},
	"Bayer BG 16":   {bytes: 2, bits: 16, bayer: true},
}

// LayoutOf maps the PixelFormat and BusType attributes of a camera to a
// sample layout. Only GigE Vision cameras deliver little-endian samples.
func LayoutOf(format, busType string, bayerAsGray bool) (Layout, error) {
	pf, ok := pixelFormats[format]
	if !ok {
		return Layout{}, fmt.Errorf("pixel format %q is not supported", format)
	}
	if pf.bayer {
		if !bayerAsGray {
			return Layout{}, fmt.Errorf("pixel format %q is a Bayer mosaic, set bayer_as_gray to deliver it as gray", format)
		}
		// Delivered as Mono 8 or Mono 16.
		pf.bits = pf.bytes * 8
	}
	return Layout{
		BytesPerPixel: pf.bytes,
		BitsPerPixel:  pf.bits,
		Swap16:        pf.bytes == 2 && busType != "Ethernet",
	}, nil
}

// Swap16 reverses the byte order of every 16-bit sample in buf.
func Swap16(buf []byte) {
	for i := 0; i+1 < len(buf); i += 2 {
		buf[i], buf[i+1] = buf[i+1], buf[i]
	}
}
