// Package format holds the negotiated frame layout and the pure transforms
// applied to copied frame data before it is handed downstream.
package format

import (
	"errors"
	"fmt"
	"strings"
)

// PixelFormat identifies the layout of one pixel in a delivered frame.
type PixelFormat string

const (
	FormatUnknown  PixelFormat = ""
	FormatGray8    PixelFormat = "gray8"
	FormatGray16LE PixelFormat = "gray16le"
	FormatBGRA     PixelFormat = "bgra"
)

// DefaultRowMultiple is the row alignment raw video formats expect, in bytes.
const DefaultRowMultiple = 4

// Info describes a pixel format.
type Info struct {
	Format        PixelFormat
	BytesPerPixel int
	Components    int
}

var infos = map[PixelFormat]Info{
	FormatGray8:    {Format: FormatGray8, BytesPerPixel: 1, Components: 1},
	FormatGray16LE: {Format: FormatGray16LE, BytesPerPixel: 2, Components: 1},
	FormatBGRA:     {Format: FormatBGRA, BytesPerPixel: 4, Components: 4},
}

// Lookup returns the description of f.
func Lookup(f PixelFormat) (Info, bool) {
	info, ok := infos[f]
	return info, ok
}

// Parse parses a pixel format name (case-insensitive).
func Parse(s string) (PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gray8", "mono8", "grey8":
		return FormatGray8, nil
	case "gray16le", "gray16_le", "mono16":
		return FormatGray16LE, nil
	case "bgra":
		return FormatBGRA, nil
	default:
		return FormatUnknown, fmt.Errorf("unknown pixel format: %q", s)
	}
}

// FromDepth maps the number of bytes a device stores per pixel to the
// format frames are published in. Devices only report depth, so 4 bytes
// per pixel is assumed to be colour.
func FromDepth(bytesPerPixel int) (PixelFormat, error) {
	switch bytesPerPixel * 8 {
	case 8:
		return FormatGray8, nil
	case 16:
		return FormatGray16LE, nil
	case 32:
		return FormatBGRA, nil
	default:
		return FormatUnknown, fmt.Errorf("depth %d bits not supported", bytesPerPixel*8)
	}
}

// Caps is the outcome of capability negotiation. It must be fixed before
// frames are requested.
type Caps struct {
	Format      PixelFormat
	Width       int
	Height      int
	RowMultiple int  // required row alignment of delivered frames, in bytes
	Signed      bool // device samples are two's complement
}

// Validate checks that c describes a deliverable frame.
func (c Caps) Validate() error {
	info, ok := Lookup(c.Format)
	if !ok {
		return fmt.Errorf("unsupported pixel format %q", c.Format)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", c.Width, c.Height)
	}
	if c.RowMultiple <= 0 || c.RowMultiple&(c.RowMultiple-1) != 0 {
		return fmt.Errorf("row multiple %d is not a power of two", c.RowMultiple)
	}
	if c.Signed && info.BytesPerPixel > 2 {
		return errors.New("signed samples are only supported for 8 and 16-bit formats")
	}
	return nil
}

// Stride is the aligned number of bytes per delivered row.
func (c Caps) Stride() int {
	info, _ := Lookup(c.Format)
	return RoundUp(c.Width*info.BytesPerPixel, c.RowMultiple)
}

// FrameSize is the number of bytes of one delivered frame.
func (c Caps) FrameSize() int {
	return c.Stride() * c.Height
}

func (c Caps) String() string {
	return fmt.Sprintf("%s %dx%d (row multiple %d, signed=%t)", c.Format, c.Width, c.Height, c.RowMultiple, c.Signed)
}
