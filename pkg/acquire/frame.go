package acquire

import (
	"fmt"
	"sync"
	"time"

	"github.com/video-system/go-frame-grabber/pkg/format"
)

// Frame is a finished frame handed to the consumer. Release must be called
// once the consumer is done with Data; for zero-copy frames it returns the
// ring slot to the driver and has to happen before the session is closed.
type Frame struct {
	Data      []byte
	Size      int
	Timestamp time.Duration // relative to the start of acquisition, or NoTimestamp
	Duration  time.Duration
	Offset    uint32 // cumulative buffer number
	OffsetEnd uint32
	Dropped   uint32 // frames lost since the previous delivery
	ZeroCopy  bool

	once    sync.Once
	release func()
}

// Timed reports whether the frame carries an acquisition timestamp.
func (f *Frame) Timed() bool {
	return f.Timestamp != NoTimestamp
}

// Release hands the frame memory back. Further calls do nothing.
func (f *Frame) Release() {
	f.once.Do(func() {
		if f.release != nil {
			f.release()
		}
		f.Data = nil
	})
}

// Geometry is the negotiated layout of delivered frames together with the
// driver's native layout.
type Geometry struct {
	Format        format.PixelFormat `json:"format"`
	Width         int                `json:"width"`
	Height        int                `json:"height"`
	BytesPerPixel int                `json:"bytes_per_pixel"`
	BitsPerPixel  int                `json:"bits_per_pixel"`
	Stride        int                `json:"stride"`        // delivered bytes per row
	RowPixels     int                `json:"row_pixels"`    // delivered pixels per row, padding included
	NativeStride  int                `json:"native_stride"` // bytes per row in a ring slot
	RowMultiple   int                `json:"row_multiple"`
	FrameSize     int                `json:"frame_size"`
	Signed        bool               `json:"signed"`
}

// NativeRowPixels is the number of pixels per row in a ring slot.
func (g Geometry) NativeRowPixels() int {
	if g.BytesPerPixel == 0 {
		return 0
	}
	return g.NativeStride / g.BytesPerPixel
}

// NewGeometry combines negotiated caps with the device attributes.
func NewGeometry(caps format.Caps, attrs Attributes) (Geometry, error) {
	if err := caps.Validate(); err != nil {
		return Geometry{}, err
	}
	info, _ := format.Lookup(caps.Format)

	if attrs.BytesPerPixel != 0 && attrs.BytesPerPixel != info.BytesPerPixel {
		return Geometry{}, fmt.Errorf("format %s needs %d bytes per pixel, device delivers %d",
			caps.Format, info.BytesPerPixel, attrs.BytesPerPixel)
	}
	rowBytes := caps.Width * info.BytesPerPixel
	native := attrs.RowStride
	if native == 0 {
		native = rowBytes
	}
	if native < rowBytes {
		return Geometry{}, fmt.Errorf("native stride %d shorter than a row of %d bytes", native, rowBytes)
	}
	bits := attrs.BitsPerPixel
	if bits == 0 {
		bits = info.BytesPerPixel * 8
	}
	if bits > info.BytesPerPixel*8 {
		return Geometry{}, fmt.Errorf("%d significant bits do not fit format %s", bits, caps.Format)
	}

	stride := caps.Stride()
	return Geometry{
		Format:        caps.Format,
		Width:         caps.Width,
		Height:        caps.Height,
		BytesPerPixel: info.BytesPerPixel,
		BitsPerPixel:  bits,
		Stride:        stride,
		RowPixels:     stride / info.BytesPerPixel,
		NativeStride:  native,
		RowMultiple:   caps.RowMultiple,
		FrameSize:     stride * caps.Height,
		Signed:        caps.Signed,
	}, nil
}
