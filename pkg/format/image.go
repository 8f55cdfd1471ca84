package format

import (
	"fmt"
	"image"
)

// Image wraps delivered frame data in an image.Image. Gray8 rows are used
// in place; 16-bit samples are converted to the big-endian layout of
// image.Gray16 and BGRA is reordered to opaque RGBA.
func Image(f PixelFormat, width, height, stride int, data []byte) (image.Image, error) {
	info, ok := Lookup(f)
	if !ok {
		return nil, fmt.Errorf("unsupported pixel format %q", f)
	}
	rowBytes := width * info.BytesPerPixel
	if stride < rowBytes {
		return nil, fmt.Errorf("stride %d shorter than a row of %d bytes", stride, rowBytes)
	}
	if height > 0 && len(data) < (height-1)*stride+rowBytes {
		return nil, fmt.Errorf("frame data too short: %d bytes for %dx%d", len(data), width, height)
	}
	rect := image.Rect(0, 0, width, height)

	switch f {
	case FormatGray8:
		return &image.Gray{Pix: data, Stride: stride, Rect: rect}, nil

	case FormatGray16LE:
		img := image.NewGray16(rect)
		for y := 0; y < height; y++ {
			src := data[y*stride : y*stride+rowBytes]
			dst := img.Pix[y*img.Stride : y*img.Stride+rowBytes]
			for x := 0; x < rowBytes; x += 2 {
				dst[x], dst[x+1] = src[x+1], src[x]
			}
		}
		return img, nil

	default: // FormatBGRA
		img := image.NewRGBA(rect)
		for y := 0; y < height; y++ {
			src := data[y*stride : y*stride+rowBytes]
			dst := img.Pix[y*img.Stride : y*img.Stride+rowBytes]
			for x := 0; x < rowBytes; x += 4 {
				dst[x], dst[x+1], dst[x+2], dst[x+3] = src[x+2], src[x+1], src[x], 0xFF
			}
		}
		return img, nil
	}
}
