package format

import "fmt"

// RoundUp rounds n up to the next multiple, which must be a power of two.
func RoundUp(n, multiple int) int {
	return (n + multiple - 1) &^ (multiple - 1)
}

// Aligned reports whether stride already satisfies multiple.
func Aligned(stride, multiple int) bool {
	return stride%multiple == 0
}

// Realign copies rows of a densely packed frame (srcStride bytes per row)
// into dst, whose rows start every RoundUp(srcStride, multiple) bytes. When
// srcStride is already aligned the frame is copied directly. The padding
// bytes at the end of each destination row are left untouched.
//
// It returns the destination stride.
func Realign(dst, src []byte, srcStride, multiple, rows int) (int, error) {
	if srcStride <= 0 || rows <= 0 {
		return 0, fmt.Errorf("invalid geometry: stride %d, rows %d", srcStride, rows)
	}
	if len(src) < srcStride*rows {
		return 0, fmt.Errorf("source holds %d bytes, need %d", len(src), srcStride*rows)
	}

	dstStride := RoundUp(srcStride, multiple)
	if len(dst) < dstStride*rows {
		return 0, fmt.Errorf("destination holds %d bytes, need %d", len(dst), dstStride*rows)
	}

	if dstStride == srcStride {
		copy(dst, src[:srcStride*rows])
		return dstStride, nil
	}

	for i := 0; i < rows; i++ {
		copy(dst[i*dstStride:i*dstStride+srcStride], src[i*srcStride:(i+1)*srcStride])
	}
	return dstStride, nil
}

// SignedToUnsigned shifts two's complement samples into the unsigned range
// by adding the midpoint (128 or 32768) to each sample, in place. Samples
// are little-endian.
func SignedToUnsigned(buf []byte, bytesPerSample int) error {
	switch bytesPerSample {
	case 1:
		for i := range buf {
			buf[i] += 0x80
		}
	case 2:
		if len(buf)%2 != 0 {
			return fmt.Errorf("odd buffer length %d for 16-bit samples", len(buf))
		}
		// Adding 32768 mod 65536 only flips the sign bit of the high byte.
		for i := 1; i < len(buf); i += 2 {
			buf[i] ^= 0x80
		}
	default:
		return fmt.Errorf("signed samples of %d bytes not supported", bytesPerSample)
	}
	return nil
}
