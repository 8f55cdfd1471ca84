//go:build unix

package simulator

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapRing reserves anonymous memory for the ring, outside the Go heap,
// the way a frame grabber's DMA buffers are.
func mapRing(size int) ([]byte, func() error, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return mem, func() error { return unix.Munmap(mem) }, nil
}
