package acquire

import (
	"fmt"
	"sync"
)

// Allocator provides copy-path frame buffers.
type Allocator interface {
	Alloc(size int) ([]byte, error)
	Free(buf []byte)
}

// PoolAllocator recycles buffers of one size. Requests above MaxSize fail.
type PoolAllocator struct {
	MaxSize int

	pools sync.Map // size -> *sync.Pool
}

// NewPoolAllocator returns an allocator refusing buffers larger than max
// bytes. A max of 0 means no limit.
func NewPoolAllocator(max int) *PoolAllocator {
	return &PoolAllocator{MaxSize: max}
}

func (a *PoolAllocator) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: invalid size %d", ErrAllocationFailed, size)
	}
	if a.MaxSize > 0 && size > a.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrAllocationFailed, size, a.MaxSize)
	}
	p := a.pool(size)
	buf := p.Get().(*[]byte)
	return (*buf)[:size], nil
}

func (a *PoolAllocator) Free(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	buf = buf[:cap(buf)]
	a.pool(len(buf)).Put(&buf)
}

func (a *PoolAllocator) pool(size int) *sync.Pool {
	if p, ok := a.pools.Load(size); ok {
		return p.(*sync.Pool)
	}
	p, _ := a.pools.LoadOrStore(size, &sync.Pool{
		New: func() any {
			buf := make([]byte, size)
			return &buf
		},
	})
	return p.(*sync.Pool)
}
