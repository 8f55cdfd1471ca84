//go:build imaqdx

package imaqdx

/*
#include <NIIMAQdx.h>
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"
)

// goImaqdxFrameDone runs on the library's event thread with the number of
// the buffer that just completed. Returning non-zero re-arms the event.
//
//export goImaqdxFrameDone
func goImaqdxFrameDone(id C.IMAQdxSession, bufferNumber C.uInt32, data unsafe.Pointer) C.uInt32 {
	fd, ok := cgo.Handle(uintptr(data)).Value().(*frameDone)
	if !ok {
		return 0
	}
	fd.latest.Store(uint32(bufferNumber))
	if !fd.fn() {
		return 0
	}
	return 1
}
