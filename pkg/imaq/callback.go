//go:build imaq

package imaq

/*
#include <niimaq.h>
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"
)

// goImaqSignal runs on the library's notification thread. Returning
// non-zero re-arms the signal.
//
//export goImaqSignal
func goImaqSignal(sid C.SESSION_ID, status C.IMG_ERR, typ C.IMG_SIGNAL_TYPE, ident C.uInt32, data unsafe.Pointer) C.uInt32 {
	fn, ok := cgo.Handle(uintptr(data)).Value().(func() bool)
	if !ok || !fn() {
		return 0
	}
	return 1
}
