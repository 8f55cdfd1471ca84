//go:build imaq

package imaq

/*
#cgo CFLAGS: -I/usr/local/natinst/nivision/include -I/usr/local/natinst/niimaq/include
#cgo linux LDFLAGS: -L/usr/local/natinst/niimaq/lib -limaq
#cgo windows LDFLAGS: -limaq

#include <stdint.h>
#include <stdlib.h>
#include <niimaq.h>

extern uInt32 goImaqSignal(SESSION_ID, IMG_ERR, IMG_SIGNAL_TYPE, uInt32, void*);
extern Int32 niimaquDisable32bitPhysMemLimitEnforcement(SESSION_ID sid);

// The callback data is a cgo.Handle value, not a Go pointer.
static Int32 wait_signal(SESSION_ID sid, uInt32 ident, uintptr_t handle) {
	return imgSessionWaitSignalAsync2(sid, IMG_SIGNAL_STATUS, ident,
		IMG_SIGNAL_STATE_RISING, (CALL_BACK_PTR2)goImaqSignal, (void*)handle);
}

static Int32 ring_setup(SESSION_ID sid, uInt32 count, void **list) {
	return imgRingSetup(sid, count, list, 0, FALSE);
}
*/
import "C"

import (
	"fmt"
	"log/slog"
	"runtime/cgo"
	"sync"
	"unsafe"

	"github.com/video-system/go-frame-grabber/pkg/acquire"
)

type sessionState struct {
	iid       acquire.InterfaceID
	frameSize int
	ring      *unsafe.Pointer // C array of buffer pointers owned by the library
	handles   []cgo.Handle
}

// Driver is the NI-IMAQ implementation of acquire.Driver.
type Driver struct {
	log *slog.Logger

	mu       sync.Mutex
	sessions map[acquire.SessionID]*sessionState
}

// New returns a driver backed by the IMAQ library.
func New(opts Options) (*Driver, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Driver{
		log:      opts.Logger.With("component", "imaq"),
		sessions: make(map[acquire.SessionID]*sessionState),
	}, nil
}

// Available reports whether IMAQ support is compiled in.
func Available() bool { return true }

func check(rval C.Int32) error {
	if rval == C.IMG_ERR_GOOD {
		return nil
	}
	var buf [256]C.char
	C.imgShowError(C.IMG_ERR(rval), &buf[0])
	return &CodeError{Code: int32(rval), Text: C.GoString(&buf[0])}
}

func (d *Driver) OpenInterface(name string) (acquire.InterfaceID, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var iid C.INTERFACE_ID
	if err := check(C.imgInterfaceOpen(cname, &iid)); err != nil {
		return 0, err
	}
	return acquire.InterfaceID(iid), nil
}

func (d *Driver) OpenSession(iid acquire.InterfaceID) (acquire.SessionID, error) {
	var sid C.SESSION_ID
	if err := check(C.imgSessionOpen(C.INTERFACE_ID(iid), &sid)); err != nil {
		return 0, err
	}

	attrs, err := d.Attributes(iid)
	if err != nil {
		C.imgClose(C.uInt32(sid), C.TRUE)
		return 0, err
	}

	d.mu.Lock()
	d.sessions[acquire.SessionID(sid)] = &sessionState{
		iid:       iid,
		frameSize: attrs.RowStride * attrs.Height,
	}
	d.mu.Unlock()
	return acquire.SessionID(sid), nil
}

func (d *Driver) attribute(iid acquire.InterfaceID, attr C.uInt32) (int, error) {
	var val C.uInt32
	if err := check(C.imgGetAttribute(C.uInt32(iid), attr, unsafe.Pointer(&val))); err != nil {
		return 0, err
	}
	return int(val), nil
}

func (d *Driver) Attributes(iid acquire.InterfaceID) (acquire.Attributes, error) {
	var a acquire.Attributes
	fields := []struct {
		attr C.uInt32
		dst  *int
		name string
	}{
		{C.IMG_ATTR_BITSPERPIXEL, &a.BitsPerPixel, "bits per pixel"},
		{C.IMG_ATTR_BYTESPERPIXEL, &a.BytesPerPixel, "bytes per pixel"},
		{C.IMG_ATTR_ROI_WIDTH, &a.Width, "width"},
		{C.IMG_ATTR_ROI_HEIGHT, &a.Height, "height"},
	}
	for _, f := range fields {
		v, err := d.attribute(iid, f.attr)
		if err != nil {
			return acquire.Attributes{}, fmt.Errorf("read %s: %w", f.name, err)
		}
		*f.dst = v
	}

	rowPixels, err := d.attribute(iid, C.IMG_ATTR_ROWPIXELS)
	if err != nil {
		d.log.Debug("row pixels not reported, assuming dense rows", "error", err)
		rowPixels = a.Width
	}
	a.RowStride = rowPixels * a.BytesPerPixel
	return a, nil
}

func (d *Driver) DisablePhysMemLimit(sid acquire.SessionID) error {
	return check(C.niimaquDisable32bitPhysMemLimitEnforcement(C.SESSION_ID(sid)))
}

func (d *Driver) SetupRing(sid acquire.SessionID, count int) error {
	st, err := d.state(sid)
	if err != nil {
		return err
	}

	// The library fills the array with buffers it allocates itself.
	list := (*unsafe.Pointer)(C.calloc(C.size_t(count), C.size_t(unsafe.Sizeof(unsafe.Pointer(nil)))))
	if list == nil {
		return fmt.Errorf("allocate ring list of %d entries", count)
	}
	if err := check(C.ring_setup(C.SESSION_ID(sid), C.uInt32(count), list)); err != nil {
		C.free(unsafe.Pointer(list))
		return err
	}

	d.mu.Lock()
	if st.ring != nil {
		C.free(unsafe.Pointer(st.ring))
	}
	st.ring = list
	d.mu.Unlock()
	return nil
}

func (d *Driver) RegisterSignals(sid acquire.SessionID, sig acquire.Signals) error {
	st, err := d.state(sid)
	if err != nil {
		return err
	}

	regs := []struct {
		ident C.uInt32
		fn    func() bool
	}{
		{C.IMG_FRAME_DONE, sig.FrameDone},
		{C.IMG_AQ_IN_PROGRESS, sig.AcquisitionStarted},
		{C.IMG_AQ_DONE, sig.AcquisitionDone},
	}
	for _, r := range regs {
		if r.fn == nil {
			continue
		}
		h := cgo.NewHandle(r.fn)
		if err := check(C.wait_signal(C.SESSION_ID(sid), r.ident, C.uintptr_t(h))); err != nil {
			h.Delete()
			return err
		}
		d.mu.Lock()
		st.handles = append(st.handles, h)
		d.mu.Unlock()
	}
	return nil
}

func (d *Driver) StartAcquisition(sid acquire.SessionID) error {
	return check(C.imgSessionStartAcquisition(C.SESSION_ID(sid)))
}

func (d *Driver) StopAcquisition(sid acquire.SessionID) error {
	return check(C.imgSessionStopAcquisition(C.SESSION_ID(sid)))
}

func overwrite(mode acquire.OverwriteMode) C.uInt32 {
	if mode == acquire.OverwriteFail {
		return C.IMG_OVERWRITE_FAIL
	}
	return C.IMG_OVERWRITE_GET_OLDEST
}

func (d *Driver) CopyBuffer(sid acquire.SessionID, number uint32, dst []byte, mode acquire.OverwriteMode) (uint32, int, error) {
	if len(dst) == 0 {
		return 0, 0, fmt.Errorf("empty destination")
	}
	var copied, index C.uInt32
	rval := C.imgSessionCopyBufferByNumber(C.SESSION_ID(sid), C.uInt32(number),
		unsafe.Pointer(&dst[0]), C.IMG_OVERWRITE_MODE(overwrite(mode)), &copied, &index)
	if err := check(rval); err != nil {
		return 0, 0, err
	}
	return uint32(copied), int(index), nil
}

func (d *Driver) CopyArea(sid acquire.SessionID, number uint32, top, left, height, width int, dst []byte, rowPixels int, mode acquire.OverwriteMode) (uint32, int, error) {
	if len(dst) == 0 {
		return 0, 0, fmt.Errorf("empty destination")
	}
	var copied, index C.uInt32
	rval := C.imgSessionCopyAreaByNumber(C.SESSION_ID(sid), C.uInt32(number),
		C.uInt32(top), C.uInt32(left), C.uInt32(height), C.uInt32(width),
		unsafe.Pointer(&dst[0]), C.uInt32(rowPixels), C.IMG_OVERWRITE_MODE(overwrite(mode)),
		&copied, &index)
	if err := check(rval); err != nil {
		return 0, 0, err
	}
	return uint32(copied), int(index), nil
}

func (d *Driver) ExamineBuffer(sid acquire.SessionID, number uint32) (uint32, []byte, error) {
	st, err := d.state(sid)
	if err != nil {
		return 0, nil, err
	}
	var (
		copied C.uInt32
		addr   unsafe.Pointer
	)
	if err := check(C.imgSessionExamineBuffer2(C.SESSION_ID(sid), C.uInt32(number), &copied, &addr)); err != nil {
		return 0, nil, err
	}
	return uint32(copied), unsafe.Slice((*byte)(addr), st.frameSize), nil
}

func (d *Driver) ReleaseBuffer(sid acquire.SessionID) error {
	return check(C.imgSessionReleaseBuffer(C.SESSION_ID(sid)))
}

func (d *Driver) CloseSession(sid acquire.SessionID) error {
	d.mu.Lock()
	st := d.sessions[sid]
	delete(d.sessions, sid)
	d.mu.Unlock()

	err := check(C.imgClose(C.uInt32(sid), C.TRUE))

	// No callback can fire once the session is gone.
	if st != nil {
		for _, h := range st.handles {
			h.Delete()
		}
		if st.ring != nil {
			C.free(unsafe.Pointer(st.ring))
		}
	}
	return err
}

func (d *Driver) CloseInterface(iid acquire.InterfaceID) error {
	return check(C.imgClose(C.uInt32(iid), C.TRUE))
}

func (d *Driver) state(sid acquire.SessionID) (*sessionState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.sessions[sid]
	if !ok {
		return nil, fmt.Errorf("unknown session %d", sid)
	}
	return st, nil
}

var (
	_ acquire.Driver     = (*Driver)(nil)
	_ acquire.AreaCopier = (*Driver)(nil)
)
