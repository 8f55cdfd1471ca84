//go:build imaqdx

package imaqdx

/*
#cgo CFLAGS: -I/usr/local/natinst/niimaqdx/include
#cgo linux LDFLAGS: -L/usr/local/natinst/niimaqdx/lib -lniimaqdx
#cgo windows LDFLAGS: -lniimaqdx

#include <stdint.h>
#include <stdlib.h>
#include <NIIMAQdx.h>

extern uInt32 goImaqdxFrameDone(IMAQdxSession, uInt32, void*);

// The callback data is a cgo.Handle value, not a Go pointer.
static IMAQdxError register_frame_done(IMAQdxSession id, uintptr_t handle) {
	return IMAQdxRegisterFrameDoneEvent(id, 1, (FrameDoneEventCallbackPtr)goImaqdxFrameDone, (void*)handle);
}

static IMAQdxError get_string(IMAQdxSession id, const char* name, char* value) {
	return IMAQdxGetAttribute(id, name, IMAQdxValueTypeString, value);
}

static IMAQdxError get_u32(IMAQdxSession id, const char* name, uInt32* value) {
	return IMAQdxGetAttribute(id, name, IMAQdxValueTypeU32, value);
}

static IMAQdxError set_string(IMAQdxSession id, const char* name, const char* value) {
	return IMAQdxSetAttribute(id, name, IMAQdxValueTypeString, value);
}
*/
import "C"

import (
	"fmt"
	"log/slog"
	"runtime/cgo"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/video-system/go-frame-grabber/pkg/acquire"
)

const maxString = C.IMAQDX_MAX_API_STRING_LENGTH

type frameDone struct {
	fn     func() bool
	latest atomic.Uint32
}

type cameraState struct {
	ringSize  int
	frameSize int
	swap16    bool
	frameDone *frameDone
	handles   []cgo.Handle
}

// Driver is the NI-IMAQdx implementation of acquire.Driver.
type Driver struct {
	log   *slog.Logger
	attrs []Attribute
	bayer bool

	mu      sync.Mutex
	cameras map[C.IMAQdxSession]*cameraState
}

// New returns a driver backed by the IMAQdx library. The attribute string
// is parsed here so a malformed one fails before any camera is opened.
func New(opts Options) (*Driver, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	attrs, err := ParseAttributes(opts.Attributes)
	if err != nil {
		return nil, err
	}
	return &Driver{
		log:     opts.Logger.With("component", "imaqdx"),
		attrs:   attrs,
		bayer:   opts.BayerAsGray,
		cameras: make(map[C.IMAQdxSession]*cameraState),
	}, nil
}

// Available reports whether IMAQdx support is compiled in.
func Available() bool { return true }

func check(rval C.IMAQdxError) error {
	if rval == C.IMAQdxErrorSuccess {
		return nil
	}
	var buf [maxString]C.char
	C.IMAQdxGetErrorString(rval, &buf[0], maxString)
	return &CodeError{Code: int32(rval), Text: C.GoString(&buf[0])}
}

// OpenInterface opens the camera as controller. The camera handle is the
// interface ID and, via OpenSession, the session ID.
func (d *Driver) OpenInterface(name string) (acquire.InterfaceID, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var id C.IMAQdxSession
	if err := check(C.IMAQdxOpenCamera(cname, C.IMAQdxCameraControlModeController, &id)); err != nil {
		return 0, err
	}

	d.mu.Lock()
	d.cameras[id] = &cameraState{}
	d.mu.Unlock()

	d.setAttributes(id)
	return acquire.InterfaceID(id), nil
}

// setAttributes applies the configured attributes. A rejected attribute is
// logged and skipped.
func (d *Driver) setAttributes(id C.IMAQdxSession) {
	for _, a := range d.attrs {
		name, value := C.CString(a.Name), C.CString(a.Value)
		err := check(C.set_string(id, name, value))
		C.free(unsafe.Pointer(name))
		C.free(unsafe.Pointer(value))
		if err != nil {
			d.log.Warn("set attribute", "name", a.Name, "value", a.Value, "error", err)
			continue
		}
		d.log.Debug("attribute set", "name", a.Name, "value", a.Value)
	}
}

func (d *Driver) OpenSession(iid acquire.InterfaceID) (acquire.SessionID, error) {
	if _, err := d.camera(C.IMAQdxSession(iid)); err != nil {
		return 0, err
	}
	return acquire.SessionID(iid), nil
}

func (d *Driver) stringAttr(id C.IMAQdxSession, attr string) (string, error) {
	cname := C.CString(attr)
	defer C.free(unsafe.Pointer(cname))
	var buf [maxString]C.char
	if err := check(C.get_string(id, cname, &buf[0])); err != nil {
		return "", fmt.Errorf("read %s: %w", attr, err)
	}
	return C.GoString(&buf[0]), nil
}

func (d *Driver) u32Attr(id C.IMAQdxSession, attr string) (int, error) {
	cname := C.CString(attr)
	defer C.free(unsafe.Pointer(cname))
	var val C.uInt32
	if err := check(C.get_u32(id, cname, &val)); err != nil {
		return 0, fmt.Errorf("read %s: %w", attr, err)
	}
	return int(val), nil
}

// Attributes reads the camera's pixel format, bus and size. Rows are
// dense; the session realigns them when the output stride differs.
func (d *Driver) Attributes(iid acquire.InterfaceID) (acquire.Attributes, error) {
	id := C.IMAQdxSession(iid)
	st, err := d.camera(id)
	if err != nil {
		return acquire.Attributes{}, err
	}

	pixelFormat, err := d.stringAttr(id, "PixelFormat")
	if err != nil {
		return acquire.Attributes{}, err
	}
	busType, err := d.stringAttr(id, "BusType")
	if err != nil {
		return acquire.Attributes{}, err
	}
	width, err := d.u32Attr(id, "Width")
	if err != nil {
		return acquire.Attributes{}, err
	}
	height, err := d.u32Attr(id, "Height")
	if err != nil {
		return acquire.Attributes{}, err
	}

	layout, err := LayoutOf(pixelFormat, busType, d.bayer)
	if err != nil {
		return acquire.Attributes{}, err
	}
	d.log.Debug("camera attributes", "pixel_format", pixelFormat, "bus", busType,
		"width", width, "height", height, "swap16", layout.Swap16)

	a := acquire.Attributes{
		Width:         width,
		Height:        height,
		BitsPerPixel:  layout.BitsPerPixel,
		BytesPerPixel: layout.BytesPerPixel,
		RowStride:     width * layout.BytesPerPixel,
	}

	d.mu.Lock()
	st.frameSize = a.RowStride * a.Height
	st.swap16 = layout.Swap16
	d.mu.Unlock()
	return a, nil
}

// DisablePhysMemLimit is a no-op; IMAQdx allocates its own buffers.
func (d *Driver) DisablePhysMemLimit(acquire.SessionID) error { return nil }

// SetupRing configures continuous acquisition into count buffers.
func (d *Driver) SetupRing(sid acquire.SessionID, count int) error {
	id := C.IMAQdxSession(sid)
	st, err := d.camera(id)
	if err != nil {
		return err
	}
	if err := check(C.IMAQdxConfigureAcquisition(id, 1, C.uInt32(count))); err != nil {
		return err
	}
	d.mu.Lock()
	st.ringSize = count
	d.mu.Unlock()
	return nil
}

// RegisterSignals registers the frame-done event. IMAQdx has no
// acquisition start or done events.
func (d *Driver) RegisterSignals(sid acquire.SessionID, sig acquire.Signals) error {
	id := C.IMAQdxSession(sid)
	st, err := d.camera(id)
	if err != nil {
		return err
	}
	if sig.AcquisitionStarted != nil || sig.AcquisitionDone != nil {
		d.log.Debug("acquisition start and done signals not supported")
	}
	if sig.FrameDone == nil {
		return nil
	}

	fd := &frameDone{fn: sig.FrameDone}
	h := cgo.NewHandle(fd)
	if err := check(C.register_frame_done(id, C.uintptr_t(h))); err != nil {
		h.Delete()
		return err
	}
	d.mu.Lock()
	st.frameDone = fd
	st.handles = append(st.handles, h)
	d.mu.Unlock()
	return nil
}

func (d *Driver) StartAcquisition(sid acquire.SessionID) error {
	return check(C.IMAQdxStartAcquisition(C.IMAQdxSession(sid)))
}

func (d *Driver) StopAcquisition(sid acquire.SessionID) error {
	return check(C.IMAQdxStopAcquisition(C.IMAQdxSession(sid)))
}

// CopyBuffer copies cumulative buffer number into dst. IMAQdx has no
// overwrite policy; an overwritten buffer yields a later one.
func (d *Driver) CopyBuffer(sid acquire.SessionID, number uint32, dst []byte, _ acquire.OverwriteMode) (uint32, int, error) {
	id := C.IMAQdxSession(sid)
	st, err := d.camera(id)
	if err != nil {
		return 0, 0, err
	}
	if len(dst) == 0 {
		return 0, 0, fmt.Errorf("empty destination")
	}

	d.mu.Lock()
	ringSize, frameSize, swap := st.ringSize, st.frameSize, st.swap16
	fd := st.frameDone
	d.mu.Unlock()
	if ringSize == 0 {
		return 0, 0, fmt.Errorf("ring not configured")
	}

	var copied C.uInt32
	rval := C.IMAQdxGetImageData(id, unsafe.Pointer(&dst[0]), C.uInt32(len(dst)),
		C.IMAQdxBufferNumberModeBufferNumber, C.uInt32(number), &copied)
	if err := check(rval); err != nil {
		return 0, 0, err
	}
	if uint32(copied) != number && fd != nil {
		d.log.Debug("copied a later buffer", "requested", number, "copied", uint32(copied),
			"latest_done", fd.latest.Load())
	}
	if swap {
		Swap16(dst[:min(len(dst), frameSize)])
	}
	return uint32(copied), int(uint32(copied) % uint32(ringSize)), nil
}

func (d *Driver) ExamineBuffer(acquire.SessionID, uint32) (uint32, []byte, error) {
	return 0, nil, ErrNoExamine
}

func (d *Driver) ReleaseBuffer(acquire.SessionID) error { return nil }

// CopyOnly reports that frames are always copied.
func (d *Driver) CopyOnly() bool { return true }

// CloseSession tears down the acquisition. The camera stays open until
// CloseInterface.
func (d *Driver) CloseSession(sid acquire.SessionID) error {
	id := C.IMAQdxSession(sid)
	st, err := d.camera(id)
	if err != nil {
		return err
	}
	d.mu.Lock()
	configured := st.ringSize > 0
	st.ringSize = 0
	d.mu.Unlock()
	if !configured {
		return nil
	}
	return check(C.IMAQdxUnconfigureAcquisition(id))
}

func (d *Driver) CloseInterface(iid acquire.InterfaceID) error {
	id := C.IMAQdxSession(iid)
	d.mu.Lock()
	st := d.cameras[id]
	delete(d.cameras, id)
	d.mu.Unlock()

	err := check(C.IMAQdxCloseCamera(id))

	// No event can fire once the camera is closed.
	if st != nil {
		for _, h := range st.handles {
			h.Delete()
		}
	}
	return err
}

func (d *Driver) camera(id C.IMAQdxSession) (*cameraState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.cameras[id]
	if !ok {
		return nil, fmt.Errorf("unknown camera session %d", id)
	}
	return st, nil
}

var (
	_ acquire.Driver   = (*Driver)(nil)
	_ acquire.CopyOnly = (*Driver)(nil)
)
