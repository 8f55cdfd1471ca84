package acquire

// InterfaceID is a driver handle for an opened frame-grabber interface.
type InterfaceID uint32

// SessionID is a driver handle for an acquisition session on an interface.
type SessionID uint32

// OverwriteMode tells the driver what to do when the requested buffer
// number has already been overwritten in the ring.
type OverwriteMode int

const (
	// OverwriteGetOldest returns the oldest buffer still in the ring.
	OverwriteGetOldest OverwriteMode = iota
	// OverwriteFail fails the request.
	OverwriteFail
)

// Attributes are the frame properties read from an open interface.
type Attributes struct {
	Width         int
	Height        int
	BitsPerPixel  int // significant bits
	BytesPerPixel int
	RowStride     int // bytes between row starts in a ring slot
}

// Signals are invoked by the driver from its own notification context.
// The return value tells the driver whether to keep delivering the signal.
type Signals struct {
	// FrameDone fires once per frame boundary.
	FrameDone func() bool
	// AcquisitionStarted fires when the hardware starts acquiring.
	AcquisitionStarted func() bool
	// AcquisitionDone fires when the hardware stops acquiring.
	AcquisitionDone func() bool
}

// Driver is the frame-grabber API a Session drives. Payload memory belongs
// to the driver; callers only see it through CopyBuffer or between
// ExamineBuffer and ReleaseBuffer.
type Driver interface {
	OpenInterface(name string) (InterfaceID, error)
	OpenSession(iid InterfaceID) (SessionID, error)
	Attributes(iid InterfaceID) (Attributes, error)

	// DisablePhysMemLimit lifts the restriction to 32-bit physical
	// addresses so ring buffers may be placed anywhere on 64-bit hosts.
	DisablePhysMemLimit(sid SessionID) error
	SetupRing(sid SessionID, count int) error
	RegisterSignals(sid SessionID, s Signals) error

	StartAcquisition(sid SessionID) error
	StopAcquisition(sid SessionID) error

	// CopyBuffer blocks until cumulative buffer number is complete and
	// copies it into dst. It may copy a later buffer than requested.
	CopyBuffer(sid SessionID, number uint32, dst []byte, mode OverwriteMode) (copied uint32, slot int, err error)
	// ExamineBuffer borrows a ring buffer without copying. The memory is
	// valid until ReleaseBuffer.
	ExamineBuffer(sid SessionID, number uint32) (copied uint32, data []byte, err error)
	ReleaseBuffer(sid SessionID) error

	CloseSession(sid SessionID) error
	CloseInterface(iid InterfaceID) error
}

// CopyOnly is implemented by drivers that cannot lend ring buffers. The
// engine never selects zero-copy delivery for them.
type CopyOnly interface {
	CopyOnly() bool
}

// AreaCopier is implemented by drivers that can copy a sub-rectangle of a
// buffer into rows of rowPixels pixels.
type AreaCopier interface {
	CopyArea(sid SessionID, number uint32, top, left, height, width int, dst []byte, rowPixels int, mode OverwriteMode) (copied uint32, slot int, err error)
}
