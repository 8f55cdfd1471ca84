package acquire

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/video-system/go-frame-grabber/pkg/format"
)

const (
	// StartAttempts is how many times starting acquisition is tried. The
	// device may report not ready for a while after power-on.
	StartAttempts = 5
	// StartBackoff is the pause between start attempts.
	StartBackoff = 50 * time.Millisecond
)

// State is the lifecycle state of a Session.
type State int

const (
	StateClosed State = iota
	StateOpened
	StateConfigured
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpened:
		return "opened"
	case StateConfigured:
		return "configured"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SessionOptions configures Open.
type SessionOptions struct {
	Clock  Clock
	Logger *slog.Logger
	// Sleep is used between start attempts. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// SessionStats is a snapshot of notifier bookkeeping.
type SessionStats struct {
	Available          int    `json:"available"`
	RejectedArrivals   uint64 `json:"rejected_arrivals"`
	ProtocolAssertions uint64 `json:"protocol_assertions"`
	StartAttempts      int    `json:"start_attempts"`
}

// Session is an open connection to a frame-grabber ring buffer.
type Session struct {
	id     string
	device string
	drv    Driver
	clock  Clock
	sleep  func(time.Duration)
	log    *slog.Logger

	startMu sync.Mutex // serializes Start, which drops mu between attempts

	mu       sync.Mutex
	state    State
	iid      InterfaceID
	sid      SessionID
	haveIID  bool
	haveSID  bool
	ringSize int
	notify   *notifier
	borrowed bool
	attempts int
	scratch  []byte
}

// Open acquires the named interface and opens an acquisition session on it.
func Open(drv Driver, device string, opts SessionOptions) (*Session, error) {
	if opts.Clock == nil {
		opts.Clock = NewMonotonicClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}

	id := uuid.NewString()
	s := &Session{
		id:     id,
		device: device,
		drv:    drv,
		clock:  opts.Clock,
		sleep:  opts.Sleep,
		log:    opts.Logger.With("component", "session", "session_id", id, "device", device),
	}

	s.log.Debug("opening interface")
	iid, err := drv.OpenInterface(device)
	if err != nil {
		return nil, newError(KindDevice, "open interface", device, err)
	}
	s.iid, s.haveIID = iid, true

	s.log.Debug("opening session")
	sid, err := drv.OpenSession(iid)
	if err != nil {
		s.closeHandles()
		return nil, newError(KindDevice, "open session", device, err)
	}
	s.sid, s.haveSID = sid, true
	s.state = StateOpened

	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Device returns the interface name the session was opened on.
func (s *Session) Device() string { return s.device }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Started reports whether acquisition is running.
func (s *Session) Started() bool {
	return s.State() == StateStarted
}

// RingSize returns the configured number of ring slots, or 0.
func (s *Session) RingSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ringSize
}

// Attributes reads frame properties from the open interface.
func (s *Session) Attributes() (Attributes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return Attributes{}, newError(KindDevice, "read attributes", s.device, ErrClosed)
	}
	attrs, err := s.drv.Attributes(s.iid)
	if err != nil {
		return Attributes{}, newError(KindDevice, "read attributes", s.device, err)
	}
	if attrs.RowStride == 0 {
		attrs.RowStride = attrs.Width * attrs.BytesPerPixel
	}
	return attrs, nil
}

// ConfigureRing allocates n ring slots and registers the notifier with the
// driver. On failure the session is closed.
func (s *Session) ConfigureRing(n int) error {
	if n < 1 {
		return newError(KindResource, "configure ring", s.device, ErrInvalidRingSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpened {
		return newError(KindResource, "configure ring", s.device,
			fmt.Errorf("%w: %s", ErrInvalidState, s.state))
	}

	if err := s.drv.DisablePhysMemLimit(s.sid); err != nil {
		s.log.Warn("failed to lift 32-bit physical memory limit", "error", err)
	}

	s.log.Debug("creating ring", "buffers", n)
	if err := s.drv.SetupRing(s.sid, n); err != nil {
		s.closeLocked()
		return newError(KindResource, "create ring", s.device,
			fmt.Errorf("ring with %d buffers: %w", n, err))
	}

	s.notify = newNotifier(n, s.clock, s.log.With("component", "notifier"))
	if err := s.drv.RegisterSignals(s.sid, s.notify.signals()); err != nil {
		s.closeLocked()
		return newError(KindResource, "register callbacks", s.device, err)
	}

	s.ringSize = n
	s.state = StateConfigured
	return nil
}

// Start starts acquisition, retrying while the device is not ready. When
// every attempt fails the session is closed and a fatal error returned.
// The session lock is released while waiting between attempts.
func (s *Session) Start() error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateStarted:
		return nil
	case StateConfigured, StateStopped:
	default:
		return newError(KindResource, "start acquisition", s.device,
			fmt.Errorf("%w: %s", ErrInvalidState, s.state))
	}

	s.log.Debug("starting acquisition")
	var last error
	for i := 0; i < StartAttempts; i++ {
		if i > 0 {
			s.mu.Unlock()
			s.sleep(StartBackoff)
			s.mu.Lock()
			if s.state == StateClosed {
				return newError(KindResource, "start acquisition", s.device, ErrClosed)
			}
		}
		s.attempts++
		last = s.drv.StartAcquisition(s.sid)
		if last == nil {
			s.state = StateStarted
			s.log.Info("acquisition started", "attempt", i+1, "ring_buffers", s.ringSize)
			return nil
		}
		s.log.Debug("camera not ready, retrying", "attempt", i+1, "error", last)
	}

	s.log.Error("giving up starting acquisition", "attempts", StartAttempts, "error", last)
	s.closeLocked()

	return &Error{
		Kind:   KindResource,
		Op:     "start acquisition",
		Device: s.device,
		Msg:    last.Error(),
		Fatal:  true,
		Err:    ErrStartFailed,
	}
}

// Stop stops acquisition. Stopping a session that is not started does
// nothing.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Session) stopLocked() error {
	if s.state != StateStarted {
		return nil
	}
	s.state = StateStopped
	if err := s.drv.StopAcquisition(s.sid); err != nil {
		return newError(KindResource, "stop acquisition", s.device, err)
	}
	s.log.Debug("acquisition stopped")
	return nil
}

// CopyFrame copies cumulative buffer number, or the oldest buffer still in
// the ring if it has been overwritten, into dst.
func (s *Session) CopyFrame(dst []byte, number uint32) (uint32, int, error) {
	sid, err := s.activeSession("copy buffer")
	if err != nil {
		return 0, 0, err
	}
	copied, slot, err := s.drv.CopyBuffer(sid, number, dst, OverwriteGetOldest)
	if err != nil {
		return 0, 0, newError(KindResource, fmt.Sprintf("copy buffer %d", number), s.device, err)
	}
	return copied, slot, nil
}

// CopyArea copies a width x height frame into dst using the delivered row
// stride of g. Drivers without area copy get a dense copy realigned row by
// row.
func (s *Session) CopyArea(dst []byte, number uint32, g Geometry) (uint32, int, error) {
	sid, err := s.activeSession("copy area")
	if err != nil {
		return 0, 0, err
	}

	if ac, ok := s.drv.(AreaCopier); ok {
		copied, slot, err := ac.CopyArea(sid, number, 0, 0, g.Height, g.Width, dst, g.RowPixels, OverwriteGetOldest)
		if err != nil {
			return 0, 0, newError(KindResource, fmt.Sprintf("copy area %d", number), s.device, err)
		}
		return copied, slot, nil
	}

	// Only one consumer copies at a time, so the scratch buffer is not
	// shared.
	need := g.NativeStride * g.Height
	if len(s.scratch) < need {
		s.scratch = make([]byte, need)
	}
	copied, slot, err := s.drv.CopyBuffer(sid, number, s.scratch[:need], OverwriteGetOldest)
	if err != nil {
		return 0, 0, newError(KindResource, fmt.Sprintf("copy buffer %d", number), s.device, err)
	}

	s.log.Debug("row stride not aligned, realigning",
		"native_stride", g.NativeStride, "stride", g.Stride)
	rowBytes := g.Width * g.BytesPerPixel
	if g.NativeStride == rowBytes {
		if _, err := format.Realign(dst, s.scratch[:need], g.NativeStride, g.RowMultiple, g.Height); err != nil {
			return 0, 0, newError(KindResource, fmt.Sprintf("realign buffer %d", copied), s.device, err)
		}
		return copied, slot, nil
	}

	// Padded native rows: drop the device padding while copying.
	if len(dst) < g.Stride*g.Height {
		return 0, 0, newError(KindResource, fmt.Sprintf("realign buffer %d", copied), s.device,
			fmt.Errorf("destination holds %d bytes, need %d", len(dst), g.Stride*g.Height))
	}
	for r := 0; r < g.Height; r++ {
		copy(dst[r*g.Stride:r*g.Stride+rowBytes], s.scratch[r*g.NativeStride:r*g.NativeStride+rowBytes])
	}
	return copied, slot, nil
}

// ExamineFrame borrows a ring buffer without copying. ReleaseFrame must be
// called exactly once before the next ExamineFrame.
func (s *Session) ExamineFrame(number uint32) (uint32, []byte, error) {
	s.mu.Lock()
	if s.state != StateStarted {
		err := s.stateErr()
		s.mu.Unlock()
		return 0, nil, newError(KindResource, "examine buffer", s.device, err)
	}
	if s.borrowed {
		s.mu.Unlock()
		return 0, nil, newError(KindResource, "examine buffer", s.device,
			errors.New("previous buffer not released"))
	}
	// The driver blocks until the buffer lands; Stop and Close must still
	// be able to get in.
	s.borrowed = true
	sid := s.sid
	s.mu.Unlock()

	copied, data, err := s.drv.ExamineBuffer(sid, number)
	if err != nil {
		s.mu.Lock()
		s.borrowed = false
		s.mu.Unlock()
		return 0, nil, newError(KindResource, fmt.Sprintf("examine buffer %d", number), s.device, err)
	}
	return copied, data, nil
}

// ReleaseFrame returns a borrowed buffer to the ring.
func (s *Session) ReleaseFrame() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked()
}

func (s *Session) releaseLocked() error {
	if !s.borrowed {
		return nil
	}
	s.borrowed = false
	if !s.haveSID {
		return nil
	}
	if err := s.drv.ReleaseBuffer(s.sid); err != nil {
		return newError(KindResource, "release buffer", s.device, err)
	}
	return nil
}

// Close stops acquisition and releases the session and then the interface.
// It may be called more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	var errs []error

	if s.borrowed {
		s.log.Warn("closing session with a borrowed buffer outstanding")
		if err := s.releaseLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.stopLocked(); err != nil {
		errs = append(errs, err)
	}
	if s.notify != nil {
		s.notify.close()
	}
	if err := s.closeHandles(); err != nil {
		errs = append(errs, err)
	}
	s.state = StateClosed
	return errors.Join(errs...)
}

func (s *Session) closeHandles() error {
	var errs []error
	if s.haveSID {
		if err := s.drv.CloseSession(s.sid); err != nil {
			errs = append(errs, newError(KindDevice, "close session", s.device, err))
		} else {
			s.log.Debug("session closed")
		}
		s.haveSID = false
	}
	if s.haveIID {
		if err := s.drv.CloseInterface(s.iid); err != nil {
			errs = append(errs, newError(KindDevice, "close interface", s.device, err))
		} else {
			s.log.Debug("interface closed")
		}
		s.haveIID = false
	}
	return errors.Join(errs...)
}

// Stats returns notifier bookkeeping.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	n, attempts := s.notify, s.attempts
	s.mu.Unlock()

	st := SessionStats{StartAttempts: attempts}
	if n != nil {
		st.Available, st.RejectedArrivals, st.ProtocolAssertions = n.stats()
	}
	return st
}

func (s *Session) activeSession(op string) (SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStarted {
		return 0, newError(KindResource, op, s.device, s.stateErr())
	}
	return s.sid, nil
}

func (s *Session) stateErr() error {
	if s.state == StateClosed {
		return ErrClosed
	}
	return ErrNotStarted
}

func (s *Session) readyNotifier() *notifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notify
}
