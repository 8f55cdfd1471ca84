package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/video-system/go-frame-grabber/pkg/format"
)

// DefaultFrameInterval is assumed when the device does not report its
// frame rate (30 fps).
const DefaultFrameInterval = 33 * time.Millisecond

// EngineOptions configures NewEngine.
type EngineOptions struct {
	// AvoidCopy hands out ring memory directly when the layouts allow it.
	AvoidCopy bool
	// FrameInterval is used for latency bounds and for the duration of
	// untimed frames. Defaults to DefaultFrameInterval.
	FrameInterval time.Duration
	Allocator     Allocator
	Logger        *slog.Logger
}

// EngineStats is a snapshot of delivery counters.
type EngineStats struct {
	Delivered uint64       `json:"delivered"`
	Dropped   uint64       `json:"dropped"`
	Untimed   uint64       `json:"untimed"`
	Failed    uint64       `json:"failed"`
	ZeroCopy  bool         `json:"zero_copy"`
	Session   SessionStats `json:"session"`
}

// Engine delivers finished frames from a Session to a single sequential
// consumer.
type Engine struct {
	session  *Session
	geom     Geometry
	opts     EngineOptions
	zeroCopy bool
	full     bool // output rows match native rows, copy whole frames
	log      *slog.Logger

	// consumer state, only touched by RequestFrame
	expected  uint32
	baseTime  time.Duration
	startSent bool

	mu            sync.Mutex
	fatal         error
	delivered     uint64
	dropped       uint64
	untimed       uint64
	failed        uint64
	onStreamStart func(time.Time)
}

// NewEngine prepares delivery of frames with the negotiated caps from a
// configured session.
func NewEngine(s *Session, caps format.Caps, opts EngineOptions) (*Engine, error) {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	if opts.Allocator == nil {
		opts.Allocator = NewPoolAllocator(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if s.RingSize() == 0 {
		return nil, newError(KindResource, "create engine", s.Device(),
			fmt.Errorf("%w: ring not configured", ErrInvalidState))
	}
	attrs, err := s.Attributes()
	if err != nil {
		return nil, err
	}
	geom, err := NewGeometry(caps, attrs)
	if err != nil {
		return nil, newError(KindDevice, "negotiate", s.Device(), err)
	}

	e := &Engine{
		session: s,
		geom:    geom,
		opts:    opts,
		log:     opts.Logger.With("component", "engine", "session_id", s.ID()),
	}

	// Ring memory can only be handed out when its rows are exactly the
	// delivered rows and no sample has to be rewritten.
	e.zeroCopy = opts.AvoidCopy && !geom.Signed &&
		geom.Width == geom.RowPixels && geom.RowPixels == geom.NativeRowPixels()
	if co, ok := s.drv.(CopyOnly); ok && co.CopyOnly() && e.zeroCopy {
		e.log.Info("zero-copy disabled, driver cannot lend ring buffers")
		e.zeroCopy = false
	}
	e.full = geom.Stride == geom.NativeStride
	if opts.AvoidCopy && geom.Signed {
		e.log.Info("zero-copy disabled, signed samples are rewritten in place")
	}

	e.log.Info("frame geometry negotiated",
		"format", geom.Format,
		"width", geom.Width,
		"height", geom.Height,
		"stride", geom.Stride,
		"native_stride", geom.NativeStride,
		"frame_size", geom.FrameSize,
		"zero_copy", e.zeroCopy,
	)
	return e, nil
}

// OnStreamStart sets the callback fired once, with the wall-clock time the
// first frame landed, when the first frame after that time is delivered.
func (e *Engine) OnStreamStart(fn func(time.Time)) {
	e.mu.Lock()
	e.onStreamStart = fn
	e.mu.Unlock()
}

// RequestFrame blocks until the next frame is available and returns it.
// It must not be called concurrently.
func (e *Engine) RequestFrame(ctx context.Context) (*Frame, error) {
	if err := e.ensureStarted(); err != nil {
		return nil, err
	}

	var (
		frame  *Frame
		copied uint32
		slot   int
		err    error
	)
	if e.zeroCopy {
		frame, copied, slot, err = e.examine()
	} else {
		frame, copied, slot, err = e.copy(ctx)
	}
	if err != nil {
		e.mu.Lock()
		e.failed++
		e.mu.Unlock()
		return nil, err
	}

	ts, ok := e.session.readyNotifier().take(slot, true)

	if e.geom.Signed {
		e.log.Debug("shifting signed to unsigned")
		if err := format.SignedToUnsigned(frame.Data, e.geom.BytesPerPixel); err != nil {
			frame.Release()
			return nil, newError(KindResource, "normalize samples", e.session.Device(), err)
		}
	}

	e.finish(frame, copied, ts, ok)
	return frame, nil
}

// Start starts acquisition if it is not running and latches the clock
// origin frame timestamps are relative to. RequestFrame calls it.
func (e *Engine) Start() error {
	return e.ensureStarted()
}

func (e *Engine) ensureStarted() error {
	e.mu.Lock()
	fatal := e.fatal
	e.mu.Unlock()
	if fatal != nil {
		return fatal
	}

	if e.session.Started() {
		return nil
	}

	if err := e.session.Start(); err != nil {
		if IsFatal(err) {
			e.mu.Lock()
			e.fatal = err
			e.mu.Unlock()
		}
		e.log.Error("unable to start acquisition", "error", err)
		return err
	}
	e.baseTime = e.session.clock.Now()
	return nil
}

func (e *Engine) examine() (*Frame, uint32, int, error) {
	e.log.Debug("sending ring buffer without copying", "buffer", e.expected)

	frame := &Frame{ZeroCopy: true}
	copied, data, err := e.session.ExamineFrame(e.expected)
	if err != nil {
		e.log.Error("failed to examine buffer", "buffer", e.expected, "error", err)
		return nil, 0, 0, err
	}
	if len(data) > e.geom.FrameSize {
		data = data[:e.geom.FrameSize]
	}

	s := e.session
	frame.Data = data
	frame.release = func() {
		if err := s.ReleaseFrame(); err != nil {
			e.log.Warn("failed to release ring buffer", "error", err)
		}
	}
	return frame, copied, int(copied % uint32(s.RingSize())), nil
}

func (e *Engine) copy(ctx context.Context) (*Frame, uint32, int, error) {
	e.log.Debug("copying ring buffer", "buffer", e.expected, "size", e.geom.FrameSize)

	buf, err := e.opts.Allocator.Alloc(e.geom.FrameSize)
	if err != nil {
		e.log.Error("failed to allocate buffer", "size", e.geom.FrameSize, "error", err)
		return nil, 0, 0, newError(KindResource, "allocate", e.session.Device(), err)
	}

	// Wait for the notifier so a slot is never copied before it has been
	// timestamped.
	if err := e.session.readyNotifier().waitAvailable(ctx); err != nil {
		e.opts.Allocator.Free(buf)
		return nil, 0, 0, fmt.Errorf("wait for frame: %w", err)
	}

	var (
		copied uint32
		slot   int
	)
	if e.full {
		copied, slot, err = e.session.CopyFrame(buf, e.expected)
	} else {
		copied, slot, err = e.session.CopyArea(buf, e.expected, e.geom)
	}
	if err != nil {
		e.opts.Allocator.Free(buf)
		e.log.Error("failed to copy buffer", "buffer", e.expected, "error", err)
		return nil, 0, 0, err
	}

	alloc := e.opts.Allocator
	frame := &Frame{Data: buf}
	frame.release = func() { alloc.Free(buf) }
	return frame, copied, slot, nil
}

func (e *Engine) finish(frame *Frame, copied uint32, ts time.Duration, timed bool) {
	frame.Size = len(frame.Data)
	frame.Offset = copied
	frame.OffsetEnd = copied + 1

	if timed {
		rel := ts - e.baseTime
		if rel < 0 {
			rel = 0
		}
		frame.Timestamp = rel
		frame.Duration = rel / time.Duration(uint64(copied)+1)
	} else {
		e.log.Warn("no valid time found for buffer, callback failed?",
			"buffer", copied, "kind", KindTiming)
		frame.Timestamp = NoTimestamp
		frame.Duration = e.opts.FrameInterval
	}
	if frame.Duration <= 0 {
		frame.Duration = e.opts.FrameInterval
	}

	// Unsigned subtraction keeps the count right across counter wraparound.
	var dropped uint32
	if d := int32(copied - e.expected); d > 0 {
		dropped = uint32(d)
	}
	frame.Dropped = dropped

	e.mu.Lock()
	e.delivered++
	if !timed {
		e.untimed++
	}
	if dropped > 0 {
		e.dropped += uint64(dropped)
	}
	total := e.dropped
	onStart := e.onStreamStart
	e.mu.Unlock()

	if dropped > 0 {
		e.log.Warn("frames dropped",
			"asked", e.expected,
			"given", copied,
			"dropped", dropped,
			"dropped_total", total,
			"kind", KindTiming,
		)
	}

	e.expected = copied + 1

	if !e.startSent {
		if start := e.session.readyNotifier().startTime(); !start.IsZero() {
			e.log.Debug("sending stream start time", "start_time", start)
			e.startSent = true
			if onStart != nil {
				onStart(start)
			}
		}
	}
}

// Geometry returns the negotiated frame layout.
func (e *Engine) Geometry() Geometry { return e.geom }

// ZeroCopy reports whether frames reference ring memory directly.
func (e *Engine) ZeroCopy() bool { return e.zeroCopy }

// Session returns the underlying session.
func (e *Engine) Session() *Session { return e.session }

// DropCount returns the number of frames overwritten before they could be
// delivered.
func (e *Engine) DropCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Latency returns the minimum and maximum latency of delivered frames: one
// frame interval, and one interval per ring slot.
func (e *Engine) Latency() (min, max time.Duration, err error) {
	if !e.session.Started() {
		return 0, 0, ErrNotStarted
	}
	min = e.opts.FrameInterval
	max = min * time.Duration(e.session.RingSize())
	return min, max, nil
}

// Stats returns delivery counters.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	st := EngineStats{
		Delivered: e.delivered,
		Dropped:   e.dropped,
		Untimed:   e.untimed,
		Failed:    e.failed,
		ZeroCopy:  e.zeroCopy,
	}
	e.mu.Unlock()
	st.Session = e.session.Stats()
	return st
}

// Err returns the fatal error that stopped the engine, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatal
}

// Stop stops acquisition. The next RequestFrame starts it again.
func (e *Engine) Stop() error {
	return e.session.Stop()
}

// Reset stops acquisition and clears the delivery counters and a latched
// fatal error. A session closed by a fatal start failure stays closed; the
// caller has to open a new one.
func (e *Engine) Reset() error {
	err := e.session.Stop()

	e.mu.Lock()
	e.fatal = nil
	e.dropped = 0
	e.delivered = 0
	e.untimed = 0
	e.failed = 0
	e.mu.Unlock()

	return err
}

// Close stops acquisition and closes the session. Zero-copy frames still
// held by the consumer must be released first.
func (e *Engine) Close() error {
	return e.session.Close()
}
