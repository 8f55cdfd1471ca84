package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/video-system/go-frame-grabber/pkg/acquire"
	"github.com/video-system/go-frame-grabber/pkg/format"
	"github.com/video-system/go-frame-grabber/pkg/input"
)

// FrameHandler receives every delivered frame. It owns the frame and must
// call Release once it is done with the data.
type FrameHandler func(channelID string, f *acquire.Frame)

// Channel represents a single frame grabber. Each channel has its own
// driver session, engine and pull loop.
type Channel struct {
	id  string
	cfg ChannelConfig
	log *slog.Logger

	// newDriver is replaced in tests.
	newDriver func(name string, opts input.DriverOptions) (acquire.Driver, error)

	mu          sync.RWMutex
	engine      *acquire.Engine
	onFrame     FrameHandler
	isRunning   bool
	isCapturing bool
	streamStart time.Time
	lastFrame   FrameInfo
	lastErr     error

	cancel context.CancelFunc
	done   chan struct{}
}

// NewChannel creates a capture channel. The device is opened by Start.
func NewChannel(cfg ChannelConfig, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		id:        cfg.ID,
		cfg:       cfg,
		log:       logger.With("component", "channel", "channel", cfg.ID),
		newDriver: input.NewDriver,
	}
}

// ID returns the channel identifier
func (ch *Channel) ID() string {
	return ch.id
}

// OnFrame sets the handler frames are passed to. Without a handler frames
// are released as soon as they are delivered.
func (ch *Channel) OnFrame(fn FrameHandler) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onFrame = fn
}

// Start opens the device, starts acquisition and runs the pull loop until
// ctx is cancelled or Stop is called.
func (ch *Channel) Start(ctx context.Context) error {
	ch.mu.Lock()
	if ch.isRunning {
		ch.mu.Unlock()
		return fmt.Errorf("channel %s already running", ch.id)
	}
	ch.isRunning = true
	ch.lastErr = nil
	ch.mu.Unlock()

	ch.log.Info("starting channel", "driver", ch.cfg.Driver, "device", ch.cfg.Device)

	eng, err := ch.open()
	if err == nil {
		if err = eng.Start(); err != nil {
			eng.Close()
		}
	}
	if err != nil {
		ch.mu.Lock()
		ch.isRunning = false
		ch.lastErr = err
		ch.mu.Unlock()
		return fmt.Errorf("start channel %s: %w", ch.id, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	ch.mu.Lock()
	ch.engine = eng
	ch.isCapturing = true
	ch.cancel = cancel
	ch.done = done
	ch.mu.Unlock()

	go ch.run(loopCtx, eng, done)
	return nil
}

// open negotiates caps with the device and builds the engine.
func (ch *Channel) open() (*acquire.Engine, error) {
	cfg := ch.cfg.InputConfig

	drv, err := ch.newDriver(cfg.Driver, input.DriverOptions{
		Simulator: cfg.Simulator,
		IMAQdx:    cfg.IMAQdx,
		Logger:    ch.log,
	})
	if err != nil {
		return nil, fmt.Errorf("create driver: %w", err)
	}

	session, err := acquire.Open(drv, cfg.Device, acquire.SessionOptions{Logger: ch.log})
	if err != nil {
		return nil, err
	}
	if err := session.ConfigureRing(cfg.RingBuffers); err != nil {
		return nil, err
	}

	attrs, err := session.Attributes()
	if err != nil {
		session.Close()
		return nil, err
	}
	caps, err := Negotiate(cfg, attrs)
	if err != nil {
		session.Close()
		return nil, err
	}

	eng, err := acquire.NewEngine(session, caps, acquire.EngineOptions{
		AvoidCopy:     cfg.AvoidCopy,
		FrameInterval: cfg.FrameInterval,
		Allocator:     acquire.NewPoolAllocator(cfg.MaxFrameSize),
		Logger:        ch.log,
	})
	if err != nil {
		session.Close()
		return nil, err
	}
	eng.OnStreamStart(func(t time.Time) {
		ch.mu.Lock()
		ch.streamStart = t
		ch.mu.Unlock()
		ch.log.Info("stream started", "wall_clock", t)
	})
	return eng, nil
}

// Negotiate derives the delivered caps from the device attributes. A
// configured format overrides the one implied by the device depth but must
// still match it.
func Negotiate(cfg InputConfig, attrs acquire.Attributes) (format.Caps, error) {
	var (
		pf  format.PixelFormat
		err error
	)
	if cfg.Format != "" {
		pf, err = format.Parse(cfg.Format)
	} else {
		pf, err = format.FromDepth(attrs.BytesPerPixel)
	}
	if err != nil {
		return format.Caps{}, fmt.Errorf("negotiate format: %w", err)
	}

	rowMultiple := cfg.RowMultiple
	if rowMultiple == 0 {
		rowMultiple = format.DefaultRowMultiple
	}
	caps := format.Caps{
		Format:      pf,
		Width:       attrs.Width,
		Height:      attrs.Height,
		RowMultiple: rowMultiple,
		Signed:      cfg.Signed,
	}
	if _, err := acquire.NewGeometry(caps, attrs); err != nil {
		return format.Caps{}, fmt.Errorf("negotiate format: %w", err)
	}
	return caps, nil
}

func (ch *Channel) run(ctx context.Context, eng *acquire.Engine, done chan struct{}) {
	defer close(done)
	defer func() {
		ch.mu.Lock()
		ch.isCapturing = false
		ch.mu.Unlock()
	}()

	for ctx.Err() == nil {
		frame, err := eng.RequestFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, acquire.ErrClosed) {
				return
			}
			ch.setError(err)
			if acquire.IsFatal(err) {
				ch.log.Error("capture stopped", "error", err)
				return
			}
			ch.log.Warn("frame request failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(ch.cfg.FrameInterval):
			}
			continue
		}

		ch.mu.Lock()
		ch.lastFrame = FrameInfo{
			Offset:    frame.Offset,
			Size:      frame.Size,
			Timestamp: frame.Timestamp,
			Duration:  frame.Duration,
			Dropped:   frame.Dropped,
			ZeroCopy:  frame.ZeroCopy,
			Received:  time.Now(),
		}
		handler := ch.onFrame
		ch.mu.Unlock()

		if frame.Dropped > 0 {
			ch.log.Debug("delivered after drop", "offset", frame.Offset, "dropped", frame.Dropped)
		}
		if handler != nil {
			handler(ch.id, frame)
		} else {
			frame.Release()
		}
	}
}

func (ch *Channel) setError(err error) {
	ch.mu.Lock()
	ch.lastErr = err
	ch.mu.Unlock()
}

// Stop stops the pull loop, acquisition and closes the device.
func (ch *Channel) Stop() {
	ch.mu.Lock()
	if !ch.isRunning {
		ch.mu.Unlock()
		return
	}
	ch.isRunning = false
	cancel, done, eng := ch.cancel, ch.done, ch.engine
	ch.mu.Unlock()

	ch.log.Info("stopping channel")
	cancel()
	if err := eng.Stop(); err != nil {
		ch.log.Warn("stop acquisition", "error", err)
	}
	<-done
	if err := eng.Close(); err != nil {
		ch.log.Warn("close session", "error", err)
	}

	ch.mu.Lock()
	ch.cancel = nil
	ch.mu.Unlock()
}

// Done is closed when the pull loop exits. It is nil before Start.
func (ch *Channel) Done() <-chan struct{} {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.done
}

// Engine returns the channel's engine, nil before Start.
func (ch *Channel) Engine() *acquire.Engine {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.engine
}

// IsCapturing reports whether the pull loop is delivering frames.
func (ch *Channel) IsCapturing() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.isCapturing
}

// GetError returns the last capture error, if any.
func (ch *Channel) GetError() error {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.lastErr
}

// GetStatus returns the channel status (implements api.Channel)
func (ch *Channel) GetStatus() interface{} {
	return ch.Status()
}

// Status returns a snapshot of the channel.
func (ch *Channel) Status() ChannelStatus {
	ch.mu.RLock()
	st := ChannelStatus{
		ChannelID:   ch.id,
		Driver:      ch.cfg.Driver,
		Device:      ch.cfg.Device,
		IsRunning:   ch.isRunning,
		IsCapturing: ch.isCapturing,
		RingBuffers: ch.cfg.RingBuffers,
	}
	eng := ch.engine
	if !ch.streamStart.IsZero() {
		t := ch.streamStart
		st.StreamStart = &t
	}
	if ch.lastFrame.Size > 0 {
		f := ch.lastFrame
		st.LastFrame = &f
	}
	if ch.lastErr != nil {
		st.Error = ch.lastErr.Error()
	}
	ch.mu.RUnlock()

	if eng == nil {
		return st
	}
	geom := eng.Geometry()
	stats := eng.Stats()
	st.SessionID = eng.Session().ID()
	st.State = eng.Session().State().String()
	st.Geometry = &geom
	st.Stats = &stats
	st.DropCount = eng.DropCount()
	if min, max, err := eng.Latency(); err == nil {
		st.Latency = &Latency{Min: min, Max: max}
	}
	return st
}
