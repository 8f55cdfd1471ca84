package capture

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/video-system/go-frame-grabber/pkg/acquire"
	"github.com/video-system/go-frame-grabber/pkg/format"
	"github.com/video-system/go-frame-grabber/pkg/input"
	"github.com/video-system/go-frame-grabber/pkg/simulator"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func simChannel(id string, sim simulator.Config) ChannelConfig {
	in := InputConfig{Driver: "simulator", Simulator: sim}
	in.ApplyDefaults(InputConfig{})
	return ChannelConfig{ID: id, InputConfig: in}
}

// captureGrabber makes ch open its simulator through a factory that
// remembers the grabber, so tests can land frames by hand.
func captureGrabber(ch *Channel) func() *simulator.Grabber {
	var (
		mu sync.Mutex
		g  *simulator.Grabber
	)
	ch.newDriver = func(name string, opts input.DriverOptions) (acquire.Driver, error) {
		drv, err := input.NewDriver(name, opts)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		g = drv.(*simulator.Grabber)
		mu.Unlock()
		return drv, nil
	}
	return func() *simulator.Grabber {
		mu.Lock()
		defer mu.Unlock()
		return g
	}
}

func TestNegotiate(t *testing.T) {
	attrs := acquire.Attributes{Width: 10, Height: 4, BytesPerPixel: 2, BitsPerPixel: 12, RowStride: 20}

	caps, err := Negotiate(InputConfig{RowMultiple: 8, Signed: true}, attrs)
	require.NoError(t, err)
	assert.Equal(t, format.FormatGray16LE, caps.Format)
	assert.Equal(t, 10, caps.Width)
	assert.Equal(t, 4, caps.Height)
	assert.Equal(t, 8, caps.RowMultiple)
	assert.True(t, caps.Signed)

	caps, err = Negotiate(InputConfig{Format: "mono8"}, acquire.Attributes{Width: 10, Height: 4, BytesPerPixel: 1})
	require.NoError(t, err)
	assert.Equal(t, format.FormatGray8, caps.Format)
	assert.Equal(t, format.DefaultRowMultiple, caps.RowMultiple)

	_, err = Negotiate(InputConfig{}, acquire.Attributes{Width: 10, Height: 4, BytesPerPixel: 3})
	assert.ErrorContains(t, err, "negotiate format")

	_, err = Negotiate(InputConfig{Format: "bgra", Signed: true}, acquire.Attributes{Width: 10, Height: 4, BytesPerPixel: 4})
	assert.ErrorContains(t, err, "signed")

	_, err = Negotiate(InputConfig{Format: "gray16le"}, acquire.Attributes{Width: 8, Height: 2, BytesPerPixel: 1})
	assert.ErrorContains(t, err, "device delivers 1")

	_, err = Negotiate(InputConfig{}, acquire.Attributes{Width: 8, Height: 2, BytesPerPixel: 2, RowStride: 10})
	assert.ErrorContains(t, err, "native stride 10")
}

func TestChannelRejectsFormatDeviceCannotDeliver(t *testing.T) {
	cfg := simChannel("cam0", simulator.Config{Width: 8, Height: 2, BytesPerPixel: 1})
	cfg.Format = "gray16le"
	ch := NewChannel(cfg, quietLogger())

	err := ch.Start(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "device delivers 1")
	assert.False(t, ch.IsCapturing())
	assert.False(t, ch.Status().IsRunning)
}

func TestChannelDeliversFrames(t *testing.T) {
	ch := NewChannel(simChannel("cam0", simulator.Config{Width: 6, Height: 2, BytesPerPixel: 1}), quietLogger())
	grabber := captureGrabber(ch)

	frames := make(chan *acquire.Frame, 16)
	ch.OnFrame(func(id string, f *acquire.Frame) {
		assert.Equal(t, "cam0", id)
		frames <- f
	})

	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop()
	assert.ErrorContains(t, ch.Start(context.Background()), "already running")
	assert.True(t, ch.IsCapturing())

	grabber().Emit()
	select {
	case f := <-frames:
		assert.Equal(t, uint32(0), f.Offset)
		assert.Equal(t, 16, f.Size, "rows of 6 bytes padded to 8")
		assert.Equal(t, byte(0), f.Data[0])
		assert.Equal(t, byte(5), f.Data[5])
		f.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}

	st := ch.Status()
	assert.True(t, st.IsRunning)
	assert.Equal(t, "started", st.State)
	assert.NotEmpty(t, st.SessionID)
	require.NotNil(t, st.Geometry)
	assert.Equal(t, 8, st.Geometry.Stride)
	require.NotNil(t, st.LastFrame)
	assert.Equal(t, 16, st.LastFrame.Size)
	require.NotNil(t, st.Latency)
	assert.Equal(t, acquire.DefaultFrameInterval, st.Latency.Min)
	assert.Equal(t, 2*acquire.DefaultFrameInterval, st.Latency.Max)
	require.NotNil(t, st.StreamStart)
	require.NotNil(t, st.Stats)
	assert.Equal(t, uint64(1), st.Stats.Delivered)
}

func TestChannelCountsDrops(t *testing.T) {
	ch := NewChannel(simChannel("cam0", simulator.Config{Width: 4, Height: 1, BytesPerPixel: 1}), quietLogger())
	grabber := captureGrabber(ch)

	gate := make(chan struct{})
	var seen atomic.Int32
	ch.OnFrame(func(_ string, f *acquire.Frame) {
		if seen.Add(1) == 1 {
			<-gate
		}
		f.Release()
	})

	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop()

	grabber().Emit()
	require.Eventually(t, func() bool { return seen.Load() == 1 }, 2*time.Second, time.Millisecond)

	// The handler is blocked; overrun the two-slot ring.
	for i := 0; i < 4; i++ {
		grabber().Emit()
	}
	close(gate)

	require.Eventually(t, func() bool { return ch.Status().DropCount > 0 }, 2*time.Second, time.Millisecond)
}

func TestChannelStopsOnFatalStart(t *testing.T) {
	cfg := simChannel("cam0", simulator.Config{Width: 4, Height: 2, StartFailures: acquire.StartAttempts})
	ch := NewChannel(cfg, quietLogger())

	err := ch.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, acquire.ErrStartFailed)
	assert.True(t, acquire.IsFatal(err))
	assert.False(t, ch.IsCapturing())
	assert.Error(t, ch.GetError())

	st := ch.Status()
	assert.False(t, st.IsRunning)
	assert.Contains(t, st.Error, "camera not ready")

	ch.Stop()
}

func TestChannelUnknownDriver(t *testing.T) {
	cfg := simChannel("cam0", simulator.DefaultConfig())
	cfg.Driver = "v4l2"
	ch := NewChannel(cfg, quietLogger())

	err := ch.Start(context.Background())
	assert.ErrorContains(t, err, `unknown driver "v4l2"`)
}

func TestChannelStopReleasesDevice(t *testing.T) {
	cfg := simChannel("cam0", simulator.Config{Width: 4, Height: 2, Interval: time.Millisecond})
	cfg.AvoidCopy = true
	ch := NewChannel(cfg, quietLogger())

	var delivered atomic.Int32
	ch.OnFrame(func(_ string, f *acquire.Frame) {
		delivered.Add(1)
		f.Release()
	})

	require.NoError(t, ch.Start(context.Background()))
	require.Eventually(t, func() bool { return delivered.Load() >= 3 }, 2*time.Second, time.Millisecond)

	ch.Stop()
	select {
	case <-ch.Done():
	default:
		t.Fatal("pull loop still running after Stop")
	}
	assert.False(t, ch.IsCapturing())
	assert.Equal(t, acquire.StateClosed, ch.Engine().Session().State())
	assert.True(t, ch.Engine().Stats().ZeroCopy)

	// A stopped channel can be started again on a fresh session.
	first := ch.Engine()
	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop()
	assert.NotSame(t, first, ch.Engine())
}

func TestChannelWithoutHandlerReleasesFrames(t *testing.T) {
	cfg := simChannel("cam0", simulator.Config{Width: 4, Height: 2, Interval: time.Millisecond})
	cfg.AvoidCopy = true
	ch := NewChannel(cfg, quietLogger())

	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop()

	// Zero-copy frames that were not released would stall the ring.
	require.Eventually(t, func() bool {
		st := ch.Status()
		return st.Stats != nil && st.Stats.Delivered >= 5
	}, 2*time.Second, time.Millisecond)
}
