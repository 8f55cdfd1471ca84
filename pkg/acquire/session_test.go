package acquire_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/video-system/go-frame-grabber/pkg/acquire"
	"github.com/video-system/go-frame-grabber/pkg/simulator"
)

// recordingDriver wraps a driver, records teardown order and injects
// failures.
type recordingDriver struct {
	acquire.Driver

	failOpenSession error
	failSetupRing   error
	failPhysMem     error
	calls           []string
}

func (d *recordingDriver) OpenSession(iid acquire.InterfaceID) (acquire.SessionID, error) {
	if d.failOpenSession != nil {
		return 0, d.failOpenSession
	}
	return d.Driver.OpenSession(iid)
}

func (d *recordingDriver) DisablePhysMemLimit(sid acquire.SessionID) error {
	if d.failPhysMem != nil {
		return d.failPhysMem
	}
	return d.Driver.DisablePhysMemLimit(sid)
}

func (d *recordingDriver) SetupRing(sid acquire.SessionID, count int) error {
	if d.failSetupRing != nil {
		return d.failSetupRing
	}
	return d.Driver.SetupRing(sid, count)
}

func (d *recordingDriver) CloseSession(sid acquire.SessionID) error {
	d.calls = append(d.calls, "session")
	return d.Driver.CloseSession(sid)
}

func (d *recordingDriver) CloseInterface(iid acquire.InterfaceID) error {
	d.calls = append(d.calls, "interface")
	return d.Driver.CloseInterface(iid)
}

func newRecordingDriver(t *testing.T) *recordingDriver {
	t.Helper()
	cfg := gray8(4, 2)
	cfg.Logger = quietLogger()
	g, err := simulator.New(cfg)
	require.NoError(t, err)
	return &recordingDriver{Driver: g}
}

func openSession(t *testing.T, drv acquire.Driver) (*acquire.Session, error) {
	t.Helper()
	return acquire.Open(drv, "img0", acquire.SessionOptions{Logger: quietLogger()})
}

func TestOpenSessionFailureClosesInterface(t *testing.T) {
	drv := newRecordingDriver(t)
	drv.failOpenSession = errors.New("no such session")

	_, err := openSession(t, drv)
	require.Error(t, err)
	kind, ok := acquire.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, acquire.KindDevice, kind)
	assert.Contains(t, err.Error(), "no such session")
	assert.Equal(t, []string{"interface"}, drv.calls)
}

func TestConfigureRing(t *testing.T) {
	drv := newRecordingDriver(t)
	drv.failPhysMem = errors.New("not supported")

	s, err := openSession(t, drv)
	require.NoError(t, err)
	assert.Equal(t, acquire.StateOpened, s.State())
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "img0", s.Device())

	assert.ErrorIs(t, s.ConfigureRing(0), acquire.ErrInvalidRingSize)

	require.NoError(t, s.ConfigureRing(3), "a physical memory limit failure is only logged")
	assert.Equal(t, acquire.StateConfigured, s.State())
	assert.Equal(t, 3, s.RingSize())

	assert.ErrorIs(t, s.ConfigureRing(3), acquire.ErrInvalidState)
	require.NoError(t, s.Close())
}

func TestConfigureRingFailureClosesSession(t *testing.T) {
	drv := newRecordingDriver(t)
	drv.failSetupRing = errors.New("out of memory")

	s, err := openSession(t, drv)
	require.NoError(t, err)

	err = s.ConfigureRing(2)
	require.Error(t, err)
	kind, _ := acquire.KindOf(err)
	assert.Equal(t, acquire.KindResource, kind)
	assert.Equal(t, acquire.StateClosed, s.State())
	assert.Equal(t, []string{"session", "interface"}, drv.calls)
}

func TestSessionLifecycle(t *testing.T) {
	drv := newRecordingDriver(t)
	s, err := openSession(t, drv)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Start(), acquire.ErrInvalidState, "start before configure")
	require.NoError(t, s.ConfigureRing(2))

	require.NoError(t, s.Stop(), "stop before start is a no-op")
	assert.Equal(t, acquire.StateConfigured, s.State())

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.Equal(t, acquire.StateStarted, s.State())

	require.NoError(t, s.Stop())
	assert.Equal(t, acquire.StateStopped, s.State())
	_, _, err = s.CopyFrame(make([]byte, 8), 0)
	assert.ErrorIs(t, err, acquire.ErrNotStarted)

	require.NoError(t, s.Start())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, acquire.StateClosed, s.State())
	assert.Equal(t, []string{"session", "interface"}, drv.calls, "session before interface, once")

	_, _, err = s.CopyFrame(make([]byte, 8), 0)
	assert.ErrorIs(t, err, acquire.ErrClosed)
}

func TestAttributesDefaultStride(t *testing.T) {
	drv := newRecordingDriver(t)
	s, err := openSession(t, drv)
	require.NoError(t, err)
	defer s.Close()

	attrs, err := s.Attributes()
	require.NoError(t, err)
	assert.Equal(t, 4, attrs.Width)
	assert.Equal(t, 2, attrs.Height)
	assert.Equal(t, 4, attrs.RowStride)
}

func TestExamineRequiresRelease(t *testing.T) {
	cfg := gray8(4, 2)
	cfg.Logger = quietLogger()
	g, err := simulator.New(cfg)
	require.NoError(t, err)

	s, err := openSession(t, g)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.ConfigureRing(2))
	require.NoError(t, s.Start())
	g.Emit()

	n, data, err := s.ExamineFrame(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)
	assert.Len(t, data, 8)

	_, _, err = s.ExamineFrame(1)
	assert.Error(t, err)

	require.NoError(t, s.ReleaseFrame())
	require.NoError(t, s.ReleaseFrame(), "second release is a no-op")
}

func TestErrorFormatting(t *testing.T) {
	err := &acquire.Error{
		Kind:   acquire.KindDevice,
		Op:     "open interface",
		Device: "img0",
		Msg:    "interface not found",
		Err:    errors.New("code -1074397150"),
	}
	assert.Equal(t, "device open interface img0: code -1074397150 (interface not found)", err.Error())
	assert.False(t, acquire.IsFatal(err))

	_, ok := acquire.KindOf(errors.New("plain"))
	assert.False(t, ok)

	assert.Equal(t, "timing", acquire.KindTiming.String())
	assert.Equal(t, "protocol", acquire.KindProtocol.String())
}

func TestStartReleasesLockBetweenAttempts(t *testing.T) {
	cfg := gray8(4, 2)
	cfg.Logger = quietLogger()
	cfg.StartFailures = 2
	g, err := simulator.New(cfg)
	require.NoError(t, err)

	var (
		s      *acquire.Session
		states []acquire.State
		seen   []int
	)
	s, err = acquire.Open(g, "img0", acquire.SessionOptions{
		Logger: quietLogger(),
		Sleep: func(time.Duration) {
			// Would deadlock if Start still held the session lock.
			states = append(states, s.State())
			seen = append(seen, s.Stats().StartAttempts)
		},
	})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.ConfigureRing(2))

	require.NoError(t, s.Start())
	assert.Equal(t, []acquire.State{acquire.StateConfigured, acquire.StateConfigured}, states)
	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, acquire.StateStarted, s.State())
}

func TestCloseDuringStartBackoff(t *testing.T) {
	cfg := gray8(4, 2)
	cfg.Logger = quietLogger()
	cfg.StartFailures = 3
	g, err := simulator.New(cfg)
	require.NoError(t, err)

	var s *acquire.Session
	s, err = acquire.Open(g, "img0", acquire.SessionOptions{
		Logger: quietLogger(),
		Sleep:  func(time.Duration) { require.NoError(t, s.Close()) },
	})
	require.NoError(t, err)
	require.NoError(t, s.ConfigureRing(2))

	err = s.Start()
	assert.ErrorIs(t, err, acquire.ErrClosed)
	assert.False(t, acquire.IsFatal(err))
	assert.Equal(t, acquire.StateClosed, s.State())
	assert.Equal(t, 1, s.Stats().StartAttempts)
}
