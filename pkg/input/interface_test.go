package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/video-system/go-frame-grabber/pkg/acquire"
	"github.com/video-system/go-frame-grabber/pkg/imaq"
	"github.com/video-system/go-frame-grabber/pkg/imaqdx"
	"github.com/video-system/go-frame-grabber/pkg/simulator"
)

func TestBuiltinDrivers(t *testing.T) {
	names := Drivers()
	assert.Contains(t, names, "simulator")
	assert.Contains(t, names, "imaq")
	assert.Contains(t, names, "imaqdx")

	drv, err := NewDriver("simulator", DriverOptions{
		Simulator: simulator.Config{Width: 4, Height: 2, BytesPerPixel: 1},
	})
	require.NoError(t, err)
	assert.IsType(t, &simulator.Grabber{}, drv)

	if !imaq.Available() {
		_, err = NewDriver("imaq", DriverOptions{})
		assert.ErrorIs(t, err, imaq.ErrNotAvailable)
	}
	if !imaqdx.Available() {
		_, err = NewDriver("imaqdx", DriverOptions{IMAQdx: imaqdx.Options{Attributes: "Gain=2"}})
		assert.ErrorIs(t, err, imaqdx.ErrNotAvailable)
	}
}

func TestUnknownDriver(t *testing.T) {
	_, err := NewDriver("v4l2", DriverOptions{})
	assert.ErrorContains(t, err, `unknown driver "v4l2"`)
}

func TestRegisterReplaces(t *testing.T) {
	calls := 0
	Register("test", func(DriverOptions) (acquire.Driver, error) {
		calls++
		return nil, nil
	})
	Register("test", func(DriverOptions) (acquire.Driver, error) {
		calls += 10
		return nil, nil
	})
	t.Cleanup(func() {
		registryMu.Lock()
		delete(registry, "test")
		registryMu.Unlock()
	})

	_, err := NewDriver("test", DriverOptions{})
	require.NoError(t, err)
	assert.Equal(t, 10, calls)
}
