package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/video-system/go-frame-grabber/pkg/acquire"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("input:\n  driver: simulator\n"))
	require.NoError(t, err)

	assert.False(t, cfg.IsMultiChannel())
	assert.Equal(t, DefaultAPIPort, cfg.API.Port)
	assert.True(t, cfg.API.IsEnabled())

	chans := cfg.ChannelConfigs()
	require.Len(t, chans, 1)
	ch := chans[0]
	assert.Equal(t, DefaultChannelID, ch.ID)
	assert.Equal(t, "simulator", ch.Driver)
	assert.Equal(t, "img0", ch.Device)
	assert.Equal(t, 2, ch.RingBuffers)
	assert.Equal(t, 4, ch.RowMultiple)
	assert.Equal(t, acquire.DefaultFrameInterval, ch.FrameInterval)
	assert.Equal(t, 640, ch.Simulator.Width)
}

func TestChannelsInheritTopLevelInput(t *testing.T) {
	data := `
input:
  driver: simulator
  ring_buffers: 4
  frame_interval: 20ms
  simulator:
    width: 32
    height: 8
    bytes_per_pixel: 2
channels:
  - id: cam0
  - id: cam1
    device: img1
    ring_buffers: 8
    avoid_copy: true
    format: mono16
api:
  enabled: false
  port: 9000
log:
  level: info,engine=debug
`
	cfg, err := ParseConfig([]byte(data))
	require.NoError(t, err)
	require.True(t, cfg.IsMultiChannel())
	assert.False(t, cfg.API.IsEnabled())
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, "info,engine=debug", cfg.Log.Level)

	chans := cfg.ChannelConfigs()
	require.Len(t, chans, 2)

	assert.Equal(t, "cam0", chans[0].ID)
	assert.Equal(t, "img0", chans[0].Device)
	assert.Equal(t, 4, chans[0].RingBuffers)
	assert.Equal(t, 20*time.Millisecond, chans[0].FrameInterval)
	assert.Equal(t, 32, chans[0].Simulator.Width)

	assert.Equal(t, "img1", chans[1].Device)
	assert.Equal(t, 8, chans[1].RingBuffers)
	assert.True(t, chans[1].AvoidCopy)
	assert.Equal(t, "mono16", chans[1].Format)
	assert.Equal(t, "simulator", chans[1].Driver)
}

func TestParseConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"missing id", "channels:\n  - device: img0\n", "missing id"},
		{"duplicate id", "channels:\n  - id: a\n  - id: a\n", "duplicate id"},
		{"bad format", "input:\n  format: yuv420\n", "unknown pixel format"},
		{"bad row multiple", "input:\n  row_multiple: 3\n", "power of two"},
		{"negative ring", "input:\n  ring_buffers: -1\n", "ring size"},
		{"bad yaml", "input: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("GRABBER_DEVICE", "img3")
	path := filepath.Join(t.TempDir(), "capture.yaml")
	require.NoError(t, os.WriteFile(path, []byte("input:\n  device: ${GRABBER_DEVICE}\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "img3", cfg.Input.Device)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestIMAQdxDefaults(t *testing.T) {
	data := `
input:
  driver: imaq
  ring_buffers: 6
channels:
  - id: frame
  - id: gige
    driver: imaqdx
    imaqdx:
      attributes: "ExposureTime=2000;Gain=3"
      bayer_as_gray: true
`
	cfg, err := ParseConfig([]byte(data))
	require.NoError(t, err)
	chans := cfg.ChannelConfigs()
	require.Len(t, chans, 2)

	assert.Equal(t, "img0", chans[0].Device)
	assert.Equal(t, 6, chans[0].RingBuffers)

	assert.Equal(t, "cam0", chans[1].Device)
	assert.Equal(t, 3, chans[1].RingBuffers)
	assert.Equal(t, "ExposureTime=2000;Gain=3", chans[1].IMAQdx.Attributes)
	assert.True(t, chans[1].IMAQdx.BayerAsGray)

	_, err = ParseConfig([]byte("input:\n  driver: imaqdx\n  imaqdx:\n    attributes: Gain\n"))
	assert.ErrorContains(t, err, "imaqdx")
}
