package capture

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/video-system/go-frame-grabber/pkg/acquire"
	"github.com/video-system/go-frame-grabber/pkg/format"
	"github.com/video-system/go-frame-grabber/pkg/imaq"
	"github.com/video-system/go-frame-grabber/pkg/imaqdx"
	"github.com/video-system/go-frame-grabber/pkg/simulator"
)

// Defaults applied by LoadConfig.
const (
	DefaultDriver      = "imaq"
	DefaultRingBuffers = 2
	DefaultAPIPort     = 8080
	DefaultChannelID   = "default"
)

// Config holds all capture configuration
type Config struct {
	// Single-channel mode (backwards compatible)
	Input InputConfig `yaml:"input"`

	// Multi-channel mode
	Channels []ChannelConfig `yaml:"channels"`

	API APIConfig `yaml:"api"`
	Log LogConfig `yaml:"log"`
}

// IsMultiChannel returns true if multiple channels are configured
func (c *Config) IsMultiChannel() bool {
	return len(c.Channels) > 0
}

// InputConfig configures one frame grabber and how its frames are
// delivered.
type InputConfig struct {
	Driver      string `yaml:"driver"`       // imaq, imaqdx, simulator
	Device      string `yaml:"device"`       // interface or camera name, e.g. img0, cam0
	RingBuffers int    `yaml:"ring_buffers"` // driver ring slots
	AvoidCopy   bool   `yaml:"avoid_copy"`   // hand out ring memory when possible
	Signed      bool   `yaml:"signed"`       // device delivers two's complement samples
	RowMultiple int    `yaml:"row_multiple"` // delivered row alignment in bytes
	// Format overrides the pixel format derived from the device depth.
	Format        string        `yaml:"format"`
	FrameInterval time.Duration `yaml:"frame_interval"`
	// MaxFrameSize caps copy buffers in bytes; 0 means no limit.
	MaxFrameSize int `yaml:"max_frame_size"`

	Simulator simulator.Config `yaml:"simulator"`
	IMAQdx    imaqdx.Options   `yaml:"imaqdx"`
}

// ChannelConfig holds per-channel configuration
type ChannelConfig struct {
	ID          string `yaml:"id"`
	InputConfig `yaml:",inline"`
}

// APIConfig configures the introspection API
type APIConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Host    string `yaml:"host"`
}

// IsEnabled reports whether the API should be served. It defaults to on.
func (a APIConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // spec, e.g. "info,engine=debug"
	Format string `yaml:"format"` // text, json or auto
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration, expanding environment variables
// and applying defaults.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.API.Port == 0 {
		cfg.API.Port = DefaultAPIPort
	}

	cfg.Input.ApplyDefaults(InputConfig{})
	seen := make(map[string]bool)
	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		if ch.ID == "" {
			return nil, fmt.Errorf("channel %d: missing id", i)
		}
		if seen[ch.ID] {
			return nil, fmt.Errorf("channel %s: duplicate id", ch.ID)
		}
		seen[ch.ID] = true
		ch.ApplyDefaults(cfg.Input)
	}

	for _, ch := range cfg.ChannelConfigs() {
		if err := ch.Validate(); err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.ID, err)
		}
	}
	return &cfg, nil
}

// ChannelConfigs returns the configured channels, or the single top-level
// input as channel "default".
func (c *Config) ChannelConfigs() []ChannelConfig {
	if c.IsMultiChannel() {
		return c.Channels
	}
	return []ChannelConfig{{ID: DefaultChannelID, InputConfig: c.Input}}
}

// ApplyDefaults fills unset fields from base and then from the built-in
// defaults.
func (in *InputConfig) ApplyDefaults(base InputConfig) {
	if in.Driver == "" {
		in.Driver = base.Driver
		if in.Driver == "" {
			in.Driver = DefaultDriver
		}
	}
	// Device names and ring defaults differ per driver, so they are only
	// inherited from an input using the same driver.
	sameDriver := base.Driver == "" || base.Driver == in.Driver
	if in.Device == "" {
		if sameDriver {
			in.Device = base.Device
		}
		if in.Device == "" {
			in.Device = defaultDevice(in.Driver)
		}
	}
	if in.RingBuffers == 0 {
		if sameDriver {
			in.RingBuffers = base.RingBuffers
		}
		if in.RingBuffers == 0 {
			in.RingBuffers = defaultRingBuffers(in.Driver)
		}
	}
	if in.RowMultiple == 0 {
		in.RowMultiple = base.RowMultiple
		if in.RowMultiple == 0 {
			in.RowMultiple = format.DefaultRowMultiple
		}
	}
	if in.FrameInterval == 0 {
		in.FrameInterval = base.FrameInterval
		if in.FrameInterval == 0 {
			in.FrameInterval = acquire.DefaultFrameInterval
		}
	}
	if in.Format == "" {
		in.Format = base.Format
	}
	if in.MaxFrameSize == 0 {
		in.MaxFrameSize = base.MaxFrameSize
	}
	if in.IMAQdx.Attributes == "" && !in.IMAQdx.BayerAsGray {
		in.IMAQdx = base.IMAQdx
	}
	if in.Simulator.Width == 0 && in.Simulator.Height == 0 {
		in.Simulator = base.Simulator
		if in.Simulator.Width == 0 && in.Simulator.Height == 0 {
			in.Simulator = simulator.DefaultConfig()
		}
	}
}

func defaultDevice(driver string) string {
	if driver == "imaqdx" {
		return imaqdx.DefaultCamera
	}
	return imaq.DefaultInterface
}

func defaultRingBuffers(driver string) int {
	if driver == "imaqdx" {
		return imaqdx.DefaultRingBuffers
	}
	return DefaultRingBuffers
}

// Validate checks settings that can be verified without a device.
func (in *InputConfig) Validate() error {
	if in.RingBuffers < 1 {
		return acquire.ErrInvalidRingSize
	}
	if in.RowMultiple&(in.RowMultiple-1) != 0 || in.RowMultiple < 1 {
		return fmt.Errorf("row_multiple %d is not a power of two", in.RowMultiple)
	}
	if in.Format != "" {
		if _, err := format.Parse(in.Format); err != nil {
			return err
		}
	}
	if _, err := imaqdx.ParseAttributes(in.IMAQdx.Attributes); err != nil {
		return fmt.Errorf("imaqdx: %w", err)
	}
	if in.FrameInterval < 0 {
		return fmt.Errorf("negative frame_interval %s", in.FrameInterval)
	}
	return nil
}
