package input

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/video-system/go-frame-grabber/pkg/acquire"
	"github.com/video-system/go-frame-grabber/pkg/imaq"
	"github.com/video-system/go-frame-grabber/pkg/imaqdx"
	"github.com/video-system/go-frame-grabber/pkg/simulator"
)

// Source is a pull-model frame source. Frames are requested one at a time
// by a single consumer.
type Source interface {
	RequestFrame(ctx context.Context) (*acquire.Frame, error)
	Geometry() acquire.Geometry
	DropCount() uint64
	Latency() (min, max time.Duration, err error)
	Close() error
}

var _ Source = (*acquire.Engine)(nil)

// DriverOptions is what a driver factory receives from configuration.
type DriverOptions struct {
	Simulator simulator.Config
	IMAQdx    imaqdx.Options
	Logger    *slog.Logger
}

// DriverFactory creates a frame-grabber driver.
type DriverFactory func(opts DriverOptions) (acquire.Driver, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]DriverFactory)
)

// Register makes a driver available by name. Registering a name twice
// replaces the earlier factory.
func Register(name string, factory DriverFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get returns the factory registered under name.
func Get(name string) (DriverFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDriver creates the driver registered under name.
func NewDriver(name string, opts DriverOptions) (acquire.Driver, error) {
	factory, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown driver %q (available: %v)", name, Drivers())
	}
	return factory(opts)
}

func init() {
	Register("simulator", func(opts DriverOptions) (acquire.Driver, error) {
		cfg := opts.Simulator
		cfg.Logger = opts.Logger
		return simulator.New(cfg)
	})
	Register("imaq", func(opts DriverOptions) (acquire.Driver, error) {
		d, err := imaq.New(imaq.Options{Logger: opts.Logger})
		if err != nil {
			return nil, err
		}
		return d, nil
	})
	Register("imaqdx", func(opts DriverOptions) (acquire.Driver, error) {
		cfg := opts.IMAQdx
		cfg.Logger = opts.Logger
		d, err := imaqdx.New(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}
