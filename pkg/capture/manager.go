package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/video-system/go-frame-grabber/pkg/api"
)

// Manager orchestrates multiple capture channels
type Manager struct {
	cfg      *Config
	log      *slog.Logger
	channels map[string]*Channel
	order    []string

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a channel for every configured input.
func NewManager(cfg *Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:      cfg,
		log:      logger.With("component", "manager"),
		channels: make(map[string]*Channel),
	}

	for _, chCfg := range cfg.ChannelConfigs() {
		if _, dup := m.channels[chCfg.ID]; dup {
			return nil, fmt.Errorf("create channel %s: duplicate id", chCfg.ID)
		}
		m.channels[chCfg.ID] = NewChannel(chCfg, logger)
		m.order = append(m.order, chCfg.ID)
		m.log.Info("channel configured", "channel", chCfg.ID, "driver", chCfg.Driver, "device", chCfg.Device)
	}
	return m, nil
}

// Start starts all channels. A channel that fails to start is logged and
// skipped; Start fails only when no channel could be started.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.log.Info("starting channels", "count", len(m.channels))

	var (
		started int
		first   error
	)
	for _, id := range m.order {
		if err := m.channels[id].Start(m.ctx); err != nil {
			m.log.Warn("failed to start channel", "channel", id, "error", err)
			if first == nil {
				first = err
			}
			continue
		}
		started++
	}
	if started == 0 && first != nil {
		return first
	}
	return nil
}

// Stop stops all channels
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	for _, id := range m.order {
		m.channels[id].Stop()
	}
	m.log.Info("all channels stopped")
}

// Wait blocks until the context passed to Start is cancelled
func (m *Manager) Wait() {
	m.mu.RLock()
	ctx := m.ctx
	m.mu.RUnlock()
	if ctx == nil {
		return
	}
	<-ctx.Done()
}

// Channel returns a channel by ID.
func (m *Manager) Channel(id string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	return ch, ok
}

// GetChannel returns a channel by ID (implements api.ChannelManager)
func (m *Manager) GetChannel(id string) (api.Channel, bool) {
	ch, ok := m.Channel(id)
	if !ok {
		return nil, false
	}
	return ch, true
}

// ListChannels returns all channel IDs, sorted
func (m *Manager) ListChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetAllStatuses returns status for all channels (implements api.ChannelManager)
func (m *Manager) GetAllStatuses() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]interface{})
	for id, ch := range m.channels {
		statuses[id] = ch.Status()
	}
	return statuses
}

// GetDefaultChannel returns the first configured channel
func (m *Manager) GetDefaultChannel() (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.order) == 0 {
		return nil, false
	}
	return m.channels[m.order[0]], true
}

// ChannelCount returns the number of configured channels
func (m *Manager) ChannelCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// IsCapturing returns true if any channel is currently delivering frames
func (m *Manager) IsCapturing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.channels {
		if ch.IsCapturing() {
			return true
		}
	}
	return false
}

// GetError returns the first error from any channel, or nil if no errors
func (m *Manager) GetError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order {
		if err := m.channels[id].GetError(); err != nil {
			return fmt.Errorf("channel %s: %w", id, err)
		}
	}
	return nil
}
