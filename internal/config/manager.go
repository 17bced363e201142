package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is called with the previous and the freshly loaded config.
// Handlers must only pick up settings that are safe to change at runtime.
type ChangeHandler func(prev, next *Config)

// Manager holds the current configuration and reloads it when the file
// changes. An invalid edit is logged and ignored.
type Manager struct {
	path     string
	logger   *zap.Logger
	debounce time.Duration

	mu       sync.RWMutex
	current  *Config
	handlers []ChangeHandler

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	done    chan struct{}
}

// NewManager loads path once. Call Start to begin watching.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		path:     path,
		logger:   logger,
		debounce: 200 * time.Millisecond,
		current:  cfg,
	}, nil
}

// Current returns the active configuration. Treat it as read-only.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a handler for successful reloads.
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start watches the directory holding the config file. Watching the
// directory rather than the file survives editors that replace the file.
func (m *Manager) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}
	m.watcher = w
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	go m.watchLoop(ctx)
	m.logger.Info("Configuration watcher started", zap.String("path", m.path))
	return nil
}

// Stop ends watching. Safe to call when Start was never called.
func (m *Manager) Stop() error {
	if m.watcher == nil {
		return nil
	}
	close(m.stopCh)
	err := m.watcher.Close()
	<-m.done
	m.watcher = nil
	return err
}

func (m *Manager) watchLoop(ctx context.Context) {
	defer close(m.done)
	target := filepath.Clean(m.path)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(m.debounce)
			} else {
				timer.Reset(m.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			m.Reload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Configuration watcher error", zap.Error(err))
		}
	}
}

// Reload re-reads the file and notifies handlers when it is valid.
func (m *Manager) Reload() bool {
	next, err := Load(m.path)
	if err != nil {
		m.logger.Error("Configuration reload rejected", zap.String("path", m.path), zap.Error(err))
		return false
	}
	m.mu.Lock()
	prev := m.current
	m.current = next
	handlers := append([]ChangeHandler(nil), m.handlers...)
	m.mu.Unlock()

	for _, h := range handlers {
		h(prev, next)
	}
	m.logger.Info("Configuration reloaded", zap.String("path", m.path), zap.Int("handlers", len(handlers)))
	return true
}
