package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the default delay for debouncing file system events.
const DebounceDelay = 100 * time.Millisecond

// Subscriber receives the new configuration after a successful reload.
// Implementations must be safe for concurrent use.
type Subscriber interface {
	OnConfigChanged(cfg *Config)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(cfg *Config)

// OnConfigChanged calls f(cfg).
func (f SubscriberFunc) OnConfigChanged(cfg *Config) { f(cfg) }

// Watcher reloads a configuration file when it changes on disk and notifies
// subscribers. The parent directory is watched rather than the file so that
// editors that save by rename are handled. A reload that fails to parse or
// validate is logged and the previous configuration stays in effect.
type Watcher struct {
	mu          sync.RWMutex
	path        string
	watcher     *fsnotify.Watcher
	subscribers []Subscriber
	current     *Config

	debounceDelay time.Duration
	debounceTimer *time.Timer
	debounceMu    sync.Mutex

	logger *slog.Logger

	done    chan struct{}
	stopped chan struct{}
}

// NewWatcher creates a watcher for path. initial is the configuration
// currently in effect. Call Start to begin watching and Close when done.
func NewWatcher(path string, initial *Config, logger *slog.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(absPath)); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		path:          absPath,
		watcher:       fw,
		current:       initial,
		debounceDelay: DebounceDelay,
		logger:        logger,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}, nil
}

// SetDebounceDelay sets the debounce delay for batching rapid changes.
// Must be called before Start.
func (w *Watcher) SetDebounceDelay(d time.Duration) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	w.debounceDelay = d
}

// Subscribe registers a subscriber for future reloads.
func (w *Watcher) Subscribe(sub Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, sub)
}

// Current returns the configuration currently in effect.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins the event processing loop.
func (w *Watcher) Start() {
	go w.eventLoop()
}

// Close stops the watcher and releases resources.
// After Close returns, no more reloads will be delivered.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
	return err
}

func (w *Watcher) eventLoop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("Config watcher error", "error", err)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := Load(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("Config reload failed, keeping previous configuration",
				"path", w.path, "error", err)
		}
		return
	}

	w.mu.Lock()
	w.current = cfg
	subs := make([]Subscriber, len(w.subscribers))
	copy(subs, w.subscribers)
	w.mu.Unlock()

	if w.logger != nil {
		w.logger.Info("Configuration reloaded", "path", w.path, "subscribers", len(subs))
	}

	for _, sub := range subs {
		sub.OnConfigChanged(cfg)
	}
}
