package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// mockSubscriber implements Subscriber for testing.
type mockSubscriber struct {
	mu       sync.Mutex
	configs  []*Config
	notified chan struct{}
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{notified: make(chan struct{}, 10)}
}

func (m *mockSubscriber) OnConfigChanged(cfg *Config) {
	m.mu.Lock()
	m.configs = append(m.configs, cfg)
	m.mu.Unlock()

	select {
	case m.notified <- struct{}{}:
	default:
	}
}

func (m *mockSubscriber) Last() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.configs) == 0 {
		return nil
	}
	return m.configs[len(m.configs)-1]
}

func (m *mockSubscriber) WaitForEvent(timeout time.Duration) bool {
	select {
	case <-m.notified:
		return true
	case <-time.After(timeout):
		return false
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "log:\n  level: info\n")

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	w, err := NewWatcher(path, initial, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()
	w.SetDebounceDelay(20 * time.Millisecond)

	sub := newMockSubscriber()
	w.Subscribe(sub)
	w.Start()

	writeFile(t, path, "log:\n  level: debug\n")

	if !sub.WaitForEvent(2 * time.Second) {
		t.Fatal("Expected reload notification")
	}
	if got := sub.Last().Log.Level; got != "debug" {
		t.Errorf("reloaded Log.Level = %q, want debug", got)
	}
	if w.Current().Log.Level != "debug" {
		t.Errorf("Current() not updated")
	}
}

func TestWatcher_InvalidReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "log:\n  level: warn\n")

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	w, err := NewWatcher(path, initial, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()
	w.SetDebounceDelay(20 * time.Millisecond)

	sub := newMockSubscriber()
	w.Subscribe(sub)
	w.Start()

	writeFile(t, path, "relay:\n  handshake_timeout: 1h\n")

	if sub.WaitForEvent(300 * time.Millisecond) {
		t.Fatal("Invalid configuration should not be delivered")
	}
	if w.Current().Log.Level != "warn" {
		t.Errorf("Current() = %q, want previous configuration", w.Current().Log.Level)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "log:\n  level: info\n")

	w, err := NewWatcher(path, Default(), nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()
	w.SetDebounceDelay(20 * time.Millisecond)

	sub := newMockSubscriber()
	w.Subscribe(sub)
	w.Start()

	writeFile(t, filepath.Join(dir, "notes.txt"), "hello")

	if sub.WaitForEvent(200 * time.Millisecond) {
		t.Error("Unrelated file should not trigger a reload")
	}
}

func TestSubscriberFunc(t *testing.T) {
	var got *Config
	var sub Subscriber = SubscriberFunc(func(cfg *Config) { got = cfg })
	cfg := Default()
	sub.OnConfigChanged(cfg)
	if got != cfg {
		t.Error("SubscriberFunc did not forward the config")
	}
}
