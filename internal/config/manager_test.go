package config

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestManagerLoadAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))

	if m.Get() != nil {
		t.Fatal("snapshot before Load should be nil")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed snapshot")
	}
}

func TestManagerSubscribePublish(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	next := &Config{}
	m.publish(next)

	select {
	case got := <-ch:
		if got != next {
			t.Fatal("subscriber received the wrong snapshot")
		}
	default:
		t.Fatal("subscriber missed the publish")
	}

	m.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatal("channel should be closed after Unsubscribe")
	}
	// Publishing with no subscribers is a no-op, not a panic.
	m.publish(next)
}

func TestManagerSlowSubscriberGetsLatest(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second) // buffer full: drop oldest, deliver newest

	if got := <-ch; got != second {
		t.Fatal("slow subscriber should receive the latest snapshot")
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher time to register before touching the file.
	time.Sleep(100 * time.Millisecond)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	updated := strings.Replace(validYAML, `level: "debug"`, `level: "warn"`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "warn" {
			t.Fatalf("reloaded level = %q, want warn", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	// An invalid rewrite is rejected; the committed snapshot stays intact.
	if err := os.WriteFile(path, []byte("telegram: [broken\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	if got := m.Get(); got == nil || got.Logging.Level != "warn" {
		t.Fatal("invalid reload must keep the previous snapshot")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop on context cancel")
	}
}
