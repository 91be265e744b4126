package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Setenv(EnvChatID, "")
	path := writeFile(t, "config.json", `{"telegram":{"token":"1:a","chat_id":7}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()
	// Let the watcher register before editing.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"telegram":{"token":"1:a","chat_id":7},"probe":{"kind":`), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * reloadDebounce)
	if err := os.WriteFile(path, []byte(`{"telegram":{"token":"1:a","chat_id":9}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-sub:
		if cfg.Telegram.ChatID != 9 {
			t.Fatalf("published chat_id=%d, want 9", cfg.Telegram.ChatID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload published")
	}
	if got := m.Get().Telegram.ChatID; got != 9 {
		t.Fatalf("Get().ChatID=%d, want 9", got)
	}
}

func TestReloadSkipsUnchanged(t *testing.T) {
	path := writeFile(t, "config.json", `{"telegram":{"token":"1:a","chat_id":7}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	m.reload()
	select {
	case <-sub:
		t.Fatal("unchanged file should not publish")
	default:
	}
}
