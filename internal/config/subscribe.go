package config

import (
	"slices"

	logx "keepalive/pkg/logx"
)

// Subscribe returns a channel that receives every committed reload.
// Only the newest configs are kept when the reader falls behind.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(1, buffer))
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Publishing holds the same lock, so a
// closed channel is never sent on.
func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if i := slices.Index(m.subs, ch); i >= 0 {
		m.subs = slices.Delete(m.subs, i, i+1)
		close(ch)
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if offerNewest(ch, cfg) {
			continue
		}
		m.log.Debug("config update dropped, subscriber full", logx.Int("cap", cap(ch)))
	}
}

// offerNewest sends cfg, evicting the oldest queued value if ch is full.
func offerNewest(ch chan *Config, cfg *Config) bool {
	for range 2 {
		select {
		case ch <- cfg:
			return true
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
	return false
}
