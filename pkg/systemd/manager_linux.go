//go:build linux

package systemd

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager restarts units over the system bus.
type Manager struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// NewManager connects to systemd using ctx for the initial D-Bus connection.
func NewManager(ctx context.Context) (*Manager, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Manager{conn: conn}, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}

// RestartUnit queues a restart job and waits for its result or ctx.
// Restarting the unit that runs this process never reports back; callers
// should treat a canceled ctx in that case as expected.
func (m *Manager) RestartUnit(ctx context.Context, unit string) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("systemd connection is closed")
	}

	name := UnitName(unit)
	done := make(chan string, 1)
	if _, err := conn.RestartUnitContext(ctx, name, "replace", done); err != nil {
		return fmt.Errorf("failed to restart %s: %w", name, err)
	}
	select {
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("restart %s: job %s", name, res)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveState returns the unit's ActiveState ("active", "failed", ...).
func (m *Manager) ActiveState(ctx context.Context, unit string) (string, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return "", fmt.Errorf("systemd connection is closed")
	}
	name := UnitName(unit)
	prop, err := conn.GetUnitPropertyContext(ctx, name, "ActiveState")
	if err != nil {
		return "", fmt.Errorf("failed to get status for %s: %w", name, err)
	}
	s, ok := prop.Value.Value().(string)
	if !ok {
		return "", fmt.Errorf("unexpected ActiveState type for %s", name)
	}
	return s, nil
}
