//go:build !linux

package systemd

import "context"

type Manager struct{}

func NewManager(ctx context.Context) (*Manager, error) { return nil, ErrUnsupported }

func (m *Manager) Close() error { return nil }

func (m *Manager) RestartUnit(ctx context.Context, unit string) error { return ErrUnsupported }

func (m *Manager) ActiveState(ctx context.Context, unit string) (string, error) {
	return "", ErrUnsupported
}
