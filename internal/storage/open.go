package storage

import (
	"context"
	"errors"
	"strings"
	"sync"

	logx "keepalive/pkg/logx"
)

// Store is the persistence API used by the settings layer and the dispatcher.
//
// Every PutUint is durable on return (one key written atomically).
type Store interface {
	GetUint(ctx context.Context, key string) (v uint32, ok bool, err error)
	PutUint(ctx context.Context, key string, v uint32) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "":
		return nil, errors.New("storage driver is required")
	case "memory", "none":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// memStore keeps everything in process memory.
type memStore struct {
	mu     sync.Mutex
	vals   map[string]uint32
	audit  []AuditEntry
	closed bool
}

// NewMemory returns a volatile Store.
func NewMemory() Store {
	return &memStore{vals: map[string]uint32{}}
}

func (m *memStore) GetUint(_ context.Context, key string) (uint32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, false, ErrDisabled
	}
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *memStore) PutUint(_ context.Context, key string, v uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	m.vals[key] = v
	return nil
}

func (m *memStore) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
