// Package settings holds the two runtime-tunable intervals and their persistence.
package settings

import (
	"context"
	"fmt"

	"keepalive/internal/storage"
	logx "keepalive/pkg/logx"
)

// Persisted keys.
const (
	KeyPingInterval  = "pingInt"
	KeyCheckInterval = "checkInt"
)

// Bounds, in milliseconds.
const (
	DefaultPingInterval  uint32 = 5 * 60 * 1000
	DefaultCheckInterval uint32 = 10 * 1000

	MinPingInterval  uint32 = 1 * 60 * 1000
	MaxPingInterval  uint32 = 60 * 60 * 1000
	MinCheckInterval uint32 = 5 * 1000
	MaxCheckInterval uint32 = 60 * 1000
)

// Settings are the operator-tunable intervals, in milliseconds.
type Settings struct {
	PingInterval  uint32
	CheckInterval uint32
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{PingInterval: DefaultPingInterval, CheckInterval: DefaultCheckInterval}
}

// PingMinutes is the ping interval in whole minutes.
func (s Settings) PingMinutes() uint32 { return s.PingInterval / 60000 }

// CheckSeconds is the command-check interval in whole seconds.
func (s Settings) CheckSeconds() uint32 { return s.CheckInterval / 1000 }

// Validate reports whether both intervals are inside their bounds.
func (s Settings) Validate() error {
	if s.PingInterval < MinPingInterval || s.PingInterval > MaxPingInterval {
		return fmt.Errorf("ping interval %dms outside [%d, %d]", s.PingInterval, MinPingInterval, MaxPingInterval)
	}
	if s.CheckInterval < MinCheckInterval || s.CheckInterval > MaxCheckInterval {
		return fmt.Errorf("check interval %dms outside [%d, %d]", s.CheckInterval, MinCheckInterval, MaxCheckInterval)
	}
	return nil
}

// Store reads and writes Settings through a storage.Store.
type Store struct {
	kv  storage.Store
	log logx.Logger
}

func NewStore(kv storage.Store, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{kv: kv, log: log}
}

// Load never fails: a missing key, a read error or an out-of-range value all
// fall back to that field's default.
func (s *Store) Load(ctx context.Context) Settings {
	out := Settings{
		PingInterval:  s.get(ctx, KeyPingInterval, DefaultPingInterval, MinPingInterval, MaxPingInterval),
		CheckInterval: s.get(ctx, KeyCheckInterval, DefaultCheckInterval, MinCheckInterval, MaxCheckInterval),
	}
	s.log.Info("loaded",
		logx.Uint32("ping_min", out.PingMinutes()),
		logx.Uint32("check_sec", out.CheckSeconds()),
	)
	return out
}

func (s *Store) get(ctx context.Context, key string, def, lo, hi uint32) uint32 {
	if s.kv == nil {
		return def
	}
	v, ok, err := s.kv.GetUint(ctx, key)
	if err != nil {
		s.log.Warn("read failed; using default", logx.String("key", key), logx.Err(err))
		return def
	}
	if !ok {
		return def
	}
	if v < lo || v > hi {
		s.log.Warn("persisted value out of range; using default", logx.String("key", key), logx.Uint32("value", v))
		return def
	}
	return v
}

// Save writes both keys. It is best-effort: the first failure is logged and
// returned, but the caller's in-memory settings stay authoritative.
func (s *Store) Save(ctx context.Context, st Settings) error {
	if s.kv == nil {
		return storage.ErrDisabled
	}
	var firstErr error
	for _, kv := range []struct {
		key string
		val uint32
	}{
		{KeyPingInterval, st.PingInterval},
		{KeyCheckInterval, st.CheckInterval},
	} {
		if err := s.kv.PutUint(ctx, kv.key, kv.val); err != nil {
			s.log.Error("save failed", logx.String("key", kv.key), logx.Err(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("save %s: %w", kv.key, err)
			}
		}
	}
	if firstErr == nil {
		s.log.Info("saved",
			logx.Uint32("ping_min", st.PingMinutes()),
			logx.Uint32("check_sec", st.CheckSeconds()),
		)
	}
	return firstErr
}
