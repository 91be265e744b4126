package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	logx "keepalive/pkg/logx"
)

// Environment variables that override the file, so secrets can stay out of it.
const (
	EnvToken  = "KEEPALIVE_TELEGRAM_TOKEN"
	EnvChatID = "KEEPALIVE_TELEGRAM_CHAT_ID"
)

// Manager loads one config file, keeps the committed copy and fans out
// reloads to subscribers.
type Manager struct {
	path     string
	log      logx.Logger
	validate func(cfg *Config) error

	mu      sync.RWMutex
	current *Config
	digest  uint64 // of current; 0 when unknown

	subsMu sync.Mutex
	subs   []chan *Config
}

func NewManager(path string) *Manager {
	return &Manager{path: path, validate: Validate}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator sets the check a config must pass before Load or a reload
// commits it.
func (m *Manager) SetValidator(fn func(cfg *Config) error) { m.validate = fn }

// Parse decodes the file strictly (unknown keys and trailing data are
// errors) and applies the environment overrides. Nothing is committed.
func (m *Manager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, format, err := toJSON(m.path, raw)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeStrict(jb)
	if err != nil {
		return nil, fmt.Errorf("%s config: %w", format, err)
	}
	if err := overrideFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeStrict(jb []byte) (*Config, error) {
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	switch err := dec.Decode(&struct{}{}); {
	case errors.Is(err, io.EOF):
		return &cfg, nil
	case err == nil:
		return nil, errors.New("trailing data after config document")
	default:
		return nil, err
	}
}

func overrideFromEnv(cfg *Config) error {
	if tok := strings.TrimSpace(os.Getenv(EnvToken)); tok != "" {
		cfg.Telegram.Token = tok
	}
	raw := strings.TrimSpace(os.Getenv(EnvChatID))
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid chat id %q: %w", EnvChatID, raw, err)
	}
	cfg.Telegram.ChatID = id
	return nil
}

// Load parses, validates and commits the file.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := m.check(cfg); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) check(cfg *Config) error {
	if m.validate == nil {
		return nil
	}
	return m.validate(cfg)
}

// Commit makes cfg the current config without validating it.
func (m *Manager) Commit(cfg *Config) {
	d := digestOf(cfg)
	m.mu.Lock()
	m.current, m.digest = cfg, d
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) sameAsCurrent(d uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return d != 0 && d == m.digest
}

// digestOf hashes the JSON form of cfg. Editors often fire several events
// for one save; equal digests mean nothing changed.
func digestOf(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
