package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "keepalive/pkg/logx"
)

// filePaths derives both files from storage.path by replacing its extension:
// /var/lib/keepalive/state.json gives state.settings.json and state.audit.jsonl.
type filePaths struct {
	settings string
	audit    string
}

func derivePaths(path string) filePaths {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	return filePaths{settings: stem + ".settings.json", audit: stem + ".audit.jsonl"}
}

// snapshot is the on-disk settings document.
type snapshot struct {
	Version int               `json:"version"`
	Updated time.Time         `json:"updated"`
	Values  map[string]uint32 `json:"values"`
}

// fileStore keeps settings in a JSON snapshot that is rewritten whole on
// every put, plus an append-only JSON Lines audit file.
type fileStore struct {
	log   logx.Logger
	paths filePaths

	mu    sync.Mutex
	audit *os.File // nil once closed
	vals  map[string]uint32
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	paths := derivePaths(path)
	if err := os.MkdirAll(filepath.Dir(paths.settings), 0o755); err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	audit, err := os.OpenFile(paths.audit, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	vals, err := readSnapshot(paths.settings)
	switch {
	case errors.Is(err, os.ErrNotExist):
		vals = map[string]uint32{}
	case err != nil:
		// Settings fall back to defaults.
		log.Warn("settings snapshot unreadable, starting empty", logx.String("path", paths.settings), logx.Err(err))
		vals = map[string]uint32{}
	}
	return &fileStore{log: log, paths: paths, audit: audit, vals: vals}, nil
}

func (s *fileStore) GetUint(_ context.Context, key string) (uint32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return 0, false, ErrDisabled
	}
	v, ok := s.vals[key]
	return v, ok, nil
}

func (s *fileStore) PutUint(_ context.Context, key string, v uint32) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return ErrDisabled
	}

	next := maps.Clone(s.vals)
	next[key] = v
	if err := writeSnapshot(s.paths.settings, next); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	s.vals = next
	return nil
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return ErrDisabled
	}
	_, err = s.audit.Write(append(line, '\n'))
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return nil
	}
	err := s.audit.Close()
	s.audit = nil
	return err
}

func readSnapshot(path string) (map[string]uint32, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	if snap.Values == nil {
		snap.Values = map[string]uint32{}
	}
	return snap.Values, nil
}

// writeSnapshot writes to a temp file, syncs, then renames over path, so
// readers see either the old or the new document.
func writeSnapshot(path string, vals map[string]uint32) error {
	b, err := json.MarshalIndent(snapshot{Version: 1, Updated: time.Now().UTC(), Values: vals}, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
