package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "keepalive/pkg/logx"

	_ "modernc.org/sqlite"
)

// schemaV1 creates the kv and audit tables. Bump schemaVersion and add a
// step to upgrade when the layout changes.
//
//go:embed migrations.sql
var schemaV1 string

const (
	schemaVersion = 1

	defaultBusyTimeout = time.Second
	auditKeep          = 5000
	auditPruneEvery    = 500
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	appends atomic.Uint64
}

// sqliteDSN builds a modernc.org/sqlite DSN that applies the pragmas on
// every new connection.
func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(FULL)")
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	// One connection serializes writers.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s := &sqliteStore{db: db, log: log}
	if err := s.upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Debug("sqlite store ready", logx.String("path", path), logx.Int("schema", schemaVersion))
	return s, nil
}

func (s *sqliteStore) upgrade(ctx context.Context) error {
	var have int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&have); err != nil {
		return err
	}
	if have > schemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", have, schemaVersion)
	}
	if have == schemaVersion {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetUint(ctx context.Context, key string) (uint32, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, ErrDisabled
	}
	var v int64
	switch err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read %s: %w", key, err)
	}
	if v < 0 || v > int64(^uint32(0)) {
		return 0, false, fmt.Errorf("read %s: %d does not fit in uint32", key, v)
	}
	return uint32(v), true, nil
}

func (s *sqliteStore) PutUint(ctx context.Context, key string, v uint32) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	const upsert = `INSERT INTO kv(key, value, updated_at) VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, upsert, key, int64(v), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	const insert = `INSERT INTO audit(at, chat_id, update_id, command, ok, reply, instance)
VALUES(?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, insert,
		e.At.UTC().Format(time.RFC3339Nano), e.ChatID, e.UpdateID, e.Command, e.OK,
		optional(e.Reply), optional(e.Instance))
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	if s.appends.Add(1)%auditPruneEvery == 0 {
		s.pruneAudit(ctx)
	}
	return nil
}

// pruneAudit keeps the newest auditKeep rows.
func (s *sqliteStore) pruneAudit(ctx context.Context) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit WHERE id <= (SELECT id FROM audit ORDER BY id DESC LIMIT 1 OFFSET ?)`, auditKeep)
	if err != nil {
		s.log.Warn("audit prune failed", logx.Err(err))
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Debug("audit pruned", logx.Int64("rows", n))
	}
}

// optional stores blank strings as NULL.
func optional(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
