package storage

import (
	"errors"
	"time"
)

// ErrDisabled is returned by a store that has been closed.
var ErrDisabled = errors.New("storage disabled")

// Config selects a backend. Driver is "file", "sqlite" or the volatile
// "memory"; there is no implicit default. Path is required for file and sqlite.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite; 0 means 1s
}

// AuditEntry is one handled operator command.
type AuditEntry struct {
	At       time.Time `json:"at"`
	ChatID   int64     `json:"chat_id"`
	UpdateID int64     `json:"update_id"`
	Command  string    `json:"command"`
	OK       bool      `json:"ok"`
	Reply    string    `json:"reply,omitempty"`
	Instance string    `json:"instance,omitempty"`
}
