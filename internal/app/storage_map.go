package app

import (
	"fmt"
	"strings"
	"time"

	"keepalive/internal/config"
	"keepalive/internal/storage"
)

// DefaultStatePath is where settings live when the config names no storage.
const DefaultStatePath = "/var/lib/keepalive/state.json"

// mapStorageConfig picks the settings backend. Without a storage section the
// file driver at DefaultStatePath is used so intervals survive a restart;
// the volatile memory driver must be asked for by name.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "":
		if path == "" {
			path = DefaultStatePath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "memory", "none":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 1*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
