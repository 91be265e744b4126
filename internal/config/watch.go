package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "keepalive/pkg/logx"
)

const reloadDebounce = 250 * time.Millisecond

var errWatcherClosed = errors.New("config watcher closed")

// Watch reloads the file after it changes until ctx is done. It watches the
// parent directory so editors that replace the file are still seen. A broken
// watcher is returned as an error; the caller decides whether to restart.
func (m *Manager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", name))

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-debounce.C:
			m.reload()
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if ev.Op&relevant != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				debounce.Reset(reloadDebounce)
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			m.log.Warn("config watch error", logx.Err(werr))
			// Events may have been lost.
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				debounce.Reset(reloadDebounce)
			}
		}
	}
}

// reload parses and validates the file and, if it differs from the current
// config, commits and publishes it. Bad files leave the current config in place.
func (m *Manager) reload() {
	log := m.log.With(logx.String("path", m.path))
	cfg, err := m.Parse()
	if err != nil {
		log.Warn("config reload: parse failed", logx.Err(err))
		return
	}
	d := digestOf(cfg)
	if m.sameAsCurrent(d) {
		log.Debug("config reload: unchanged")
		return
	}
	if err := m.check(cfg); err != nil {
		log.Warn("config reload: rejected", logx.Err(err))
		return
	}
	m.Commit(cfg)
	m.publish(cfg)
	log.Info("config reloaded", logx.String("digest", fmt.Sprintf("%016x", d)))
}
