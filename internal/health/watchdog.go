// Package health watches free memory and restarts the agent when it runs low.
package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	logx "keepalive/pkg/logx"
)

type Status uint8

const (
	OK Status = iota
	Critical
)

func (s Status) String() string {
	if s == Critical {
		return "critical"
	}
	return "ok"
}

// Sampler reports available memory in bytes.
type Sampler interface {
	Available(ctx context.Context) (uint64, error)
}

// RestartSignal restarts the agent. Implementations may not return.
type RestartSignal interface {
	Restart(ctx context.Context, reason string) error
}

const DefaultMinFree = "20KB"

// ParseThreshold parses a human size ("20KB", "64 MiB").
func ParseThreshold(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = DefaultMinFree
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("health.min_free: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("health.min_free must be > 0")
	}
	return n, nil
}

type Watchdog struct {
	sampler Sampler
	minFree uint64
	log     logx.Logger

	lastFree uint64
}

func NewWatchdog(s Sampler, minFree uint64, log logx.Logger) *Watchdog {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watchdog{sampler: s, minFree: minFree, log: log}
}

// SetMinFree changes the threshold (config reload).
func (w *Watchdog) SetMinFree(n uint64) { w.minFree = n }

func (w *Watchdog) MinFree() uint64 { return w.minFree }

// Check samples memory. A failed sample is logged and reported as OK: the
// watchdog only restarts on evidence.
func (w *Watchdog) Check(ctx context.Context) Status {
	free, err := w.sampler.Available(ctx)
	if err != nil {
		w.log.Warn("memory sample failed", logx.Err(err))
		return OK
	}
	w.lastFree = free
	if free < w.minFree {
		w.log.Error("low memory",
			logx.String("free", humanize.IBytes(free)),
			logx.String("threshold", humanize.IBytes(w.minFree)),
		)
		return Critical
	}
	w.log.Debug("memory ok", logx.String("free", humanize.IBytes(free)))
	return OK
}

// LastFree is the most recent successful sample, 0 before the first one.
func (w *Watchdog) LastFree() uint64 { return w.lastFree }
