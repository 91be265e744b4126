// Package link keeps the network uplink connected.
package link

import (
	"context"
	"time"

	logx "keepalive/pkg/logx"
)

type Result uint8

const (
	Connected Result = iota
	Unreachable
)

func (r Result) String() string {
	if r == Connected {
		return "connected"
	}
	return "unreachable"
}

// Info is what /status reports about the link.
type Info struct {
	Connected bool
	Interface string
	Network   string
	Address   string
	// SignalDBm is valid only when HasSignal is set (wireless links).
	SignalDBm int
	HasSignal bool
}

// Link is the platform link layer.
type Link interface {
	Connected(ctx context.Context) bool
	// Connect starts (re)association. It should not wait for the result.
	Connect(ctx context.Context) error
	Info(ctx context.Context) Info
}

const (
	DefaultConnectTimeout = 20 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
)

// WaitUntil polls pred every interval until it returns true, timeout elapses
// or ctx is done. It reports whether pred succeeded.
func WaitUntil(ctx context.Context, timeout, interval time.Duration, pred func(context.Context) bool) bool {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if pred(ctx) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
}

// Guard is the connectivity guard run at the head of every tick.
type Guard struct {
	link     Link
	timeout  time.Duration
	interval time.Duration
	log      logx.Logger

	last Result
	seen bool
}

func NewGuard(l Link, timeout, interval time.Duration, log logx.Logger) *Guard {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Guard{link: l, timeout: timeout, interval: interval, log: log}
}

// Ensure returns Connected at once when the link is up. Otherwise it asks
// the link to reconnect and waits at most the connect timeout. It never fails.
func (g *Guard) Ensure(ctx context.Context) Result {
	if g.link.Connected(ctx) {
		return g.record(Connected)
	}

	g.log.Info("link down; connecting", logx.Duration("timeout", g.timeout))
	if err := g.link.Connect(ctx); err != nil {
		g.log.Warn("connect request failed", logx.Err(err))
	}
	if WaitUntil(ctx, g.timeout, g.interval, g.link.Connected) {
		info := g.link.Info(ctx)
		g.log.Info("link connected", logx.String("address", info.Address))
		return g.record(Connected)
	}
	g.log.Warn("link unreachable", logx.Duration("waited", g.timeout))
	return g.record(Unreachable)
}

// Info proxies the link's report.
func (g *Guard) Info(ctx context.Context) Info { return g.link.Info(ctx) }

func (g *Guard) record(r Result) Result {
	if g.seen && r != g.last {
		g.log.Info("link state changed", logx.String("from", g.last.String()), logx.String("to", r.String()))
	}
	g.last, g.seen = r, true
	return r
}
