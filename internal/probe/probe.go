// Package probe sends the keep-alive traffic that stops the uplink from
// idling out.
package probe

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "keepalive/pkg/logx"
)

var ErrRateLimited = errors.New("probe: rate limited")

// Result is the outcome of one probe.
type Result struct {
	At      time.Time
	OK      bool
	Status  int // HTTP status, 0 for non-HTTP probes
	Latency time.Duration
	Target  string
	Err     error
}

// Prober performs one probe. It must honor ctx.
type Prober interface {
	Probe(ctx context.Context) Result
}

// Pinger runs the configured Prober on schedule or on operator request and
// remembers the last result for /status.
type Pinger struct {
	log logx.Logger

	mu      sync.Mutex
	prober  Prober
	limiter *rate.Limiter
	last    Result
}

const DefaultManualPerMinute = 6

func NewPinger(p Prober, manualPerMinute int, log logx.Logger) *Pinger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pinger{prober: p, limiter: newLimiter(manualPerMinute), log: log}
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = DefaultManualPerMinute
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

// SetProber swaps the probe implementation (config reload).
func (p *Pinger) SetProber(pr Prober) {
	p.mu.Lock()
	p.prober = pr
	p.mu.Unlock()
}

// SetManualRate replaces the /ping limit.
func (p *Pinger) SetManualRate(perMinute int) {
	p.mu.Lock()
	p.limiter = newLimiter(perMinute)
	p.mu.Unlock()
}

// Ping runs a scheduled probe. Failures are logged, never returned.
func (p *Pinger) Ping(ctx context.Context) Result {
	p.mu.Lock()
	pr := p.prober
	p.mu.Unlock()

	res := pr.Probe(ctx)
	if res.At.IsZero() {
		res.At = time.Now()
	}
	if res.OK {
		p.log.Info("sent", logx.String("target", res.Target), logx.Int("status", res.Status), logx.Duration("latency", res.Latency))
	} else {
		p.log.Warn("failed", logx.String("target", res.Target), logx.Int("status", res.Status), logx.Err(res.Err))
	}

	p.mu.Lock()
	p.last = res
	p.mu.Unlock()
	return res
}

// PingNow is the operator-triggered probe; it is rate limited.
func (p *Pinger) PingNow(ctx context.Context) (Result, error) {
	p.mu.Lock()
	lim := p.limiter
	p.mu.Unlock()
	if !lim.Allow() {
		return Result{}, ErrRateLimited
	}
	return p.Ping(ctx), nil
}

// Last returns the most recent result; At is zero if none ran yet.
func (p *Pinger) Last() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
