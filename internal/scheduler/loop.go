// Package scheduler runs the agent's single control loop.
//
// Each tick runs, in order: pending reload, connectivity guard, keep-alive
// ping, command channel poll, health check, status digest. Tasks run
// sequentially on the loop goroutine and share state without locks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"keepalive/internal/health"
	"keepalive/internal/link"
	"keepalive/internal/probe"
	"keepalive/internal/settings"
	logx "keepalive/pkg/logx"
)

// ErrRestartRequested is returned by Run after the health check asked for a restart.
var ErrRestartRequested = errors.New("scheduler: restart requested")

type Guard interface {
	Ensure(ctx context.Context) link.Result
}

type Pinger interface {
	Ping(ctx context.Context) probe.Result
}

type Poller interface {
	Poll(ctx context.Context) error
}

type Watchdog interface {
	Check(ctx context.Context) health.Status
	// LastFree is the latest memory sample, 0 before the first check.
	LastFree() uint64
}

// Notifier receives service-manager notifications (systemd.Notifier).
type Notifier interface {
	Ready() error
	Watchdog() error
	Stopping() error
	Status(s string) error
	// WatchdogInterval is the keep-alive deadline, 0 when disabled.
	WatchdogInterval() time.Duration
}

const (
	DefaultQuantum        = 500 * time.Millisecond
	DefaultHealthInterval = 30 * time.Second
)

type Config struct {
	Quantum        time.Duration
	HealthInterval time.Duration
}

type Deps struct {
	// Settings is the live copy; intervals are re-read every tick.
	Settings *settings.Settings
	Clock    Clock

	Guard    Guard
	Pinger   Pinger
	Poller   Poller
	Watchdog Watchdog
	Restart  health.RestartSignal

	// Digest sends the status report; nil disables the digest task.
	Digest func(ctx context.Context) error
	// Notify is optional.
	Notify Notifier
	// Updates carries reload closures; they run at the start of a tick.
	Updates <-chan func()
	// Now is the wall clock for the digest schedule; defaults to time.Now.
	Now func() time.Time
}

type Loop struct {
	cfg Config
	d   Deps
	log logx.Logger

	ping, channel, health TaskClock

	digestSched cron.Schedule
	digestNext  time.Time

	ticks      uint64
	online     bool
	lastBeat   time.Time
	lastStatus string
}

func New(cfg Config, d Deps, log logx.Logger) *Loop {
	if cfg.Quantum <= 0 {
		cfg.Quantum = DefaultQuantum
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if d.Clock == nil {
		d.Clock = NewClock()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		cfg:    cfg,
		d:      d,
		log:    log,
		health: TaskClock{Interval: uint32(cfg.HealthInterval / time.Millisecond)},
	}
}

// SetDigest replaces the digest schedule; nil disables it. Call it from the
// loop goroutine (an Updates closure) once Run has started.
func (l *Loop) SetDigest(s cron.Schedule) {
	l.digestSched = s
	l.digestNext = time.Time{}
	if s != nil {
		l.digestNext = s.Next(l.d.Now())
		l.log.Info("digest scheduled", logx.Time("next", l.digestNext))
	}
}

// SetHealthInterval changes the health check period.
func (l *Loop) SetHealthInterval(d time.Duration) {
	if d > 0 {
		l.health.Interval = uint32(d / time.Millisecond)
	}
}

// Ticks is the number of completed ticks.
func (l *Loop) Ticks() uint64 { return l.ticks }

// Run ticks until ctx is done (returns nil) or a restart was requested
// (returns ErrRestartRequested).
func (l *Loop) Run(ctx context.Context) error {
	l.notify("ready", l.d.Notify, func(n Notifier) error { return n.Ready() })
	defer l.notify("stopping", l.d.Notify, func(n Notifier) error { return n.Stopping() })
	l.log.Info("loop started", logx.Duration("quantum", l.cfg.Quantum))

	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			l.log.Info("loop stopped", logx.Uint64("ticks", l.ticks))
			return nil
		case <-t.C:
		}

		l.applyUpdate()
		if err := l.Tick(ctx, l.d.Clock.NowMillis()); err != nil {
			return err
		}
		l.heartbeat(time.Now())
		l.report()
		t.Reset(l.cfg.Quantum)
	}
}

// applyUpdate runs at most one pending reload closure.
func (l *Loop) applyUpdate() {
	if l.d.Updates == nil {
		return
	}
	select {
	case fn, ok := <-l.d.Updates:
		if ok && fn != nil {
			l.safe("reload", func() { fn() })
		}
	default:
	}
}

// Tick runs every due task once, in order.
func (l *Loop) Tick(ctx context.Context, now uint32) error {
	l.ticks++

	linkState := link.Unreachable
	l.safe("connectivity", func() { linkState = l.d.Guard.Ensure(ctx) })
	online := linkState == link.Connected
	l.online = online

	s := l.d.Settings
	l.ping.Interval = s.PingInterval
	l.channel.Interval = s.CheckInterval

	// Network tasks skipped while offline keep their slot and run on the
	// first connected tick.
	if online && l.ping.Due(now) {
		l.ping.LastFire = now
		l.safe("ping", func() { l.d.Pinger.Ping(ctx) })
	}

	if online && l.channel.Due(now) {
		l.channel.LastFire = now
		l.safe("channel", func() {
			if err := l.d.Poller.Poll(ctx); err != nil && ctx.Err() == nil {
				l.log.Warn("command poll failed", logx.Err(err))
			}
		})
	}

	if l.health.Due(now) {
		l.health.LastFire = now
		status := health.OK
		l.safe("health", func() { status = l.d.Watchdog.Check(ctx) })
		if status == health.Critical {
			l.restart(ctx)
			return ErrRestartRequested
		}
	}

	if online && l.digestSched != nil && l.d.Digest != nil {
		wall := l.d.Now()
		if !wall.Before(l.digestNext) {
			l.digestNext = l.digestSched.Next(wall)
			l.safe("digest", func() {
				if err := l.d.Digest(ctx); err != nil {
					l.log.Warn("digest send failed", logx.Err(err))
				}
			})
		}
	}
	return nil
}

func (l *Loop) restart(ctx context.Context) {
	l.log.Error("memory critical; restarting")
	if l.d.Restart == nil {
		return
	}
	l.safe("restart", func() {
		if err := l.d.Restart.Restart(ctx, "low memory"); err != nil {
			l.log.Error("restart signal failed", logx.Err(err))
		}
	})
}

// safe runs one task, turning a panic into a log line.
func (l *Loop) safe(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("task panic", logx.String("task", name), logx.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

// heartbeat pings the service watchdog at half its deadline.
func (l *Loop) heartbeat(now time.Time) {
	n := l.d.Notify
	if n == nil {
		return
	}
	every := n.WatchdogInterval() / 2
	if every <= 0 || (!l.lastBeat.IsZero() && now.Sub(l.lastBeat) < every) {
		return
	}
	l.lastBeat = now
	l.notify("watchdog", n, func(n Notifier) error { return n.Watchdog() })
}

// report publishes statusLine to the service manager when it changed.
func (l *Loop) report() {
	if l.d.Notify == nil {
		return
	}
	line := l.statusLine()
	if line == l.lastStatus {
		return
	}
	l.lastStatus = line
	l.notify("status", l.d.Notify, func(n Notifier) error { return n.Status(line) })
}

// statusLine is the one-line summary shown by "systemctl status".
func (l *Loop) statusLine() string {
	state := "link unreachable"
	if l.online {
		state = "link up"
	}
	s := l.d.Settings
	line := fmt.Sprintf("%s; ping every %d min; check every %d s", state, s.PingMinutes(), s.CheckSeconds())
	if free := l.d.Watchdog.LastFree(); free > 0 {
		line += "; free " + humanize.IBytes(free)
	}
	return line
}

func (l *Loop) notify(what string, n Notifier, fn func(Notifier) error) {
	if n == nil {
		return
	}
	if err := fn(n); err != nil {
		l.log.Debug("sd_notify failed", logx.String("state", what), logx.Err(err))
	}
}
