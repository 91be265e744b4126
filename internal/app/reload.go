package app

import (
	"context"
	"strings"

	"keepalive/internal/config"
	logx "keepalive/pkg/logx"
)

// forwardReloads turns published configs into closures for the control loop.
// Components owned by the loop are only ever mutated on its goroutine.
func (a *App) forwardReloads(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			closed := false
		drain:
			for {
				select {
				case newer, more := <-sub:
					if !more {
						closed = true
						break drain
					}
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg != nil {
				a.apply(newCfg, &lastApplied)
			}
			if closed {
				return
			}
		}
	}
}

func (a *App) apply(newCfg *config.Config, lastApplied **config.Config) {
	sections, attrs := config.SummarizeConfigChange(*lastApplied, newCfg)
	*lastApplied = newCfg
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if pending := config.RequiresRestart(sections); len(pending) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(pending, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.enqueue(a.applyConfig(newCfg, fields))
}

// enqueue hands fn to the loop, replacing an older pending update.
func (a *App) enqueue(fn func()) {
	select {
	case a.updates <- fn:
		return
	default:
	}
	select {
	case <-a.updates:
	default:
	}
	select {
	case a.updates <- fn:
	default:
		a.log.Warn("config update dropped (loop busy)")
	}
}

// applyConfig returns the loop-side half of a reload. Every field below is
// live-tunable; restart-only sections are reported by forwardReloads.
func (a *App) applyConfig(cfg *config.Config, fields []logx.Field) func() {
	return func() {
		a.logs.Apply(mapLogConfig(cfg))

		if pr, err := buildProber(cfg); err != nil {
			a.log.Warn("invalid probe config; keeping previous", logx.Err(err))
		} else {
			a.pinger.SetProber(pr)
		}
		a.pinger.SetManualRate(cfg.Probe.ManualPerMinute)

		if n, err := mapMinFree(cfg); err != nil {
			a.log.Warn("invalid health config; keeping previous", logx.Err(err))
		} else {
			a.watchdog.SetMinFree(n)
		}
		if sc, err := mapSchedulerConfig(cfg); err == nil {
			a.loop.SetHealthInterval(sc.HealthInterval)
		}
		if d, err := mapDigest(cfg); err != nil {
			a.log.Warn("invalid digest config; keeping previous", logx.Err(err))
		} else {
			a.loop.SetDigest(d)
		}

		a.log.Info("config reloaded", fields...)
	}
}
