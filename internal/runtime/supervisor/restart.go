package supervisor

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	logx "keepalive/pkg/logx"
)

const (
	defaultMinBackoff = 250 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second

	// A run that lasted this long resets the backoff.
	healthyRun = 30 * time.Second
)

// RestartOption configures GoRestart.
type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max time.Duration
	limit    int // 0 means unlimited

	cur time.Duration
}

// WithRestartBackoff sets the backoff window between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts gives up after n restarts. The first run does not count.
func WithMaxRestarts(n int) RestartOption {
	return func(p *restartPolicy) { p.limit = max(0, n) }
}

// next returns the wait before the following attempt, with up to 20% jitter.
func (p *restartPolicy) next(ran time.Duration) time.Duration {
	if p.cur == 0 || ran >= healthyRun {
		p.cur = p.min
	}
	wait := p.cur
	if j := int64(wait / 5); j > 0 {
		wait += time.Duration(rand.Int64N(j + 1))
	}
	p.cur = min(p.cur*2, p.max)
	return wait
}

// GoRestart runs fn again after every error or panic until ctx ends or fn
// returns nil. When the restart limit is reached the last error is reported.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := &restartPolicy{min: defaultMinBackoff, max: defaultMaxBackoff}
	for _, o := range opts {
		o(p)
	}
	p.max = max(p.max, p.min)

	s.Go(name, func(ctx context.Context) error {
		log := s.log.With(logx.String("task", name))
		for restarts := 0; ; restarts++ {
			started := time.Now()
			err := s.call(log, fn)
			if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if p.limit > 0 && restarts >= p.limit {
				log.Error("task gave up", logx.Int("restarts", restarts), logx.Err(err))
				return err
			}

			wait := p.next(time.Since(started))
			log.Warn("task restarting", logx.Duration("backoff", wait), logx.Err(err))
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
	})
}
