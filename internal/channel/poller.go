package channel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"keepalive/internal/transport"
	logx "keepalive/pkg/logx"
)

// Dispatcher turns one command into a reply. An empty reply sends nothing.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd transport.Command) string
}

// Poller drives the state machine. It is owned by the scheduler goroutine
// and is not safe for concurrent use.
type Poller struct {
	client transport.Client
	disp   Dispatcher
	chatID int64
	params Params
	log    logx.Logger

	state State
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPoller(client transport.Client, disp Dispatcher, chatID int64, p Params, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{
		client: client,
		disp:   disp,
		chatID: chatID,
		params: p.withDefaults(),
		log:    log,
		sleep:  sleepCtx,
	}
}

func (p *Poller) Offset() Offset { return p.state.Offset }

func (p *Poller) Mode() Mode { return p.state.Mode }

// Poll runs one poll to completion. A fetch error ends the poll early and
// leaves the offset where it was, so the next poll retries the same range.
func (p *Poller) Poll(ctx context.Context) error {
	var (
		batch []transport.Command
		maxID int64
	)

	st, eff := Step(p.state, Begin{}, p.params)
	p.transition(st)

	for {
		switch eff.Kind {
		case Idle:
			return nil

		case Fetch:
			if eff.Delay > 0 {
				if err := p.sleep(ctx, eff.Delay); err != nil {
					return err
				}
			}
			cmds, err := p.client.GetUpdates(ctx, eff.Offset, 0)
			if err != nil {
				p.log.Warn("fetch failed", logx.Int64("offset", eff.Offset), logx.Err(err))
				return fmt.Errorf("fetch from %d: %w", eff.Offset, err)
			}
			sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].ID < cmds[j].ID })
			batch = cmds
			maxID = 0
			if n := len(cmds); n > 0 {
				maxID = cmds[n-1].ID
			}
			st, eff = Step(p.state, Fetched{Count: len(cmds), MaxID: maxID}, p.params)

		case Dispatch:
			for _, cmd := range batch {
				p.handle(ctx, cmd)
			}
			st, eff = Step(p.state, Dispatched{MaxID: maxID}, p.params)
			batch = nil
		}
		p.transition(st)
	}
}

func (p *Poller) transition(next State) {
	prev := p.state
	p.state = next
	if prev.Mode != next.Mode && next.Mode == Resyncing {
		p.log.Info("resync",
			logx.Int64("from_offset", prev.LastProcessedID),
			logx.Int("empty_streak", prev.EmptyPollStreak),
		)
	}
}

func (p *Poller) handle(ctx context.Context, cmd transport.Command) {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		p.log.Debug("skipping non-text update", logx.Int64("update_id", cmd.ID))
		return
	}
	if p.chatID != 0 && cmd.ChatID != p.chatID {
		p.log.Warn("ignoring command from foreign chat",
			logx.Int64("update_id", cmd.ID),
			logx.Int64("chat_id", cmd.ChatID),
		)
		return
	}
	p.log.Info("command received", logx.Int64("update_id", cmd.ID), logx.String("text", text))

	reply := p.disp.Dispatch(ctx, cmd)
	if reply == "" {
		return
	}
	if err := p.client.SendText(ctx, cmd.ChatID, reply); err != nil {
		p.log.Warn("reply failed", logx.Int64("update_id", cmd.ID), logx.Err(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
