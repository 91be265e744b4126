// Package dispatch maps operator commands to replies and setting changes.
package dispatch

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"keepalive/internal/link"
	"keepalive/internal/probe"
	"keepalive/internal/settings"
	"keepalive/internal/storage"
	"keepalive/internal/transport"
	logx "keepalive/pkg/logx"
)

// Replies.
const (
	ReplyPingSent        = "Ping sent ✅"
	ReplyPingFailed      = "⚠️ Ping failed"
	ReplyPingLimited     = "⏳ Too many pings, try again in a minute."
	ReplyPingRangeError  = "⚠️ Invalid interval. Use 1–60 minutes."
	ReplyCheckRangeError = "⚠️ Invalid interval. Use 5–60 seconds."
	ReplyUnknown         = "Unknown command. Type /help"

	ReplyHelp = "🤖 Commands:\n" +
		"/ping - Send immediate keep-alive\n" +
		"/status - Show link & timing info\n" +
		"/setping <minutes> - Set auto-ping interval\n" +
		"/setcheck <seconds> - Set Telegram check interval\n" +
		"/help - Show this list"
)

// Pinger is the keep-alive probe as seen by /ping and /status.
type Pinger interface {
	PingNow(ctx context.Context) (probe.Result, error)
	Last() probe.Result
}

// LinkReporter describes the uplink for /status.
type LinkReporter interface {
	Info(ctx context.Context) link.Info
}

// MemoryReporter reports available memory for /status.
type MemoryReporter interface {
	Available(ctx context.Context) (uint64, error)
}

// Auditor records dispatched commands.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Deps struct {
	// Settings is the live copy shared with the scheduler. Both run on the
	// scheduler goroutine.
	Settings *settings.Settings
	Store    *settings.Store

	Pinger Pinger
	Link   LinkReporter
	Memory MemoryReporter
	Audit  Auditor

	Instance string
	Started  time.Time
	// Uptime reports time since boot (scheduler.MonotonicClock.Uptime).
	// When nil it is derived from Started and Now.
	Uptime func() time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Dispatcher struct {
	d   Deps
	log logx.Logger
}

func New(d Deps, log logx.Logger) *Dispatcher {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Started.IsZero() {
		d.Started = d.Now()
	}
	if d.Uptime == nil {
		now, started := d.Now, d.Started
		d.Uptime = func() time.Duration { return now().Sub(started) }
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{d: d, log: log}
}

// Commands is the command menu published to the chat client.
func (x *Dispatcher) Commands() []transport.BotCommand {
	return []transport.BotCommand{
		{Command: "ping", Description: "Send immediate keep-alive"},
		{Command: "status", Description: "Show link & timing info"},
		{Command: "setping", Description: "Set auto-ping interval (minutes, 1-60)"},
		{Command: "setcheck", Description: "Set Telegram check interval (seconds, 5-60)"},
		{Command: "help", Description: "Show the command list"},
	}
}

// Dispatch handles one command and returns its reply. It never fails:
// validation errors become replies and persistence errors are only logged.
//
// Matching is case-sensitive. Argument-less commands followed by anything
// are unknown; /setping and /setcheck take exactly one number.
func (x *Dispatcher) Dispatch(ctx context.Context, cmd transport.Command) string {
	name, args := parse(cmd.Text)

	var reply string
	ok := true
	switch {
	case name == "/setping":
		reply, ok = x.setPing(ctx, args)
	case name == "/setcheck":
		reply, ok = x.setCheck(ctx, args)
	case len(args) > 0:
		reply, ok = ReplyUnknown, false
	case name == "/ping":
		reply, ok = x.ping(ctx)
	case name == "/status":
		reply = x.StatusReport(ctx)
	case name == "/help", name == "/start":
		reply = ReplyHelp
	default:
		reply, ok = ReplyUnknown, false
	}

	x.audit(ctx, cmd, name, ok, reply)
	return reply
}

// parse splits "/cmd@bot arg ..." into "/cmd" and its arguments. The
// "@bot" suffix is how Telegram addresses a bot in group chats.
func parse(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return name, fields[1:]
}

// intervalArg returns the single integer argument, or false.
func intervalArg(args []string) (int, bool) {
	if len(args) != 1 {
		return 0, false
	}
	n, err := strconv.Atoi(args[0])
	return n, err == nil
}

func (x *Dispatcher) ping(ctx context.Context) (string, bool) {
	res, err := x.d.Pinger.PingNow(ctx)
	if errors.Is(err, probe.ErrRateLimited) {
		return ReplyPingLimited, false
	}
	if err != nil || !res.OK {
		return ReplyPingFailed, false
	}
	return ReplyPingSent, true
}

func (x *Dispatcher) setPing(ctx context.Context, args []string) (string, bool) {
	n, valid := intervalArg(args)
	if !valid || n < 1 || n > 60 {
		return ReplyPingRangeError, false
	}
	x.d.Settings.PingInterval = uint32(n) * 60000
	x.persist(ctx)
	x.log.Info("auto-ping interval updated", logx.Int("minutes", n))
	return "✅ Auto-ping interval set to " + strconv.Itoa(n) + " minutes (saved).", true
}

func (x *Dispatcher) setCheck(ctx context.Context, args []string) (string, bool) {
	n, valid := intervalArg(args)
	if !valid || n < 5 || n > 60 {
		return ReplyCheckRangeError, false
	}
	x.d.Settings.CheckInterval = uint32(n) * 1000
	x.persist(ctx)
	x.log.Info("check interval updated", logx.Int("seconds", n))
	return "✅ Telegram check interval set to " + strconv.Itoa(n) + " seconds (saved).", true
}

func (x *Dispatcher) persist(ctx context.Context) {
	if x.d.Store == nil {
		return
	}
	// Save logs its own failures; the in-memory value stays authoritative.
	_ = x.d.Store.Save(ctx, *x.d.Settings)
}

func (x *Dispatcher) audit(ctx context.Context, cmd transport.Command, name string, ok bool, reply string) {
	if x.d.Audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:       x.d.Now().UTC(),
		ChatID:   cmd.ChatID,
		UpdateID: cmd.ID,
		Command:  name,
		OK:       ok,
		Reply:    firstLine(reply),
		Instance: x.d.Instance,
	}
	if err := x.d.Audit.AppendAudit(ctx, e); err != nil && !errors.Is(err, storage.ErrDisabled) {
		x.log.Warn("audit append failed", logx.Err(err))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
