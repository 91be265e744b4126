package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"keepalive/internal/health"
	"keepalive/internal/link"
	"keepalive/internal/probe"
	"keepalive/internal/settings"
	logx "keepalive/pkg/logx"
)

type manualClock struct{ now uint32 }

func (c *manualClock) NowMillis() uint32 { return c.now }

type recorder struct{ calls []string }

func (r *recorder) add(name string) { r.calls = append(r.calls, name) }

type fakeGuard struct {
	r      *recorder
	result link.Result
}

func (g *fakeGuard) Ensure(context.Context) link.Result {
	g.r.add("connectivity")
	return g.result
}

type fakePinger struct{ r *recorder }

func (p fakePinger) Ping(context.Context) probe.Result {
	p.r.add("ping")
	return probe.Result{OK: true}
}

type fakePoller struct {
	r   *recorder
	err error
}

func (p fakePoller) Poll(context.Context) error {
	p.r.add("channel")
	return p.err
}

type fakeWatchdog struct {
	r      *recorder
	status health.Status
	free   uint64
}

func (w *fakeWatchdog) Check(context.Context) health.Status {
	w.r.add("health")
	return w.status
}

func (w *fakeWatchdog) LastFree() uint64 { return w.free }

type fakeNotifier struct {
	interval time.Duration
	beats    int
	statuses []string
}

func (n *fakeNotifier) Ready() error    { return nil }
func (n *fakeNotifier) Stopping() error { return nil }
func (n *fakeNotifier) Watchdog() error { n.beats++; return nil }
func (n *fakeNotifier) Status(s string) error {
	n.statuses = append(n.statuses, s)
	return nil
}
func (n *fakeNotifier) WatchdogInterval() time.Duration { return n.interval }

type fakeRestart struct{ reasons []string }

func (f *fakeRestart) Restart(_ context.Context, reason string) error {
	f.reasons = append(f.reasons, reason)
	return nil
}

type harness struct {
	loop     *Loop
	rec      *recorder
	clock    *manualClock
	guard    *fakeGuard
	watchdog *fakeWatchdog
	restart  *fakeRestart
	live     *settings.Settings
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	rec := &recorder{}
	live := settings.Defaults()
	h := &harness{
		rec:      rec,
		clock:    &manualClock{},
		guard:    &fakeGuard{r: rec, result: link.Connected},
		watchdog: &fakeWatchdog{r: rec},
		restart:  &fakeRestart{},
		live:     &live,
	}
	h.loop = New(cfg, Deps{
		Settings: h.live,
		Clock:    h.clock,
		Guard:    h.guard,
		Pinger:   fakePinger{r: rec},
		Poller:   fakePoller{r: rec, err: errors.New("telegram down")},
		Watchdog: h.watchdog,
		Restart:  h.restart,
	}, logx.Nop())
	return h
}

func TestTaskClockDueAcrossWraparound(t *testing.T) {
	tests := []struct {
		name string
		c    TaskClock
		now  uint32
		due  bool
	}{
		{"not yet", TaskClock{LastFire: 1000, Interval: 500}, 1499, false},
		{"exactly", TaskClock{LastFire: 1000, Interval: 500}, 1500, true},
		{"wrapped due", TaskClock{LastFire: 0xFFFFFF00, Interval: 0x200}, 0x100, true},
		{"wrapped not due", TaskClock{LastFire: 0xFFFFFF00, Interval: 0x201}, 0x100, false},
		{"zero interval", TaskClock{LastFire: 7}, 7, true},
	}
	for _, tt := range tests {
		if got := tt.c.Due(tt.now); got != tt.due {
			t.Fatalf("%s: Due(%#x) = %v, want %v", tt.name, tt.now, got, tt.due)
		}
	}
}

func TestTickRunsTasksInOrder(t *testing.T) {
	h := newHarness(t, Config{})
	// Everything due: past both intervals and the health interval.
	if err := h.loop.Tick(context.Background(), settings.MaxPingInterval); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	want := []string{"connectivity", "ping", "channel", "health"}
	if len(h.rec.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", h.rec.calls, want)
	}
	for i := range want {
		if h.rec.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", h.rec.calls, want)
		}
	}
}

func TestTickOnlyDueTasks(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	// 10s in: only the command channel is due.
	_ = h.loop.Tick(ctx, 10000)
	if got := h.rec.calls; len(got) != 2 || got[1] != "channel" {
		t.Fatalf("calls = %v", got)
	}

	// 5s later nothing but connectivity.
	h.rec.calls = nil
	_ = h.loop.Tick(ctx, 15000)
	if got := h.rec.calls; len(got) != 1 {
		t.Fatalf("calls = %v", got)
	}
}

func TestTickSkipsNetworkTasksWhileUnreachable(t *testing.T) {
	h := newHarness(t, Config{HealthInterval: time.Hour})
	ctx := context.Background()
	h.guard.result = link.Unreachable

	_ = h.loop.Tick(ctx, settings.DefaultPingInterval)
	if got := h.rec.calls; len(got) != 1 || got[0] != "connectivity" {
		t.Fatalf("offline calls = %v", got)
	}

	// Back online a moment later: the skipped tasks run without waiting a full interval.
	h.guard.result = link.Connected
	h.rec.calls = nil
	_ = h.loop.Tick(ctx, settings.DefaultPingInterval+500)
	if len(h.rec.calls) != 3 || h.rec.calls[1] != "ping" || h.rec.calls[2] != "channel" {
		t.Fatalf("calls = %v, want [connectivity ping channel]", h.rec.calls)
	}
}

func TestTickReadsLiveIntervals(t *testing.T) {
	h := newHarness(t, Config{HealthInterval: time.Hour})
	ctx := context.Background()

	h.live.PingInterval = settings.MinPingInterval
	_ = h.loop.Tick(ctx, settings.MinPingInterval)
	if !contains(h.rec.calls, "ping") {
		t.Fatalf("ping should be due after 1 minute: %v", h.rec.calls)
	}
}

func TestRunStopsAfterCriticalHealth(t *testing.T) {
	h := newHarness(t, Config{Quantum: time.Millisecond, HealthInterval: time.Second})
	h.watchdog.status = health.Critical
	h.clock.now = 5000

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.loop.Run(ctx)
	if !errors.Is(err, ErrRestartRequested) {
		t.Fatalf("Run = %v, want ErrRestartRequested", err)
	}
	if len(h.restart.reasons) != 1 {
		t.Fatalf("restart called %d times, want 1", len(h.restart.reasons))
	}
	ticks := h.loop.Ticks()
	time.Sleep(10 * time.Millisecond)
	if h.loop.Ticks() != ticks || ticks != 1 {
		t.Fatalf("ticks = %d after restart, want 1 and no more", h.loop.Ticks())
	}
}

func TestRunReturnsNilOnCancel(t *testing.T) {
	h := newHarness(t, Config{Quantum: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan func(), 1)
	h.loop.d.Updates = updates
	applied := make(chan struct{})
	updates <- func() { close(applied) }

	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()
	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("reload closure was not applied")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTaskPanicDoesNotAbortTick(t *testing.T) {
	h := newHarness(t, Config{HealthInterval: time.Hour})
	h.loop.d.Pinger = panicPinger{}
	_ = h.loop.Tick(context.Background(), settings.MaxPingInterval)
	if !contains(h.rec.calls, "channel") {
		t.Fatalf("channel should still run after a ping panic: %v", h.rec.calls)
	}
}

type panicPinger struct{}

func (panicPinger) Ping(context.Context) probe.Result { panic("boom") }

func TestDigest(t *testing.T) {
	h := newHarness(t, Config{HealthInterval: time.Hour})
	wall := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	h.loop.d.Now = func() time.Time { return wall }
	sent := 0
	h.loop.d.Digest = func(context.Context) error { sent++; return nil }

	sched, err := ParseDigest("1h", "")
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	h.loop.SetDigest(sched)
	ctx := context.Background()

	_ = h.loop.Tick(ctx, 1)
	if sent != 0 {
		t.Fatal("digest sent before it was due")
	}
	wall = wall.Add(time.Hour)
	_ = h.loop.Tick(ctx, 2)
	_ = h.loop.Tick(ctx, 3)
	if sent != 1 {
		t.Fatalf("digest sent %d times, want 1", sent)
	}

	h.guard.result = link.Unreachable
	wall = wall.Add(2 * time.Hour)
	_ = h.loop.Tick(ctx, 4)
	if sent != 1 {
		t.Fatal("digest must wait for the link")
	}
}

func TestParseDigest(t *testing.T) {
	tests := []struct {
		raw   string
		ok    bool
		empty bool
	}{
		{"", true, true},
		{"0 9 * * *", true, false},
		{"@every 6h", true, false},
		{"@daily", true, false},
		{"06:00", true, false},
		{"02:75", false, false},
		{"00:00", false, false},
		{"90m", true, false},
		{"30s", false, false},
		{"whenever", false, false},
	}
	for _, tt := range tests {
		s, err := ParseDigest(tt.raw, "UTC")
		if (err == nil) != tt.ok {
			t.Fatalf("ParseDigest(%q) err = %v", tt.raw, err)
		}
		if tt.ok && (s == nil) != tt.empty {
			t.Fatalf("ParseDigest(%q) schedule nil = %v", tt.raw, s == nil)
		}
	}
	if _, err := ParseDigest("@daily", "Nowhere/City"); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestParseDigestHHMMInterval(t *testing.T) {
	s, err := ParseDigest("02:30", "UTC")
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := s.Next(from).Sub(from); got != 150*time.Minute {
		t.Fatalf("interval = %s, want 2h30m", got)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestHeartbeatAtHalfWatchdogInterval(t *testing.T) {
	h := newHarness(t, Config{})
	n := &fakeNotifier{interval: 10 * time.Second}
	h.loop.d.Notify = n

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, step := range []struct {
		at    time.Duration
		beats int
	}{
		{0, 1},
		{4 * time.Second, 1},
		{5 * time.Second, 2},
		{9 * time.Second, 2},
		{10 * time.Second, 3},
	} {
		h.loop.heartbeat(t0.Add(step.at))
		if n.beats != step.beats {
			t.Fatalf("at +%s: beats = %d, want %d", step.at, n.beats, step.beats)
		}
	}

	off := &fakeNotifier{}
	h.loop.d.Notify = off
	h.loop.heartbeat(t0.Add(time.Hour))
	if off.beats != 0 {
		t.Fatal("no watchdog pings expected when WatchdogSec is unset")
	}
}

func TestReportPublishesStatusOnChange(t *testing.T) {
	h := newHarness(t, Config{HealthInterval: time.Hour})
	n := &fakeNotifier{}
	h.loop.d.Notify = n
	h.watchdog.free = 48 << 20

	if err := h.loop.Tick(context.Background(), 0); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	h.loop.report()
	h.loop.report()
	if len(n.statuses) != 1 {
		t.Fatalf("statuses = %v, want one", n.statuses)
	}
	if want := "link up; ping every 5 min; check every 10 s; free 48 MiB"; n.statuses[0] != want {
		t.Fatalf("status = %q, want %q", n.statuses[0], want)
	}

	h.live.PingInterval = 17 * 60000
	h.guard.result = link.Unreachable
	if err := h.loop.Tick(context.Background(), 1); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	h.loop.report()
	if len(n.statuses) != 2 || !strings.HasPrefix(n.statuses[1], "link unreachable; ping every 17 min") {
		t.Fatalf("statuses = %v", n.statuses)
	}
}
