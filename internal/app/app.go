// Package app wires the agent together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"keepalive/internal/channel"
	"keepalive/internal/config"
	"keepalive/internal/dispatch"
	"keepalive/internal/health"
	"keepalive/internal/link"
	"keepalive/internal/probe"
	"keepalive/internal/runtime/supervisor"
	"keepalive/internal/scheduler"
	"keepalive/internal/settings"
	"keepalive/internal/storage"
	"keepalive/internal/transport"
	"keepalive/internal/transport/telegram"
	logx "keepalive/pkg/logx"
	"keepalive/pkg/systemd"
)

// OnlineMessage is sent to the operator chat once the first link check passes.
const OnlineMessage = "KeepAlive agent online ✅ (intervals loaded from storage)"

// ExitRestartCode is the process exit code that asks the service manager for a restart.
const ExitRestartCode = 75

type App struct {
	instance string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	client *telegram.Client
	chat   transport.Chat
	units  *systemd.Manager // nil when D-Bus is unavailable or not needed

	live     *settings.Settings
	guard    *link.Guard
	pinger   *probe.Pinger
	watchdog *health.Watchdog
	disp     *dispatch.Dispatcher
	loop     *scheduler.Loop

	updates  chan func()
	exitCode int
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validateMapped)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The chat client exists before the logging service (it is the chat
	// sink's sender), so it logs through a console logger of its own.
	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := telegram.New(tcfg, logx.NewConsole(cfg.Logging.Level).With(logx.Tag("telegram")))
	if err != nil {
		return nil, err
	}
	chat := transport.Chat{Client: client, ID: cfg.Telegram.ChatID}

	logSvc, root := logx.New(mapLogConfig(cfg), chat)
	a := &App{
		instance: uuid.NewString(),
		cfgm:     cfgm,
		log:      root.With(logx.Tag("app")),
		logs:     logSvc,
		client:   client,
		chat:     chat,
		updates:  make(chan func(), 4),
	}
	a.log.Info("starting", logx.String("config", cfgm.Path()), logx.String("instance", a.instance))
	cfgm.SetLogger(root.With(logx.Tag("config")))

	if err := a.build(ctx, cfg, root); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

// build constructs every component in boot order: storage, settings,
// service manager, link, probe, health, dispatcher, channel, scheduler.
func (a *App) build(ctx context.Context, cfg *config.Config, root logx.Logger) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	store, err := storage.Open(sc, root.With(logx.Tag("storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	setStore := settings.NewStore(store, root.With(logx.Tag("settings")))
	loaded := setStore.Load(ctx)
	a.live = &loaded

	if needsUnits(cfg) {
		m, err := systemd.NewManager(ctx)
		if err != nil {
			a.log.Warn("systemd unavailable", logx.Err(err))
		} else {
			a.units = m
		}
	}

	var linkUnits link.UnitRestarter
	var healthUnits health.UnitRestarter
	if a.units != nil {
		linkUnits, healthUnits = a.units, a.units
	}
	lcfg := mapLinkConfig(cfg)
	lcfg.ReconnectUnit = systemd.UnitName(lcfg.ReconnectUnit)
	timings, err := mapLinkTimings(cfg)
	if err != nil {
		return err
	}
	linkLog := root.With(logx.Tag("link"))
	a.guard = link.NewGuard(link.NewNetLink(lcfg, linkUnits, linkLog), timings.connect, timings.poll, linkLog)

	prober, err := buildProber(cfg)
	if err != nil {
		return err
	}
	a.pinger = probe.NewPinger(prober, cfg.Probe.ManualPerMinute, root.With(logx.Tag("ping")))

	minFree, err := mapMinFree(cfg)
	if err != nil {
		return err
	}
	healthLog := root.With(logx.Tag("health"))
	mem := health.NewMemInfo()
	a.watchdog = health.NewWatchdog(mem, minFree, healthLog)
	restart, err := health.NewRestartSignal(cfg.Health.Restart, systemd.UnitName(cfg.Health.Unit), healthUnits, healthLog)
	if err != nil {
		return err
	}
	if er, ok := restart.(health.ExitRestart); ok {
		// Exit after a clean Stop instead of from inside the loop.
		er.Code = ExitRestartCode
		er.Exit = a.requestExit
		restart = er
	}

	clock := scheduler.NewClock()
	a.disp = dispatch.New(dispatch.Deps{
		Settings: a.live,
		Store:    setStore,
		Pinger:   a.pinger,
		Link:     a.guard,
		Memory:   mem,
		Audit:    store,
		Instance: a.instance,
		Uptime:   clock.Uptime,
	}, root.With(logx.Tag("cmd")))

	params, err := mapChannelParams(cfg)
	if err != nil {
		return err
	}
	poller := channel.NewPoller(a.client, a.disp, cfg.Telegram.ChatID, params, root.With(logx.Tag("channel")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	a.loop = scheduler.New(schedCfg, scheduler.Deps{
		Settings: a.live,
		Clock:    clock,
		Guard:    a.guard,
		Pinger:   a.pinger,
		Poller:   poller,
		Watchdog: a.watchdog,
		Restart:  restart,
		Digest:   a.sendDigest,
		Notify:   systemd.NewNotifier(),
		Updates:  a.updates,
	}, root.With(logx.Tag("loop")))

	digest, err := mapDigest(cfg)
	if err != nil {
		return err
	}
	a.loop.SetDigest(digest)
	return nil
}

func needsUnits(cfg *config.Config) bool {
	return strings.TrimSpace(cfg.Link.ReconnectUnit) != "" ||
		strings.EqualFold(strings.TrimSpace(cfg.Health.Restart), "systemd")
}

// Instance is the per-boot id reported by /status.
func (a *App) Instance() string { return a.instance }

// ExitCode is the code main should exit with after Run returned
// scheduler.ErrRestartRequested.
func (a *App) ExitCode() int {
	if a.exitCode != 0 {
		return a.exitCode
	}
	return ExitRestartCode
}

func (a *App) requestExit(code int) { a.exitCode = code }

// Run performs the boot handshake and then runs the control loop on the
// calling goroutine until ctx is done or a restart is requested.
func (a *App) Run(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.Tag("sup"))))

	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.forwardReloads(c, sub)
		return nil
	})

	a.boot(a.sup.Context())
	return a.loop.Run(a.sup.Context())
}

// boot announces the agent once the link is up. Failures are logged only.
func (a *App) boot(ctx context.Context) {
	if a.guard.Ensure(ctx) != link.Connected {
		a.log.Warn("link unreachable at boot; the loop keeps retrying")
		return
	}
	if err := a.chat.SendText(ctx, OnlineMessage); err != nil {
		a.log.Warn("online message failed", logx.Err(err))
	}
	if err := a.client.UpdateMenuCommands(ctx, a.disp.Commands()); err != nil {
		a.log.Warn("menu update failed", logx.Err(err))
	}
}

func (a *App) sendDigest(ctx context.Context) error {
	return a.chat.SendText(ctx, a.disp.StatusReport(ctx))
}

// Stop cancels background goroutines and releases every resource, each step
// bounded so one stuck component cannot stall shutdown.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	// Run has returned by now, so the loop counters are stable.
	fields := []logx.Field{logx.String("reason", string(reason))}
	if a.loop != nil {
		fields = append(fields, logx.Uint64("ticks", a.loop.Ticks()))
	}
	a.log.Info("stopping", fields...)
	if a.sup != nil {
		a.sup.Cancel()
		a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
		if n := a.sup.Active(); n > 0 {
			a.log.Warn("goroutines still running after stop", logx.Int64("active", n))
		}
	}
	a.closeResources()
	return nil
}

func (a *App) closeResources() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.units != nil {
		_ = a.units.Close()
		a.units = nil
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}

// step runs one shutdown step with an upper bound that never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
