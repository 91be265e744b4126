package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"keepalive/internal/channel"
	"keepalive/internal/config"
	"keepalive/internal/health"
	"keepalive/internal/link"
	"keepalive/internal/probe"
	"keepalive/internal/scheduler"
	"keepalive/internal/transport/telegram"
	logx "keepalive/pkg/logx"
)

// ---- Config mapping ----
//
// Each map* function turns one config section into its component's config.
// They double as hot-reload validation: a reload is rejected if any of them fails.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.request_timeout", cfg.Telegram.RequestTimeout, 8*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:          strings.TrimSpace(cfg.Telegram.Token),
		APIURL:         cfg.Telegram.APIURL,
		RequestTimeout: timeout,
	}, nil
}

func mapChannelParams(cfg *config.Config) (channel.Params, error) {
	pause, err := config.ParseDurationOrDefault("channel.resync_pause", cfg.Channel.ResyncPause, channel.DefaultResyncPause)
	if err != nil {
		return channel.Params{}, err
	}
	return channel.Params{
		ResyncAfterEmpty: cfg.Channel.ResyncAfterEmpty,
		StaleOffset:      cfg.Channel.StaleOffset,
		ResyncPause:      pause,
		MaxBatches:       cfg.Channel.MaxBatches,
	}, nil
}

type linkTimings struct {
	connect time.Duration
	poll    time.Duration
}

func mapLinkTimings(cfg *config.Config) (linkTimings, error) {
	connect, err := config.ParseDurationOrDefault("link.connect_timeout", cfg.Link.ConnectTimeout, link.DefaultConnectTimeout)
	if err != nil {
		return linkTimings{}, err
	}
	poll, err := config.ParseDurationOrDefault("link.poll_interval", cfg.Link.PollInterval, link.DefaultPollInterval)
	if err != nil {
		return linkTimings{}, err
	}
	if poll > connect {
		return linkTimings{}, fmt.Errorf("link.poll_interval (%s) exceeds link.connect_timeout (%s)", poll, connect)
	}
	return linkTimings{connect: connect, poll: poll}, nil
}

func mapLinkConfig(cfg *config.Config) link.NetConfig {
	return link.NetConfig{
		Interface:     strings.TrimSpace(cfg.Link.Interface),
		Network:       strings.TrimSpace(cfg.Link.Network),
		ReconnectUnit: strings.TrimSpace(cfg.Link.ReconnectUnit),
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	quantum, err := config.ParseDurationOrDefault("scheduler.quantum", cfg.Scheduler.Quantum, scheduler.DefaultQuantum)
	if err != nil {
		return scheduler.Config{}, err
	}
	healthEvery, err := config.ParseDurationOrDefault("health.interval", cfg.Health.Interval, scheduler.DefaultHealthInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Quantum: quantum, HealthInterval: healthEvery}, nil
}

// buildProber maps probe.kind to a Prober.
func buildProber(cfg *config.Config) (probe.Prober, error) {
	timeout, err := config.ParseDurationOrDefault("probe.timeout", cfg.Probe.Timeout, probe.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Probe.Kind)) {
	case "", "http":
		return probe.NewHTTPProber(strings.TrimSpace(cfg.Probe.URL), timeout), nil
	case "speedtest":
		return probe.NewSpeedtestProber(), nil
	default:
		return nil, fmt.Errorf("unknown probe.kind: %s", cfg.Probe.Kind)
	}
}

func mapMinFree(cfg *config.Config) (uint64, error) {
	raw := strings.TrimSpace(cfg.Health.MinFree)
	if raw == "" {
		raw = health.DefaultMinFree
	}
	n, err := health.ParseThreshold(raw)
	if err != nil {
		return 0, fmt.Errorf("health.min_free: %w", err)
	}
	return n, nil
}

func mapDigest(cfg *config.Config) (cron.Schedule, error) {
	return scheduler.ParseDigest(cfg.Digest.Schedule, cfg.Digest.Timezone)
}

// validateMapped runs after config.Validate and rejects values only a
// component mapping can judge.
func validateMapped(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapChannelParams(cfg); err != nil {
		return err
	}
	if _, err := mapLinkTimings(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := buildProber(cfg); err != nil {
		return err
	}
	if _, err := mapMinFree(cfg); err != nil {
		return err
	}
	if _, err := mapDigest(cfg); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Health.Restart)) {
	case "", "exit", "exec":
	case "systemd":
		if strings.TrimSpace(cfg.Health.Unit) == "" {
			return fmt.Errorf("health.unit is required when health.restart=systemd")
		}
	default:
		return fmt.Errorf("unknown health.restart: %s", cfg.Health.Restart)
	}
	return nil
}

// CheckConfig loads and validates path the way NewApp does, without starting anything.
func CheckConfig(path string) error {
	m := config.NewManager(path)
	m.SetValidator(validateMapped)
	_, err := m.Load()
	return err
}
