package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks the fields every component relies on. Component-specific
// mapping (sizes, cron specs, unit names) is validated where it is mapped.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or set %s)", EnvToken)
	}
	if cfg.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required (or set %s)", EnvChatID)
	}

	durations := []struct{ path, raw string }{
		{"telegram.request_timeout", cfg.Telegram.RequestTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"link.connect_timeout", cfg.Link.ConnectTimeout},
		{"link.poll_interval", cfg.Link.PollInterval},
		{"probe.timeout", cfg.Probe.Timeout},
		{"channel.resync_pause", cfg.Channel.ResyncPause},
		{"health.interval", cfg.Health.Interval},
		{"scheduler.quantum", cfg.Scheduler.Quantum},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if cfg.Channel.ResyncAfterEmpty < 0 {
		return fmt.Errorf("channel.resync_after_empty must be >= 0")
	}
	if cfg.Channel.StaleOffset < 0 {
		return fmt.Errorf("channel.stale_offset must be >= 0")
	}
	if cfg.Channel.MaxBatches < 0 {
		return fmt.Errorf("channel.max_batches must be >= 0")
	}
	if cfg.Probe.ManualPerMinute < 0 {
		return fmt.Errorf("probe.manual_per_minute must be >= 0")
	}
	if cfg.Logging.Chat.RatePerSec < 0 {
		return fmt.Errorf("logging.chat.rate_per_sec must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Digest.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("digest.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
