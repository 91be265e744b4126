package config

import (
	"strings"

	logx "keepalive/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging (never includes the bot token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	// Telegram (never log token)
	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.ChatID != newCfg.Telegram.ChatID ||
		strings.TrimSpace(oldCfg.Telegram.APIURL) != strings.TrimSpace(newCfg.Telegram.APIURL) ||
		strings.TrimSpace(oldCfg.Telegram.RequestTimeout) != strings.TrimSpace(newCfg.Telegram.RequestTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if oldCfg.Link != newCfg.Link {
		changed = append(changed, "link")
		attrs = append(attrs,
			logx.String("link.interface", newCfg.Link.Interface),
			logx.String("link.reconnect_unit", newCfg.Link.ReconnectUnit),
		)
	}

	if oldCfg.Probe != newCfg.Probe {
		changed = append(changed, "probe")
		attrs = append(attrs,
			logx.String("probe.kind", newCfg.Probe.Kind),
			logx.String("probe.url", newCfg.Probe.URL),
		)
	}

	if oldCfg.Channel != newCfg.Channel {
		changed = append(changed, "channel")
	}

	if oldCfg.Health != newCfg.Health {
		changed = append(changed, "health")
		attrs = append(attrs,
			logx.String("health.min_free", newCfg.Health.MinFree),
			logx.String("health.restart", newCfg.Health.Restart),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.quantum", newCfg.Scheduler.Quantum))
	}

	if oldCfg.Digest != newCfg.Digest {
		changed = append(changed, "digest")
		attrs = append(attrs,
			logx.String("digest.schedule", newCfg.Digest.Schedule),
			logx.String("digest.timezone", newCfg.Digest.Timezone),
		)
	}

	return changed, attrs
}

// RequiresRestart reports sections that cannot be applied live.
func RequiresRestart(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "telegram", "storage", "link", "channel", "scheduler":
			out = append(out, s)
		}
	}
	return out
}
