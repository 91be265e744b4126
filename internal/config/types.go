package config

// Config is the on-disk agent configuration (JSON, YAML or TOML).
//
// Durations are Go duration strings ("500ms", "20s", "5m"); an empty string
// means "use the default".
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Link      LinkConfig      `json:"link"`
	Probe     ProbeConfig     `json:"probe"`
	Channel   ChannelConfig   `json:"channel"`
	Health    HealthConfig    `json:"health"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Digest    DigestConfig    `json:"digest"`
}

// TelegramConfig identifies the bot and the single operator chat.
//
// Token and ChatID may also come from KEEPALIVE_TELEGRAM_TOKEN and
// KEEPALIVE_TELEGRAM_CHAT_ID; the environment wins over the file.
type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// APIURL overrides the Bot API endpoint (tests, local bot API servers).
	APIURL string `json:"api_url,omitempty"`
	// RequestTimeout bounds each getUpdates/sendMessage call.
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat mirrors warnings into the operator chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the settings backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "/var/lib/keepalive/state" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// LinkConfig describes the uplink the guard keeps alive.
type LinkConfig struct {
	// Interface is the network interface to watch (e.g. "wlan0"). Empty means
	// "any non-loopback interface".
	Interface string `json:"interface"`
	// Network is the human network name reported by /status (SSID).
	Network string `json:"network"`
	// ReconnectUnit is restarted over D-Bus to re-establish the link
	// (e.g. "wpa_supplicant@wlan0.service"). Empty disables reconnect attempts.
	ReconnectUnit  string `json:"reconnect_unit,omitempty"`
	ConnectTimeout string `json:"connect_timeout,omitempty"` // default 20s
	PollInterval   string `json:"poll_interval,omitempty"`   // default 500ms
}

// ProbeConfig controls the keep-alive probe.
type ProbeConfig struct {
	// Kind is "http" (default) or "speedtest" (latency ping to the nearest speedtest server).
	Kind    string `json:"kind"`
	URL     string `json:"url"`
	Timeout string `json:"timeout,omitempty"`
	// ManualPerMinute caps operator-triggered /ping probes.
	ManualPerMinute int `json:"manual_per_minute,omitempty"`
}

// ChannelConfig tunes the command-channel resync behavior.
type ChannelConfig struct {
	ResyncAfterEmpty int    `json:"resync_after_empty,omitempty"` // default 10
	StaleOffset      int64  `json:"stale_offset,omitempty"`       // default 1000
	ResyncPause      string `json:"resync_pause,omitempty"`       // default 1s
	MaxBatches       int    `json:"max_batches,omitempty"`        // default 4
}

// HealthConfig controls the memory watchdog.
type HealthConfig struct {
	Interval string `json:"interval,omitempty"` // default 30s
	// MinFree is a human size ("20KB", "64 MiB").
	MinFree string `json:"min_free,omitempty"`
	// Restart is "systemd", "exec" or "exit" (default).
	Restart string `json:"restart,omitempty"`
	// Unit is the agent's own systemd unit, used when Restart is "systemd".
	Unit string `json:"unit,omitempty"`
}

type SchedulerConfig struct {
	// Quantum is the sleep between ticks (default 500ms).
	Quantum string `json:"quantum,omitempty"`
}

// DigestConfig schedules an unsolicited /status report.
type DigestConfig struct {
	// Schedule is a cron expression ("0 9 * * *", "@every 6h"). Empty disables the digest.
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}
