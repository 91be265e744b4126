// Package systemd wraps the two systemd touch points of the agent: unit
// restarts over D-Bus and sd_notify readiness/watchdog messages.
package systemd

import (
	"errors"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

var ErrUnsupported = errors.New("systemd: unsupported OS (linux only)")

// UnitName appends ".service" when the name carries no unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	for _, suf := range []string{".service", ".socket", ".target", ".timer", ".mount", ".path"} {
		if strings.HasSuffix(name, suf) {
			return name
		}
	}
	return name + ".service"
}

// Notifier sends sd_notify state. When the process was not started by
// systemd (no NOTIFY_SOCKET) every call is a no-op.
type Notifier struct {
	watchdog time.Duration
}

func NewNotifier() *Notifier {
	d, _ := daemon.SdWatchdogEnabled(false)
	return &Notifier{watchdog: d}
}

// WatchdogInterval is WatchdogSec of the unit, or 0 when disabled.
func (n *Notifier) WatchdogInterval() time.Duration { return n.watchdog }

func (n *Notifier) Ready() error    { return n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() error { return n.send(daemon.SdNotifyStopping) }

// Watchdog pings the service manager; it does nothing unless WatchdogSec is set.
func (n *Notifier) Watchdog() error {
	if n.watchdog <= 0 {
		return nil
	}
	return n.send(daemon.SdNotifyWatchdog)
}

// Status sets the free-form STATUS= line shown by systemctl status.
func (n *Notifier) Status(s string) error {
	return n.send("STATUS=" + strings.ReplaceAll(s, "\n", " "))
}

func (n *Notifier) send(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}
