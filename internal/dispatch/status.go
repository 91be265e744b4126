package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// StatusReport renders the /status reply. The digest task sends the same text.
func (x *Dispatcher) StatusReport(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("KeepAlive agent running\n")

	if x.d.Link != nil {
		info := x.d.Link.Info(ctx)
		state := "down"
		if info.Connected {
			state = "connected"
		}
		network := info.Network
		if network == "" {
			network = info.Interface
		}
		fmt.Fprintf(&b, "Network: %s (%s)\n", orDash(network), state)
		fmt.Fprintf(&b, "IP: %s\n", orDash(info.Address))
		if info.HasSignal {
			fmt.Fprintf(&b, "RSSI: %d dBm\n", info.SignalDBm)
		}
	}

	s := x.d.Settings
	fmt.Fprintf(&b, "Auto-ping every: %d min\n", s.PingMinutes())
	fmt.Fprintf(&b, "Check Telegram every: %d sec\n", s.CheckSeconds())

	now := x.d.Now()
	fmt.Fprintf(&b, "Uptime: %d min\n", int64(x.d.Uptime()/time.Minute))

	if x.d.Memory != nil {
		if free, err := x.d.Memory.Available(ctx); err == nil {
			fmt.Fprintf(&b, "Free memory: %s\n", humanize.IBytes(free))
		}
	}

	if x.d.Pinger != nil {
		last := x.d.Pinger.Last()
		switch {
		case last.At.IsZero():
			b.WriteString("Last ping: never\n")
		case last.OK:
			fmt.Fprintf(&b, "Last ping: ok %s\n", humanize.RelTime(last.At, now, "ago", "from now"))
		default:
			fmt.Fprintf(&b, "Last ping: failed %s\n", humanize.RelTime(last.At, now, "ago", "from now"))
		}
	}

	if x.d.Instance != "" {
		fmt.Fprintf(&b, "Instance: %s\n", x.d.Instance)
	}
	return strings.TrimRight(b.String(), "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
