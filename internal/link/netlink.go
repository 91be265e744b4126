package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	logx "keepalive/pkg/logx"
)

// UnitRestarter restarts a service unit and reads back its state
// (systemd.Manager).
type UnitRestarter interface {
	RestartUnit(ctx context.Context, unit string) error
	ActiveState(ctx context.Context, unit string) (string, error)
}

type NetConfig struct {
	// Interface to watch; empty means any non-loopback interface.
	Interface string
	// Network is the human name reported by /status (SSID).
	Network string
	// ReconnectUnit is restarted by Connect; empty makes Connect a no-op.
	ReconnectUnit string
}

// NetLink is the Linux link: an interface that is up with a usable address.
type NetLink struct {
	cfg      NetConfig
	restarts UnitRestarter
	log      logx.Logger

	interfaces   func() ([]net.Interface, error)
	addrs        func(net.Interface) ([]net.Addr, error)
	wirelessPath string
}

func NewNetLink(cfg NetConfig, restarts UnitRestarter, log logx.Logger) *NetLink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &NetLink{
		cfg:          cfg,
		restarts:     restarts,
		log:          log,
		interfaces:   net.Interfaces,
		addrs:        func(i net.Interface) ([]net.Addr, error) { return i.Addrs() },
		wirelessPath: "/proc/net/wireless",
	}
}

func (l *NetLink) Connected(ctx context.Context) bool {
	_, addr, err := l.active()
	return err == nil && addr != ""
}

func (l *NetLink) Connect(ctx context.Context) error {
	if l.cfg.ReconnectUnit == "" || l.restarts == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	unit := l.cfg.ReconnectUnit
	l.log.Info("restarting link unit", logx.String("unit", unit))
	if err := l.restarts.RestartUnit(ctx, unit); err != nil {
		return err
	}
	// A unit that dies right after the restart job completes will not bring
	// the link back; report it instead of waiting out the connect timeout silently.
	state, err := l.restarts.ActiveState(ctx, unit)
	if err != nil {
		l.log.Debug("link unit state unknown", logx.String("unit", unit), logx.Err(err))
		return nil
	}
	switch state {
	case "failed", "inactive":
		return fmt.Errorf("link unit %s is %s after restart", unit, state)
	}
	l.log.Debug("link unit restarted", logx.String("unit", unit), logx.String("state", state))
	return nil
}

func (l *NetLink) Info(ctx context.Context) Info {
	info := Info{Interface: l.cfg.Interface, Network: l.cfg.Network}
	name, addr, err := l.active()
	if err == nil && addr != "" {
		info.Connected = true
		info.Interface = name
		info.Address = addr
	}
	if info.Interface != "" {
		if dbm, err := readSignal(l.wirelessPath, info.Interface); err == nil {
			info.SignalDBm, info.HasSignal = dbm, true
		}
	}
	return info
}

var errNoInterface = errors.New("no usable interface")

// active returns the watched interface and its first global address.
func (l *NetLink) active() (string, string, error) {
	ifs, err := l.interfaces()
	if err != nil {
		return "", "", err
	}
	for _, ifc := range ifs {
		if l.cfg.Interface != "" && ifc.Name != l.cfg.Interface {
			continue
		}
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := l.addrs(ifc)
		if err != nil {
			continue
		}
		if a := pickAddress(addrs); a != "" {
			return ifc.Name, a, nil
		}
	}
	return "", "", errNoInterface
}

// pickAddress prefers IPv4 and ignores link-local addresses.
func pickAddress(addrs []net.Addr) string {
	var v6 string
	for _, a := range addrs {
		var ip net.IP
		switch x := a.(type) {
		case *net.IPNet:
			ip = x.IP
		case *net.IPAddr:
			ip = x.IP
		}
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		if ip.To4() != nil {
			return ip.String()
		}
		if v6 == "" {
			v6 = ip.String()
		}
	}
	return v6
}

// readSignal returns the signal level of iface from /proc/net/wireless.
func readSignal(path, iface string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		name, rest, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) != iface {
			continue
		}
		// status link level noise ...
		fields := strings.Fields(rest)
		if len(fields) < 3 {
			return 0, fmt.Errorf("wireless: short line for %s", iface)
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "."), 64)
		if err != nil {
			return 0, fmt.Errorf("wireless: level %q: %w", fields[2], err)
		}
		return int(v), nil
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("wireless: %s not listed", iface)
}
