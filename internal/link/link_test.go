package link

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "keepalive/pkg/logx"
)

type fakeLink struct {
	up         bool
	upAfter    int
	checks     int
	connects   int
	connectErr error
}

func (f *fakeLink) Connected(context.Context) bool {
	f.checks++
	if f.upAfter > 0 && f.checks >= f.upAfter {
		f.up = true
	}
	return f.up
}

func (f *fakeLink) Connect(context.Context) error {
	f.connects++
	return f.connectErr
}

func (f *fakeLink) Info(context.Context) Info { return Info{Connected: f.up, Address: "10.0.0.2"} }

func TestEnsureAlreadyConnected(t *testing.T) {
	l := &fakeLink{up: true}
	g := NewGuard(l, time.Second, time.Millisecond, logx.Nop())
	if got := g.Ensure(context.Background()); got != Connected {
		t.Fatalf("Ensure = %v, want connected", got)
	}
	if l.connects != 0 {
		t.Fatalf("Connect called %d times on a live link", l.connects)
	}
}

func TestEnsureReconnects(t *testing.T) {
	l := &fakeLink{upAfter: 4, connectErr: errors.New("unit busy")}
	g := NewGuard(l, time.Second, time.Millisecond, logx.Nop())
	if got := g.Ensure(context.Background()); got != Connected {
		t.Fatalf("Ensure = %v, want connected", got)
	}
	if l.connects != 1 {
		t.Fatalf("Connect called %d times, want 1", l.connects)
	}
}

func TestEnsureTimesOut(t *testing.T) {
	l := &fakeLink{}
	g := NewGuard(l, 30*time.Millisecond, 5*time.Millisecond, logx.Nop())
	start := time.Now()
	if got := g.Ensure(context.Background()); got != Unreachable {
		t.Fatalf("Ensure = %v, want unreachable", got)
	}
	if el := time.Since(start); el > time.Second {
		t.Fatalf("Ensure took %v, deadline not honored", el)
	}
}

func TestWaitUntilContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if WaitUntil(ctx, time.Hour, time.Millisecond, func(context.Context) bool { return false }) {
		t.Fatal("WaitUntil should fail on a canceled context")
	}
}

func TestNetLinkInfo(t *testing.T) {
	dir := t.TempDir()
	wireless := filepath.Join(dir, "wireless")
	body := "Inter-| sta-|   Quality        |   Discarded packets               | Missed | WE\n" +
		" face | tus | link level noise |  nwid  crypt   frag  retry   misc | beacon | 22\n" +
		" wlan0: 0000   54.  -61.  -256        0      0      0      0      0        0\n"
	if err := os.WriteFile(wireless, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	l := NewNetLink(NetConfig{Interface: "wlan0", Network: "HomeAP"}, nil, logx.Nop())
	l.wirelessPath = wireless
	l.interfaces = func() ([]net.Interface, error) {
		return []net.Interface{
			{Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
			{Name: "wlan0", Flags: net.FlagUp},
		}, nil
	}
	l.addrs = func(i net.Interface) ([]net.Addr, error) {
		return []net.Addr{
			&net.IPNet{IP: net.ParseIP("fe80::1")},
			&net.IPNet{IP: net.ParseIP("192.168.1.23").To4()},
		}, nil
	}

	ctx := context.Background()
	if !l.Connected(ctx) {
		t.Fatal("expected connected")
	}
	info := l.Info(ctx)
	if info.Address != "192.168.1.23" || info.Network != "HomeAP" {
		t.Fatalf("info = %+v", info)
	}
	if !info.HasSignal || info.SignalDBm != -61 {
		t.Fatalf("signal = %d (has=%v), want -61", info.SignalDBm, info.HasSignal)
	}
}

func TestNetLinkDownInterface(t *testing.T) {
	l := NewNetLink(NetConfig{Interface: "wlan0"}, nil, logx.Nop())
	l.interfaces = func() ([]net.Interface, error) {
		return []net.Interface{{Name: "wlan0"}}, nil
	}
	l.addrs = func(net.Interface) ([]net.Addr, error) {
		return []net.Addr{&net.IPNet{IP: net.ParseIP("10.0.0.5").To4()}}, nil
	}
	if l.Connected(context.Background()) {
		t.Fatal("interface without FlagUp must not count as connected")
	}
}

type fakeRestarter struct {
	units    []string
	state    string
	stateErr error
}

func (f *fakeRestarter) RestartUnit(_ context.Context, unit string) error {
	f.units = append(f.units, unit)
	return nil
}

func (f *fakeRestarter) ActiveState(context.Context, string) (string, error) {
	if f.state == "" && f.stateErr == nil {
		return "active", nil
	}
	return f.state, f.stateErr
}

func TestNetLinkConnectRestartsUnit(t *testing.T) {
	r := &fakeRestarter{}
	l := NewNetLink(NetConfig{ReconnectUnit: "wpa_supplicant@wlan0"}, r, logx.Nop())
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(r.units) != 1 || r.units[0] != "wpa_supplicant@wlan0" {
		t.Fatalf("restarted = %v", r.units)
	}

	if err := NewNetLink(NetConfig{}, r, logx.Nop()).Connect(context.Background()); err != nil {
		t.Fatalf("Connect without unit: %v", err)
	}
	if len(r.units) != 1 {
		t.Fatal("Connect without a unit must not restart anything")
	}
}

func TestNetLinkConnectChecksUnitState(t *testing.T) {
	tests := []struct {
		name    string
		r       *fakeRestarter
		wantErr bool
	}{
		{"active", &fakeRestarter{state: "active"}, false},
		{"activating", &fakeRestarter{state: "activating"}, false},
		{"failed", &fakeRestarter{state: "failed"}, true},
		{"inactive", &fakeRestarter{state: "inactive"}, true},
		{"state unreadable", &fakeRestarter{stateErr: errors.New("no bus")}, false},
	}
	for _, tt := range tests {
		l := NewNetLink(NetConfig{ReconnectUnit: "wpa_supplicant@wlan0.service"}, tt.r, logx.Nop())
		err := l.Connect(context.Background())
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: Connect err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if len(tt.r.units) != 1 {
			t.Fatalf("%s: restarted %v", tt.name, tt.r.units)
		}
	}
}
