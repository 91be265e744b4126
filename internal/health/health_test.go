package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "keepalive/pkg/logx"
)

type fixedSampler struct {
	free uint64
	err  error
}

func (f fixedSampler) Available(context.Context) (uint64, error) { return f.free, f.err }

func TestCheck(t *testing.T) {
	min, err := ParseThreshold("")
	if err != nil {
		t.Fatalf("ParseThreshold: %v", err)
	}
	if min != 20000 {
		t.Fatalf("default threshold = %d, want 20000", min)
	}

	tests := []struct {
		name string
		s    fixedSampler
		want Status
	}{
		{"plenty", fixedSampler{free: 1 << 20}, OK},
		{"at threshold", fixedSampler{free: 20000}, OK},
		{"below", fixedSampler{free: 19999}, Critical},
		{"sample error", fixedSampler{err: errors.New("no procfs")}, OK},
	}
	for _, tt := range tests {
		w := NewWatchdog(tt.s, min, logx.Nop())
		if got := w.Check(context.Background()); got != tt.want {
			t.Fatalf("%s: Check() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestParseThreshold(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"20KB", 20000, true},
		{"64 MiB", 64 << 20, true},
		{"0", 0, false},
		{"lots", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseThreshold(tt.in)
		if (err == nil) != tt.ok || (tt.ok && got != tt.want) {
			t.Fatalf("ParseThreshold(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestMemInfo(t *testing.T) {
	dir := t.TempDir()
	modern := filepath.Join(dir, "modern")
	legacy := filepath.Join(dir, "legacy")
	_ = os.WriteFile(modern, []byte("MemTotal:  948280 kB\nMemFree:  100 kB\nMemAvailable:  512000 kB\n"), 0o600)
	_ = os.WriteFile(legacy, []byte("MemTotal:  948280 kB\nMemFree:  10 kB\nBuffers:  5 kB\nCached:  1 kB\n"), 0o600)

	ctx := context.Background()
	if got, err := (&MemInfo{Path: modern}).Available(ctx); err != nil || got != 512000*1024 {
		t.Fatalf("modern = %d, %v", got, err)
	}
	if got, err := (&MemInfo{Path: legacy}).Available(ctx); err != nil || got != 16*1024 {
		t.Fatalf("legacy = %d, %v", got, err)
	}
	if _, err := (&MemInfo{Path: filepath.Join(dir, "missing")}).Available(ctx); err == nil {
		t.Fatal("expected error for missing file")
	}
}

type recordingUnits struct{ units []string }

func (r *recordingUnits) RestartUnit(_ context.Context, unit string) error {
	r.units = append(r.units, unit)
	return nil
}

func TestNewRestartSignal(t *testing.T) {
	units := &recordingUnits{}
	sig, err := NewRestartSignal("systemd", "keepalive", units, logx.Nop())
	if err != nil {
		t.Fatalf("NewRestartSignal: %v", err)
	}
	if err := sig.Restart(context.Background(), "low memory"); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if len(units.units) != 1 || units.units[0] != "keepalive" {
		t.Fatalf("restarted = %v", units.units)
	}

	if _, err := NewRestartSignal("systemd", "", units, logx.Nop()); err == nil {
		t.Fatal("systemd restart without unit should fail")
	}
	if _, err := NewRestartSignal("reboot", "", nil, logx.Nop()); err == nil {
		t.Fatal("unknown strategy should fail")
	}
	if sig, err := NewRestartSignal("", "", nil, logx.Nop()); err != nil {
		t.Fatalf("default: %v", err)
	} else if _, ok := sig.(ExitRestart); !ok {
		t.Fatalf("default strategy = %T, want ExitRestart", sig)
	}
}

func TestExitRestartUsesExitCode(t *testing.T) {
	var code int
	r := ExitRestart{Log: logx.Nop(), Exit: func(c int) { code = c }}
	_ = r.Restart(context.Background(), "test")
	if code != 75 {
		t.Fatalf("exit code = %d, want 75", code)
	}
}
