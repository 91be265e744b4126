package health

import (
	"context"
	"fmt"
	"os"
	"strings"

	logx "keepalive/pkg/logx"
)

// UnitRestarter restarts a service unit (systemd.Manager).
type UnitRestarter interface {
	RestartUnit(ctx context.Context, unit string) error
}

// SystemdRestart restarts the agent's own unit over D-Bus.
type SystemdRestart struct {
	Units UnitRestarter
	Unit  string
	Log   logx.Logger
}

func (s SystemdRestart) Restart(ctx context.Context, reason string) error {
	s.Log.Warn("restarting unit", logx.String("unit", s.Unit), logx.String("reason", reason))
	return s.Units.RestartUnit(ctx, s.Unit)
}

// ExitRestart exits non-zero and lets the service manager start us again.
type ExitRestart struct {
	Code int
	Log  logx.Logger
	// Exit defaults to os.Exit.
	Exit func(code int)
}

func (e ExitRestart) Restart(ctx context.Context, reason string) error {
	code := e.Code
	if code == 0 {
		code = 75 // EX_TEMPFAIL
	}
	e.Log.Warn("exiting for restart", logx.Int("code", code), logx.String("reason", reason))
	exit := e.Exit
	if exit == nil {
		exit = os.Exit
	}
	exit(code)
	return nil
}

// ExecRestart replaces the process image with a fresh copy of itself.
type ExecRestart struct {
	Log logx.Logger
}

func (e ExecRestart) Restart(ctx context.Context, reason string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("exec restart: %w", err)
	}
	e.Log.Warn("re-executing", logx.String("exe", exe), logx.String("reason", reason))
	return execSelf(exe, os.Args, os.Environ())
}

// NewRestartSignal maps the health.restart setting to a RestartSignal.
func NewRestartSignal(kind, unit string, units UnitRestarter, log logx.Logger) (RestartSignal, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "exit":
		return ExitRestart{Log: log}, nil
	case "exec":
		return ExecRestart{Log: log}, nil
	case "systemd":
		if strings.TrimSpace(unit) == "" {
			return nil, fmt.Errorf("health.unit is required when health.restart=systemd")
		}
		if units == nil {
			return nil, fmt.Errorf("health.restart=systemd needs a systemd connection")
		}
		return SystemdRestart{Units: units, Unit: unit, Log: log}, nil
	default:
		return nil, fmt.Errorf("unknown health.restart: %s", kind)
	}
}
