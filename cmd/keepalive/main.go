package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"keepalive/internal/app"
	"keepalive/internal/scheduler"
)

const defaultConfigPath = "/etc/keepalive/config.yaml"

var exampleUsage = strings.TrimSpace(`
  keepalive --config /etc/keepalive/config.yaml
  KEEPALIVE_TELEGRAM_TOKEN=... keepalive --config ./config.toml
  keepalive version
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func versionString() string {
	return fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH)
}

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "keepalive",
		Short:         "Keep an uplink alive and control it from a Telegram chat",
		Example:       exampleUsage,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
	}
	addConfigFlag(root.Flags(), &cfgPath)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	})

	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.CheckConfig(cfgPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", cfgPath)
			return nil
		},
	}
	addConfigFlag(check.Flags(), &cfgPath)
	root.AddCommand(check)

	if err := root.Execute(); err != nil {
		var rerr restartError
		if errors.As(err, &rerr) {
			os.Exit(rerr.code)
		}
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func addConfigFlag(fs *pflag.FlagSet, dst *string) {
	fs.StringVarP(dst, "config", "c", defaultConfigPath, "path to config file (.json, .yaml or .toml)")
}

// restartError carries the exit code that asks the service manager to start us again.
type restartError struct{ code int }

func (e restartError) Error() string { return fmt.Sprintf("restart requested (exit %d)", e.code) }

func run(cfgPath string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.NewApp(ctx, cfgPath)
	if err != nil {
		return err
	}

	reasons := make(chan app.StopReason, 1)
	go func() {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGINT {
				reasons <- app.StopSIGINT
			} else {
				reasons <- app.StopSIGTERM
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := a.Run(ctx)
	cancel()

	stopReason := app.StopUnknown
	select {
	case stopReason = <-reasons:
	default:
	}
	switch {
	case errors.Is(runErr, scheduler.ErrRestartRequested):
		stopReason = app.StopRestart
	case runErr != nil:
		stopReason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, stopReason)

	if errors.Is(runErr, scheduler.ErrRestartRequested) {
		return restartError{code: a.ExitCode()}
	}
	return runErr
}
