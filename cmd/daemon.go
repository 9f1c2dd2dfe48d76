package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grovetools/layoutsync/cli"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/internal/daemon/engine"
	"github.com/grovetools/layoutsync/internal/daemon/pidfile"
	"github.com/grovetools/layoutsync/internal/daemon/server"
	"github.com/grovetools/layoutsync/internal/daemon/source"
	"github.com/grovetools/layoutsync/logging"
	"github.com/grovetools/layoutsync/metrics"
	"github.com/grovetools/layoutsync/pkg/client"
	"github.com/grovetools/layoutsync/pkg/paths"
	"github.com/grovetools/layoutsync/tui/theme"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const stopGrace = 5 * time.Second

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the layoutsync daemon",
		Long:  "Start, stop and inspect the daemon hosting the layout client.",
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())
	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var layoutsDir string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.NewLogger("daemon")
			pidPath := pidFilePath(cfg)
			sockPath := socketPath(cmd, cfg)

			if layoutsDir == "" {
				layoutsDir = expand(cfg.Daemon.LayoutsDir)
			}
			if layoutsDir == "" {
				layoutsDir = paths.LayoutsDir()
			}

			if err := pidfile.Acquire(pidPath); err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer func() {
				if err := pidfile.Release(pidPath); err != nil {
					logger.Errorf("Failed to release pidfile: %v", err)
				}
			}()

			var m *metrics.Metrics
			if cfg.MetricsEnabled() {
				m = metrics.Default()
			}

			eng, err := engine.New(cfg, logger, m)
			if err != nil {
				return err
			}
			defer eng.Close()

			debounce := time.Duration(cfg.Daemon.DebounceMs) * time.Millisecond
			dir := source.NewDirSource(layoutsDir, debounce, logger.WithField("source", "dir"))
			eng.Register(dir)

			srv := server.New(logger)
			srv.SetEngine(eng)
			if m != nil {
				srv.SetGatherer(prometheus.DefaultGatherer)
			}
			srv.SetRunningConfig(&server.RunningConfig{
				Config:    cfg,
				Sources:   []string{fmt.Sprintf("%s:%s", dir.Name(), layoutsDir)},
				Socket:    sockPath,
				StartedAt: time.Now(),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engineErr := make(chan error, 1)
			go func() {
				engineErr <- eng.Start(ctx)
			}()

			go func() {
				select {
				case <-ctx.Done():
					logger.Info("Received stop signal")
				case err := <-engineErr:
					if err != nil && !stderrors.Is(err, context.Canceled) {
						logger.WithError(err).Error("Engine stopped")
					}
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("Server shutdown error: %v", err)
				}
			}()

			logger.WithField("pid", os.Getpid()).Info("Starting daemon")
			if err := srv.ListenAndServe(sockPath); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&layoutsDir, "layouts-dir", "", "Directory of layout documents (default: daemon.layouts_dir or the state dir)")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			pretty := logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout())
			pid, err := pidfile.Stop(pidFilePath(cfg), stopGrace)
			if errors.Is(err, errors.ErrCodeDaemonNotRunning) {
				pretty.WarnPretty("Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			pretty.Success(fmt.Sprintf("Stopped daemon (PID %d)", pid))
			return nil
		},
	}
}

// DaemonStatus is the output of "daemon status".
type DaemonStatus struct {
	Running    bool   `json:"running"`
	PID        int    `json:"pid,omitempty"`
	Socket     string `json:"socket"`
	Responding bool   `json:"responding"`
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			running, pid, err := pidfile.IsRunning(pidFilePath(cfg))
			if err != nil {
				return err
			}
			status := DaemonStatus{Running: running, PID: pid, Socket: socketPath(cmd, cfg)}
			status.Responding = client.NewRemoteClient(status.Socket).IsRunning()

			if err := cli.Render(cmd, status, func(w io.Writer) error {
				return printStatus(w, status)
			}); err != nil {
				return err
			}
			if !status.Running {
				return errors.DaemonNotRunning(status.Socket, nil)
			}
			return nil
		},
	}
}

func printStatus(w io.Writer, s DaemonStatus) error {
	t := theme.DefaultTheme
	if !s.Running {
		_, err := fmt.Fprintln(w, t.Warning.Render("Stopped"))
		return err
	}
	health := t.Success.Render("responding")
	if !s.Responding {
		health = t.Error.Render("not responding")
	}
	_, err := fmt.Fprintf(w, "%s (PID: %d)\nSocket: %s (%s)\n", t.Success.Render("Running"), s.PID, s.Socket, health)
	return err
}
