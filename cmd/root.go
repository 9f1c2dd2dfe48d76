// Package cmd implements the layoutsync command line.
package cmd

import (
	"github.com/grovetools/layoutsync/cli"
	"github.com/grovetools/layoutsync/config"
	"github.com/grovetools/layoutsync/pkg/client"
	"github.com/grovetools/layoutsync/pkg/paths"
	"github.com/grovetools/layoutsync/pkg/profiling"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the layoutsync command tree.
func NewRootCmd() *cobra.Command {
	root := cli.NewStandardCommand("layoutsync", "Synchronize UI layout state between hubs")
	root.Long = `Synchronize UI layout state between hubs.

layoutsync runs a daemon that hosts the layout client: producers post
area changes, consumers query areas or stream changes as they land.

Examples:
  layoutsync daemon start
  layoutsync post --sender editor/main event.yml
  layoutsync get --parent editor/main --area sidebar --wait 5s
  layoutsync watch --area 'editor/main/*'`
	root.PersistentFlags().String("socket", "", "Daemon socket path (default: daemon.socket or the runtime dir)")
	profiling.NewCobraProfiler().AddFlags(root)

	root.AddCommand(newDaemonCmd())
	root.AddCommand(newPostCmd())
	root.AddCommand(newGetCmd())
	root.AddCommand(newStateCmd())
	root.AddCommand(newStreamCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newActivitiesCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newPathsCmd())
	root.AddCommand(cli.NewVersionCommand("layoutsync"))
	return root
}

// Execute runs the root command and reports errors through the error handler.
func Execute(args []string) int {
	root := NewRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		verbose, _ := root.PersistentFlags().GetBool("verbose")
		cli.NewErrorHandler(verbose).Handle(err)
		return 1
	}
	return 0
}

// socketPath resolves --socket, then daemon.socket from config, then the
// default runtime location.
func socketPath(cmd *cobra.Command, cfg *config.Config) string {
	if s, _ := cmd.Flags().GetString("socket"); s != "" {
		return s
	}
	if cfg != nil && cfg.Daemon != nil && cfg.Daemon.Socket != "" {
		return expand(cfg.Daemon.Socket)
	}
	return paths.SocketPath()
}

func pidFilePath(cfg *config.Config) string {
	if cfg != nil && cfg.Daemon != nil && cfg.Daemon.PidFile != "" {
		return expand(cfg.Daemon.PidFile)
	}
	return paths.PidFilePath()
}

// expand resolves "~" and environment variables in a configured path,
// keeping it as written if that fails.
func expand(p string) string {
	if expanded, err := paths.Expand(p); err == nil {
		return expanded
	}
	return p
}

// newClient connects to the daemon named by flags and config. A missing
// config file is not an error here.
func newClient(cmd *cobra.Command) (*client.RemoteClient, error) {
	var cfg *config.Config
	if s, _ := cmd.Flags().GetString("socket"); s == "" {
		loaded, err := cli.LoadConfig(cmd)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	sock := socketPath(cmd, cfg)
	cli.GetLogger(cmd).WithField("socket", sock).Debug("Connecting to daemon")
	return client.NewRemoteClient(sock), nil
}
