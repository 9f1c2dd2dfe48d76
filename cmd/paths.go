package cmd

import (
	"fmt"
	"io"

	"github.com/grovetools/layoutsync/cli"
	"github.com/grovetools/layoutsync/logging"
	"github.com/grovetools/layoutsync/pkg/paths"
	"github.com/spf13/cobra"
)

// PathsOutput lists the locations layoutsync reads and writes.
type PathsOutput struct {
	ConfigDir  string `json:"config_dir"`
	StateDir   string `json:"state_dir"`
	RuntimeDir string `json:"runtime_dir"`
	LogsDir    string `json:"logs_dir"`
	LayoutsDir string `json:"layouts_dir"`
	Socket     string `json:"socket"`
	PidFile    string `json:"pid_file"`
}

func newPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the paths used by layoutsync",
		Long: `Print the paths used by layoutsync.

Set LAYOUTSYNC_HOME to move every directory under one root; otherwise
the XDG base directory variables are honoured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := PathsOutput{
				ConfigDir:  paths.ConfigDir(),
				StateDir:   paths.StateDir(),
				RuntimeDir: paths.RuntimeDir(),
				LogsDir:    paths.LogsDir(),
				LayoutsDir: paths.LayoutsDir(),
				Socket:     paths.SocketPath(),
				PidFile:    paths.PidFilePath(),
			}
			return cli.Render(cmd, out, func(w io.Writer) error {
				pretty := logging.NewPrettyLogger().WithWriter(w)
				rows := []struct{ label, value string }{
					{"config", out.ConfigDir},
					{"state", out.StateDir},
					{"runtime", out.RuntimeDir},
					{"logs", out.LogsDir},
					{"layouts", out.LayoutsDir},
					{"socket", out.Socket},
					{"pid file", out.PidFile},
				}
				for _, r := range rows {
					pretty.Path(fmt.Sprintf("%-8s", r.label), r.value)
				}
				return nil
			})
		},
	}
}
