package cmd

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/grovetools/layoutsync/cli"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/logging"
	"github.com/grovetools/layoutsync/pkg/paths"
	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

const daemonComponent = "daemon"

func newLogsCmd() *cobra.Command {
	var (
		follow bool
		lines  int
		file   string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		Long: `Show the daemon log.

Reads the file configured under logging.file.path, or the newest daily
daemon log in the state directory.

Examples:
  layoutsync logs -n 100
  layoutsync logs -f`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				cfg, err := cli.LoadConfig(cmd)
				if err != nil {
					return err
				}
				var logCfg logging.Config
				if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
					return errors.Wrap(err, errors.ErrCodeConfigInvalid, "invalid logging section")
				}
				if file, err = daemonLogFile(logCfg, paths.LogsDir(), time.Now()); err != nil {
					return err
				}
			}

			w := cmd.OutOrStdout()
			if err := printLastLines(w, file, lines); err != nil {
				return err
			}
			if !follow {
				return nil
			}

			t, err := tail.TailFile(file, tail.Config{
				Follow:   true,
				ReOpen:   true,
				Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
				Logger:   stdlog.New(io.Discard, "", 0),
			})
			if err != nil {
				return fmt.Errorf("failed to follow %s: %w", file, err)
			}
			defer t.Cleanup()
			go func() {
				<-cmd.Context().Done()
				_ = t.Stop()
			}()

			for line := range t.Lines {
				if line.Err != nil {
					continue
				}
				fmt.Fprintln(w, line.Text)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing lines as they are written")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show (0 for all)")
	cmd.Flags().StringVar(&file, "file", "", "Log file to read instead of the daemon log")
	return cmd
}

// daemonLogFile picks the configured log path, today's daemon log, or the
// newest daemon log in dir, in that order.
func daemonLogFile(logCfg logging.Config, dir string, now time.Time) (string, error) {
	if logCfg.File.Path != "" {
		return paths.Expand(logCfg.File.Path)
	}
	today := logging.LogFilePath(daemonComponent, now)
	if _, err := os.Stat(today); err == nil {
		return today, nil
	}

	matches, _ := filepath.Glob(filepath.Join(dir, daemonComponent+"-*.log"))
	if len(matches) == 0 {
		return "", errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("no daemon log files found in %s", dir)).
			WithDetail("path", dir)
	}
	// Daily files sort by date.
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// printLastLines writes the last n lines of path, or all of them when n <= 0.
func printLastLines(w io.Writer, path string, n int) error {
	t, err := tail.TailFile(path, tail.Config{
		MustExist: true,
		Logger:    stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer t.Cleanup()

	var ring []string
	for line := range t.Lines {
		if line.Err != nil {
			continue
		}
		ring = append(ring, line.Text)
		if n > 0 && len(ring) > n {
			ring = ring[1:]
		}
	}
	for _, l := range ring {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
