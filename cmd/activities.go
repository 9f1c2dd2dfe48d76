package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/grovetools/layoutsync/activity"
	"github.com/grovetools/layoutsync/cli"
	"github.com/grovetools/layoutsync/tui/theme"
	"github.com/spf13/cobra"
)

func newActivitiesCmd() *cobra.Command {
	var showMessages bool

	cmd := &cobra.Command{
		Use:   "activities",
		Short: "List the daemon's recent activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			logs, err := c.Activities(cmd.Context())
			if err != nil {
				return err
			}
			return cli.Render(cmd, logs, func(w io.Writer) error {
				if len(logs) == 0 {
					_, err := fmt.Fprintln(w, theme.DefaultTheme.Muted.Render("No activities recorded."))
					return err
				}
				now := time.Now()
				for _, l := range logs {
					printActivity(w, l, 0, showMessages, now)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&showMessages, "messages", "m", false, "Include log messages")
	return cmd
}

func printActivity(w io.Writer, l activity.Log, depth int, showMessages bool, now time.Time) {
	t := theme.DefaultTheme
	indent := strings.Repeat("  ", depth)
	status := t.StatusStyle(string(l.Status)).Render(fmt.Sprintf("%-9s", l.Status))
	fmt.Fprintf(w, "%s%s %s %s %s\n", indent, status, l.Category,
		t.Muted.Render(l.ID), t.Muted.Render(l.Duration(now).Round(time.Millisecond).String()))

	if showMessages {
		for _, m := range l.Messages {
			level := t.StatusStyle(m.Level.String()).Render(fmt.Sprintf("%-5s", strings.ToUpper(m.Level.String())))
			fmt.Fprintf(w, "%s  %s %s\n", indent, level, m.Message)
		}
	}

	subs := make([]activity.Log, 0, len(l.SubActivities))
	for _, sub := range l.SubActivities {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Start.Before(subs[j].Start) })
	for _, sub := range subs {
		printActivity(w, sub, depth+1, showMessages, now)
	}
}
