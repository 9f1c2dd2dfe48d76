package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/cli"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/internal/daemon/source"
	"github.com/grovetools/layoutsync/layout"
	"github.com/grovetools/layoutsync/logging"
	"github.com/grovetools/layoutsync/pkg/client"
	"github.com/grovetools/layoutsync/tui/theme"
	"github.com/spf13/cobra"
)

func newPostCmd() *cobra.Command {
	var sender string

	cmd := &cobra.Command{
		Use:   "post [file]",
		Short: "Post area changes to the layout client",
		Long: `Post area changes to the layout client.

The input is one or more YAML (or JSON) layout documents, read from the
file argument or stdin. Each document names the area and the view that
now occupies it; --sender overrides the document's sender.

Examples:
  layoutsync post layouts/editor.yml
  echo '{sender: editor/main, area: sidebar, view: {id: tree, address: tree/1}}' | layoutsync post`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			docs, err := source.ParseDocuments(data)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return errors.New(errors.ErrCodeInvalidInput, "no layout documents in input")
			}

			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			pretty := logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout())
			for _, doc := range docs {
				if sender != "" {
					doc.Sender = sender
				}
				from, evt, err := doc.Event()
				if err != nil {
					return err
				}
				if err := c.PostEvent(cmd.Context(), from, evt); err != nil {
					return err
				}
				pretty.Success("Posted " + areaLabel(from, evt.Area))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sender, "sender", "s", "", "Address the events are posted from ({type}/{id})")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read layout file").
			WithDetail("path", args[0])
	}
	return data, nil
}

func newGetCmd() *cobra.Command {
	var (
		id, addr, parent, area string
		wait                   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Query an area from the layout client",
		Long: `Query an area from the layout client.

Select by control id, control address, or parent address plus area name.
With --wait the query stays open until the area is populated.

Examples:
  layoutsync get --id tree
  layoutsync get --address tree/1
  layoutsync get --parent editor/main --area sidebar --wait 10s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := buildQuery(id, addr, parent, area, wait)
			if err != nil {
				return err
			}
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			evt, err := c.Area(cmd.Context(), q)
			if err != nil {
				return err
			}
			return cli.Render(cmd, layout.GetResponse{Event: evt}, func(w io.Writer) error {
				if evt == nil {
					_, err := fmt.Fprintln(w, theme.DefaultTheme.Muted.Render("(not populated)"))
					return err
				}
				return printEvent(w, *evt, 0)
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Control id")
	cmd.Flags().StringVar(&addr, "address", "", "Control address")
	cmd.Flags().StringVar(&parent, "parent", "", "Parent address (requires --area)")
	cmd.Flags().StringVar(&area, "area", "", "Area name within --parent")
	cmd.Flags().DurationVar(&wait, "wait", 0, "How long to wait for the area to be populated")
	return cmd
}

// buildQuery validates the get flags: exactly one selector, and an area
// alongside --parent.
func buildQuery(id, addr, parent, area string, wait time.Duration) (client.AreaQuery, error) {
	q := client.AreaQuery{ID: id, Area: area, Wait: wait}
	set := 0
	for _, v := range []string{id, addr, parent} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return q, errors.New(errors.ErrCodeInvalidInput, "exactly one of --id, --address or --parent is required")
	}
	if parent != "" && area == "" {
		return q, errors.New(errors.ErrCodeInvalidInput, "--parent requires --area")
	}

	var err error
	if addr != "" {
		if q.Address, err = address.Parse(addr); err != nil {
			return q, err
		}
	}
	if parent != "" {
		if q.Parent, err = address.Parse(parent); err != nil {
			return q, err
		}
	}
	return q, nil
}

func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show every occupied area",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			snap, err := c.State(cmd.Context())
			if err != nil {
				return err
			}
			return cli.Render(cmd, snap, func(w io.Writer) error {
				return printSnapshot(w, *snap)
			})
		},
	}
}

func newStreamCmd() *cobra.Command {
	var patterns []string

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Print area changes as they are applied",
		Long: `Print area changes as they are applied.

Patterns match "<sender>/<area>" paths using .dockerignore-style globs.

Examples:
  layoutsync stream
  layoutsync stream --area 'editor/*/sidebar' --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			changes, err := c.Stream(cmd.Context(), patterns...)
			if err != nil {
				return err
			}
			jsonOut := cli.GetOptions(cmd).JSONOutput
			w := cmd.OutOrStdout()
			for change := range changes {
				if jsonOut {
					if err := cli.PrintJSON(w, change); err != nil {
						return err
					}
					continue
				}
				if _, err := fmt.Fprintln(w, changeLine(change)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&patterns, "area", nil, "Only show changes matching these patterns")
	return cmd
}

func areaLabel(parent address.Address, area string) string {
	return fmt.Sprintf("%s/%s", parent, area)
}

// viewLabel names the control occupying an area.
func viewLabel(v layout.Control) string {
	switch c := v.(type) {
	case nil:
		return "(cleared)"
	case layout.Redirect:
		return fmt.Sprintf("%s [redirect %s -> %s]", c.ID, c.Address, c.Target)
	case layout.Container:
		return fmt.Sprintf("%s [container %s]", c.ID, c.Address)
	default:
		return fmt.Sprintf("%s [%s]", v.ControlID(), v.ControlAddress())
	}
}

func changeLine(c layout.Change) string {
	t := theme.DefaultTheme
	return fmt.Sprintf("%s %s %s %s",
		t.Muted.Render(c.Time.Format(time.TimeOnly)),
		t.Muted.Render(fmt.Sprintf("#%d", c.Version)),
		t.Accent.Render(areaLabel(c.Sender, c.Event.Area)),
		viewLabel(c.Event.View))
}

func printEvent(w io.Writer, evt layout.AreaChangedEvent, depth int) error {
	t := theme.DefaultTheme
	indent := strings.Repeat("  ", depth)
	if _, err := fmt.Fprintf(w, "%s%s %s\n", indent, t.Header.Render(evt.Area+":"), viewLabel(evt.View)); err != nil {
		return err
	}
	if c, ok := evt.View.(layout.Container); ok {
		for _, sub := range c.SubAreas() {
			if err := printEvent(w, sub, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func printSnapshot(w io.Writer, snap layout.Snapshot) error {
	t := theme.DefaultTheme
	fmt.Fprintf(w, "%s %d  %s %d\n", t.Header.Render("Version"), snap.Version, t.Header.Render("Pending"), snap.Pending)
	if len(snap.Slots) == 0 {
		_, err := fmt.Fprintln(w, t.Muted.Render("No areas are occupied."))
		return err
	}
	for _, s := range snap.Slots {
		if _, err := fmt.Fprintf(w, "%s  %s\n", t.Accent.Render(areaLabel(s.Parent, s.Area)), viewLabel(s.Event.View)); err != nil {
			return err
		}
	}
	return nil
}
