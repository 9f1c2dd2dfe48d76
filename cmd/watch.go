package cmd

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/layoutsync/layout"
	"github.com/grovetools/layoutsync/pkg/client"
	"github.com/grovetools/layoutsync/tui"
	"github.com/grovetools/layoutsync/tui/theme"
	"github.com/spf13/cobra"
)

const maxRecentChanges = 200

func newWatchCmd() *cobra.Command {
	var (
		patterns []string
		useCBOR  bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Interactive view of occupied areas",
		Long: `Interactive view of occupied areas.

Loads the current state, then follows changes over a websocket.

Examples:
  layoutsync watch
  layoutsync watch --area 'editor/main/*' --cbor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			snap, err := c.State(ctx)
			if err != nil {
				return err
			}
			w, err := c.Watch(ctx, client.WatchOptions{Patterns: patterns, CBOR: useCBOR})
			if err != nil {
				return err
			}
			defer w.Close()

			tui.InitializeTUI()
			m := newWatchModel(*snap, w.Changes())
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			if err != nil {
				return err
			}
			return w.Err()
		},
	}

	cmd.Flags().StringSliceVar(&patterns, "area", nil, "Only follow changes matching these patterns")
	cmd.Flags().BoolVar(&useCBOR, "cbor", false, "Use CBOR frames on the websocket")
	return cmd
}

type watchKeyMap struct {
	Up   key.Binding
	Down key.Binding
	Help key.Binding
	Quit key.Binding
}

func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Help, k.Quit}
}

func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down}, {k.Help, k.Quit}}
}

var watchKeys = watchKeyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "previous area"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "next area"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "toggle help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

type areaRow struct {
	path  string
	event layout.AreaChangedEvent
}

type changeMsg layout.Change

type watchClosedMsg struct{}

type watchModel struct {
	rows     []areaRow
	recent   []layout.Change
	selected int
	version  uint64
	changes  <-chan layout.Change
	closed   bool

	viewport viewport.Model
	help     help.Model
	width    int
	height   int
}

func newWatchModel(snap layout.Snapshot, changes <-chan layout.Change) *watchModel {
	m := &watchModel{
		changes:  changes,
		version:  snap.Version,
		viewport: viewport.New(0, 0),
		help:     help.New(),
	}
	for _, s := range snap.Slots {
		m.upsert(areaLabel(s.Parent, s.Area), s.Event)
	}
	return m
}

func (m *watchModel) Init() tea.Cmd {
	return m.waitForChange()
}

func (m *watchModel) waitForChange() tea.Cmd {
	return func() tea.Msg {
		change, ok := <-m.changes
		if !ok {
			return watchClosedMsg{}
		}
		return changeMsg(change)
	}
}

// upsert records evt under path, dropping the row when the area was cleared.
func (m *watchModel) upsert(path string, evt layout.AreaChangedEvent) {
	idx := sort.Search(len(m.rows), func(i int) bool { return m.rows[i].path >= path })
	exists := idx < len(m.rows) && m.rows[idx].path == path

	switch {
	case evt.View == nil && exists:
		m.rows = append(m.rows[:idx], m.rows[idx+1:]...)
		if m.selected >= len(m.rows) && m.selected > 0 {
			m.selected--
		}
	case evt.View == nil:
	case exists:
		m.rows[idx].event = evt
	default:
		m.rows = append(m.rows, areaRow{})
		copy(m.rows[idx+1:], m.rows[idx:])
		m.rows[idx] = areaRow{path: path, event: evt}
		if idx <= m.selected && len(m.rows) > 1 {
			m.selected++
		}
	}
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.viewport.Width = msg.Width / 2
		m.viewport.Height = max(msg.Height-4, 1)
		m.refreshDetail()
		return m, nil

	case changeMsg:
		change := layout.Change(msg)
		m.version = change.Version
		m.upsert(areaLabel(change.Sender, change.Event.Area), change.Event)
		m.recent = append(m.recent, change)
		if len(m.recent) > maxRecentChanges {
			m.recent = m.recent[len(m.recent)-maxRecentChanges:]
		}
		m.refreshDetail()
		return m, m.waitForChange()

	case watchClosedMsg:
		m.closed = true
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, watchKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, watchKeys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, watchKeys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, watchKeys.Down):
			if m.selected < len(m.rows)-1 {
				m.selected++
			}
		}
		m.refreshDetail()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *watchModel) refreshDetail() {
	if len(m.rows) == 0 {
		m.viewport.SetContent("")
		return
	}
	var buf bytes.Buffer
	_ = printEvent(&buf, m.rows[m.selected].event, 0)
	m.viewport.SetContent(buf.String())
}

func (m *watchModel) View() string {
	t := theme.DefaultTheme

	status := fmt.Sprintf("version %d  areas %d  changes %d", m.version, len(m.rows), len(m.recent))
	if m.closed {
		status += "  " + t.Error.Render("[disconnected]")
	}
	header := t.Header.Render("layoutsync watch") + "  " + t.Muted.Render(status)

	var list strings.Builder
	if len(m.rows) == 0 {
		list.WriteString(t.Muted.Render("No areas are occupied."))
	}
	for i, r := range m.rows {
		line := fmt.Sprintf("%s  %s", r.path, viewLabel(r.event.View))
		if i == m.selected {
			line = t.Selected.Render(line)
		}
		list.WriteString(line + "\n")
	}

	left := lipgloss.NewStyle().Width(max(m.width/2-2, 20)).Render(list.String())
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, t.Box.Render(m.viewport.View()))

	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.help.View(watchKeys))
}
