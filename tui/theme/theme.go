package theme

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ThemeEnv selects the palette: "kanagawa" (default) or "terminal".
const ThemeEnv = "LAYOUTSYNC_THEME"

// --- Kanagawa palette, dark/light pairs ---
const (
	kanagawaDarkGreen      = "#98BB6C"
	kanagawaDarkYellow     = "#FF9E3B"
	kanagawaDarkRed        = "#FF5D62"
	kanagawaDarkCyan       = "#7E9CD8"
	kanagawaDarkViolet     = "#957FB8"
	kanagawaDarkLightText  = "#DCD7BA"
	kanagawaDarkMutedText  = "#727169"
	kanagawaDarkBorder     = "#363646"
	kanagawaDarkSelectedBg = "#223249"

	kanagawaLightGreen      = "#4E7C5A"
	kanagawaLightYellow     = "#A68A64"
	kanagawaLightRed        = "#C34043"
	kanagawaLightCyan       = "#5B8BBE"
	kanagawaLightViolet     = "#674D7A"
	kanagawaLightLightText  = "#2B2F42"
	kanagawaLightMutedText  = "#6C7086"
	kanagawaLightBorder     = "#B5BDC5"
	kanagawaLightSelectedBg = "#E2E6F3"
)

// Colors is the palette a Theme renders with.
type Colors struct {
	Green      lipgloss.TerminalColor
	Yellow     lipgloss.TerminalColor
	Red        lipgloss.TerminalColor
	Cyan       lipgloss.TerminalColor
	Violet     lipgloss.TerminalColor
	LightText  lipgloss.TerminalColor
	MutedText  lipgloss.TerminalColor
	Border     lipgloss.TerminalColor
	SelectedBg lipgloss.TerminalColor
}

// Theme holds the styles shared by the CLI, the watch TUI and the log formatter.
type Theme struct {
	Colors Colors

	Header   lipgloss.Style
	Accent   lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Info     lipgloss.Style
	Selected lipgloss.Style
	Box      lipgloss.Style
}

// DefaultTheme is resolved once from the environment.
var DefaultTheme = New(os.Getenv(ThemeEnv))

// New builds the named theme, falling back to kanagawa.
func New(name string) *Theme {
	var c Colors
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "terminal":
		c = Colors{
			Green:      lipgloss.Color("2"),
			Yellow:     lipgloss.Color("3"),
			Red:        lipgloss.Color("1"),
			Cyan:       lipgloss.Color("6"),
			Violet:     lipgloss.Color("5"),
			LightText:  lipgloss.Color("7"),
			MutedText:  lipgloss.Color("8"),
			Border:     lipgloss.Color("8"),
			SelectedBg: lipgloss.Color("8"),
		}
	default:
		c = Colors{
			Green:      lipgloss.AdaptiveColor{Light: kanagawaLightGreen, Dark: kanagawaDarkGreen},
			Yellow:     lipgloss.AdaptiveColor{Light: kanagawaLightYellow, Dark: kanagawaDarkYellow},
			Red:        lipgloss.AdaptiveColor{Light: kanagawaLightRed, Dark: kanagawaDarkRed},
			Cyan:       lipgloss.AdaptiveColor{Light: kanagawaLightCyan, Dark: kanagawaDarkCyan},
			Violet:     lipgloss.AdaptiveColor{Light: kanagawaLightViolet, Dark: kanagawaDarkViolet},
			LightText:  lipgloss.AdaptiveColor{Light: kanagawaLightLightText, Dark: kanagawaDarkLightText},
			MutedText:  lipgloss.AdaptiveColor{Light: kanagawaLightMutedText, Dark: kanagawaDarkMutedText},
			Border:     lipgloss.AdaptiveColor{Light: kanagawaLightBorder, Dark: kanagawaDarkBorder},
			SelectedBg: lipgloss.AdaptiveColor{Light: kanagawaLightSelectedBg, Dark: kanagawaDarkSelectedBg},
		}
	}

	return &Theme{
		Colors:   c,
		Header:   lipgloss.NewStyle().Bold(true).Foreground(c.Cyan),
		Accent:   lipgloss.NewStyle().Foreground(c.Violet),
		Muted:    lipgloss.NewStyle().Foreground(c.MutedText),
		Success:  lipgloss.NewStyle().Foreground(c.Green),
		Warning:  lipgloss.NewStyle().Foreground(c.Yellow),
		Error:    lipgloss.NewStyle().Bold(true).Foreground(c.Red),
		Info:     lipgloss.NewStyle().Foreground(c.LightText),
		Selected: lipgloss.NewStyle().Background(c.SelectedBg).Bold(true),
		Box:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(c.Border).Padding(0, 1),
	}
}

// StatusStyle picks the style for an activity status or log level name.
func (t *Theme) StatusStyle(status string) lipgloss.Style {
	switch strings.ToLower(status) {
	case "succeeded", "info":
		return t.Success
	case "failed", "error", "fatal", "panic":
		return t.Error
	case "cancelled", "warn", "warning":
		return t.Warning
	case "running":
		return t.Accent
	default:
		return t.Muted
	}
}
