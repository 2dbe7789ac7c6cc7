package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mmcdole/lull/internal/domain"
)

// Color palette
var (
	Dusk      = lipgloss.Color("#8B7CF6")
	DimGray   = lipgloss.Color("#6B7280")
	LightGray = lipgloss.Color("#9CA3AF")
	White     = lipgloss.Color("#F9FAFB")
	Green     = lipgloss.Color("#10B981")
	Red       = lipgloss.Color("#EF4444")
	Amber     = lipgloss.Color("#F59E0B")
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(White).
			Bold(true)

	DimStyle = lipgloss.NewStyle().
			Foreground(DimGray)

	LabelStyle = lipgloss.NewStyle().
			Foreground(LightGray)

	AccentStyle = lipgloss.NewStyle().
			Foreground(Dusk)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Red)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Green)

	WarnStyle = lipgloss.NewStyle().
			Foreground(Amber)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(Dusk)
)

// Frame wraps the whole view
var Frame = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(DimGray).
	Padding(0, 1)

// Help styles
var (
	HelpKeyStyle  = lipgloss.NewStyle().Foreground(Dusk)
	HelpDescStyle = lipgloss.NewStyle().Foreground(DimGray)
)

// Raw status characters (unstyled)
const (
	PendingChar   = "○"
	ActiveChar    = "◐"
	DoneChar      = "✓"
	FailedChar    = "✗"
	PausedChar    = "‖"
	RemovedChar   = "–"
	FromCacheChar = "≈"
)

// StatusIcon renders the glyph for a download status.
func StatusIcon(s domain.DownloadStatus) string {
	switch s {
	case domain.StatusCompleted:
		return SuccessStyle.Render(DoneChar)
	case domain.StatusFailed:
		return ErrorStyle.Render(FailedChar)
	case domain.StatusPaused:
		return WarnStyle.Render(PausedChar)
	case domain.StatusDownloading:
		return AccentStyle.Render(ActiveChar)
	default:
		return DimStyle.Render(PendingChar)
	}
}

// Truncate truncates a string to the given width with ellipsis
func Truncate(s string, width int) string {
	r := []rune(s)
	if width <= 0 {
		return ""
	}
	if len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}

// Pad pads a string to the given width
func Pad(s string, width int) string {
	r := []rune(s)
	if len(r) >= width {
		return string(r[:width])
	}
	return s + spaces(width-len(r))
}

func spaces(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}
