package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/thruflo/clave/internal/cycle"
)

// Palette.
var (
	ColorRunning   = lipgloss.Color("#22c55e")
	ColorPaused    = lipgloss.Color("#d97706")
	ColorCompleted = lipgloss.Color("#3b82f6")
	ColorStopped   = lipgloss.Color("#dc2626")
	ColorIdle      = lipgloss.Color("#6b7280")
	ColorPressure  = lipgloss.Color("#4aa3ff")
	ColorTemp      = lipgloss.Color("#ff8a4a")
	ColorBorder    = lipgloss.Color("#4b5563")
	ColorDimmed    = lipgloss.Color("#9ca3af")
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(ColorDimmed).Width(12)
	dimStyle    = lipgloss.NewStyle().Foreground(ColorDimmed)
	errorStyle  = lipgloss.NewStyle().Foreground(ColorStopped)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(ColorBorder).Padding(0, 1)
	badgeStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#f9fafb"))
	pressureFmt = lipgloss.NewStyle().Foreground(ColorPressure)
	tempFmt     = lipgloss.NewStyle().Foreground(ColorTemp)
)

// StatusColor returns the badge color for a status.
func StatusColor(status cycle.Status) lipgloss.Color {
	switch status {
	case cycle.StatusRunning:
		return ColorRunning
	case cycle.StatusPaused:
		return ColorPaused
	case cycle.StatusCompleted:
		return ColorCompleted
	case cycle.StatusStopped:
		return ColorStopped
	default:
		return ColorIdle
	}
}

// FormatStatus renders a status as a colored badge.
func FormatStatus(status cycle.Status) string {
	return badgeStyle.Background(StatusColor(status)).Render(strings.ToUpper(string(status)))
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the last width values scaled between their min and max.
// A flat series renders at the lowest level.
func Sparkline(values []float64, width int) string {
	if width <= 0 || len(values) == 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo

	var b strings.Builder
	top := len(sparkRunes) - 1
	for _, v := range values {
		i := 0
		if span > 0 {
			i = int(math.Round((v - lo) / span * float64(top)))
		}
		b.WriteRune(sparkRunes[i])
	}
	return b.String()
}

// FormatMinutes renders fractional minutes as "1h02m03s", "12m30s" or "45s".
func FormatMinutes(minutes float64) string {
	if minutes < 0 {
		minutes = 0
	}
	total := int(math.Round(minutes * 60))
	h, m, s := total/3600, total/60%60, total%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
