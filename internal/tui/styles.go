package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/connor-davis/threereco-admin/notify"
)

// CursorMarker is the prefix shown on the selected row.
const CursorMarker = "▸ "

var (
	titleText = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "42"})
	mutedText = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "245"})
	matchText = lipgloss.NewStyle().Bold(true).Underline(true)
	errorText = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "1", Dark: "9"})
	successText = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "2", Dark: "10"})
	promptBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "1", Dark: "9"}).
			Padding(0, 1)
)

// highlight renders label with the characters at matched positions emphasised.
func highlight(label string, matched []int) string {
	if len(matched) == 0 {
		return label
	}
	hit := make(map[int]bool, len(matched))
	for _, i := range matched {
		hit[i] = true
	}
	var b strings.Builder
	for i, r := range label {
		if hit[i] {
			b.WriteString(matchText.Render(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// noticeLine renders the most recent notification.
func noticeLine(n notify.Notification) string {
	text := n.Title
	if n.Message != "" {
		text += ": " + n.Message
	}
	switch n.Level {
	case notify.LevelError:
		return errorText.Render("✗ " + text)
	case notify.LevelSuccess:
		return successText.Render("✓ " + text)
	default:
		return mutedText.Render("• " + text)
	}
}
