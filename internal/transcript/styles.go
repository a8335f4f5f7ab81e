// Package transcript renders a run's turn log for terminals.
package transcript

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - metadata, gutters

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	// Roles
	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10")) // Green

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")) // Blue

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13")) // Magenta

	// Outcomes
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	seqStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Width(4).
			Align(lipgloss.Right)
)

// painter applies a style, or nothing when color is off.
type painter struct {
	color bool
}

func (p painter) paint(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// seq right-aligns a sequence number. Plain output pads by hand so widths match.
func (p painter) seq(text string) string {
	if !p.color {
		if len(text) < 4 {
			text = strings.Repeat(" ", 4-len(text)) + text
		}
		return text
	}
	return seqStyle.Render(text)
}

func (p painter) divider(width int) string {
	return p.paint(dimStyle, strings.Repeat("━", width))
}
