// Package replay renders a thread's session log as a timeline for
// after-the-fact review.
package replay

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Event color scheme. Each event family has a distinct, consistent color.
var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - timestamps, metadata

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - labels

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")) // White - values

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")) // White bold - headers

	// Node runs - Blue
	nodeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12"))

	// Routing - Magenta
	routeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13"))

	// Human review - Yellow
	humanStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11"))

	// Outcomes
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")) // Green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // Red

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")) // Yellow

	seqStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Width(5).
			Align(lipgloss.Right)

	contentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7")).
			Italic(true)

	divider = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		Render(strings.Repeat("━", 60))
)
