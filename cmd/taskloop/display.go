// Package main provides terminal styling for progress output.
package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/vinayprograms/taskloop/internal/executor"
)

var (
	nodeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")) // Blue

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray

	pausedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11")) // Yellow

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")) // Green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // Red

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")) // White bold
)

// statusLine renders the exit status of a run.
func statusLine(status executor.Status) string {
	switch status {
	case executor.StatusCompleted:
		return successStyle.Render("✓ Task complete")
	case executor.StatusPaused:
		return pausedStyle.Render("⏸ Task paused at a breakpoint")
	case executor.StatusHaltedOnLimit:
		return pausedStyle.Render("■ Task halted at the iteration cap")
	case executor.StatusFailed:
		return errorStyle.Render("✗ Task failed")
	default:
		return dimStyle.Render("… Task " + string(status))
	}
}
