// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program for the monitor
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the TUI and returns the program for Send/Quit control.
func Run() (*tea.Program, error) {
	p := tea.NewProgram(Model{}, tea.WithAltScreen())
	return p, nil
}
