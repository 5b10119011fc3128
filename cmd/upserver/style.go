package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"upserver/pkg/protocol"
)

var (
	styleRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleStarting = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	styleStopped  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleError    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// isStdoutTTY reports whether stdout is an interactive terminal. Piped
// output stays plain so scripts can parse it.
func isStdoutTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// renderState colors a server state for human eyes, plain otherwise.
func renderState(state protocol.ServerState) string {
	if !isStdoutTTY() {
		return string(state)
	}
	switch state {
	case protocol.StateRunning:
		return styleRunning.Render(string(state))
	case protocol.StateStarting:
		return styleStarting.Render(string(state))
	case protocol.StateError:
		return styleError.Render(string(state))
	default:
		return styleStopped.Render(string(state))
	}
}
