package main

import "github.com/charmbracelet/lipgloss"

// Theme defines the colours used by events and dash.
type Theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

func defaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("12"),  // Blue
		Success: lipgloss.Color("10"),  // Green
		Warning: lipgloss.Color("11"),  // Yellow
		Error:   lipgloss.Color("9"),   // Red
		Muted:   lipgloss.Color("240"), // Gray
	}
}

// stateColor maps a lifecycle state to a theme colour.
func (t Theme) stateColor(state string) lipgloss.Color {
	switch state {
	case "running":
		return t.Success
	case "starting", "restarting", "exited":
		return t.Warning
	case "stopped":
		return t.Error
	default:
		return t.Muted
	}
}
