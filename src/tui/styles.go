package tui

import (
	"github.com/charmbracelet/lipgloss"

	"pipeline-relay/src/snapshot"
)

// StyleConfig holds all customizable style colors for the monitor.
type StyleConfig struct {
	PrimaryBlue   lipgloss.Color
	TextPrimary   lipgloss.Color
	TextSecondary lipgloss.Color

	// Stage colors by outcome
	Success lipgloss.Color
	Failure lipgloss.Color
	Active  lipgloss.Color
	Muted   lipgloss.Color
}

// DefaultStyles returns the default color palette
func DefaultStyles() *StyleConfig {
	return &StyleConfig{
		PrimaryBlue:   lipgloss.Color("#8AB4F8"),
		TextPrimary:   lipgloss.Color("#E8EAED"),
		TextSecondary: lipgloss.Color("#9AA0A6"),
		Success:       lipgloss.Color("#34A853"), // Green
		Failure:       lipgloss.Color("#EA4335"), // Red
		Active:        lipgloss.Color("#FBBC04"), // Yellow
		Muted:         lipgloss.Color("#5F6368"),
	}
}

// TitleStyle returns a title lipgloss style using this config
func (s *StyleConfig) TitleStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.PrimaryBlue).
		Bold(true).
		Padding(0, 1)
}

// HelpStyle returns a help text lipgloss style using this config
func (s *StyleConfig) HelpStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.TextSecondary).
		Faint(true).
		Padding(0, 1)
}

// HeaderStyle is used for the stage table column headings.
func (s *StyleConfig) HeaderStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.TextPrimary).
		Bold(true).
		Underline(true)
}

// StatusStyle colors a stage status.
func (s *StyleConfig) StatusStyle(st snapshot.Status) lipgloss.Style {
	style := lipgloss.NewStyle()
	switch {
	case st == snapshot.StatusSuccess:
		return style.Foreground(s.Success)
	case st == snapshot.StatusFailure || st == snapshot.StatusAborted:
		return style.Foreground(s.Failure).Bold(true)
	case st.Active():
		return style.Foreground(s.Active)
	default:
		return style.Foreground(s.Muted)
	}
}
