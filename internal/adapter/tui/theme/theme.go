// Package theme holds the terminal styles of the aichat CLI. Colors adapt to
// light and dark terminals.
//
// NO_COLOR (https://no-color.org/) is respected by lipgloss through its color
// profile detection.
package theme

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette. Light values target white backgrounds.
var (
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#15803d", Dark: "#4ade80"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#b91c1c", Dark: "#f87171"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#b45309", Dark: "#fbbf24"}
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#1d4ed8", Dark: "#60a5fa"}
	ColorAccent  = lipgloss.AdaptiveColor{Light: "#7e22ce", Dark: "#c084fc"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#9ca3af"}
	ColorBorder  = lipgloss.AdaptiveColor{Light: "#d1d5db", Dark: "#4b5563"}
	ColorSubtle  = lipgloss.AdaptiveColor{Light: "#9ca3af", Dark: "#6b7280"}
)

var (
	Bold = lipgloss.NewStyle().Bold(true)
	Dim  = lipgloss.NewStyle().Faint(true)

	TextSuccess = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	TextError   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	TextWarning = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	TextInfo    = lipgloss.NewStyle().Foreground(ColorInfo)
	TextMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
)

// Role labels.
var (
	UserLabel      = lipgloss.NewStyle().Foreground(ColorInfo).Bold(true)
	AssistantLabel = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	SystemLabel    = lipgloss.NewStyle().Foreground(ColorMuted).Italic(true)
	Timestamp      = lipgloss.NewStyle().Foreground(ColorSubtle)

	// Prompt is the chat input prefix ("model >").
	Prompt = lipgloss.NewStyle().Foreground(ColorAccent)
)

// Stats card.
var (
	Card = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1)

	StatValue = lipgloss.NewStyle().Foreground(ColorInfo).Bold(true)
	StatLabel = lipgloss.NewStyle().Foreground(ColorMuted)
)

// MaxContentWidth caps the Markdown wrap width on wide terminals.
const MaxContentWidth = 100
