package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Teal     = lipgloss.Color("#0d7377")
	OffWhite = lipgloss.Color("#f8f7f4")
	DarkGray = lipgloss.Color("#333333")
	Amber    = lipgloss.Color("#e0a526")
	Red      = lipgloss.Color("#d64545")
	Muted    = lipgloss.Color("#8a8a8a")

	// Styles
	BannerStyle = lipgloss.NewStyle().
			Background(Teal).
			Foreground(OffWhite).
			Bold(true).
			Padding(0, 1)

	InputBarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Teal).
			Padding(0, 1)

	UserMessageStyle = lipgloss.NewStyle().
				Foreground(OffWhite).
				Bold(true)

	SourceStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Italic(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Red)

	NoticeStyle = lipgloss.NewStyle().
			Foreground(Amber)

	HelpStyle = lipgloss.NewStyle().
			Foreground(Muted)
)
