package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4")).Bold(true)
	subtitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	spinnerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#45B7D1"))
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	doneStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#96E6A1"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	retryStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC857"))
	cachedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	footerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)
