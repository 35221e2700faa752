package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerRowStyle   = lipgloss.NewStyle().Foreground(colorPrimary)
	bannerTitleStyle = lipgloss.NewStyle().Foreground(colorText).Bold(true)
	bannerTagStyle   = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)
)

// renderBanner draws crop rows under the product name.
func renderBanner() string {
	rows := bannerRowStyle.Render(strings.Repeat("ᛉ ", 9))
	return strings.Join([]string{
		"  " + bannerTitleStyle.Render("FIELDSYNC"),
		"  " + bannerTagStyle.Render("records from the field, in sync"),
		rows,
	}, "\n")
}
