package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

var (
	colorPrimary      = lipgloss.Color("#4D8B31")
	colorPrimaryLight = lipgloss.Color("#7FB85E")
	colorText         = lipgloss.Color("#F2F3F3")
	colorMuted        = lipgloss.Color("240")

	colorSuccess = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
)

var (
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(colorPrimary)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	labelStyle   = lipgloss.NewStyle().Foreground(colorPrimaryLight).Bold(true)
	valueStyle   = lipgloss.NewStyle().Foreground(colorText)
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorPrimary).Padding(0, 1)
)

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "⚠"
	iconInfo    = "●"
)

// testIsTTYOverride forces isTTY's answer in tests.
var (
	testIsTTYMutex    sync.Mutex
	testIsTTYOverride *bool
)

// isTTY returns true if stdout is a terminal.
func isTTY() bool {
	testIsTTYMutex.Lock()
	override := testIsTTYOverride
	testIsTTYMutex.Unlock()
	if override != nil {
		return *override
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func printStyled(w io.Writer, icon string, style lipgloss.Style, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if isTTY() {
		fmt.Fprintf(w, "%s %s\n", style.Render(icon), msg)
	} else {
		fmt.Fprintf(w, "%s %s\n", icon, msg)
	}
}

func printSuccess(w io.Writer, format string, args ...any) {
	printStyled(w, iconSuccess, successStyle, format, args...)
}

func printError(w io.Writer, format string, args ...any) {
	printStyled(w, iconError, errorStyle, format, args...)
}

func printWarning(w io.Writer, format string, args ...any) {
	printStyled(w, iconWarning, warningStyle, format, args...)
}

func printInfo(w io.Writer, format string, args ...any) {
	printStyled(w, iconInfo, infoStyle, format, args...)
}

func printMuted(w io.Writer, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if isTTY() {
		fmt.Fprintln(w, mutedStyle.Render(msg))
	} else {
		fmt.Fprintln(w, msg)
	}
}

// printField prints a "label: value" line, aligned to width.
func printField(w io.Writer, label string, width int, value string) {
	label = fmt.Sprintf("%-*s", width, label+":")
	if isTTY() {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label), valueStyle.Render(value))
	} else {
		fmt.Fprintf(w, "%s %s\n", label, value)
	}
}

// renderTable renders rows with a bordered table on a terminal and as
// tab-separated text otherwise.
func renderTable(headers []string, rows [][]string) string {
	if !isTTY() {
		var sb strings.Builder
		if len(headers) > 0 {
			sb.WriteString(strings.Join(headers, "\t"))
			sb.WriteString("\n")
		}
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
		return sb.String()
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorMuted)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return labelStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...).
		Rows(rows...)
	return t.Render() + "\n"
}

// renderPanel draws content in a bordered panel with an optional title.
func renderPanel(title, content string) string {
	if !isTTY() {
		if title == "" {
			return content
		}
		return title + "\n" + content
	}
	if title != "" {
		content = labelStyle.Render(title) + "\n" + content
	}
	return panelStyle.Render(content)
}

// renderMarkdown renders markdown content with glamour on a terminal.
func renderMarkdown(content string) string {
	if !isTTY() || !hasMarkdown(content) {
		return content
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return content
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(rendered)
}

// hasMarkdown checks if content contains markdown-like syntax.
// Ordered from most specific to least to reduce false positives.
func hasMarkdown(content string) bool {
	markers := []string{
		"```",
		"## ",
		"# ",
		"**",
		"1. ",
		"- ",
		"* ",
		"](http",
		"`",
	}
	for _, marker := range markers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}
