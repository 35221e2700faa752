package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	helpHeaderStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	helpCmdStyle    = lipgloss.NewStyle().Foreground(colorPrimaryLight)
)

// styleFunc applies style only when writing to a terminal.
func styleFunc(style lipgloss.Style) func(string) string {
	return func(s string) string {
		if isTTY() {
			return style.Render(s)
		}
		return s
	}
}

const helpTemplate = `{{with .Long}}{{. | trimTrailingWhitespaces}}

{{end}}{{if or .Runnable .HasSubCommands}}{{header "Usage:"}}
  {{cmd .UseLine}}{{if .HasAvailableSubCommands}} {{muted "[command]"}}{{end}}

{{end}}{{if .HasAvailableSubCommands}}{{header "Commands:"}}
{{range .Commands}}{{if .IsAvailableCommand}}  {{cmd (rpad .Name .NamePadding)}} {{.Short}}
{{end}}{{end}}
{{end}}{{if .HasAvailableLocalFlags}}{{header "Flags:"}}
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableInheritedFlags}}{{header "Global Flags:"}}
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableSubCommands}}{{muted "Run"}} {{cmd (printf "%s [command] --help" .CommandPath)}} {{muted "for details on a command."}}
{{end}}`

// initHelp installs the styled help template on cmd and its subcommands.
func initHelp(cmd *cobra.Command) {
	cobra.AddTemplateFunc("header", styleFunc(helpHeaderStyle))
	cobra.AddTemplateFunc("cmd", styleFunc(helpCmdStyle))
	cobra.AddTemplateFunc("muted", styleFunc(mutedStyle))

	var apply func(*cobra.Command)
	apply = func(c *cobra.Command) {
		c.SetHelpTemplate(helpTemplate)
		for _, sub := range c.Commands() {
			apply(sub)
		}
	}
	apply(cmd)
}
