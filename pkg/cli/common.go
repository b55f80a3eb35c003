package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

const UsageTemplate = `
Usage:{{if .Runnable}}
{{if .HasAvailableFlags}}{{appendIfNotPresent .UseLine "[flags]"}}{{else}}{{.UseLine}}{{end}}{{end}}{{if .HasAvailableSubCommands}}
{{.CommandPath}} [command]{{end}}{{if gt .Aliases 0}}

Aliases:
{{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if .IsAvailableCommand}}
{{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
{{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

var (
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")) // blue
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))  // green
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
)

// ProgressPrinter writes download status lines to a terminal. It is safe for concurrent use.
type ProgressPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func NewProgressPrinter(out io.Writer) *ProgressPrinter {
	return &ProgressPrinter{out: out}
}

// Print styles msg by what it reports and writes it on its own line.
func (p *ProgressPrinter) Print(msg string) {
	style := pendingStyle
	switch {
	case strings.HasPrefix(msg, "Downloaded"):
		style = successStyle
	case strings.HasSuffix(msg, "already complete"):
		style = warningStyle
	}
	p.write(style.Render("• " + msg))
}

func (p *ProgressPrinter) Error(msg string) {
	p.write(errorStyle.Render("✗ " + msg))
}

func (p *ProgressPrinter) write(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, line)
}
