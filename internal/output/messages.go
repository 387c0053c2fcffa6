package output

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Style colours a status message.
type Style struct {
	lipgloss.Style
}

var (
	Default = Style{lipgloss.NewStyle()}
	Success = Style{lipgloss.NewStyle().Foreground(lipgloss.Color("42"))}
	Warning = Style{lipgloss.NewStyle().Foreground(lipgloss.Color("214"))}
	Error   = Style{lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)}
	Alert   = Style{lipgloss.NewStyle().Foreground(lipgloss.Color("39"))}
)

// Say prints a styled message on the message stream.
func (p *Printer) Say(style Style, format string, args ...any) {
	fmt.Fprintln(p.msgs, style.Render(fmt.Sprintf(format, args...)))
}

// Success reports a completed mutation.
func (p *Printer) Success(format string, args ...any) { p.Say(Success, format, args...) }

// Warning reports something the operator should look at.
func (p *Printer) Warning(format string, args ...any) { p.Say(Warning, format, args...) }

// Error reports a failure.
func (p *Printer) Error(format string, args ...any) { p.Say(Error, format, args...) }

// Alert reports progress through a longer task.
func (p *Printer) Alert(format string, args ...any) { p.Say(Alert, format, args...) }

// Confirm asks a yes/no question. Only an explicit "y" counts as yes; end of
// input counts as no.
func (p *Printer) Confirm(style Style, prompt string) (bool, error) {
	fmt.Fprint(p.msgs, style.Render(prompt+" [y/N] "))

	answer, err := p.in.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("read answer: %w", err)
		}
		fmt.Fprintln(p.msgs)
	}
	return strings.EqualFold(strings.TrimSpace(answer), "y"), nil
}
