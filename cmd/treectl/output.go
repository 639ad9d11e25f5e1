package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#5C7A84")
)

// printer writes command results. Styling is applied only when the writer is
// a terminal, so piped output stays plain.
type printer struct {
	w      io.Writer
	styled bool

	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
	box     lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w, styled: isTerminal(w)}
	p.success = lipgloss.NewStyle().Foreground(colorSuccess)
	p.warning = lipgloss.NewStyle().Foreground(colorWarning)
	p.failure = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	p.muted = lipgloss.NewStyle().Foreground(colorMuted)
	p.box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorError).
		Padding(0, 1)
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) render(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

// Println writes an unstyled line.
func (p *printer) Println(a ...any) {
	fmt.Fprintln(p.w, a...)
}

func (p *printer) OK(format string, a ...any) {
	fmt.Fprintln(p.w, p.render(p.success, "✓ "+fmt.Sprintf(format, a...)))
}

func (p *printer) Warn(format string, a ...any) {
	fmt.Fprintln(p.w, p.render(p.warning, "⚠ "+fmt.Sprintf(format, a...)))
}

func (p *printer) Fail(format string, a ...any) {
	fmt.Fprintln(p.w, p.render(p.failure, "✗ "+fmt.Sprintf(format, a...)))
}

func (p *printer) Muted(format string, a ...any) {
	fmt.Fprintln(p.w, p.render(p.muted, fmt.Sprintf(format, a...)))
}

// Alert writes a framed message for failures that need manual attention.
func (p *printer) Alert(title, body string) {
	if !p.styled {
		fmt.Fprintf(p.w, "%s\n%s\n", title, body)
		return
	}
	fmt.Fprintln(p.w, p.box.Render(p.failure.Render(title)+"\n"+body))
}
