package tui

// TUI package provides terminal output helpers:
//   - Coloured status lines ([OK], [WARN], [ERROR], ...)
//   - Colour only when writing to a terminal and NO_COLOR is unset
//   - Section headers and key/value tables for status output

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// =============================================================================
// COLORS
// =============================================================================

const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
	ColorGreen  = "\033[0;32m"
	ColorBlue   = "\033[0;34m"
	ColorCyan   = "\033[0;36m"
	ColorYellow = "\033[1;33m"
	ColorRed    = "\033[0;31m"
)

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Printer writes user-facing messages.
type Printer struct {
	out   io.Writer
	color bool
}

// NewPrinter returns a printer for out. Colour is enabled for terminals
// unless NO_COLOR is set.
func NewPrinter(out io.Writer) *Printer {
	_, noColor := os.LookupEnv("NO_COLOR")
	return &Printer{out: out, color: !noColor && IsTerminal(out)}
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

func (p *Printer) paint(color, s string) string {
	if !p.color {
		return s
	}
	return color + s + ColorReset
}

// =============================================================================
// PRINT FUNCTIONS
// =============================================================================

// Println prints a plain line.
func (p *Printer) Println(msg string) {
	fmt.Fprintln(p.out, msg)
}

// Header prints a styled section header.
func (p *Printer) Header(title string) {
	fmt.Fprintf(p.out, "%s\n", p.paint(ColorBold+ColorCyan, title))
}

// Success prints a success message with green [OK] prefix.
func (p *Printer) Success(msg string) {
	fmt.Fprintf(p.out, "%s %s\n", p.paint(ColorGreen, "[OK]"), msg)
}

// Info prints an info message with blue [INFO] prefix.
func (p *Printer) Info(msg string) {
	fmt.Fprintf(p.out, "%s %s\n", p.paint(ColorBlue, "[INFO]"), msg)
}

// Warn prints a warning message with yellow [WARN] prefix.
func (p *Printer) Warn(msg string) {
	fmt.Fprintf(p.out, "%s %s\n", p.paint(ColorYellow, "[WARN]"), msg)
}

// Error prints an error message with red [ERROR] prefix.
func (p *Printer) Error(msg string) {
	fmt.Fprintf(p.out, "%s %s\n", p.paint(ColorRed, "[ERROR]"), msg)
}

// Field prints an indented "label: value" line; empty values print dimmed.
func (p *Printer) Field(label, value string) {
	if value == "" {
		value = p.paint(ColorDim, "(not set)")
	}
	fmt.Fprintf(p.out, "  %-14s %s\n", label+":", value)
}
