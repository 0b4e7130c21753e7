// Package ui provides console output helpers for nodesup
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles for consistent UI
var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

// UI writes human readable output
type UI struct {
	out io.Writer
	err io.Writer
}

// NewUI creates a UI on stdout and stderr
func NewUI() *UI {
	return New(os.Stdout, os.Stderr)
}

// New creates a UI on the given writers
func New(out, err io.Writer) *UI {
	return &UI{out: out, err: err}
}

// Success prints a success message
func (ui *UI) Success(msg string) {
	fmt.Fprintln(ui.out, successStyle.Render("✓ "+msg))
}

// Error prints an error message
func (ui *UI) Error(msg string) {
	fmt.Fprintln(ui.err, errorStyle.Render("✗ "+msg))
}

// Warning prints a warning message
func (ui *UI) Warning(msg string) {
	fmt.Fprintln(ui.out, warningStyle.Render("⚠ "+msg))
}

// Info prints an info message
func (ui *UI) Info(msg string) {
	fmt.Fprintln(ui.out, infoStyle.Render(msg))
}

// Println prints a plain line
func (ui *UI) Println(msg string) {
	fmt.Fprintln(ui.out, msg)
}

// Write passes raw bytes through, for JSON documents
func (ui *UI) Write(p []byte) (int, error) {
	return ui.out.Write(p)
}

// KeyValue prints a key-value pair
func (ui *UI) KeyValue(key, value string) {
	fmt.Fprintf(ui.out, "  %s: %s\n", subtleStyle.Render(key), value)
}

// Tail prints captured log lines indented under a failure
func (ui *UI) Tail(lines []string) {
	for _, l := range lines {
		fmt.Fprintln(ui.err, subtleStyle.Render("    | "+l))
	}
}

// State renders a node state, colored by outcome
func State(s string) string {
	switch strings.ToLower(s) {
	case "live":
		return successStyle.Render(s)
	case "dead":
		return errorStyle.Render(s)
	case "starting":
		return warningStyle.Render(s)
	default:
		return subtleStyle.Render(s)
	}
}

// Table prints aligned columns
type Table struct {
	ui      *UI
	headers []string
	rows    [][]string
}

// NewTable creates a new table
func (ui *UI) NewTable(headers ...string) *Table {
	return &Table{ui: ui, headers: headers}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render renders the table
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	header := make([]string, len(t.headers))
	for i, h := range t.headers {
		header[i] = padRight(h, widths[i])
	}
	t.ui.Println(headerStyle.Render(strings.Join(header, "  ")))

	for _, row := range t.rows {
		cells := make([]string, len(t.headers))
		for i := range t.headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			cells[i] = padRight(cell, widths[i])
		}
		t.ui.Println(strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

// padRight pads to a display width, ignoring ANSI styling
func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
