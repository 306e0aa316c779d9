package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// ui writes command output. Styled tables are only used on a terminal; piped
// output is tab separated so scripts can cut it.
type ui struct {
	out io.Writer
	tty bool

	title lipgloss.Style
	head  lipgloss.Style
	ok    lipgloss.Style
	bad   lipgloss.Style
	faint lipgloss.Style
}

func newUI(out io.Writer) *ui {
	u := &ui{out: out}
	if f, ok := out.(*os.File); ok {
		u.tty = term.IsTerminal(int(f.Fd()))
	}

	r := lipgloss.NewRenderer(out)
	u.title = r.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	u.head = r.NewStyle().Bold(true).Underline(true)
	u.ok = r.NewStyle().Foreground(lipgloss.Color("10"))
	u.bad = r.NewStyle().Foreground(lipgloss.Color("9"))
	u.faint = r.NewStyle().Faint(true)
	return u
}

func (u *ui) Title(s string) {
	fmt.Fprintln(u.out, u.title.Render(s))
}

func (u *ui) OK(format string, args ...interface{}) {
	fmt.Fprintln(u.out, u.ok.Render("✓")+" "+fmt.Sprintf(format, args...))
}

func (u *ui) Fail(format string, args ...interface{}) {
	fmt.Fprintln(u.out, u.bad.Render("✗")+" "+fmt.Sprintf(format, args...))
}

func (u *ui) Note(format string, args ...interface{}) {
	fmt.Fprintln(u.out, u.faint.Render(fmt.Sprintf(format, args...)))
}

// Table prints rows under header. Column widths fit the widest cell, capped
// so the table stays within the terminal.
func (u *ui) Table(header []string, rows [][]string) {
	if !u.tty {
		fmt.Fprintln(u.out, strings.Join(header, "\t"))
		for _, row := range rows {
			fmt.Fprintln(u.out, strings.Join(row, "\t"))
		}
		return
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}
	if f, ok := u.out.(*os.File); ok {
		if total, _, err := term.GetSize(int(f.Fd())); err == nil && total > 0 {
			limit := total/len(widths) - 2
			for i := range widths {
				if limit > 8 && widths[i] > limit {
					widths[i] = limit
				}
			}
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = style.Width(widths[i]).MaxWidth(widths[i]).Render(cell)
		}
		return strings.Join(parts, "  ")
	}

	fmt.Fprintln(u.out, line(header, u.head))
	for _, row := range rows {
		fmt.Fprintln(u.out, line(row, lipgloss.NewStyle()))
	}
}
