package output

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"
)

// Catppuccin Mocha palette.
var (
	colorGreen   = lipgloss.Color("#a6e3a1")
	colorRed     = lipgloss.Color("#f38ba8")
	colorYellow  = lipgloss.Color("#f9e2af")
	colorBlue    = lipgloss.Color("#89b4fa")
	colorMauve   = lipgloss.Color("#cba6f7")
	colorOverlay = lipgloss.Color("#6c7086")
)

// Styles holds the text-mode styles. With color off every style renders
// its input unchanged.
type Styles struct {
	Color  bool
	Title  lipgloss.Style
	Label  lipgloss.Style
	Muted  lipgloss.Style
	Good   lipgloss.Style
	Bad    lipgloss.Style
	Warn   lipgloss.Style
	Header lipgloss.Style
}

// NewStyles returns the palette, or plain styles when color is false.
func NewStyles(color bool) *Styles {
	if !color {
		plain := lipgloss.NewStyle()
		return &Styles{
			Title: plain, Label: plain, Muted: plain,
			Good: plain, Bad: plain, Warn: plain, Header: plain,
		}
	}
	return &Styles{
		Color:  true,
		Title:  lipgloss.NewStyle().Bold(true).Foreground(colorMauve),
		Label:  lipgloss.NewStyle().Foreground(colorBlue),
		Muted:  lipgloss.NewStyle().Foreground(colorOverlay),
		Good:   lipgloss.NewStyle().Bold(true).Foreground(colorGreen),
		Bad:    lipgloss.NewStyle().Bold(true).Foreground(colorRed),
		Warn:   lipgloss.NewStyle().Bold(true).Foreground(colorYellow),
		Header: lipgloss.NewStyle().Bold(true).Foreground(colorBlue),
	}
}

// Badge renders a command status or rule action.
func (s *Styles) Badge(status string) string {
	label := "[" + status + "]"
	switch strings.ToUpper(status) {
	case "EXECUTED", "AUTO_ACCEPT", "APPROVED":
		return s.Good.Render(label)
	case "REJECTED", "AUTO_REJECT":
		return s.Bad.Render(label)
	case "PENDING_APPROVAL", "PENDING":
		return s.Warn.Render(label)
	default:
		return s.Muted.Render(label)
	}
}

// Severity renders a conflict severity.
func (s *Styles) Severity(sev string) string {
	switch strings.ToUpper(sev) {
	case "HIGH":
		return s.Bad.Render(sev)
	case "MEDIUM":
		return s.Warn.Render(sev)
	default:
		return s.Muted.Render(sev)
	}
}

// Table renders rows under headers. Without color the table is plain
// whitespace-aligned text.
func (s *Styles) Table(headers []string, rows [][]string) string {
	if !s.Color {
		return plainTable(headers, rows)
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(s.Muted).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.Header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	return t.Render()
}

func plainTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, r := range rows {
		for i := 0; i < len(r) && i < len(widths); i++ {
			if w := lipgloss.Width(r[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	line := func(cells []string) {
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == len(widths)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
		}
		b.WriteString("\n")
	}
	line(headers)
	for _, r := range rows {
		line(r)
	}
	return strings.TrimRight(b.String(), "\n")
}

// IsTerminal reports whether w is a terminal and NO_COLOR is unset.
func IsTerminal(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
