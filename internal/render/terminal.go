package render

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var cellStyles = map[CellClass]lipgloss.Style{
	ClassDefault:           lipgloss.NewStyle(),
	ClassMuted:             lipgloss.NewStyle().Faint(true).Italic(true),
	ClassSeverityCritical:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("160")),
	ClassSeverityMajor:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("220")),
	ClassSeverityMinor:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")),
	ClassSeverityWarning:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("135")),
	ClassStatusActive:      lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
	ClassStatusUnreachable: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	emptyStyle  = lipgloss.NewStyle().Faint(true).Italic(true)
	toneStyles  = map[Tone]lipgloss.Style{
		ToneWeather: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		ToneRisk:    lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
	}
)

// TerminalRenderer turns a Document into ANSI text for the CLI
type TerminalRenderer struct {
	markdown *glamour.TermRenderer
}

// TerminalOption configures a TerminalRenderer
type TerminalOption func(*terminalOptions)

type terminalOptions struct {
	width int
	style string
}

// WithWordWrap sets the markdown wrap width
func WithWordWrap(width int) TerminalOption {
	return func(o *terminalOptions) { o.width = width }
}

// WithStyle selects a named glamour style such as "dark" or "notty"
func WithStyle(style string) TerminalOption {
	return func(o *terminalOptions) { o.style = style }
}

// NewTerminalRenderer creates a TerminalRenderer
func NewTerminalRenderer(opts ...TerminalOption) (*TerminalRenderer, error) {
	o := terminalOptions{width: 80}
	for _, opt := range opts {
		opt(&o)
	}

	styleOpt := glamour.WithAutoStyle()
	if o.style != "" {
		styleOpt = glamour.WithStandardStyle(o.style)
	}
	md, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(o.width))
	if err != nil {
		return nil, err
	}
	return &TerminalRenderer{markdown: md}, nil
}

// Render renders every block of doc
func (r *TerminalRenderer) Render(doc Document) string {
	var parts []string
	for _, block := range doc.Blocks {
		switch block.Kind {
		case BlockMarkdown:
			out, err := r.markdown.Render(block.Text)
			if err != nil {
				out = block.Text
			}
			if style, ok := toneStyles[doc.Tone]; ok {
				out = style.Render(out)
			}
			parts = append(parts, strings.TrimRight(out, "\n"))
		case BlockTable:
			parts = append(parts, terminalTable(block.Table))
		default:
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// RenderText plans and renders text in one step
func (r *TerminalRenderer) RenderText(text string) string {
	return r.Render(Plan(text))
}

func terminalTable(t *Table) string {
	if t == nil || t.Empty() {
		return emptyStyle.Render("No data available")
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(t.Headers...).
		Rows(t.Rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row < 0 || row >= len(t.Rows) || col >= len(t.Headers) {
				return lipgloss.NewStyle().Padding(0, 1)
			}
			return cellStyles[CellStyle(t.Headers[col], t.Rows[row][col])].Padding(0, 1)
		}).
		String()
}
