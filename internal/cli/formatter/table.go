package formatter

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	colGap      = 2
	maxColWidth = 48
)

// RenderTable renders an aligned table with a rule under the header.
// Cells wider than maxColWidth are truncated; widths are measured in
// visible cells so styled text aligns.
func RenderTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(headers))
		for i := range headers {
			if i < len(row) {
				cells[r][i] = Truncate(row[i], maxColWidth)
			}
			widths[i] = max(widths[i], lipgloss.Width(cells[r][i]))
		}
	}

	var b strings.Builder
	writeRow := func(values []string, style func(string) string) {
		for i, v := range values {
			b.WriteString(style(v))
			if i < len(values)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(v)+colGap))
			}
		}
		b.WriteString("\n")
	}

	writeRow(headers, func(s string) string { return StyleHeader.Render(s) })
	rules := make([]string, len(widths))
	for i, w := range widths {
		rules[i] = strings.Repeat("─", w)
	}
	writeRow(rules, Dim)
	for _, row := range cells {
		writeRow(row, func(s string) string { return s })
	}
	return b.String()
}
