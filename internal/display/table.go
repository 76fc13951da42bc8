package display

import (
	"strings"
	"unicode/utf8"
)

// RowStyle selects how a data row is rendered.
type RowStyle int

const (
	RowNormal RowStyle = iota
	// RowHighlight marks the current row, typically today.
	RowHighlight
	// RowDim renders a row that is no longer relevant, such as a past day.
	RowDim
	// RowMissing renders a row whose data is unavailable.
	RowMissing
)

// Table renders an aligned text table with optional color support.
type Table struct {
	headers []string
	rows    [][]string
	styles  map[int]RowStyle
}

// NewTable creates a new table with the given column headers.
func NewTable(headers []string) *Table {
	return &Table{
		headers: headers,
		styles:  make(map[int]RowStyle),
	}
}

// AddRow appends a row of values. The number of values should match the number of headers.
func (t *Table) AddRow(values []string) {
	t.rows = append(t.rows, values)
}

// SetHighlightRow sets which row index (0-based) should be highlighted.
func (t *Table) SetHighlightRow(idx int) {
	t.SetRowStyle(idx, RowHighlight)
}

// SetRowStyle sets the style of the row at idx (0-based).
func (t *Table) SetRowStyle(idx int, style RowStyle) {
	if style == RowNormal {
		delete(t.styles, idx)
		return
	}
	t.styles[idx] = style
}

// Render produces the formatted table string with leading indent.
func (t *Table) Render() string {
	if len(t.headers) == 0 {
		return ""
	}

	// Widths count runes so box-drawing and accented names line up.
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); i < len(widths) && n > widths[i] {
				widths[i] = n
			}
		}
	}

	var sb strings.Builder

	headerLine := formatRow(t.headers, widths)
	sb.WriteString("  " + Bold(headerLine) + "\n")

	sepParts := make([]string, len(widths))
	for i, w := range widths {
		sepParts[i] = strings.Repeat("─", w)
	}
	sepLine := "  " + strings.Join(sepParts, "  ")
	sb.WriteString(Dim(sepLine) + "\n")

	for i, row := range t.rows {
		line := formatRow(row, widths)
		switch t.styles[i] {
		case RowHighlight:
			line = Accent(line)
		case RowDim:
			line = Dim(line)
		case RowMissing:
			line = Gray(line)
		}
		sb.WriteString("  " + line + "\n")
	}

	return sb.String()
}

// formatRow formats a row of cells using the given column widths.
func formatRow(cells []string, widths []int) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		if pad := w - utf8.RuneCountInString(cell); pad > 0 {
			cell += strings.Repeat(" ", pad)
		}
		parts[i] = cell
	}
	return strings.Join(parts, "  ")
}
