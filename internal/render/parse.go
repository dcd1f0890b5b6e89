package render

import "strings"

// Placeholder fills cells the source row did not provide
const Placeholder = "-"

// Table is a markdown table parsed from message text. It is derived on
// demand and never stored.
type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Empty reports whether the table has no data rows
func (t *Table) Empty() bool {
	return len(t.Rows) == 0
}

// ParseTable parses the first table in text. It returns false when no line
// starts with a pipe or the header line has no cells.
func ParseTable(text string) (*Table, bool) {
	lines := splitLines(text)
	start := tableStart(lines)
	if start < 0 {
		return nil, false
	}
	return parseLines(lines[start:])
}

// parseLines parses a table whose header is lines[0]. The line after the
// header is taken to be the separator and skipped.
func parseLines(lines []string) (*Table, bool) {
	if len(lines) == 0 {
		return nil, false
	}

	var headers []string
	for _, h := range strings.Split(lines[0], "|") {
		if h = strings.TrimSpace(h); h != "" {
			headers = append(headers, h)
		}
	}
	if len(headers) == 0 {
		return nil, false
	}

	table := &Table{Headers: headers, Rows: [][]string{}}
	if len(lines) < 3 {
		return table, true
	}

	for _, line := range lines[2:] {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "|") || len(trimmed) <= 1 {
			continue
		}

		cells := strings.Split(line, "|")
		row := make([]string, len(headers))
		for i := range headers {
			row[i] = Placeholder
			if i+1 < len(cells) {
				if cell := strings.TrimSpace(cells[i+1]); cell != "" {
					row[i] = cell
				}
			}
		}

		if placeholderRow(row) || sameRow(row, headers) {
			continue
		}
		table.Rows = append(table.Rows, row)
	}
	return table, true
}

func placeholderRow(row []string) bool {
	for _, cell := range row {
		if cell != Placeholder && cell != "" {
			return false
		}
	}
	return true
}

func sameRow(row, headers []string) bool {
	for i := range headers {
		if row[i] != headers[i] {
			return false
		}
	}
	return true
}
