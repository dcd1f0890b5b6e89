// Package render decides how a chat message is displayed: as markdown, as
// markdown followed by an embedded table, or as a preformatted block. The
// decision is made on text alone and is independent of the output target.
package render

import "strings"

// TimeColumnMarker marks alarm listings the backend sends with a Time column.
// Text containing it is treated as a table candidate even when it fails
// strict detection.
const TimeColumnMarker = "| Time |"

func splitLines(text string) []string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}

func isPipeLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "|")
}

// tableStart returns the index of the first line starting with a pipe, or -1
func tableStart(lines []string) int {
	for i, line := range lines {
		if isPipeLine(line) {
			return i
		}
	}
	return -1
}

func hasCell(line string) bool {
	for _, cell := range strings.Split(line, "|") {
		if strings.TrimSpace(cell) != "" {
			return true
		}
	}
	return false
}

// DetectTable reports whether text contains a markdown table and the line
// index, within the trimmed text, where the table starts.
//
// A table needs a pipe-led header line, a separator line containing "---"
// directly under it, and at least one later pipe-led line with a non-empty
// cell.
func DetectTable(text string) (int, bool) {
	lines := splitLines(text)
	if len(lines) < 3 {
		return -1, false
	}

	start := tableStart(lines)
	if start < 0 || start+2 >= len(lines) {
		return -1, false
	}
	if !strings.Contains(lines[start+1], "---") {
		return -1, false
	}

	for _, line := range lines[start+2:] {
		if isPipeLine(line) && hasCell(line) {
			return start, true
		}
	}
	return -1, false
}

// IsTableCandidate is DetectTable widened with the Time column shortcut
func IsTableCandidate(text string) bool {
	if _, ok := DetectTable(text); ok {
		return true
	}
	return strings.Contains(text, TimeColumnMarker)
}
