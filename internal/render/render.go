package render

import "strings"

// BlockKind says how a block of a message is displayed
type BlockKind string

const (
	BlockMarkdown     BlockKind = "markdown"
	BlockTable        BlockKind = "table"
	BlockPreformatted BlockKind = "preformatted"
)

// Block is one display unit of a message
type Block struct {
	Kind  BlockKind `json:"kind"`
	Text  string    `json:"text,omitempty"`
	Table *Table    `json:"table,omitempty"`
}

// Document is the display plan of one chat message
type Document struct {
	Tone   Tone    `json:"tone"`
	Blocks []Block `json:"blocks"`
}

// HasTable reports whether any block is a table
func (d Document) HasTable() bool {
	for _, b := range d.Blocks {
		if b.Kind == BlockTable {
			return true
		}
	}
	return false
}

// Plan decides how text is displayed.
//
// An alarm JSON array becomes a single table. A detected table is split into
// a markdown prefix, when it does not start on the first line, and the table
// itself. Anything else is markdown.
func Plan(text string) Document {
	trimmed := strings.TrimSpace(text)
	doc := Document{Tone: ToneOf(trimmed)}

	if alarms, ok := ParseAlarms(trimmed); ok {
		doc.Blocks = []Block{{Kind: BlockTable, Table: AlarmTable(alarms)}}
		return doc
	}

	if !IsTableCandidate(trimmed) {
		doc.Blocks = []Block{{Kind: BlockMarkdown, Text: trimmed}}
		return doc
	}

	lines := splitLines(trimmed)
	start, ok := DetectTable(trimmed)
	if !ok {
		start = tableStart(lines)
	}
	if start < 0 {
		doc.Blocks = []Block{{Kind: BlockPreformatted, Text: trimmed}}
		return doc
	}

	if start > 0 {
		doc.Blocks = append(doc.Blocks, Block{
			Kind: BlockMarkdown,
			Text: strings.Join(lines[:start], "\n"),
		})
	}

	body := lines[start:]
	if table, ok := parseLines(body); ok {
		doc.Blocks = append(doc.Blocks, Block{Kind: BlockTable, Table: table})
	} else {
		doc.Blocks = append(doc.Blocks, Block{Kind: BlockPreformatted, Text: strings.Join(body, "\n")})
	}
	return doc
}
