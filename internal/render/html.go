package render

import (
	"bytes"
	"fmt"
	"html"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// HTMLRenderer turns a Document into sanitised HTML for the web client
type HTMLRenderer struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

// NewHTMLRenderer creates an HTMLRenderer with GitHub flavoured markdown
func NewHTMLRenderer() *HTMLRenderer {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").
		Matching(regexp.MustCompile(`^[a-z0-9 -]+$`)).
		OnElements("div", "table", "thead", "tbody", "tr", "th", "td", "pre")

	return &HTMLRenderer{
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:   policy,
	}
}

// Render renders every block of doc inside a message container
func (r *HTMLRenderer) Render(doc Document) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<div class="message message-%s">`, doc.Tone)
	for _, block := range doc.Blocks {
		switch block.Kind {
		case BlockMarkdown:
			r.writeMarkdown(&buf, block.Text)
		case BlockTable:
			writeTable(&buf, block.Table)
		default:
			writePre(&buf, block.Text)
		}
	}
	buf.WriteString("</div>")
	return r.policy.Sanitize(buf.String())
}

// RenderText plans and renders text in one step
func (r *HTMLRenderer) RenderText(text string) string {
	return r.Render(Plan(text))
}

func (r *HTMLRenderer) writeMarkdown(buf *bytes.Buffer, text string) {
	var out bytes.Buffer
	if err := r.markdown.Convert([]byte(text), &out); err != nil {
		writePre(buf, text)
		return
	}
	buf.Write(out.Bytes())
}

func writePre(buf *bytes.Buffer, text string) {
	buf.WriteString(`<pre class="preformatted">`)
	buf.WriteString(html.EscapeString(text))
	buf.WriteString("</pre>")
}

func writeTable(buf *bytes.Buffer, table *Table) {
	if table == nil || table.Empty() {
		buf.WriteString(`<div class="table-empty">No data available</div>`)
		return
	}

	buf.WriteString(`<table class="data-table"><thead><tr>`)
	for _, h := range table.Headers {
		fmt.Fprintf(buf, "<th>%s</th>", html.EscapeString(h))
	}
	buf.WriteString("</tr></thead><tbody>")
	for _, row := range table.Rows {
		buf.WriteString("<tr>")
		for i, cell := range row {
			fmt.Fprintf(buf, `<td class="cell-%s">%s</td>`,
				CellStyle(table.Headers[i], cell), html.EscapeString(cell))
		}
		buf.WriteString("</tr>")
	}
	buf.WriteString("</tbody></table>")
}
