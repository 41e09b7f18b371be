package output

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"
)

// textRenderer writes the result verbatim (text and markdown formats).
type textRenderer struct{}

func (textRenderer) Render(content string, _ Metadata) ([]byte, error) {
	return []byte(content), nil
}

// jsonRenderer wraps the result in a small structured document.
type jsonRenderer struct{}

type jsonDocument struct {
	Job       string `json:"job"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
}

func (jsonRenderer) Render(content string, meta Metadata) ([]byte, error) {
	doc := jsonDocument{
		Job:       meta.JobName,
		Timestamp: meta.Timestamp.Format(time.RFC3339),
		Content:   content,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// htmlRenderer converts the lightweight markdown subset agents emit into a
// self-contained styled page with the generation timestamp in the footer.
type htmlRenderer struct{}

const htmlStyle = `body {
  font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
  max-width: 800px;
  margin: 40px auto;
  padding: 20px;
  line-height: 1.6;
}
h1, h2, h3 { color: #1a1a1a; }
code {
  background: #f4f4f4;
  padding: 2px 6px;
  border-radius: 3px;
}`

func (htmlRenderer) Render(content string, meta Metadata) ([]byte, error) {
	title := meta.Title
	if title == "" {
		title = meta.JobName
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString("  <meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "  <title>%s</title>\n", html.EscapeString(title))
	b.WriteString("  <style>\n" + htmlStyle + "\n  </style>\n")
	b.WriteString("</head>\n<body>\n  <div class=\"content\">\n")
	writeBody(&b, content)
	b.WriteString("  </div>\n  <footer>\n")
	fmt.Fprintf(&b, "    <p><small>Generated on %s</small></p>\n", meta.Timestamp.Format("January 2, 2006 at 3:04 PM"))
	b.WriteString("  </footer>\n</body>\n</html>\n")
	return []byte(b.String()), nil
}

// writeBody does a heading/paragraph level markdown-to-HTML pass. Inline
// markup is left as-is; agents mostly emit headings and plain paragraphs.
func writeBody(b *strings.Builder, content string) {
	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, "### "):
			fmt.Fprintf(b, "    <h3>%s</h3>\n", html.EscapeString(line[4:]))
		case strings.HasPrefix(line, "## "):
			fmt.Fprintf(b, "    <h2>%s</h2>\n", html.EscapeString(line[3:]))
		case strings.HasPrefix(line, "# "):
			fmt.Fprintf(b, "    <h1>%s</h1>\n", html.EscapeString(line[2:]))
		case strings.TrimSpace(line) != "":
			fmt.Fprintf(b, "    <p>%s</p>\n", html.EscapeString(line))
		default:
			b.WriteString("    <br>\n")
		}
	}
}
