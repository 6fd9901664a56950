package matrix

import (
	"html"
	"strings"
)

// RenderHTML converts the Markdown subset used by command replies into
// org.matrix.custom.html: fenced blocks become <pre><code>, `code` becomes
// <code> and **bold** becomes <strong>. Everything else is escaped.
func RenderHTML(md string) string {
	var out strings.Builder
	inFence := false
	for i, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(line, "```") {
			if inFence {
				out.WriteString("</code></pre>")
			} else {
				out.WriteString("<pre><code>")
			}
			inFence = !inFence
			continue
		}
		if inFence {
			out.WriteString(html.EscapeString(line))
			out.WriteByte('\n')
			continue
		}
		if i > 0 {
			out.WriteString("<br/>")
		}
		out.WriteString(renderInline(line))
	}
	if inFence {
		out.WriteString("</code></pre>")
	}
	return out.String()
}

func renderInline(line string) string {
	// Split on backticks first so bold markers inside code stay literal.
	parts := strings.Split(line, "`")
	if len(parts)%2 == 0 {
		// Unbalanced: keep the last backtick as text.
		last := len(parts) - 1
		parts[last-1] += "`" + parts[last]
		parts = parts[:last]
	}
	var b strings.Builder
	for i, p := range parts {
		if i%2 == 1 {
			b.WriteString("<code>" + html.EscapeString(p) + "</code>")
			continue
		}
		b.WriteString(pairs(html.EscapeString(p), "**", "<strong>", "</strong>"))
	}
	return b.String()
}

// pairs wraps each complete delim...delim run; an unmatched opener is kept.
func pairs(s, delim, open, close string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, delim)
		if start < 0 {
			break
		}
		end := strings.Index(s[start+len(delim):], delim)
		if end < 0 {
			break
		}
		end += start + len(delim)
		b.WriteString(s[:start] + open + s[start+len(delim):end] + close)
		s = s[end+len(delim):]
	}
	b.WriteString(s)
	return b.String()
}
