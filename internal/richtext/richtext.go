// Package richtext turns WYSIWYG HTML fragments, as stored in work item
// rich-text fields, into plain text.
package richtext

import (
	stdhtml "html"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// PlainText decodes backslash escapes when present, strips markup keeping
// text nodes separated by a space and unescapes leftover entities.
// It never fails; unparseable input degrades to the raw value.
func PlainText(raw string) string {
	value := DecodeEscapes(raw)
	text, err := StripTags(value)
	if err != nil {
		text = value
	}
	return stdhtml.UnescapeString(text)
}

// DecodeEscapes interprets \n, \t, \uXXXX and similar sequences. Input
// without a backslash, or that does not decode cleanly, is returned as is.
func DecodeEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	b.WriteByte('"')
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			b.WriteByte('\\')
		case c == '\n':
			b.WriteString(`\n`)
			continue
		case c == '\r':
			b.WriteString(`\r`)
			continue
		}
		b.WriteByte(c)
	}
	if escaped {
		return s
	}
	b.WriteByte('"')
	decoded, err := strconv.Unquote(b.String())
	if err != nil {
		return s
	}
	return decoded
}

// StripTags returns the text content of an HTML fragment, one space between
// text nodes. Script and style contents are dropped.
func StripTags(fragment string) (string, error) {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return "", err
	}
	return strings.Join(collectText(doc), " "), nil
}

// collectText returns text nodes in document order. The walk uses an explicit
// stack; there is no nesting limit.
func collectText(root *html.Node) []string {
	parts := []string{}
	stack := []*html.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch n.Type {
		case html.TextNode:
			if text := strings.TrimSpace(n.Data); text != "" {
				parts = append(parts, text)
			}
			continue
		case html.ElementNode:
			switch n.Data {
			case "script", "style":
				continue
			}
		}
		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
	return parts
}
