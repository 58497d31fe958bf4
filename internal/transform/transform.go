// Package transform normalizes fetched content. HTML is sanitized and
// converted to markdown so that volatile markup (scripts, tracking
// attributes, styling) never reaches the content hash; everything else
// passes through untouched.
package transform

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// Transformer converts HTML to normalized markdown text.
type Transformer struct {
	sanitizer *bluemonday.Policy
	converter *converter.Converter
}

// New creates a Transformer.
func New() *Transformer {
	return &Transformer{
		sanitizer: bluemonday.UGCPolicy(),
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Convert sanitizes raw HTML and converts it to markdown. If conversion
// produces empty output the sanitized text is returned instead, so a check
// never loses content to a converter edge case.
func (t *Transformer) Convert(rawHTML string) (string, error) {
	clean := t.sanitizer.Sanitize(rawHTML)
	md, err := t.converter.ConvertString(clean)
	if err != nil || strings.TrimSpace(md) == "" {
		fallback := strings.TrimSpace(clean)
		if fallback == "" {
			fallback = strings.TrimSpace(rawHTML)
		}
		return fallback, nil
	}
	return strings.TrimSpace(md), nil
}

// LooksLikeHTML sniffs whether content should go through HTML conversion,
// from the declared content type or the document itself.
func LooksLikeHTML(contentType string, content []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml") {
		return true
	}
	if ct != "" && !strings.Contains(ct, "text/plain") {
		return false
	}
	head := strings.ToLower(string(content[:min(len(content), 1024)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html") ||
		strings.Contains(head, "<body") || strings.Contains(head, "<div")
}

// Title extracts the document <title>, or "" when absent or unparseable.
func Title(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}
