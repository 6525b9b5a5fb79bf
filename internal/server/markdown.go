package server

import (
	"bytes"
	"html/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var markdownPolicy = bluemonday.UGCPolicy()

// RenderMarkdown converts markdown text to sanitized HTML.
func RenderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(markdownPolicy.SanitizeBytes(buf.Bytes()))
}
