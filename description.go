package labkit

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
)

// RenderDescription converts a lab description to HTML. Raw HTML in the
// markdown is not passed through.
func RenderDescription(description string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(description), &buf); err != nil {
		return "", fmt.Errorf("failed to render description: %w", err)
	}
	return template.HTML(buf.String()), nil
}
