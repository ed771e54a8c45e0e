package playground

import (
	_ "embed"
	"encoding/base64"
	"strings"
)

//go:embed harness.js
var harnessJS string

// BuildDocument assembles the page the learner's code runs in.
func BuildDocument(code Code) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<style>\n")
	b.WriteString(escapeClosing(code.Style, "</style"))
	b.WriteString("\n</style>\n</head>\n<body>\n")
	b.WriteString(code.Markup)
	b.WriteString("\n<script>\n")
	b.WriteString(escapeClosing(code.Script, "</script"))
	b.WriteString("\n</script>\n</body>\n</html>\n")
	return b.String()
}

// DocumentURL returns the document as a data: URL.
func DocumentURL(code Code) string {
	return "data:text/html;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(BuildDocument(code)))
}

// escapeClosing keeps embedded content from terminating its element early.
func escapeClosing(content, tag string) string {
	return strings.ReplaceAll(content, tag, `<\/`+tag[2:])
}

// TestScript wraps a lab test script so that evaluating it installs the
// harness, registers the tests and resolves to their outcomes.
func TestScript(tests string) string {
	var b strings.Builder
	b.WriteString(harnessJS)
	b.WriteString("\n;(async () => {\nconst { describe, test, it, expect } = window.__labkit.reset();\n")
	b.WriteString(tests)
	b.WriteString("\n;return await window.__labkit.run();\n})()")
	return b.String()
}
