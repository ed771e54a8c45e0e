// Package assets embeds the browser UI: page templates and the client
// script and stylesheet served under /assets/.
package assets

import (
	"embed"
	"html/template"
	"io/fs"
)

//go:embed ui/*
var uiFS embed.FS

//go:embed templates/*.html
var templateFS embed.FS

// UI returns the static client files.
func UI() fs.FS {
	sub, err := fs.Sub(uiFS, "ui")
	if err != nil {
		panic(err)
	}
	return sub
}

// Templates parses the page templates.
func Templates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}
