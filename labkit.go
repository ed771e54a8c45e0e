// Package labkit provides the core types for browser coding exercises ("labs"):
// the lab record assembled from its fetched assets, title derivation, and the
// error taxonomy shared by the fetcher, the playground bridge and the session
// orchestrator.
package labkit

import (
	"bufio"
	"regexp"
	"strings"
)

// DefaultTitle is used when a lab description has no level-1 heading.
const DefaultTitle = "Untitled Lab"

// Resource file names under labs/<name>/.
const (
	ResourceDescription = "description.md"
	ResourceHTML        = "starter.html"
	ResourceCSS         = "starter.css"
	ResourceJS          = "starter.js"
	ResourceTests       = "tests.js"
)

// Resources lists every file a complete lab bundle must provide.
var Resources = []string{
	ResourceDescription,
	ResourceHTML,
	ResourceCSS,
	ResourceJS,
	ResourceTests,
}

// Assets holds the five text blobs that define a lab.
type Assets struct {
	Description string
	StarterHTML string
	StarterCSS  string
	StarterJS   string
	Tests       string
}

// Set stores content for the named resource. Unknown names are ignored.
func (a *Assets) Set(resource, content string) {
	switch resource {
	case ResourceDescription:
		a.Description = content
	case ResourceHTML:
		a.StarterHTML = content
	case ResourceCSS:
		a.StarterCSS = content
	case ResourceJS:
		a.StarterJS = content
	case ResourceTests:
		a.Tests = content
	}
}

// Lab is an immutable lab record. It is replaced wholesale, never patched.
type Lab struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	StarterHTML string `json:"starterHTML"`
	StarterCSS  string `json:"starterCSS"`
	StarterJS   string `json:"starterJS"`
	Tests       string `json:"tests"`
}

// IsZero reports whether no lab has been loaded.
func (l Lab) IsZero() bool {
	return l.Name == ""
}

// BuildLab assembles a lab record from fetched assets.
func BuildLab(name string, assets Assets) Lab {
	return Lab{
		Name:        name,
		Title:       DeriveTitle(assets.Description),
		Description: assets.Description,
		StarterHTML: assets.StarterHTML,
		StarterCSS:  assets.StarterCSS,
		StarterJS:   assets.StarterJS,
		Tests:       assets.Tests,
	}
}

var headingPattern = regexp.MustCompile(`^#\s+(\S.*)$`)

// DeriveTitle returns the trimmed text of the first "# " heading line in the
// description, or DefaultTitle when there is none.
func DeriveTitle(description string) string {
	scanner := bufio.NewScanner(strings.NewReader(description))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			if title := strings.TrimSpace(m[1]); title != "" {
				return title
			}
		}
	}
	return DefaultTitle
}
