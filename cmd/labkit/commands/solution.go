package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/livetemplate/labkit"
	"github.com/livetemplate/labkit/internal/playground"
	"github.com/livetemplate/labkit/internal/results"
)

// Solution file names, each with the lab resource name as a fallback.
var (
	solutionMarkup = []string{"index.html", labkit.ResourceHTML}
	solutionStyle  = []string{"style.css", labkit.ResourceCSS}
	solutionScript = []string{"script.js", labkit.ResourceJS}
)

// readSolution loads learner code from dir. Files that are absent keep the
// lab's starter code; a directory with none of them is an error.
func readSolution(dir string, lab labkit.Lab) (playground.Code, error) {
	code := playground.Code{Markup: lab.StarterHTML, Style: lab.StarterCSS, Script: lab.StarterJS}
	found := 0
	for _, f := range []struct {
		names []string
		into  *string
	}{
		{solutionMarkup, &code.Markup},
		{solutionStyle, &code.Style},
		{solutionScript, &code.Script},
	} {
		content, ok, err := readFirst(dir, f.names)
		if err != nil {
			return playground.Code{}, err
		}
		if ok {
			*f.into = content
			found++
		}
	}
	if found == 0 {
		return playground.Code{}, fmt.Errorf("no solution files in %s (expected index.html, style.css or script.js)", dir)
	}
	return code, nil
}

func readFirst(dir string, names []string) (string, bool, error) {
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to read %s: %w", name, err)
		}
		return string(data), true, nil
	}
	return "", false, nil
}

// printModel writes a test run the way the results panel shows it.
func printModel(w io.Writer, model results.DisplayModel) {
	st := newStyles(w)
	for _, e := range model.Entries {
		fmt.Fprintf(w, "  %s %s\n", st.status(e.Status).Render(e.Icon), e.Name)
		if e.ErrorText != "" {
			for _, line := range strings.Split(e.ErrorText, "\n") {
				fmt.Fprintf(w, "      %s\n", line)
			}
		}
	}
	if model.Total > 0 {
		fmt.Fprintln(w)
	}
	summary := st.pass
	if model.Failed > 0 {
		summary = st.fail
	}
	fmt.Fprintln(w, summary.Render(results.Summary(model)))
}
