package commands

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/livetemplate/labkit/internal/results"
	"github.com/livetemplate/labkit/internal/validate"
)

// styles colors CLI output. The renderer inspects w, so pipes and buffers
// get plain text.
type styles struct {
	pass    lipgloss.Style
	fail    lipgloss.Style
	skip    lipgloss.Style
	heading lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		pass:    r.NewStyle().Foreground(lipgloss.Color("2")),
		fail:    r.NewStyle().Foreground(lipgloss.Color("1")),
		skip:    r.NewStyle().Foreground(lipgloss.Color("8")),
		heading: r.NewStyle().Bold(true),
	}
}

func (s styles) status(st results.Status) lipgloss.Style {
	switch st {
	case results.StatusPass:
		return s.pass
	case results.StatusFail:
		return s.fail
	default:
		return s.skip
	}
}

func (s styles) severity(sev validate.Severity) lipgloss.Style {
	switch sev {
	case validate.SeverityError:
		return s.fail
	case validate.SeverityWarning:
		return s.skip
	default:
		return lipgloss.NewStyle()
	}
}
