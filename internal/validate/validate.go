// Package validate checks learner code. HTML and CSS go to the W3C
// services; JavaScript is parsed locally. The remote checks are best
// effort: when one is unavailable its failure is recorded in the report
// and the other checks still complete.
package validate

import (
	"context"

	"github.com/livetemplate/labkit/internal/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Services named in reports and errors.
const (
	ServiceHTML   = "html"
	ServiceCSS    = "css"
	ServiceScript = "js"
)

// Severity of a validation message.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Message is one validator finding. Line and Column are 1-based, 0 when
// unknown.
type Message struct {
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Extract  string   `json:"extract,omitempty"`
}

// Checker validates one kind of content.
type Checker interface {
	Check(ctx context.Context, content string) ([]Message, error)
}

// Result is the outcome of one check. Err is set when the check could not
// run, in which case Messages is empty.
type Result struct {
	Messages []Message `json:"messages"`
	Err      error     `json:"-"`
}

// Valid reports whether the check ran and found no errors.
func (r Result) Valid() bool {
	if r.Err != nil {
		return false
	}
	for _, m := range r.Messages {
		if m.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors counts error-severity messages.
func (r Result) Errors() int {
	n := 0
	for _, m := range r.Messages {
		if m.Severity == SeverityError {
			n++
		}
	}
	return n
}

// Report holds one result per kind.
type Report struct {
	HTML   Result `json:"html"`
	CSS    Result `json:"css"`
	Script Result `json:"js"`
}

// Valid reports whether every check ran clean.
func (r Report) Valid() bool {
	return r.HTML.Valid() && r.CSS.Valid() && r.Script.Valid()
}

// Failures returns the errors of checks that could not run, keyed by service.
func (r Report) Failures() map[string]error {
	out := make(map[string]error)
	if r.HTML.Err != nil {
		out[ServiceHTML] = r.HTML.Err
	}
	if r.CSS.Err != nil {
		out[ServiceCSS] = r.CSS.Err
	}
	if r.Script.Err != nil {
		out[ServiceScript] = r.Script.Err
	}
	return out
}

// Code is what gets validated.
type Code struct {
	HTML string
	CSS  string
	JS   string
}

// Validator runs all checks.
type Validator struct {
	HTML   Checker
	CSS    Checker
	Script Checker
	logger *zap.Logger
}

// New creates a validator from explicit checkers. Nil checkers are skipped.
func New(html, css, script Checker, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{HTML: html, CSS: css, Script: script, logger: logger.Named("validate")}
}

// FromConfig builds the W3C clients and the local script checker.
func FromConfig(cfg config.ValidatorsConfig, logger *zap.Logger) (*Validator, error) {
	base := RemoteOptions{
		Timeout:      cfg.GetTimeout(),
		CacheTTL:     cfg.GetCacheTTL(),
		AllowPrivate: cfg.AllowPrivate,
		Logger:       logger,
	}

	htmlOpts := base
	htmlOpts.Endpoint = cfg.HTMLURL
	html, err := NewHTMLValidator(htmlOpts)
	if err != nil {
		return nil, err
	}

	cssOpts := base
	cssOpts.Endpoint = cfg.CSSURL
	css, err := NewCSSValidator(cssOpts)
	if err != nil {
		html.Close()
		return nil, err
	}

	return New(html, css, ScriptChecker{}, logger), nil
}

// Validate runs the checks concurrently. It never fails as a whole: each
// check's failure is recorded in its own Result.
func (v *Validator) Validate(ctx context.Context, code Code) Report {
	var report Report
	var g errgroup.Group

	run := func(name string, checker Checker, content string, into *Result) {
		if checker == nil {
			return
		}
		g.Go(func() error {
			msgs, err := checker.Check(ctx, content)
			if err != nil {
				v.logger.Warn("validation check failed", zap.String("service", name), zap.Error(err))
			}
			*into = Result{Messages: msgs, Err: err}
			return nil
		})
	}

	run(ServiceHTML, v.HTML, code.HTML, &report.HTML)
	run(ServiceCSS, v.CSS, code.CSS, &report.CSS)
	run(ServiceScript, v.Script, code.JS, &report.Script)

	_ = g.Wait()
	return report
}

// Close releases remote checker resources.
func (v *Validator) Close() {
	for _, c := range []Checker{v.HTML, v.CSS} {
		if closer, ok := c.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}
