// Package playground wraps the code execution environment that runs learner
// code and lab test scripts.
//
// An Engine is the environment's factory; it may become ready some time
// after startup. An Instance is one live editor/runner bound to a container.
// The Bridge owns at most one Instance and turns the environment's
// asynchronous, event-driven interface into plain request/response calls.
package playground

import (
	"context"
	"errors"

	"github.com/livetemplate/labkit"
	"github.com/livetemplate/labkit/internal/results"
)

// ErrClosed is returned by an Instance after Close.
var ErrClosed = errors.New("playground: instance closed")

// Editor languages.
const (
	LanguageHTML       = "html"
	LanguageCSS        = "css"
	LanguageJavaScript = "javascript"
)

// Placeholders substituted for empty lab assets.
const (
	PlaceholderMarkup = "<!-- Write your HTML here -->"
	PlaceholderStyle  = "/* Write your CSS here */"
	PlaceholderScript = "// Write your JavaScript here"
	PlaceholderTests  = "// No tests for this lab"
)

// Event names an Instance emits through Watch.
const (
	EventConsole = "console" // console.* call in the page
	EventError   = "error"   // uncaught exception in the page
	EventCode    = "code"    // editor contents changed via SetConfig
	EventRun     = "run"     // code finished running
	EventTests   = "tests"   // test run finished
)

// Editor is one editor's language and content.
type Editor struct {
	Language string `json:"language"`
	Content  string `json:"content"`
}

// Config is an editor configuration. In SetConfig a nil editor leaves the
// current one untouched.
type Config struct {
	Lab    string  `json:"lab,omitempty"`
	Markup *Editor `json:"markup,omitempty"`
	Style  *Editor `json:"style,omitempty"`
	Script *Editor `json:"script,omitempty"`
	Tests  *Editor `json:"tests,omitempty"`
}

// Code is the current content of the three learner editors.
type Code struct {
	Markup string `json:"markup"`
	Style  string `json:"style"`
	Script string `json:"script"`
}

// Event is delivered to Watch callbacks.
type Event struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

// Engine creates playground instances.
type Engine interface {
	// Ready is closed once the environment can create instances.
	Ready() <-chan struct{}
	Create(ctx context.Context, container string, cfg Config) (Instance, error)
}

// StartFailer is implemented by engines whose startup can fail for good.
// Failed is closed once Err reports the cause.
type StartFailer interface {
	Failed() <-chan struct{}
	Err() error
}

// Instance is one live playground.
type Instance interface {
	Run(ctx context.Context) error
	GetCode(ctx context.Context) (Code, error)
	RunTests(ctx context.Context) ([]results.Outcome, error)
	SetConfig(ctx context.Context, cfg Config) error
	ShareURL(ctx context.Context, short bool) (string, error)
	// Watch subscribes fn to event and returns an unsubscribe func.
	// Callbacks must not block.
	Watch(event string, fn func(Event)) func()
	Close() error
}

func editor(language, content, placeholder string) *Editor {
	if content == "" {
		content = placeholder
	}
	return &Editor{Language: language, Content: content}
}

// ConfigForLab builds the full editor configuration for a lab.
func ConfigForLab(lab labkit.Lab) Config {
	cfg := StarterConfig(lab)
	cfg.Tests = editor(LanguageJavaScript, lab.Tests, PlaceholderTests)
	return cfg
}

// StarterConfig sets the three learner editors to the lab's starter code
// and leaves the tests editor unset.
func StarterConfig(lab labkit.Lab) Config {
	return Config{
		Lab:    lab.Name,
		Markup: editor(LanguageHTML, lab.StarterHTML, PlaceholderMarkup),
		Style:  editor(LanguageCSS, lab.StarterCSS, PlaceholderStyle),
		Script: editor(LanguageJavaScript, lab.StarterJS, PlaceholderScript),
	}
}

// CodeConfig sets the three learner editors to code.
func CodeConfig(code Code) Config {
	return Config{
		Markup: &Editor{Language: LanguageHTML, Content: code.Markup},
		Style:  &Editor{Language: LanguageCSS, Content: code.Style},
		Script: &Editor{Language: LanguageJavaScript, Content: code.Script},
	}
}

// Merge applies the non-nil editors of patch onto c.
func (c Config) Merge(patch Config) Config {
	if patch.Lab != "" {
		c.Lab = patch.Lab
	}
	if patch.Markup != nil {
		c.Markup = patch.Markup
	}
	if patch.Style != nil {
		c.Style = patch.Style
	}
	if patch.Script != nil {
		c.Script = patch.Script
	}
	if patch.Tests != nil {
		c.Tests = patch.Tests
	}
	return c
}

// Code extracts the learner editors' content.
func (c Config) Code() Code {
	var code Code
	if c.Markup != nil {
		code.Markup = c.Markup.Content
	}
	if c.Style != nil {
		code.Style = c.Style.Content
	}
	if c.Script != nil {
		code.Script = c.Script.Content
	}
	return code
}
