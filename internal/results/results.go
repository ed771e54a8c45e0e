// Package results projects raw test outcomes from the playground into the
// display model shown to learners. Projection is pure: the same outcomes
// always produce the same model.
package results

import (
	"fmt"
	"math"
	"strings"
)

// Status is a test outcome status.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// Outcome is one assertion result as reported by the test runner.
type Outcome struct {
	Status   Status   `json:"status"`
	Errors   []string `json:"errors,omitempty"`
	Title    string   `json:"title,omitempty"`
	TestPath []string `json:"testPath,omitempty"`
}

// Icons per status.
const (
	IconPass = "✓"
	IconFail = "✗"
	IconSkip = "○"
)

// Entry is one row of the display model.
type Entry struct {
	Icon      string   `json:"icon"`
	Name      string   `json:"name"`
	Status    Status   `json:"status"`
	Errors    []string `json:"errors,omitempty"`
	ErrorText string   `json:"errorText,omitempty"`
}

// DisplayModel is the aggregated, render-ready view of a test run.
// Passed+Failed+Skipped always equals Total.
type DisplayModel struct {
	Total      int     `json:"total"`
	Passed     int     `json:"passed"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
	Percentage int     `json:"percentage"`
	Entries    []Entry `json:"entries"`
}

// Empty returns the zero display model with a non-nil entry list.
func Empty() DisplayModel {
	return DisplayModel{Entries: []Entry{}}
}

// Project builds the display model for outcomes, preserving their order.
// Any status other than pass or fail counts as skipped.
func Project(outcomes []Outcome) DisplayModel {
	m := DisplayModel{
		Total:   len(outcomes),
		Entries: make([]Entry, 0, len(outcomes)),
	}

	for i, o := range outcomes {
		e := Entry{Name: TestName(o, i)}
		switch o.Status {
		case StatusPass:
			m.Passed++
			e.Status, e.Icon = StatusPass, IconPass
		case StatusFail:
			m.Failed++
			e.Status, e.Icon = StatusFail, IconFail
			e.Errors = append([]string(nil), o.Errors...)
			e.ErrorText = strings.Join(o.Errors, "\n")
		default:
			m.Skipped++
			e.Status, e.Icon = StatusSkip, IconSkip
		}
		m.Entries = append(m.Entries, e)
	}

	m.Percentage = Percentage(m.Passed, m.Total)
	return m
}

// Percentage returns round(passed/total*100), or 0 when total is 0.
func Percentage(passed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(passed) / float64(total) * 100))
}

// separators end the test-name fragment in a runner error message.
var separators = []string{"›", "("}

// TestName picks a display name for the outcome at index (0-based):
//
//  1. the explicit Title,
//  2. the TestPath joined with " › ",
//  3. the text before the first separator in the first error message,
//  4. "Test N" with N 1-based.
//
// Step 3 is a best-effort guess at the runner's message format.
func TestName(o Outcome, index int) string {
	if t := strings.TrimSpace(o.Title); t != "" {
		return t
	}
	if len(o.TestPath) > 0 {
		if p := strings.TrimSpace(strings.Join(o.TestPath, " › ")); p != "" {
			return p
		}
	}
	if len(o.Errors) > 0 {
		if name := nameFromError(o.Errors[0]); name != "" {
			return name
		}
	}
	return fmt.Sprintf("Test %d", index+1)
}

func nameFromError(msg string) string {
	cut := -1
	for _, sep := range separators {
		if i := strings.Index(msg, sep); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut <= 0 {
		return ""
	}
	return strings.TrimSpace(msg[:cut])
}

// Summary renders a one-line result for notifications, e.g.
// "2/4 tests passed (50%)".
func Summary(m DisplayModel) string {
	noun := "tests"
	if m.Total == 1 {
		noun = "test"
	}
	return fmt.Sprintf("%d/%d %s passed (%d%%)", m.Passed, m.Total, noun, m.Percentage)
}
