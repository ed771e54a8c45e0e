package validate

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// ScriptChecker reports JavaScript syntax errors. It only parses the
// source and never evaluates it.
type ScriptChecker struct{}

// Check parses script and returns at most one error message locating the
// first syntax problem. Blank scripts are valid.
func (ScriptChecker) Check(ctx context.Context, script string) ([]Message, error) {
	if strings.TrimSpace(script) == "" {
		return nil, nil
	}

	// Parsers are not safe for concurrent use.
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	source := []byte(script)
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil, nil
	}

	bad := firstErrorNode(root)
	if bad == nil {
		bad = root
	}
	point := bad.StartPoint()

	text := "Syntax error"
	if bad.IsMissing() {
		text = fmt.Sprintf("Syntax error: missing %q", bad.Type())
	} else if snippet := strings.TrimSpace(bad.Content(source)); snippet != "" {
		text = fmt.Sprintf("Syntax error: unexpected %q", truncate(snippet, 40))
	}

	return []Message{{
		Severity: SeverityError,
		Text:     text,
		Line:     int(point.Row) + 1,
		Column:   int(point.Column) + 1,
	}}, nil
}

// firstErrorNode returns the first ERROR or MISSING node in document order.
func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstErrorNode(n.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
