package playground

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDocument(t *testing.T) {
	doc := BuildDocument(Code{
		Markup: "<h1>Hi</h1>",
		Style:  "h1 { color: red; }",
		Script: "console.log('</script>')",
	})

	assert.Contains(t, doc, "<style>\nh1 { color: red; }\n</style>")
	assert.Contains(t, doc, "<body>\n<h1>Hi</h1>")
	assert.Contains(t, doc, `console.log('<\/script>')`)
	assert.Equal(t, 1, strings.Count(doc, "</script>"))
	assert.Less(t, strings.Index(doc, "</style>"), strings.Index(doc, "<body>"))
}

func TestDocumentURL(t *testing.T) {
	code := Code{Markup: "<p>ü</p>"}
	u := DocumentURL(code)

	const prefix = "data:text/html;charset=utf-8;base64,"
	require.True(t, strings.HasPrefix(u, prefix))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(u, prefix))
	require.NoError(t, err)
	assert.Equal(t, BuildDocument(code), string(raw))
}

func TestTestScriptWrapsHarness(t *testing.T) {
	script := TestScript("test('x', () => {})")

	assert.True(t, strings.HasPrefix(script, harnessJS))
	assert.Contains(t, script, "window.__labkit.reset()")
	assert.Contains(t, script, "test('x', () => {})")
	assert.True(t, strings.HasSuffix(script, "})()"))
}

func TestConfigForLabPlaceholders(t *testing.T) {
	cfg := ConfigForLab(testLab())
	assert.Equal(t, PlaceholderScript, cfg.Script.Content)

	lab := testLab()
	lab.Tests = ""
	empty := ConfigForLab(lab)
	assert.Equal(t, PlaceholderTests, empty.Tests.Content)
}
