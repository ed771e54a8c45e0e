package playground

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/livetemplate/labkit/internal/results"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires a local Chrome; enable with LABKIT_CHROME=1.
func TestChromeEngineRunsTests(t *testing.T) {
	if os.Getenv("LABKIT_CHROME") != "1" {
		t.Skip("set LABKIT_CHROME=1 to run browser tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	engine := NewChromeEngine(ChromeOptions{Headless: true})
	engine.Start(ctx)
	defer engine.Close()

	b := NewBridge(engine, 30*time.Second, nil)
	defer b.Close()

	lab := testLab()
	lab.StarterJS = "document.querySelector('.row').textContent = 'hello';"
	lab.Tests = `
describe('row', () => {
  test('has text', () => {
    expect(document.querySelector('.row').textContent).toBe('hello');
  });
  test('wrong text', () => {
    expect(document.querySelector('.row').textContent).toBe('bye');
  });
  test.skip('later', () => {});
});
`
	require.NoError(t, b.Initialize(ctx, "playground", lab))

	logs := make(chan Event, 4)
	unsubscribe, err := b.Watch(EventConsole, func(ev Event) {
		select {
		case logs <- ev:
		default:
		}
	})
	require.NoError(t, err)
	defer unsubscribe()

	outcomes, err := b.RunTests(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, results.StatusPass, outcomes[0].Status)
	assert.Equal(t, []string{"row", "has text"}, outcomes[0].TestPath)
	assert.Equal(t, results.StatusFail, outcomes[1].Status)
	assert.Contains(t, outcomes[1].Errors[0], "bye")
	assert.Equal(t, results.StatusSkip, outcomes[2].Status)

	require.NoError(t, b.SetCode(ctx, Code{Script: "console.log('from page')"}))
	require.NoError(t, b.Run(ctx))

	select {
	case ev := <-logs:
		assert.Equal(t, "log: from page", ev.Data)
	case <-time.After(5 * time.Second):
		t.Fatal("console event not delivered")
	}
}
