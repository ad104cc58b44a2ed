package snapshot

import (
	"browser-agent/internal/browser"
	"browser-agent/internal/config"
	"browser-agent/internal/entity"
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var walkPageLabel = strings.Repeat("Extended warranty ", 12)

var walkPage = `<!doctype html>
<html><head><title>Walk</title></head><body>
<button id="first">First</button>
<button style="display:none">Gone</button>
<a href="/hidden" style="visibility:hidden">Invisible</a>
<input type="hidden" name="token" value="secret">
<div role="button" style="width:0;height:0;overflow:hidden">Tiny</div>
<input type="text" placeholder="Email">
<a href="/next">Next</a>
<button id="long">` + walkPageLabel + `</button>
</body></html>`

func newBrowserEngine(t *testing.T) (*Engine, *browser.RodDriver) {
	t.Helper()

	if testing.Short() {
		t.Skip("launches a headless browser")
	}

	cfg := &config.Config{
		BrowserConfig: &config.BrowserConfig{Headless: true, Timeout: 30000},
		AgentConfig: &config.AgentConfig{
			ElementCap:   50,
			ReadyTimeout: 5 * time.Second,
			RefAttribute: "data-ref",
		},
	}
	logger := zaptest.NewLogger(t)

	driver := browser.NewRodDriver(browser.Params{Config: cfg, Logger: logger})
	if err := driver.Launch(context.Background()); err != nil {
		t.Skipf("no browser available: %v", err)
	}
	t.Cleanup(func() {
		_ = driver.Close(context.Background())
	})

	require.NoError(t, driver.Navigate(context.Background(), "data:text/html,"+url.PathEscape(walkPage), 20*time.Second))

	return NewEngine(Params{Driver: driver, Config: cfg, Logger: logger}), driver
}

func TestWalkScriptTagsVisibleControls(t *testing.T) {
	engine, driver := newBrowserEngine(t)
	ctx := context.Background()

	capture := engine.Capture(ctx, entity.CaptureOptions{ForceRefresh: true})
	require.Equal(t, entity.CaptureFull, capture.Mode, capture.Text)
	assert.Equal(t, 4, capture.Elements)

	assert.Contains(t, capture.Text, `- button "First" [id="first"] [ref=e1]`)
	assert.Contains(t, capture.Text, `- textbox "Email" [type="text", placeholder="Email"] [ref=e2]`)
	assert.Contains(t, capture.Text, `- link "Next" [href="/next"] [ref=e3]`)
	assert.Contains(t, capture.Text, `[id="long"] [ref=e4]`)

	for _, hidden := range []string{"Gone", "Invisible", "Tiny", "secret"} {
		assert.NotContains(t, capture.Text, hidden)
	}

	text, err := driver.TextContent(ctx, engine.RefSelector("e1"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "First", strings.TrimSpace(text))

	name, ok := engine.NameForRef("e4")
	require.True(t, ok)
	assert.Equal(t, strings.TrimSpace(walkPageLabel), name)
}

func TestWalkScriptRefsAreStable(t *testing.T) {
	engine, driver := newBrowserEngine(t)
	ctx := context.Background()

	first := engine.Capture(ctx, entity.CaptureOptions{ForceRefresh: true})
	require.Equal(t, entity.CaptureFull, first.Mode, first.Text)

	_, err := driver.Evaluate(ctx, `() => {
		document.querySelector('button[style]').setAttribute('data-ref', 'e99');
	}`, nil)
	require.NoError(t, err)

	second := engine.Capture(ctx, entity.CaptureOptions{ForceRefresh: true})
	assert.Equal(t, first.Text, second.Text)

	n, err := driver.Count(ctx, "[data-ref]")
	require.NoError(t, err)
	assert.Equal(t, 4, n, "refs left by earlier captures are cleared")

	unchanged := engine.Capture(ctx, entity.CaptureOptions{ForceRefresh: true, DiffOnly: true})
	assert.Equal(t, entity.CaptureUnchanged, unchanged.Mode)
}
