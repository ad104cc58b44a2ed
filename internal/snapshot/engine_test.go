package snapshot

import (
	"browser-agent/internal/config"
	"browser-agent/internal/entity"
	"browser-agent/internal/mocks"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeNode struct {
	role, name string
	label      string
	attrs      map[string]string
	inViewport bool
	y          float64
}

// fakeDOM mimics the walk script: refs are assigned in slice order.
func fakeDOM(title, url string, nodes ...fakeNode) func(arg any) (any, error) {
	return func(arg any) (any, error) {
		opts, ok := arg.(map[string]any)
		if !ok || opts["refAttr"] != "data-ref" {
			return nil, fmt.Errorf("unexpected walk options %v", arg)
		}

		elements := make([]any, 0, len(nodes))
		for i, n := range nodes {
			attrs := map[string]any{}
			for k, v := range n.attrs {
				attrs[k] = v
			}

			el := map[string]any{
				"ref":        fmt.Sprintf("e%d", i+1),
				"role":       n.role,
				"name":       n.name,
				"tag":        "div",
				"attrs":      attrs,
				"inViewport": n.inViewport,
				"y":          n.y,
			}
			if n.label != "" {
				el["label"] = n.label
			}

			elements = append(elements, el)
		}

		return map[string]any{"title": title, "url": url, "elements": elements}, nil
	}
}

func newTestEngine(t *testing.T, driver *mocks.FakeDriver) *Engine {
	t.Helper()

	return NewEngine(Params{
		Driver: driver,
		Config: &config.Config{AgentConfig: &config.AgentConfig{
			ElementCap:   50,
			ReadyTimeout: time.Second,
			RefAttribute: "data-ref",
		}},
		Logger: zaptest.NewLogger(t),
	})
}

func searchPage() func(arg any) (any, error) {
	return fakeDOM("Search", "https://example.com/",
		fakeNode{role: "searchbox", name: "Search", attrs: map[string]string{"type": "search", "placeholder": "Search"}, inViewport: true, y: 10},
		fakeNode{role: "button", name: "Go", inViewport: true, y: 10},
	)
}

func TestCaptureFullFormat(t *testing.T) {
	driver := mocks.NewFakeDriver()
	driver.Walk = searchPage()
	engine := newTestEngine(t, driver)

	capture := engine.Capture(context.Background(), entity.CaptureOptions{ForceRefresh: true})

	assert.Equal(t, entity.CaptureFull, capture.Mode)
	assert.Equal(t, 2, capture.Elements)

	want := strings.Join([]string{
		"- Page Snapshot",
		"```yaml",
		`- document "Search" [url=https://example.com/]`,
		`- searchbox "Search" [type="search", placeholder="Search"] [ref=e1]`,
		`- button "Go" [ref=e2]`,
		"```",
	}, "\n")
	assert.Equal(t, want, capture.Text)
	assert.Equal(t, want, engine.Last())
}

func TestCaptureDiffOnlyIsIdempotent(t *testing.T) {
	driver := mocks.NewFakeDriver()
	driver.Walk = searchPage()
	engine := newTestEngine(t, driver)
	ctx := context.Background()

	first := engine.Capture(ctx, entity.CaptureOptions{DiffOnly: true})
	assert.Equal(t, entity.CaptureFull, first.Mode, "diffOnly is ignored without a previous capture")

	second := engine.Capture(ctx, entity.CaptureOptions{DiffOnly: true})
	assert.Equal(t, entity.CaptureUnchanged, second.Mode)
	assert.Equal(t, UnchangedMarker, second.Text)

	third := engine.Capture(ctx, entity.CaptureOptions{DiffOnly: true})
	assert.Equal(t, UnchangedMarker, third.Text)
}

func TestCaptureDiffReportsChanges(t *testing.T) {
	driver := mocks.NewFakeDriver()
	driver.Walk = searchPage()
	engine := newTestEngine(t, driver)
	ctx := context.Background()

	engine.Capture(ctx, entity.CaptureOptions{})

	driver.Walk = fakeDOM("Results", "https://example.com/?q=hello",
		fakeNode{role: "link", name: "Hello world", attrs: map[string]string{"href": "/hello"}, inViewport: true, y: 40},
	)

	capture := engine.Capture(ctx, entity.CaptureOptions{ForceRefresh: true, DiffOnly: true})
	require.Equal(t, entity.CaptureDiff, capture.Mode)

	assert.True(t, strings.HasPrefix(capture.Text, DiffHeader+"\n```diff\n--- prev\n+++ curr\n"))
	assert.Contains(t, capture.Text, `-- button "Go" [ref=e2]`)
	assert.Contains(t, capture.Text, `+- link "Hello world" [href="/hello"] [ref=e1]`)
	assert.True(t, strings.HasSuffix(capture.Text, "\n```"))

	assert.Contains(t, engine.Last(), `link "Hello world"`, "the diff capture still replaces the stored snapshot")
}

func TestRefsAreDeterministic(t *testing.T) {
	driver := mocks.NewFakeDriver()
	driver.Walk = searchPage()
	engine := newTestEngine(t, driver)
	ctx := context.Background()

	a := engine.Capture(ctx, entity.CaptureOptions{}).Text
	b := engine.Capture(ctx, entity.CaptureOptions{}).Text

	assert.Equal(t, a, b)
}

func TestCapturePrioritizesViewportAndCaps(t *testing.T) {
	nodes := make([]fakeNode, 0, 60)
	for i := 0; i < 60; i++ {
		nodes = append(nodes, fakeNode{
			role:       "link",
			name:       fmt.Sprintf("item %d", i),
			inViewport: i >= 55,
			y:          float64(1000 - i),
		})
	}

	driver := mocks.NewFakeDriver()
	driver.Walk = fakeDOM("List", "https://example.com/list", nodes...)
	engine := newTestEngine(t, driver)
	ctx := context.Background()

	capture := engine.Capture(ctx, entity.CaptureOptions{})
	assert.Equal(t, 50, capture.Elements)

	lines := strings.Split(capture.Text, "\n")
	// header, fence, document line, then elements
	assert.Equal(t, `- link "item 59" [ref=e60]`, lines[3], "viewport elements come first, top to bottom")
	assert.Equal(t, `- link "item 55" [ref=e56]`, lines[7])
	assert.Equal(t, `- link "item 54" [ref=e55]`, lines[8])

	all := engine.Capture(ctx, entity.CaptureOptions{IncludeAll: true})
	assert.Equal(t, 60, all.Elements)
}

func TestCaptureFallsBackToBodyText(t *testing.T) {
	driver := mocks.NewFakeDriver()
	driver.Walk = searchPage()
	engine := newTestEngine(t, driver)
	ctx := context.Background()

	full := engine.Capture(ctx, entity.CaptureOptions{})

	driver.Walk = func(any) (any, error) { return nil, errors.New("script blocked") }
	driver.TitleText = "Blocked"
	driver.PageURL = "https://example.com/blocked"
	driver.Body = func() (any, error) { return "  Access\n\n denied  ", nil }

	capture := engine.Capture(ctx, entity.CaptureOptions{})
	assert.Equal(t, entity.CaptureFallback, capture.Mode)
	assert.Equal(t, strings.Join([]string{
		"- Page Snapshot",
		"```yaml",
		`- document "Blocked" [url=https://example.com/blocked]`,
		"- generic [ref=e1]: Access denied",
		"```",
	}, "\n"), capture.Text)

	assert.Equal(t, full.Text, engine.Last(), "fallback does not replace the stored snapshot")
}

func TestCaptureFallbackEmptyBody(t *testing.T) {
	driver := mocks.NewFakeDriver()
	driver.Walk = func(any) (any, error) { return "not an object", nil }
	engine := newTestEngine(t, driver)

	capture := engine.Capture(context.Background(), entity.CaptureOptions{})

	assert.Equal(t, entity.CaptureFallback, capture.Mode)
	assert.Contains(t, capture.Text, "- generic [ref=e1]: (no content)")
}

func TestCaptureReturnsErrorText(t *testing.T) {
	driver := mocks.NewFakeDriver()
	driver.Walk = func(any) (any, error) { return nil, errors.New("detached") }
	driver.Body = func() (any, error) { return nil, errors.New("detached") }
	engine := newTestEngine(t, driver)

	capture := engine.Capture(context.Background(), entity.CaptureOptions{})

	assert.True(t, capture.Failed())
	assert.Equal(t, ErrorText, capture.Text)
}

func TestCaptureRecoversFromPanic(t *testing.T) {
	driver := mocks.NewFakeDriver()
	driver.Walk = func(any) (any, error) { panic("boom") }
	engine := newTestEngine(t, driver)

	capture := engine.Capture(context.Background(), entity.CaptureOptions{})

	assert.True(t, capture.Failed())
	assert.Equal(t, ErrorText, capture.Text)
}

func TestCaptureProceedsWhenNotReady(t *testing.T) {
	driver := mocks.NewFakeDriver()
	driver.ReadyErr = errors.New("timeout")
	driver.Walk = searchPage()
	engine := newTestEngine(t, driver)

	capture := engine.Capture(context.Background(), entity.CaptureOptions{})

	assert.Equal(t, entity.CaptureFull, capture.Mode)
}

func TestNameForRef(t *testing.T) {
	driver := mocks.NewFakeDriver()
	driver.Walk = searchPage()
	engine := newTestEngine(t, driver)

	engine.Capture(context.Background(), entity.CaptureOptions{})

	name, ok := engine.NameForRef("e2")
	require.True(t, ok)
	assert.Equal(t, "Go", name)

	_, ok = engine.NameForRef("e9")
	assert.False(t, ok)

	assert.Equal(t, `[data-ref="e2"]`, engine.RefSelector("e2"))
}

func TestNameForRefUsesUntruncatedLabel(t *testing.T) {
	label := strings.Repeat("Very long product title ", 10)
	label = strings.TrimSpace(label)
	shown := label[:nameLimit] + truncationSuffix

	driver := mocks.NewFakeDriver()
	driver.Walk = fakeDOM("Shop", "https://shop.test/",
		fakeNode{role: "link", name: shown, label: label, inViewport: true},
	)
	engine := newTestEngine(t, driver)

	capture := engine.Capture(context.Background(), entity.CaptureOptions{})
	assert.Contains(t, capture.Text, strconv.Quote(shown))

	name, ok := engine.NameForRef("e1")
	require.True(t, ok)
	assert.Equal(t, label, name)
}

func TestNameForRefSkipsTruncatedText(t *testing.T) {
	shown := strings.Repeat("x", nameLimit) + truncationSuffix

	engine := newTestEngine(t, mocks.NewFakeDriver())
	engine.last = strings.Join([]string{
		`- button ` + strconv.Quote(shown) + ` [ref=e4]`,
		`- button "Loading..." [ref=e5]`,
	}, "\n")

	_, ok := engine.NameForRef("e4")
	assert.False(t, ok, "a truncated label can never match the live element")

	name, ok := engine.NameForRef("e5")
	require.True(t, ok)
	assert.Equal(t, "Loading...", name)
}

func TestNameFromLine(t *testing.T) {
	snapshot := strings.Join([]string{
		`- document "Shop" [url=https://shop.test/]`,
		`- button "Add \"red\" hat" [ref=e1]`,
		`- link "Cart" [href="/cart"] [ref=e10]`,
		`- textbox [placeholder="Email"] [ref=e11]`,
	}, "\n")

	name, ok := nameFromLine(snapshot, "e1")
	require.True(t, ok)
	assert.Equal(t, `Add "red" hat`, name)

	name, ok = nameFromLine(snapshot, "e10")
	require.True(t, ok)
	assert.Equal(t, "Cart", name)

	_, ok = nameFromLine(snapshot, "e11")
	assert.False(t, ok, "unnamed elements have no label to retry with")
}
