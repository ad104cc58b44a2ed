package ports

import (
	"browser-agent/internal/entity"
	"context"
	"fmt"
	"strings"
	"time"
)

type ClickOptions struct {
	Force   bool
	Timeout time.Duration
}

// Driver is the browser capability set the snapshot engine and the action
// resolver depend on. Selectors are CSS, or text="..." for an exact visible
// text match (see TextSelector).
type Driver interface {
	Launch(ctx context.Context) error
	Close(ctx context.Context) error
	IsReady() bool

	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitForReady(ctx context.Context, timeout time.Duration) error
	URL() string
	Title(ctx context.Context) (string, error)

	Count(ctx context.Context, selector string) (int, error)
	IsVisible(ctx context.Context, selector string) (bool, error)
	IsEnabled(ctx context.Context, selector string) (bool, error)

	Click(ctx context.Context, selector string, opts ClickOptions) error
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	SelectOption(ctx context.Context, selector, value string, timeout time.Duration) error
	TextContent(ctx context.Context, selector string, timeout time.Duration) (string, error)
	Focus(ctx context.Context, selector string, timeout time.Duration) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	ScrollBy(ctx context.Context, dx, dy int) error
	Press(ctx context.Context, key string) error
	Evaluate(ctx context.Context, script string, arg any) (any, error)
}

// LLM is the raw planner transport: system instructions and a user prompt in,
// one decoded JSON value out.
type LLM interface {
	Complete(ctx context.Context, system, user string) (any, error)
}

type SnapshotEngine interface {
	Capture(ctx context.Context, opts entity.CaptureOptions) entity.Capture
	Last() string
	NameForRef(ref string) (string, bool)
	RefSelector(ref string) string
}

type ActionResolver interface {
	Execute(ctx context.Context, action *entity.Action) entity.Outcome
}

type Decision struct {
	Plan   []string
	Action *entity.Action
}

type Planner interface {
	Initial(ctx context.Context, goal, snapshot string) (*Decision, error)
	Next(ctx context.Context, goal, snapshot string, history []entity.HistoryEntry) (*entity.Action, error)
}

const textSelectorPrefix = "text="

// TextSelector builds the exact visible-text selector understood by every Driver.
func TextSelector(text string) string {
	return textSelectorPrefix + fmt.Sprintf("%q", text)
}

// ParseTextSelector reverses TextSelector.
func ParseTextSelector(selector string) (string, bool) {
	if !strings.HasPrefix(selector, textSelectorPrefix) {
		return "", false
	}

	raw := strings.TrimPrefix(selector, textSelectorPrefix)

	var text string
	if _, err := fmt.Sscanf(raw, "%q", &text); err != nil {
		return raw, true
	}

	return text, true
}
