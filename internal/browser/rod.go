package browser

import (
	"browser-agent/internal/config"
	"browser-agent/internal/ports"
	"browser-agent/pkg/apperr"
	"browser-agent/pkg/logg"
	"browser-agent/pkg/tracing"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	rodDriverName = "RodDriver"
	rodTracer     = "browser.rod"
)

var _ ports.Driver = (*RodDriver)(nil)

// Finds the deepest elements whose trimmed visible text equals the argument.
const textMatchScript = `(text) => {
	const out = [];
	for (const el of document.querySelectorAll('body *')) {
		const t = (el.innerText || el.value || '').trim();
		if (t !== text) continue;
		if ([...el.children].some(c => (c.innerText || '').trim() === text)) continue;
		out.push(el);
	}
	return out;
}`

var rodKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
}

// RodDriver is the CDP-native alternative to Manager.
type RodDriver struct {
	config   *config.Config
	logger   *zap.Logger
	tracer   trace.Tracer
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	ready    bool
}

func NewRodDriver(params Params) *RodDriver {
	return &RodDriver{
		config: params.Config,
		logger: params.Logger.With(zap.String(logg.Layer, rodDriverName)),
		tracer: otel.Tracer(rodTracer),
	}
}

func (d *RodDriver) Launch(ctx context.Context) (err error) {
	const op = "Launch"
	logger := d.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, d.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	l := launcher.New().Headless(d.config.BrowserConfig.Headless)
	if d.config.BrowserConfig.Stealth {
		l = l.Set("disable-blink-features", "AutomationControlled")
	}

	if dir := d.config.BrowserConfig.UserDataDir; dir != "" {
		l = l.UserDataDir(dir)
	}

	u, err := l.Launch()
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "launch_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	d.launcher = l

	b := rod.New().ControlURL(u)
	if d.config.BrowserConfig.SlowMo > 0 {
		b = b.SlowMotion(time.Duration(d.config.BrowserConfig.SlowMo) * time.Millisecond)
	}

	if err := b.Connect(); err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "connect_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	d.browser = b

	var page *rod.Page
	if d.config.BrowserConfig.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "page_create_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	d.page = page
	d.ready = true
	logger.Info("Browser launched successfully", zap.Bool("stealth", d.config.BrowserConfig.Stealth))

	return nil
}

func (d *RodDriver) Close(ctx context.Context) (err error) {
	const op = "Close"
	logger := d.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, d.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	d.ready = false

	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			logger.Warn("Failed to close browser", zap.Error(err))
		}
	}

	if d.launcher != nil {
		d.launcher.Cleanup()
	}

	logger.Info("Browser closed")

	return nil
}

func (d *RodDriver) IsReady() bool {
	return d.ready
}

func (d *RodDriver) activePage(ctx context.Context, op string, timeout time.Duration) (*rod.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(op, apperr.CodeCancelled, err, map[string]any{
			apperr.MetaReason: "context_done",
		})
	}

	if !d.ready || d.page == nil {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready")
	}

	page := d.page.Context(ctx)
	if timeout > 0 {
		page = page.Timeout(timeout)
	}

	return page, nil
}

// element resolves the first match of a CSS or text="..." selector.
func (d *RodDriver) element(ctx context.Context, op, selector string, timeout time.Duration) (*rod.Element, error) {
	page, err := d.activePage(ctx, op, timeout)
	if err != nil {
		return nil, err
	}

	var el *rod.Element
	if text, ok := ports.ParseTextSelector(selector); ok {
		var els rod.Elements
		els, err = page.ElementsByJS(rod.Eval(textMatchScript, text))
		if err == nil && len(els) == 0 {
			err = fmt.Errorf("no element with text %q", text)
		}
		if err == nil {
			el = els.First()
		}
	} else {
		el, err = page.Element(selector)
	}

	if err != nil {
		return nil, apperr.Wrap(op, rodClassify(err), err, map[string]any{
			apperr.MetaReason:   "element_not_found",
			apperr.MetaSelector: selector,
		})
	}

	return el, nil
}

func (d *RodDriver) Navigate(ctx context.Context, url string, timeout time.Duration) (err error) {
	const op = "Navigate"
	logger := d.logger.With(zap.String(logg.Operation, op), zap.String(logg.URL, url))

	_, step := tracing.StartSpan(ctx, d.tracer, logger, op, attribute.String("url", url))
	defer func() {
		step.End(err)
	}()

	page, err := d.activePage(ctx, op, timeout)
	if err != nil {
		return err
	}

	wait := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)

	if err = page.Navigate(url); err != nil {
		return apperr.Wrap(op, rodClassify(err), err, map[string]any{
			apperr.MetaReason: "goto_failed",
			apperr.MetaStage:  apperr.StageNavigation,
			apperr.MetaURL:    url,
		})
	}

	wait()

	return nil
}

func (d *RodDriver) WaitForReady(ctx context.Context, timeout time.Duration) error {
	const op = "WaitForReady"

	page, err := d.activePage(ctx, op, timeout)
	if err != nil {
		return err
	}

	if err := page.WaitLoad(); err != nil {
		return apperr.Wrap(op, rodClassify(err), err, map[string]any{
			apperr.MetaReason: "load_state_timeout",
			apperr.MetaStage:  apperr.StageSnapshot,
		})
	}

	return nil
}

func (d *RodDriver) URL() string {
	if d.page == nil {
		return ""
	}

	info, err := d.page.Info()
	if err != nil {
		return ""
	}

	return info.URL
}

func (d *RodDriver) Title(ctx context.Context) (string, error) {
	const op = "Title"

	page, err := d.activePage(ctx, op, 0)
	if err != nil {
		return "", err
	}

	info, err := page.Info()
	if err != nil {
		return "", apperr.WrapWithReason(op, apperr.CodeInternal, err, "title_failed")
	}

	return info.Title, nil
}

func (d *RodDriver) Count(ctx context.Context, selector string) (int, error) {
	const op = "Count"

	page, err := d.activePage(ctx, op, 0)
	if err != nil {
		return 0, err
	}

	var els rod.Elements
	if text, ok := ports.ParseTextSelector(selector); ok {
		els, err = page.ElementsByJS(rod.Eval(textMatchScript, text))
	} else {
		els, err = page.Elements(selector)
	}
	if err != nil {
		return 0, apperr.Wrap(op, apperr.CodeInvalidArgument, err, map[string]any{
			apperr.MetaReason:   "bad_selector",
			apperr.MetaSelector: selector,
		})
	}

	return len(els), nil
}

func (d *RodDriver) IsVisible(ctx context.Context, selector string) (bool, error) {
	el, err := d.element(ctx, "IsVisible", selector, 0)
	if err != nil {
		return false, err
	}

	return el.Visible()
}

func (d *RodDriver) IsEnabled(ctx context.Context, selector string) (bool, error) {
	el, err := d.element(ctx, "IsEnabled", selector, 0)
	if err != nil {
		return false, err
	}

	disabled, err := el.Disabled()
	if err != nil {
		return false, err
	}

	return !disabled, nil
}

func (d *RodDriver) Click(ctx context.Context, selector string, opts ports.ClickOptions) (err error) {
	const op = "Click"
	logger := d.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	_, step := tracing.StartSpan(ctx, d.tracer, logger, op,
		attribute.String("selector", selector),
		attribute.Bool("force", opts.Force))
	defer func() {
		step.End(err)
	}()

	el, err := d.element(ctx, op, selector, opts.Timeout)
	if err != nil {
		return err
	}

	if opts.Force {
		_, err = el.Eval(`() => { this.scrollIntoView({block: 'center'}); this.click(); }`)
	} else {
		err = el.Click(proto.InputMouseButtonLeft, 1)
	}
	if err != nil {
		return apperr.Wrap(op, rodClassify(err), err, map[string]any{
			apperr.MetaReason:   "click_failed",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: selector,
		})
	}

	return nil
}

func (d *RodDriver) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	const op = "Fill"

	el, err := d.element(ctx, op, selector, timeout)
	if err != nil {
		return err
	}

	if err := el.SelectAllText(); err != nil {
		d.logger.Debug("Select all text failed", zap.String(logg.Selector, selector), zap.Error(err))
	}

	if err := el.Input(value); err != nil {
		return apperr.Wrap(op, rodClassify(err), err, map[string]any{
			apperr.MetaReason:   "fill_failed",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: selector,
		})
	}

	return nil
}

func (d *RodDriver) SelectOption(ctx context.Context, selector, value string, timeout time.Duration) error {
	const op = "SelectOption"

	el, err := d.element(ctx, op, selector, timeout)
	if err != nil {
		return err
	}

	err = el.Select([]string{fmt.Sprintf(`[value=%q]`, value)}, true, rod.SelectorTypeCSSSector)
	if err != nil {
		err = el.Select([]string{value}, true, rod.SelectorTypeText)
	}
	if err != nil {
		return apperr.Wrap(op, rodClassify(err), err, map[string]any{
			apperr.MetaReason:   "select_failed",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: selector,
		})
	}

	return nil
}

func (d *RodDriver) TextContent(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	const op = "TextContent"

	el, err := d.element(ctx, op, selector, timeout)
	if err != nil {
		return "", err
	}

	text, err := el.Text()
	if err != nil {
		return "", apperr.Wrap(op, rodClassify(err), err, map[string]any{
			apperr.MetaReason:   "text_content_failed",
			apperr.MetaSelector: selector,
		})
	}

	return text, nil
}

func (d *RodDriver) Focus(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := d.element(ctx, "Focus", selector, timeout)
	if err != nil {
		return err
	}

	return el.Focus()
}

func (d *RodDriver) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	const op = "WaitForSelector"

	el, err := d.element(ctx, op, selector, timeout)
	if err != nil {
		return err
	}

	if err := el.WaitVisible(); err != nil {
		return apperr.Wrap(op, rodClassify(err), err, map[string]any{
			apperr.MetaReason:   "wait_selector_failed",
			apperr.MetaSelector: selector,
		})
	}

	return nil
}

func (d *RodDriver) ScrollBy(ctx context.Context, dx, dy int) error {
	const op = "ScrollBy"

	page, err := d.activePage(ctx, op, 0)
	if err != nil {
		return err
	}

	if err := page.Mouse.Scroll(float64(dx), float64(dy), 1); err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason: "scroll_failed",
			apperr.MetaStage:  apperr.StageInteraction,
		})
	}

	return nil
}

func (d *RodDriver) Press(ctx context.Context, key string) error {
	const op = "Press"

	page, err := d.activePage(ctx, op, 0)
	if err != nil {
		return err
	}

	k, ok := rodKeys[key]
	if !ok {
		return apperr.InvalidReqError(op, "key", fmt.Errorf("unsupported key %q", key))
	}

	if err := page.Keyboard.Press(k); err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason: "press_failed",
			apperr.MetaStage:  apperr.StageInteraction,
		})
	}

	return nil
}

func (d *RodDriver) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	const op = "Evaluate"

	page, err := d.activePage(ctx, op, 0)
	if err != nil {
		return nil, err
	}

	res, err := page.Eval(script, arg)
	if err != nil {
		return nil, apperr.Wrap(op, rodClassify(err), err, map[string]any{
			apperr.MetaReason: "evaluate_failed",
		})
	}

	return res.Value.Val(), nil
}

func rodClassify(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.CodeTimeout
	}

	if errors.Is(err, context.Canceled) {
		return apperr.CodeCancelled
	}

	var notFound *rod.ElementNotFoundError
	if errors.As(err, &notFound) {
		return apperr.CodeNotFound
	}

	return apperr.CodeActionFailed
}
