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
	"os"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	browserManagerName = "BrowserManager"
	browserTracer      = "browser.manager"
	userAgent          = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

var _ ports.Driver = (*Manager)(nil)

// Manager drives a single Chromium page through playwright.
type Manager struct {
	config         *config.Config
	logger         *zap.Logger
	tracer         trace.Tracer
	playwright     *playwright.Playwright
	browser        playwright.Browser
	browserContext playwright.BrowserContext
	page           playwright.Page
	ready          bool
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewManager(params Params) *Manager {
	return &Manager{
		config: params.Config,
		logger: params.Logger.With(zap.String(logg.Layer, browserManagerName)),
		tracer: otel.Tracer(browserTracer),
		ready:  false,
	}
}

func (m *Manager) Launch(ctx context.Context) (err error) {
	const op = "Launch"
	logger := m.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	logger.Info("Launching browser...")
	step.AddEvent("installing playwright")

	err = playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "playwright_install_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	step.AddEvent("starting playwright")

	pw, err := playwright.Run()
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "playwright_start_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	m.playwright = pw

	if m.config.BrowserConfig.UserDataDir != "" {
		return m.launchPersistent(ctx)
	}

	return m.launchNew(ctx)
}

func (m *Manager) launchArgs() []string {
	args := []string{"--disable-dev-shm-usage"}
	if m.config.BrowserConfig.Stealth {
		args = append(args, "--disable-blink-features=AutomationControlled")
	}

	return args
}

func (m *Manager) launchPersistent(ctx context.Context) (err error) {
	const op = "launchPersistent"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	userDataDir := m.config.BrowserConfig.UserDataDir
	logger.Info("Launching persistent browser context", zap.String("user_data_dir", userDataDir))

	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "mkdir_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	options := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:          playwright.Bool(m.config.BrowserConfig.Headless),
		SlowMo:            playwright.Float(float64(m.config.BrowserConfig.SlowMo)),
		Viewport:          &playwright.Size{Width: 1280, Height: 720},
		UserAgent:         playwright.String(userAgent),
		AcceptDownloads:   playwright.Bool(true),
		JavaScriptEnabled: playwright.Bool(true),
		Args:              m.launchArgs(),
	}

	browserContext, err := m.playwright.Chromium.LaunchPersistentContext(userDataDir, options)
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "launch_persistent_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	m.browserContext = browserContext

	if pages := browserContext.Pages(); len(pages) > 0 {
		m.page = pages[0]
		logger.Info("Using existing page")
	} else {
		page, err := browserContext.NewPage()
		if err != nil {
			return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
				apperr.MetaReason: "new_page_failed",
				apperr.MetaStage:  apperr.StageBrowser,
			})
		}
		m.page = page
		logger.Info("Created new page")
	}

	m.ready = true
	logger.Info("Browser launched successfully")

	return nil
}

func (m *Manager) launchNew(ctx context.Context) (err error) {
	const op = "launchNew"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	logger.Info("Launching new browser")

	browser, err := m.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.config.BrowserConfig.Headless),
		SlowMo:   playwright.Float(float64(m.config.BrowserConfig.SlowMo)),
		Args:     m.launchArgs(),
	})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "browser_launch_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	m.browser = browser

	browserContext, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: 1280, Height: 720},
		UserAgent:         playwright.String(userAgent),
		AcceptDownloads:   playwright.Bool(true),
		JavaScriptEnabled: playwright.Bool(true),
	})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "context_create_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	m.browserContext = browserContext

	page, err := browserContext.NewPage()
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "page_create_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	m.page = page

	m.ready = true
	logger.Info("Browser launched successfully")

	return nil
}

func (m *Manager) Close(ctx context.Context) (err error) {
	const op = "Close"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	logger.Info("Closing browser...")

	if m.browserContext != nil {
		if err := m.browserContext.Close(); err != nil {
			logger.Warn("Failed to close context", zap.Error(err))
		}
	}

	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			logger.Warn("Failed to close browser", zap.Error(err))
		}
	}

	m.ready = false

	if m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
				apperr.MetaReason: "playwright_stop_failed",
			})
		}
	}

	logger.Info("Browser closed")

	return nil
}

func (m *Manager) IsReady() bool {
	return m.ready
}

func (m *Manager) ensurePageActive() error {
	if m.browserContext == nil {
		return fmt.Errorf("browser context is nil")
	}

	if m.page != nil && !m.page.IsClosed() {
		return nil
	}

	m.logger.Info("Page closed, reconnecting to active page...")

	for _, p := range m.browserContext.Pages() {
		if !p.IsClosed() {
			m.page = p
			m.logger.Info("Reconnected to existing page")

			return nil
		}
	}

	page, err := m.browserContext.NewPage()
	if err != nil {
		return fmt.Errorf("failed to create new page: %w", err)
	}

	m.page = page
	m.logger.Info("Created new page")

	return nil
}

// activePage checks every precondition shared by page operations.
func (m *Manager) activePage(ctx context.Context, op string) (playwright.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(op, apperr.CodeCancelled, err, map[string]any{
			apperr.MetaReason: "context_done",
		})
	}

	if !m.ready {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready")
	}

	if err := m.ensurePageActive(); err != nil {
		return nil, apperr.Wrap(op, apperr.CodeBrowserNotReady, err, map[string]any{
			apperr.MetaReason: "page_not_active",
		})
	}

	return m.page, nil
}

func (m *Manager) Navigate(ctx context.Context, url string, timeout time.Duration) (err error) {
	const op = "Navigate"
	logger := m.logger.With(zap.String(logg.Operation, op), zap.String(logg.URL, url))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op, attribute.String("url", url))
	defer func() {
		step.End(err)
	}()

	page, err := m.activePage(ctx, op)
	if err != nil {
		return err
	}

	step.AddEvent("navigating to URL")

	_, err = page.Goto(url, playwright.PageGotoOptions{
		Timeout:   millis(timeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return apperr.Wrap(op, classify(err), err, map[string]any{
			apperr.MetaReason: "goto_failed",
			apperr.MetaStage:  apperr.StageNavigation,
			apperr.MetaURL:    url,
		})
	}

	step.AddEvent("navigation completed")

	return nil
}

func (m *Manager) WaitForReady(ctx context.Context, timeout time.Duration) (err error) {
	const op = "WaitForReady"

	page, err := m.activePage(ctx, op)
	if err != nil {
		return err
	}

	err = page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: millis(timeout),
	})
	if err != nil {
		return apperr.Wrap(op, classify(err), err, map[string]any{
			apperr.MetaReason: "load_state_timeout",
			apperr.MetaStage:  apperr.StageSnapshot,
		})
	}

	return nil
}

func (m *Manager) URL() string {
	if m.page == nil || m.page.IsClosed() {
		return ""
	}

	return m.page.URL()
}

func (m *Manager) Title(ctx context.Context) (string, error) {
	const op = "Title"

	page, err := m.activePage(ctx, op)
	if err != nil {
		return "", err
	}

	title, err := page.Title()
	if err != nil {
		return "", apperr.WrapWithReason(op, apperr.CodeInternal, err, "title_failed")
	}

	return title, nil
}

func (m *Manager) Count(ctx context.Context, selector string) (int, error) {
	const op = "Count"

	page, err := m.activePage(ctx, op)
	if err != nil {
		return 0, err
	}

	n, err := page.Locator(selector).Count()
	if err != nil {
		return 0, apperr.Wrap(op, apperr.CodeInvalidArgument, err, map[string]any{
			apperr.MetaReason:   "bad_selector",
			apperr.MetaSelector: selector,
		})
	}

	return n, nil
}

func (m *Manager) IsVisible(ctx context.Context, selector string) (bool, error) {
	const op = "IsVisible"

	page, err := m.activePage(ctx, op)
	if err != nil {
		return false, err
	}

	visible, err := page.Locator(selector).First().IsVisible()
	if err != nil {
		return false, apperr.Wrap(op, classify(err), err, map[string]any{
			apperr.MetaSelector: selector,
		})
	}

	return visible, nil
}

func (m *Manager) IsEnabled(ctx context.Context, selector string) (bool, error) {
	const op = "IsEnabled"

	page, err := m.activePage(ctx, op)
	if err != nil {
		return false, err
	}

	enabled, err := page.Locator(selector).First().IsEnabled()
	if err != nil {
		return false, apperr.Wrap(op, classify(err), err, map[string]any{
			apperr.MetaSelector: selector,
		})
	}

	return enabled, nil
}

func (m *Manager) Click(ctx context.Context, selector string, opts ports.ClickOptions) (err error) {
	const op = "Click"
	logger := m.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op,
		attribute.String("selector", selector),
		attribute.Bool("force", opts.Force))
	defer func() {
		step.End(err)
	}()

	page, err := m.activePage(ctx, op)
	if err != nil {
		return err
	}

	err = page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Force:   playwright.Bool(opts.Force),
		Timeout: millis(opts.Timeout),
	})
	if err != nil {
		return apperr.Wrap(op, classify(err), err, map[string]any{
			apperr.MetaReason:   "click_failed",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: selector,
		})
	}

	return nil
}

func (m *Manager) Fill(ctx context.Context, selector, value string, timeout time.Duration) (err error) {
	const op = "Fill"
	logger := m.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op, attribute.String("selector", selector))
	defer func() {
		step.End(err)
	}()

	page, err := m.activePage(ctx, op)
	if err != nil {
		return err
	}

	err = page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{
		Timeout: millis(timeout),
	})
	if err != nil {
		return apperr.Wrap(op, classify(err), err, map[string]any{
			apperr.MetaReason:   "fill_failed",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: selector,
		})
	}

	return nil
}

func (m *Manager) SelectOption(ctx context.Context, selector, value string, timeout time.Duration) (err error) {
	const op = "SelectOption"
	logger := m.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op, attribute.String("selector", selector))
	defer func() {
		step.End(err)
	}()

	page, err := m.activePage(ctx, op)
	if err != nil {
		return err
	}

	values := []string{value}

	_, err = page.Locator(selector).First().SelectOption(
		playwright.SelectOptionValues{Values: &values},
		playwright.LocatorSelectOptionOptions{Timeout: millis(timeout)},
	)
	if err != nil {
		// Planners often pass the visible label instead of the option value.
		labels := []string{value}

		_, err = page.Locator(selector).First().SelectOption(
			playwright.SelectOptionValues{Labels: &labels},
			playwright.LocatorSelectOptionOptions{Timeout: millis(timeout)},
		)
	}
	if err != nil {
		return apperr.Wrap(op, classify(err), err, map[string]any{
			apperr.MetaReason:   "select_failed",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: selector,
		})
	}

	return nil
}

func (m *Manager) TextContent(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	const op = "TextContent"

	page, err := m.activePage(ctx, op)
	if err != nil {
		return "", err
	}

	text, err := page.Locator(selector).First().TextContent(playwright.LocatorTextContentOptions{
		Timeout: millis(timeout),
	})
	if err != nil {
		return "", apperr.Wrap(op, classify(err), err, map[string]any{
			apperr.MetaReason:   "text_content_failed",
			apperr.MetaSelector: selector,
		})
	}

	return text, nil
}

func (m *Manager) Focus(ctx context.Context, selector string, timeout time.Duration) error {
	const op = "Focus"

	page, err := m.activePage(ctx, op)
	if err != nil {
		return err
	}

	err = page.Locator(selector).First().Focus(playwright.LocatorFocusOptions{
		Timeout: millis(timeout),
	})
	if err != nil {
		return apperr.Wrap(op, classify(err), err, map[string]any{
			apperr.MetaReason:   "focus_failed",
			apperr.MetaSelector: selector,
		})
	}

	return nil
}

func (m *Manager) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (err error) {
	const op = "WaitForSelector"
	logger := m.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op, attribute.String("selector", selector))
	defer func() {
		step.End(err)
	}()

	page, err := m.activePage(ctx, op)
	if err != nil {
		return err
	}

	err = page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: millis(timeout),
	})
	if err != nil {
		return apperr.Wrap(op, classify(err), err, map[string]any{
			apperr.MetaReason:   "wait_selector_failed",
			apperr.MetaSelector: selector,
		})
	}

	return nil
}

func (m *Manager) ScrollBy(ctx context.Context, dx, dy int) error {
	const op = "ScrollBy"

	page, err := m.activePage(ctx, op)
	if err != nil {
		return err
	}

	_, err = page.Evaluate(`([dx, dy]) => window.scrollBy(dx, dy)`, []int{dx, dy})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason: "scroll_failed",
			apperr.MetaStage:  apperr.StageInteraction,
		})
	}

	return nil
}

func (m *Manager) Press(ctx context.Context, key string) (err error) {
	const op = "Press"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op, attribute.String("key", key))
	defer func() {
		step.End(err)
	}()

	page, err := m.activePage(ctx, op)
	if err != nil {
		return err
	}

	err = page.Keyboard().Press(key)
	if err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason: "press_failed",
			apperr.MetaStage:  apperr.StageInteraction,
		})
	}

	return nil
}

func (m *Manager) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	const op = "Evaluate"

	page, err := m.activePage(ctx, op)
	if err != nil {
		return nil, err
	}

	result, err := page.Evaluate(script, arg)
	if err != nil {
		return nil, apperr.Wrap(op, classify(err), err, map[string]any{
			apperr.MetaReason: "evaluate_failed",
		})
	}

	return result, nil
}

func millis(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}

	return playwright.Float(float64(d.Milliseconds()))
}

func classify(err error) string {
	if errors.Is(err, playwright.ErrTimeout) {
		return apperr.CodeTimeout
	}

	return apperr.CodeActionFailed
}
