package action

import (
	"browser-agent/internal/config"
	"browser-agent/internal/entity"
	"browser-agent/internal/ports"
	"browser-agent/pkg/apperr"
	"browser-agent/pkg/logg"
	"browser-agent/pkg/tracing"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	resolverName   = "ActionResolver"
	resolverTracer = "action.resolver"

	navigateTimeout = 20 * time.Second
	extractPreview  = 100

	genericClickSelector = `button, a, input[type="submit"], input[type="button"], [role="button"]`
	genericInputSelector = `input[type="text"], input[type="search"], input[type="email"], input:not([type]), textarea, [role="textbox"], [role="searchbox"]`
)

var _ ports.ActionResolver = (*Resolver)(nil)

// errNoMatch marks an exhausted strategy list in which no strategy matched.
var errNoMatch = errors.New("element not found")

type Resolver struct {
	driver ports.Driver
	engine ports.SnapshotEngine
	config *config.AgentConfig
	logger *zap.Logger
	tracer trace.Tracer
}

type Params struct {
	fx.In

	Driver ports.Driver
	Engine ports.SnapshotEngine
	Config *config.Config
	Logger *zap.Logger
}

func NewResolver(params Params) *Resolver {
	return &Resolver{
		driver: params.Driver,
		engine: params.Engine,
		config: params.Config.AgentConfig,
		logger: params.Logger.With(zap.String(logg.Layer, resolverName)),
		tracer: otel.Tracer(resolverTracer),
	}
}

// strategy is one way of turning an action target into a selector.
type strategy struct {
	name     string
	selector func() (string, bool)
	force    bool
}

func fixed(sel string) func() (string, bool) {
	return func() (string, bool) { return sel, sel != "" }
}

// Execute runs one action against the page and always returns an Outcome.
// Every attempt that reaches the browser is followed by a fresh capture whose
// result never changes the outcome.
func (r *Resolver) Execute(ctx context.Context, action *entity.Action) (outcome entity.Outcome) {
	const op = "Execute"

	if action == nil {
		return entity.Failed(apperr.CodeInvalidArgument, "Error: No action to execute")
	}

	logger := r.logger.With(zap.String(logg.Operation, op), zap.String(logg.Action, string(action.Type)))
	if action.Ref != "" {
		logger = logger.With(zap.String(logg.Ref, action.Ref))
	}

	var err error

	ctx, step := tracing.StartSpan(ctx, r.tracer, logger, op,
		attribute.String("action.type", string(action.Type)),
		attribute.String("action.ref", action.Ref))
	defer func() {
		step.SetAttributes(attribute.Bool("success", outcome.Success))
		step.End(err)
	}()

	defer func() {
		if rec := recover(); rec != nil {
			err = apperr.Wrap(op, apperr.CodeInternal, fmt.Errorf("panic: %v", rec), map[string]any{
				apperr.MetaStage:  apperr.StageExecution,
				apperr.MetaAction: string(action.Type),
			})
			logger.Error("Action execution panicked", zap.Any("panic", rec))
			outcome = entity.Failed(apperr.CodeInternal, fmt.Sprintf("Error executing %s: %v", action.Type, rec))
		}
	}()

	if verr := action.Validate(); verr != nil {
		err = apperr.InvalidReqError(op, "action", verr)
		logger.Warn("Rejected invalid action", zap.Error(verr))

		return entity.Failed(apperr.CodeInvalidArgument, fmt.Sprintf("Error: invalid %s action: %v", typeName(action), verr))
	}

	if action.Type == entity.ActionTypeFinish {
		return entity.Succeeded("Task completed: " + action.Summary)
	}

	logger.Info("Executing action", zap.String("action", action.Describe()))

	outcome, captured, err := r.run(ctx, logger, step, action)
	if err != nil {
		err = apperr.Wrap(op, outcome.Code, err, map[string]any{
			apperr.MetaStage:  apperr.StageExecution,
			apperr.MetaAction: string(action.Type),
			apperr.MetaRef:    action.Ref,
		})
		logger.Warn("Action failed", zap.Error(err), zap.String("outcome", outcome.Text))
	}

	if !captured {
		r.refresh(ctx, logger)
	}

	return outcome
}

func (r *Resolver) run(ctx context.Context, logger *zap.Logger, step *tracing.Span, a *entity.Action) (entity.Outcome, bool, error) {
	switch a.Type {
	case entity.ActionTypeClick:
		out, err := r.click(ctx, logger, step, a)
		return out, false, err
	case entity.ActionTypeType:
		out, err := r.typeText(ctx, logger, step, a)
		return out, false, err
	case entity.ActionTypeSelect:
		out, err := r.selectOption(ctx, logger, step, a)
		return out, false, err
	case entity.ActionTypeWait:
		out, err := r.wait(ctx, a)
		return out, false, err
	case entity.ActionTypeScroll:
		out, err := r.scroll(ctx, a)
		return out, false, err
	case entity.ActionTypeEnter:
		out, err := r.enter(ctx, logger, a)
		return out, false, err
	case entity.ActionTypeExtract:
		out, err := r.extract(ctx, logger, step, a)
		return out, false, err
	case entity.ActionTypeNavigate:
		return r.navigate(ctx, a)
	}

	err := fmt.Errorf("unknown action type %q", a.Type)

	return entity.Failed(apperr.CodeInvalidArgument, "Error: "+err.Error()), false, err
}

// attempt walks strategies in order. A strategy whose selector matches nothing
// is skipped; one whose call fails counts as an attempt and the next one runs.
// With interact set, matches that are hidden or disabled are skipped too,
// except for forced strategies.
func (r *Resolver) attempt(ctx context.Context, logger *zap.Logger, step *tracing.Span, strategies []strategy, interact bool, fn func(sel string, s strategy) error) (string, int, error) {
	attempts := 0
	var lastErr, countErr, skipErr error

	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return "", attempts, apperr.Wrap("attempt", apperr.CodeCancelled, err, nil)
		}

		sel, ok := s.selector()
		if !ok {
			continue
		}

		n, err := r.driver.Count(ctx, sel)
		if err != nil {
			countErr = err
			logger.Debug("Strategy selector rejected", zap.String(logg.Strategy, s.name), zap.String(logg.Selector, sel), zap.Error(err))
			continue
		}

		if n == 0 {
			step.AddEvent("strategy skipped", attribute.String("strategy", s.name))
			continue
		}

		if interact && !s.force {
			if reason := r.unusable(ctx, logger, sel); reason != "" {
				skipErr = apperr.Wrap("attempt", apperr.CodeActionFailed, fmt.Errorf("element %s is %s", sel, reason), map[string]any{
					apperr.MetaReason:   "element_" + reason,
					apperr.MetaSelector: sel,
				})
				step.AddEvent("strategy skipped", attribute.String("strategy", s.name), attribute.String("reason", reason))
				logger.Debug("Strategy match not interactable", zap.String(logg.Strategy, s.name), zap.String(logg.Selector, sel), zap.String("reason", reason))

				continue
			}
		}

		attempts++
		step.AddEvent("trying strategy", attribute.String("strategy", s.name))

		if err := fn(sel, s); err != nil {
			lastErr = err
			logger.Warn("Strategy failed", zap.String(logg.Strategy, s.name), zap.String(logg.Selector, sel), zap.Error(err))
			continue
		}

		logger.Debug("Strategy succeeded", zap.String(logg.Strategy, s.name), zap.String(logg.Selector, sel))

		return sel, attempts, nil
	}

	if attempts == 0 {
		switch {
		case skipErr != nil:
			return "", 0, skipErr
		case countErr != nil:
			return "", 0, countErr
		}

		return "", 0, errNoMatch
	}

	return "", attempts, lastErr
}

// unusable names why the first match of sel cannot take input, or returns ""
// when it can or the driver cannot tell.
func (r *Resolver) unusable(ctx context.Context, logger *zap.Logger, sel string) string {
	visible, err := r.driver.IsVisible(ctx, sel)
	if err != nil {
		logger.Debug("Visibility check failed", zap.String(logg.Selector, sel), zap.Error(err))
		return ""
	}

	if !visible {
		return "hidden"
	}

	enabled, err := r.driver.IsEnabled(ctx, sel)
	if err != nil {
		logger.Debug("Enabled check failed", zap.String(logg.Selector, sel), zap.Error(err))
		return ""
	}

	if !enabled {
		return "disabled"
	}

	return ""
}

func (r *Resolver) failure(a *entity.Action, attempts int, err error) entity.Outcome {
	if errors.Is(err, errNoMatch) {
		return entity.Failed(apperr.CodeNotFound, fmt.Sprintf("Error: element not found for %s (%s)", a.Type, a.Describe()))
	}

	msg := err.Error()
	if attempts > 1 {
		msg = fmt.Sprintf("%d strategies failed, last: %v", attempts, err)
	}

	return entity.Failed(apperr.CodeOf(err), fmt.Sprintf("Error executing %s: %s", a.Type, msg))
}

func (r *Resolver) refStrategy(ref string) strategy {
	return strategy{
		name: "ref",
		selector: func() (string, bool) {
			if ref == "" {
				return "", false
			}

			return r.engine.RefSelector(ref), true
		},
	}
}

func (r *Resolver) click(ctx context.Context, logger *zap.Logger, step *tracing.Span, a *entity.Action) (entity.Outcome, error) {
	strategies := []strategy{
		{name: "selector", selector: fixed(a.Selector), force: true},
		{
			name: "text",
			selector: func() (string, bool) {
				if a.Text == "" {
					return "", false
				}

				return ports.TextSelector(a.Text), true
			},
		},
		r.refStrategy(a.Ref),
		{
			name: "ref_label",
			selector: func() (string, bool) {
				if a.Ref == "" {
					return "", false
				}

				name, ok := r.engine.NameForRef(a.Ref)
				if !ok || name == a.Text {
					return "", false
				}

				return ports.TextSelector(name), true
			},
		},
		{name: "generic", selector: fixed(genericClickSelector)},
	}

	_, attempts, err := r.attempt(ctx, logger, step, strategies, true, func(sel string, s strategy) error {
		return r.driver.Click(ctx, sel, ports.ClickOptions{Force: s.force, Timeout: r.config.ActionTimeout})
	})
	if err != nil {
		return r.failure(a, attempts, err), err
	}

	return entity.Succeeded("Successfully clicked element " + label(a)), nil
}

func (r *Resolver) typeText(ctx context.Context, logger *zap.Logger, step *tracing.Span, a *entity.Action) (entity.Outcome, error) {
	strategies := []strategy{
		{name: "selector", selector: fixed(a.Selector)},
		r.refStrategy(a.Ref),
		{name: "generic", selector: fixed(genericInputSelector)},
	}

	_, attempts, err := r.attempt(ctx, logger, step, strategies, true, func(sel string, _ strategy) error {
		return r.driver.Fill(ctx, sel, a.Text, r.config.ActionTimeout)
	})
	if err != nil {
		return r.failure(a, attempts, err), err
	}

	return entity.Succeeded(fmt.Sprintf("Successfully typed '%s' into element %s", a.Text, label(a))), nil
}

func (r *Resolver) selectOption(ctx context.Context, logger *zap.Logger, step *tracing.Span, a *entity.Action) (entity.Outcome, error) {
	strategies := []strategy{
		{name: "selector", selector: fixed(a.Selector)},
		r.refStrategy(a.Ref),
	}

	_, attempts, err := r.attempt(ctx, logger, step, strategies, true, func(sel string, _ strategy) error {
		return r.driver.SelectOption(ctx, sel, a.Value, r.config.ActionTimeout)
	})
	if err != nil {
		return r.failure(a, attempts, err), err
	}

	return entity.Succeeded(fmt.Sprintf("Successfully selected '%s' in element %s", a.Value, label(a))), nil
}

func (r *Resolver) extract(ctx context.Context, logger *zap.Logger, step *tracing.Span, a *entity.Action) (entity.Outcome, error) {
	strategies := []strategy{
		{name: "selector", selector: fixed(a.Selector)},
		r.refStrategy(a.Ref),
	}

	var text string

	_, attempts, err := r.attempt(ctx, logger, step, strategies, false, func(sel string, _ strategy) error {
		var terr error
		text, terr = r.driver.TextContent(ctx, sel, r.config.ActionTimeout)

		return terr
	})
	if err != nil {
		return r.failure(a, attempts, err), err
	}

	text = strings.TrimSpace(text)

	preview := "None"
	if text != "" {
		preview = text
		if utf8.RuneCountInString(preview) > extractPreview {
			preview = string([]rune(preview)[:extractPreview])
		}
	}

	out := entity.Succeeded(fmt.Sprintf("Extracted text: %s...", preview))
	out.Value = text

	return out, nil
}

func (r *Resolver) wait(ctx context.Context, a *entity.Action) (entity.Outcome, error) {
	if a.Selector != "" {
		if err := r.driver.WaitForSelector(ctx, a.Selector, r.config.WaitTimeout); err != nil {
			return entity.Failed(apperr.CodeOf(err), fmt.Sprintf("Error executing wait: selector %s did not appear within %s: %v", a.Selector, r.config.WaitTimeout, err)), err
		}

		return entity.Succeeded("Waited for selector " + a.Selector), nil
	}

	d := time.Duration(a.Timeout) * time.Millisecond
	if limit := r.config.WaitTimeout; limit > 0 && d > limit {
		d = limit
	}

	if err := sleep(ctx, d); err != nil {
		return entity.Failed(apperr.CodeCancelled, "Error executing wait: "+err.Error()), err
	}

	return entity.Succeeded(fmt.Sprintf("Waited for %dms", d.Milliseconds())), nil
}

func (r *Resolver) scroll(ctx context.Context, a *entity.Action) (entity.Outcome, error) {
	direction := a.ScrollDirection()
	amount := a.ScrollAmount()

	dy := amount
	if direction == entity.ScrollUp {
		dy = -amount
	}

	if err := r.driver.ScrollBy(ctx, 0, dy); err != nil {
		return entity.Failed(apperr.CodeOf(err), "Error executing scroll: "+err.Error()), err
	}

	if err := sleep(ctx, r.config.ScrollSettle); err != nil {
		return entity.Failed(apperr.CodeCancelled, "Error executing scroll: "+err.Error()), err
	}

	return entity.Succeeded(fmt.Sprintf("Scrolled %s by %dpx", direction, amount)), nil
}

func (r *Resolver) enter(ctx context.Context, logger *zap.Logger, a *entity.Action) (entity.Outcome, error) {
	target := a.Selector
	if a.Ref != "" {
		target = r.engine.RefSelector(a.Ref)
	}

	if target != "" {
		if err := r.driver.Focus(ctx, target, r.config.ActionTimeout); err != nil {
			logger.Warn("Focus before Enter failed, relying on current focus", zap.String(logg.Selector, target), zap.Error(err))
		}
	}

	if err := r.driver.Press(ctx, "Enter"); err != nil {
		return entity.Failed(apperr.CodeOf(err), "Error executing enter: "+err.Error()), err
	}

	if target == "" {
		return entity.Succeeded("Pressed Enter"), nil
	}

	return entity.Succeeded("Pressed Enter on element " + label(a)), nil
}

// navigate reports the length of the snapshot taken after loading, which
// doubles as the post-action capture.
func (r *Resolver) navigate(ctx context.Context, a *entity.Action) (entity.Outcome, bool, error) {
	if err := r.driver.Navigate(ctx, a.URL, navigateTimeout); err != nil {
		return entity.Failed(apperr.CodeOf(err), fmt.Sprintf("Error executing navigate: %v", err)), false, err
	}

	capture := r.engine.Capture(ctx, entity.CaptureOptions{ForceRefresh: true})
	if capture.Failed() {
		return entity.Succeeded(fmt.Sprintf("Navigated to %s (snapshot unavailable)", a.URL)), true, nil
	}

	return entity.Succeeded(fmt.Sprintf("Navigated to %s (snapshot: %d chars)", a.URL, len(capture.Text))), true, nil
}

func (r *Resolver) refresh(ctx context.Context, logger *zap.Logger) {
	if err := sleep(ctx, r.config.SettleDelay); err != nil {
		return
	}

	if capture := r.engine.Capture(ctx, entity.CaptureOptions{}); capture.Failed() {
		logger.Warn("Post-action snapshot failed")
	}
}

func label(a *entity.Action) string {
	switch {
	case a.Ref != "":
		return a.Ref
	case a.Selector != "":
		return a.Selector
	case a.Text != "":
		return fmt.Sprintf("%q", a.Text)
	}

	return "<focused>"
}

func typeName(a *entity.Action) string {
	if a.Type == "" {
		return "untyped"
	}

	return string(a.Type)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
