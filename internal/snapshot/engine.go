package snapshot

import (
	"browser-agent/internal/config"
	"browser-agent/internal/entity"
	"browser-agent/internal/ports"
	"browser-agent/pkg/apperr"
	"browser-agent/pkg/logg"
	"browser-agent/pkg/tracing"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	engineName   = "SnapshotEngine"
	engineTracer = "snapshot.engine"
	nameLimit    = 150

	truncationSuffix = "..."
)

var _ ports.SnapshotEngine = (*Engine)(nil)

// Engine owns the ref bindings of the current DOM generation and the last full
// snapshot text. Captures are serialized.
type Engine struct {
	driver ports.Driver
	config *config.AgentConfig
	logger *zap.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	last     string
	elements map[string]entity.Element
}

type Params struct {
	fx.In

	Driver ports.Driver
	Config *config.Config
	Logger *zap.Logger
}

func NewEngine(params Params) *Engine {
	return &Engine{
		driver:   params.Driver,
		config:   params.Config.AgentConfig,
		logger:   params.Logger.With(zap.String(logg.Layer, engineName)),
		tracer:   otel.Tracer(engineTracer),
		elements: map[string]entity.Element{},
	}
}

// Capture samples the live page. It never returns an error: failures degrade to
// a fallback snapshot and finally to ErrorText with CaptureFailed.
func (e *Engine) Capture(ctx context.Context, opts entity.CaptureOptions) (capture entity.Capture) {
	const op = "Capture"
	logger := e.logger.With(zap.String(logg.Operation, op))

	var err error

	ctx, step := tracing.StartSpan(ctx, e.tracer, logger, op,
		attribute.Bool("force_refresh", opts.ForceRefresh),
		attribute.Bool("diff_only", opts.DiffOnly),
		attribute.Bool("include_all", opts.IncludeAll))
	defer func() {
		step.SetAttributes(attribute.String("mode", string(capture.Mode)))
		step.End(err)
	}()

	defer func() {
		if r := recover(); r != nil {
			err = apperr.Wrap(op, apperr.CodeSnapshotFailed, fmt.Errorf("panic: %v", r), map[string]any{
				apperr.MetaStage: apperr.StageSnapshot,
			})
			logger.Error("Snapshot capture panicked", zap.Any("panic", r))
			capture = entity.Capture{Text: ErrorText, Mode: entity.CaptureFailed}
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	if werr := e.driver.WaitForReady(ctx, e.config.ReadyTimeout); werr != nil {
		logger.Debug("Page not ready, capturing anyway", zap.Error(werr))
		step.AddEvent("readiness wait failed")
	}

	p, werr := e.walk(ctx)
	if werr != nil {
		logger.Warn("DOM walk failed, using fallback snapshot", zap.Error(werr))
		step.AddEvent("fallback")

		text, ferr := e.fallback(ctx)
		if ferr != nil {
			err = apperr.Wrap(op, apperr.CodeSnapshotFailed, ferr, map[string]any{
				apperr.MetaReason: "fallback_failed",
				apperr.MetaStage:  apperr.StageSnapshot,
			})
			logger.Error("Snapshot capture failed", zap.Error(err))

			return entity.Capture{Text: ErrorText, Mode: entity.CaptureFailed}
		}

		return entity.Capture{Text: e.maybeDiff(logger, opts, text), Mode: entity.CaptureFallback}
	}

	bindings := make(map[string]entity.Element, len(p.Elements))
	for _, el := range p.Elements {
		bindings[el.Ref] = el
	}

	reported := prioritize(p.Elements, e.config.ElementCap, opts.IncludeAll)
	text := formatPage(page{Title: p.Title, URL: p.URL, Elements: reported})

	prev := e.last
	e.last = text
	e.elements = bindings

	logger.Debug("Snapshot captured",
		zap.Int("elements", len(p.Elements)),
		zap.Int("reported", len(reported)),
		zap.String(logg.URL, p.URL))

	if opts.DiffOnly && prev != "" {
		out, changed, derr := diff(prev, text)
		if derr != nil {
			logger.Warn("Diff failed, returning full snapshot", zap.Error(derr))
			return entity.Capture{Text: text, Mode: entity.CaptureFull, Elements: len(reported)}
		}

		mode := entity.CaptureUnchanged
		if changed {
			mode = entity.CaptureDiff
		}

		return entity.Capture{Text: out, Mode: mode, Elements: len(reported)}
	}

	return entity.Capture{Text: text, Mode: entity.CaptureFull, Elements: len(reported)}
}

// maybeDiff diffs a fallback snapshot against the last full one without
// replacing it.
func (e *Engine) maybeDiff(logger *zap.Logger, opts entity.CaptureOptions, text string) string {
	if !opts.DiffOnly || e.last == "" {
		return text
	}

	out, _, err := diff(e.last, text)
	if err != nil {
		logger.Warn("Diff failed, returning fallback snapshot", zap.Error(err))
		return text
	}

	return out
}

func (e *Engine) walk(ctx context.Context) (page, error) {
	result, err := e.driver.Evaluate(ctx, walkScript, map[string]any{
		"refAttr":   e.config.RefAttribute,
		"nameLimit": nameLimit,
	})
	if err != nil {
		return page{}, err
	}

	root, ok := result.(map[string]any)
	if !ok {
		return page{}, fmt.Errorf("unexpected walk result %T", result)
	}

	items, _ := root["elements"].([]any)

	p := page{
		Title:    getString(root, "title"),
		URL:      getString(root, "url"),
		Elements: make([]entity.Element, 0, len(items)),
	}

	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}

		el := entity.Element{
			Ref:        getString(m, "ref"),
			Role:       getString(m, "role"),
			Name:       getString(m, "name"),
			Label:      getString(m, "label"),
			Tag:        getString(m, "tag"),
			InViewport: getBool(m, "inViewport"),
			Y:          getFloat(m, "y"),
			Attributes: map[string]string{},
		}

		if attrs, ok := m["attrs"].(map[string]any); ok {
			for k, v := range attrs {
				if s, ok := v.(string); ok && s != "" {
					el.Attributes[k] = s
				}
			}
		}

		if el.Ref == "" {
			continue
		}

		p.Elements = append(p.Elements, el)
	}

	return p, nil
}

func (e *Engine) fallback(ctx context.Context) (string, error) {
	title, err := e.driver.Title(ctx)
	if err != nil {
		return "", err
	}

	body, err := e.driver.Evaluate(ctx, bodyTextScript, nil)
	if err != nil {
		return "", err
	}

	text, _ := body.(string)

	return formatFallback(title, e.driver.URL(), text), nil
}

// Last returns the last stored full snapshot.
func (e *Engine) Last() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.last
}

// NameForRef resolves a ref to its full visible label, first from the bindings
// of the current generation, then from the stored snapshot text. A name that
// was truncated in the text is not returned since it cannot match the page.
func (e *Engine) NameForRef(ref string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if el, ok := e.elements[ref]; ok {
		if el.Label != "" {
			return el.Label, true
		}

		if el.Name != "" && !truncatedName(el.Name) {
			return el.Name, true
		}
	}

	name, ok := nameFromLine(e.last, ref)
	if !ok || truncatedName(name) {
		return "", false
	}

	return name, true
}

func truncatedName(name string) bool {
	return strings.HasSuffix(name, truncationSuffix) &&
		utf8.RuneCountInString(name) == nameLimit+utf8.RuneCountInString(truncationSuffix)
}

// RefSelector is the CSS selector matching the element tagged with ref.
func (e *Engine) RefSelector(ref string) string {
	return fmt.Sprintf("[%s=%q]", e.config.RefAttribute, ref)
}

// prioritize orders elements viewport first, then top to bottom, and applies
// the cap unless includeAll is set.
func prioritize(elements []entity.Element, limit int, includeAll bool) []entity.Element {
	out := append([]entity.Element(nil), elements...)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].InViewport != out[j].InViewport {
			return out[i].InViewport
		}

		return out[i].Y < out[j].Y
	})

	if !includeAll && limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}

	return ""
}

func getBool(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}

	return false
}

func getFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}

	return 0
}
