package planner

import (
	"browser-agent/internal/entity"
	"browser-agent/internal/ports"
	"browser-agent/pkg/apperr"
	"browser-agent/pkg/logg"
	"browser-agent/pkg/tracing"
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	plannerName   = "Planner"
	plannerTracer = "planner"
)

var _ ports.Planner = (*Planner)(nil)

// Planner turns snapshots into actions through an LLM. A reply without an
// action is not an error: the returned action is nil.
type Planner struct {
	llm    ports.LLM
	logger *zap.Logger
	tracer trace.Tracer
}

type Params struct {
	fx.In

	LLM    ports.LLM
	Logger *zap.Logger
}

func NewPlanner(params Params) *Planner {
	return &Planner{
		llm:    params.LLM,
		logger: params.Logger.With(zap.String(logg.Layer, plannerName)),
		tracer: otel.Tracer(plannerTracer),
	}
}

func (p *Planner) Initial(ctx context.Context, goal, snapshot string) (decision *ports.Decision, err error) {
	const op = "Initial"
	logger := p.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, p.tracer, logger, op, attribute.Int("snapshot_chars", len(snapshot)))
	defer func() {
		step.End(err)
	}()

	system, user := initialPrompt(goal, snapshot)

	obj, err := p.ask(ctx, op, system, user)
	if err != nil {
		return nil, err
	}

	action, err := p.action(op, obj)
	if err != nil {
		return nil, err
	}

	plan := toPlan(obj["plan"])
	logger.Info("Received plan", zap.Strings("plan", plan), zap.String(logg.Action, action.Describe()))

	return &ports.Decision{Plan: plan, Action: action}, nil
}

func (p *Planner) Next(ctx context.Context, goal, snapshot string, history []entity.HistoryEntry) (action *entity.Action, err error) {
	const op = "Next"
	logger := p.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, p.tracer, logger, op,
		attribute.Int("snapshot_chars", len(snapshot)),
		attribute.Int("history", len(history)))
	defer func() {
		step.End(err)
	}()

	system, user := nextPrompt(goal, snapshot, history)

	obj, err := p.ask(ctx, op, system, user)
	if err != nil {
		return nil, err
	}

	action, err = p.action(op, obj)
	if err != nil {
		return nil, err
	}

	logger.Debug("Received next action", zap.String(logg.Action, action.Describe()))

	return action, nil
}

// ask returns the reply object; non-object replies are reported as an empty
// object so they read as "no action".
func (p *Planner) ask(ctx context.Context, op, system, user string) (map[string]any, error) {
	raw, err := p.llm.Complete(ctx, system, user)
	if err != nil {
		code := apperr.CodeOf(err)
		if code == apperr.CodeInternal {
			code = apperr.CodeAIError
		}

		return nil, apperr.Wrap(op, code, err, map[string]any{
			apperr.MetaReason: "completion_failed",
			apperr.MetaStage:  apperr.StagePlanner,
		})
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		p.logger.Warn("Planner reply is not an object", zap.String("type", fmt.Sprintf("%T", raw)))
		return map[string]any{}, nil
	}

	return obj, nil
}

func (p *Planner) action(op string, obj map[string]any) (*entity.Action, error) {
	action, err := Normalize(obj["action"])
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeMalformedResponse, err, map[string]any{
			apperr.MetaReason: "bad_action_shape",
			apperr.MetaStage:  apperr.StagePlanner,
		})
	}

	return action, nil
}

func toPlan(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok && s != "" {
			return []string{s}
		}

		return nil
	}

	plan := make([]string, 0, len(items))
	for _, item := range items {
		if s := str(item); s != "" {
			plan = append(plan, s)
		}
	}

	return plan
}
