package usecase

import (
	"browser-agent/internal/config"
	"browser-agent/internal/entity"
	"browser-agent/internal/ports"
	"browser-agent/pkg/apperr"
	"browser-agent/pkg/logg"
	"browser-agent/pkg/tracing"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	agentServiceName = "AgentService"
	agentTracer      = "usecase.agent"
	defaultMaxSteps  = 15

	// maxFailedCaptures aborts the command once this many captures in a row fail.
	maxFailedCaptures = 2
)

// AgentService runs one command at a time: observe, plan, act, until the
// planner finishes or the command is aborted.
type AgentService struct {
	config   *config.AgentConfig
	logger   *zap.Logger
	tracer   trace.Tracer
	engine   ports.SnapshotEngine
	resolver ports.ActionResolver
	planner  ports.Planner

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	last    *entity.Command
}

type AgentServiceParams struct {
	fx.In

	Config   *config.Config
	Logger   *zap.Logger
	Engine   ports.SnapshotEngine
	Resolver ports.ActionResolver
	Planner  ports.Planner
}

func NewAgentService(params AgentServiceParams) *AgentService {
	return &AgentService{
		config:   params.Config.AgentConfig,
		logger:   params.Logger.With(zap.String(logg.Layer, agentServiceName)),
		tracer:   otel.Tracer(agentTracer),
		engine:   params.Engine,
		resolver: params.Resolver,
		planner:  params.Planner,
	}
}

// Run pursues goal until a terminal state. Planner failures, budget
// exhaustion and cancellation end the command in StateAborted and are not
// returned as errors; the error is reserved for refusing to start.
func (s *AgentService) Run(ctx context.Context, goal string) (cmd *entity.Command, err error) {
	const op = "Run"
	logger := s.logger.With(zap.String(logg.Operation, op))

	if goal == "" {
		return nil, apperr.InvalidReqError(op, "goal", errors.New("goal cannot be empty"))
	}

	ctx, release, err := s.acquire(ctx, op)
	if err != nil {
		return nil, err
	}
	defer release()

	cmd = &entity.Command{
		ID:        uuid.New(),
		Goal:      goal,
		State:     entity.StatePlanning,
		History:   make([]entity.HistoryEntry, 0),
		Variables: make(map[string]string),
		CreatedAt: time.Now(),
	}

	logger = logger.With(zap.String(logg.CommandID, cmd.ID.String()))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op,
		attribute.String("command_id", cmd.ID.String()),
		attribute.String("goal", goal))
	defer func() {
		step.SetAttributes(
			attribute.String("state", string(cmd.State)),
			attribute.Int("steps", cmd.Steps))
		step.End(err)
	}()

	defer func() {
		s.mu.Lock()
		s.last = cmd
		s.mu.Unlock()
	}()

	logger.Info("Command started", zap.String("goal", goal))

	snapshot, ok := s.initialObservation(ctx)
	failedCaptures := 0
	if !ok {
		failedCaptures++
	}

	decision, perr := s.planner.Initial(ctx, goal, snapshot)
	if perr != nil {
		s.abortOnPlanner(ctx, logger, cmd, perr)
		return cmd, nil
	}

	cmd.Plan = decision.Plan
	action := decision.Action
	step.AddEvent("plan received")

	maxSteps := s.maxSteps()

	for {
		if ctx.Err() != nil {
			s.abort(logger, cmd, entity.AbortCancelled, ctx.Err().Error())
			return cmd, nil
		}

		if action == nil {
			s.abort(logger, cmd, entity.AbortNoAction, "planner returned no action")
			return cmd, nil
		}

		if action.Type == entity.ActionTypeFinish {
			s.finish(logger, cmd, action.Summary)
			return cmd, nil
		}

		cmd.State = entity.StateActing
		cmd.Steps++

		outcome := s.resolver.Execute(ctx, action)
		s.record(logger, cmd, action, outcome)

		cmd.State = entity.StateObserving

		if action.Type.ChangesContent() || !outcome.Success {
			var captured bool

			snapshot, captured = s.observe(ctx)
			if captured {
				failedCaptures = 0
			} else {
				failedCaptures++
			}
		} else if last := s.engine.Last(); last != "" {
			snapshot = last
		}

		if failedCaptures >= maxFailedCaptures {
			s.abort(logger, cmd, entity.AbortSnapshotFailed, snapshot)
			return cmd, nil
		}

		if cmd.Steps >= maxSteps {
			s.abort(logger, cmd, entity.AbortStepBudget, "")
			return cmd, nil
		}

		cmd.State = entity.StatePlanning

		next, perr := s.planner.Next(ctx, goal, snapshot, cmd.History)
		if perr != nil {
			s.abortOnPlanner(ctx, logger, cmd, perr)
			return cmd, nil
		}

		action = next
	}
}

// Stop cancels the running command, if any.
func (s *AgentService) Stop() {
	const op = "Stop"
	logger := s.logger.With(zap.String(logg.Operation, op))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		logger.Info("Stopping agent...")
		s.cancel()
	}
}

// LastCommand returns the most recently completed command, or nil.
func (s *AgentService) LastCommand() *entity.Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last
}

func (s *AgentService) acquire(ctx context.Context, op string) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, nil, apperr.WrapErrorWithReason(op, apperr.CodeUnavailable, "command_in_progress")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel

	return ctx, func() {
		cancel()

		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
	}, nil
}

func (s *AgentService) maxSteps() int {
	if s.config != nil && s.config.MaxSteps > 0 {
		return s.config.MaxSteps
	}

	return defaultMaxSteps
}

// initialObservation takes a full capture; the planner gets the capture text
// itself, even when it is a fallback or the error marker.
func (s *AgentService) initialObservation(ctx context.Context) (string, bool) {
	capture := s.engine.Capture(ctx, entity.CaptureOptions{ForceRefresh: true})

	return capture.Text, !capture.Failed()
}

// observe recaptures after the page may have changed. The planner is given
// the stored full snapshot; the diff itself is only logged.
func (s *AgentService) observe(ctx context.Context) (string, bool) {
	capture := s.engine.Capture(ctx, entity.CaptureOptions{ForceRefresh: true, DiffOnly: true})

	s.logger.Debug("Observed page",
		zap.String("mode", string(capture.Mode)),
		zap.Int("elements", capture.Elements))

	switch capture.Mode {
	case entity.CaptureFailed:
		return capture.Text, false
	case entity.CaptureFallback:
		return capture.Text, true
	}

	if last := s.engine.Last(); last != "" {
		return last, true
	}

	return capture.Text, true
}

func (s *AgentService) record(logger *zap.Logger, cmd *entity.Command, action *entity.Action, outcome entity.Outcome) {
	cmd.History = append(cmd.History, entity.HistoryEntry{
		Action:  *action,
		Outcome: outcome.Text,
		Success: outcome.Success,
	})

	if action.Type == entity.ActionTypeExtract && outcome.Success {
		variable := action.Variable
		if variable == "" {
			variable = entity.DefaultVariable
		}

		cmd.Variables[variable] = outcome.Value
	}

	fields := []zap.Field{
		zap.Int(logg.Step, cmd.Steps),
		zap.String(logg.Action, action.Describe()),
		zap.String("outcome", outcome.Text),
	}

	if outcome.Success {
		logger.Info("Action succeeded", fields...)
	} else {
		logger.Warn("Action failed", append(fields, zap.String("code", outcome.Code))...)
	}
}

func (s *AgentService) abortOnPlanner(ctx context.Context, logger *zap.Logger, cmd *entity.Command, err error) {
	switch {
	case ctx.Err() != nil:
		s.abort(logger, cmd, entity.AbortCancelled, err.Error())
	case apperr.CodeOf(err) == apperr.CodeMalformedResponse:
		s.abort(logger, cmd, entity.AbortNoAction, err.Error())
	default:
		s.abort(logger, cmd, entity.AbortPlannerError, err.Error())
	}
}

func (s *AgentService) abort(logger *zap.Logger, cmd *entity.Command, reason, detail string) {
	now := time.Now()
	cmd.State = entity.StateAborted
	cmd.AbortReason = reason
	cmd.Error = detail
	cmd.CompletedAt = &now

	logger.Warn("Command aborted",
		zap.String(logg.State, string(cmd.State)),
		zap.String("reason", reason),
		zap.String("detail", detail),
		zap.Int(logg.Step, cmd.Steps))
}

func (s *AgentService) finish(logger *zap.Logger, cmd *entity.Command, summary string) {
	now := time.Now()
	cmd.State = entity.StateFinished
	cmd.Summary = summary
	cmd.CompletedAt = &now

	logger.Info("Command finished",
		zap.String("summary", summary),
		zap.Int(logg.Step, cmd.Steps))
}
