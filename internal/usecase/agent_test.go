package usecase

import (
	"browser-agent/internal/config"
	"browser-agent/internal/entity"
	"browser-agent/internal/mocks"
	"browser-agent/internal/ports"
	"browser-agent/pkg/apperr"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testSnapshot = "- Page Snapshot\n```yaml\n- textbox \"Search\" [ref=e1]\n```"

var (
	fullCapture    = entity.CaptureOptions{ForceRefresh: true}
	observeCapture = entity.CaptureOptions{ForceRefresh: true, DiffOnly: true}
)

type agentFixture struct {
	agent    *AgentService
	engine   *mocks.MockSnapshotEngine
	resolver *mocks.MockResolver
	planner  *mocks.MockPlanner
}

func newAgentFixture(t *testing.T, maxSteps int) *agentFixture {
	t.Helper()

	f := &agentFixture{
		engine:   &mocks.MockSnapshotEngine{},
		resolver: &mocks.MockResolver{},
		planner:  &mocks.MockPlanner{},
	}

	f.agent = NewAgentService(AgentServiceParams{
		Config:   &config.Config{AgentConfig: &config.AgentConfig{MaxSteps: maxSteps}},
		Logger:   zaptest.NewLogger(t),
		Engine:   f.engine,
		Resolver: f.resolver,
		Planner:  f.planner,
	})

	return f
}

func (f *agentFixture) healthyPage() {
	f.engine.On("Capture", mock.Anything, mock.Anything).
		Return(entity.Capture{Text: testSnapshot, Mode: entity.CaptureFull, Elements: 1}).Maybe()
	f.engine.On("Last").Return(testSnapshot).Maybe()
}

func (f *agentFixture) succeedAll() {
	f.resolver.On("Execute", mock.Anything, mock.Anything).Return(func(a *entity.Action) entity.Outcome {
		return entity.Succeeded("ok: " + string(a.Type))
	})
}

func TestRunStopsExactlyAtStepBudget(t *testing.T) {
	f := newAgentFixture(t, 15)
	f.healthyPage()
	f.succeedAll()

	click := &entity.Action{Type: entity.ActionTypeClick, Ref: "e1"}
	f.planner.On("Initial", mock.Anything, "loop forever", testSnapshot).
		Return(&ports.Decision{Plan: []string{"click"}, Action: click}, nil)
	f.planner.On("Next", mock.Anything, "loop forever", testSnapshot, mock.Anything).Return(click, nil)

	cmd, err := f.agent.Run(context.Background(), "loop forever")
	require.NoError(t, err)

	assert.Equal(t, entity.StateAborted, cmd.State)
	assert.Equal(t, entity.AbortStepBudget, cmd.AbortReason)
	assert.Equal(t, 15, cmd.Steps)
	assert.Len(t, cmd.History, 15)
	f.resolver.AssertNumberOfCalls(t, "Execute", 15)
	f.planner.AssertNumberOfCalls(t, "Initial", 1)
	f.planner.AssertNumberOfCalls(t, "Next", 14)
}

func TestRunUsesDefaultBudget(t *testing.T) {
	f := newAgentFixture(t, 0)
	f.healthyPage()
	f.succeedAll()

	wait := &entity.Action{Type: entity.ActionTypeWait, Timeout: 10}
	f.planner.On("Initial", mock.Anything, mock.Anything, mock.Anything).Return(&ports.Decision{Action: wait}, nil)
	f.planner.On("Next", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(wait, nil)

	cmd, err := f.agent.Run(context.Background(), "wait")
	require.NoError(t, err)
	assert.Equal(t, defaultMaxSteps, cmd.Steps)
}

func TestRunFinishShortCircuits(t *testing.T) {
	f := newAgentFixture(t, 15)
	f.healthyPage()

	f.planner.On("Initial", mock.Anything, mock.Anything, mock.Anything).Return(&ports.Decision{
		Plan:   []string{},
		Action: &entity.Action{Type: entity.ActionTypeFinish, Summary: "already there"},
	}, nil)

	cmd, err := f.agent.Run(context.Background(), "check the page")
	require.NoError(t, err)

	assert.Equal(t, entity.StateFinished, cmd.State)
	assert.Equal(t, "already there", cmd.Summary)
	assert.Empty(t, cmd.History)
	assert.NotNil(t, cmd.CompletedAt)
	f.resolver.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	f.planner.AssertNotCalled(t, "Next", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunWaitDoesNotRecapture(t *testing.T) {
	f := newAgentFixture(t, 15)
	f.healthyPage()
	f.succeedAll()

	f.planner.On("Initial", mock.Anything, mock.Anything, mock.Anything).
		Return(&ports.Decision{Action: &entity.Action{Type: entity.ActionTypeWait, Timeout: 100}}, nil)
	f.planner.On("Next", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&entity.Action{Type: entity.ActionTypeFinish, Summary: "done"}, nil)

	cmd, err := f.agent.Run(context.Background(), "wait a bit")
	require.NoError(t, err)

	assert.Equal(t, entity.StateFinished, cmd.State)
	f.engine.AssertNumberOfCalls(t, "Capture", 1)
	f.engine.AssertCalled(t, "Capture", mock.Anything, fullCapture)
	f.engine.AssertNotCalled(t, "Capture", mock.Anything, observeCapture)
}

func TestRunClickForcesRecapture(t *testing.T) {
	f := newAgentFixture(t, 15)
	f.healthyPage()
	f.succeedAll()

	f.planner.On("Initial", mock.Anything, mock.Anything, mock.Anything).
		Return(&ports.Decision{Action: &entity.Action{Type: entity.ActionTypeClick, Ref: "e1"}}, nil)
	f.planner.On("Next", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&entity.Action{Type: entity.ActionTypeFinish, Summary: "done"}, nil)

	_, err := f.agent.Run(context.Background(), "click it")
	require.NoError(t, err)

	f.engine.AssertNumberOfCalls(t, "Capture", 2)
	f.engine.AssertCalled(t, "Capture", mock.Anything, observeCapture)
}

func TestRunFailedWaitForcesRecapture(t *testing.T) {
	f := newAgentFixture(t, 15)
	f.healthyPage()

	f.resolver.On("Execute", mock.Anything, mock.Anything).
		Return(entity.Failed(apperr.CodeTimeout, "Error executing wait: timeout"))
	f.planner.On("Initial", mock.Anything, mock.Anything, mock.Anything).
		Return(&ports.Decision{Action: &entity.Action{Type: entity.ActionTypeWait, Selector: "#never"}}, nil)
	f.planner.On("Next", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&entity.Action{Type: entity.ActionTypeFinish, Summary: "gave up"}, nil)

	cmd, err := f.agent.Run(context.Background(), "wait for it")
	require.NoError(t, err)

	require.Len(t, cmd.History, 1)
	assert.False(t, cmd.History[0].Success)
	f.engine.AssertCalled(t, "Capture", mock.Anything, observeCapture)
}

func TestRunTypeEnterFinish(t *testing.T) {
	f := newAgentFixture(t, 15)
	f.healthyPage()

	f.resolver.On("Execute", mock.Anything, mock.Anything).Return(func(a *entity.Action) entity.Outcome {
		switch a.Type {
		case entity.ActionTypeType:
			return entity.Succeeded("Successfully typed 'hello' into element e1")
		case entity.ActionTypeEnter:
			return entity.Succeeded("Pressed Enter")
		}

		return entity.Failed(apperr.CodeInvalidArgument, "unexpected")
	})

	f.planner.On("Initial", mock.Anything, mock.Anything, testSnapshot).
		Return(&ports.Decision{
			Plan:   []string{"type hello", "press enter"},
			Action: &entity.Action{Type: entity.ActionTypeType, Ref: "e1", Text: "hello"},
		}, nil)
	f.planner.On("Next", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&entity.Action{Type: entity.ActionTypeEnter}, nil).Once()
	f.planner.On("Next", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&entity.Action{Type: entity.ActionTypeFinish, Summary: "done"}, nil).Once()

	cmd, err := f.agent.Run(context.Background(), "type 'hello' into the search box and press enter")
	require.NoError(t, err)

	assert.Equal(t, entity.StateFinished, cmd.State)
	assert.Equal(t, "done", cmd.Summary)
	assert.Equal(t, []string{"type hello", "press enter"}, cmd.Plan)
	require.Len(t, cmd.History, 2)
	assert.True(t, cmd.History[0].Success)
	assert.True(t, cmd.History[1].Success)
	assert.Equal(t, entity.ActionTypeType, cmd.History[0].Action.Type)
	assert.Equal(t, entity.ActionTypeEnter, cmd.History[1].Action.Type)
	assert.Equal(t, cmd, f.agent.LastCommand())
}

func TestRunAbortsAfterTwoFailedCaptures(t *testing.T) {
	f := newAgentFixture(t, 15)

	errorText := "Error: Could not capture page snapshot"
	f.engine.On("Capture", mock.Anything, mock.Anything).Return(entity.Capture{Text: errorText, Mode: entity.CaptureFailed})
	f.engine.On("Last").Return("").Maybe()
	f.succeedAll()

	f.planner.On("Initial", mock.Anything, mock.Anything, errorText).
		Return(&ports.Decision{Action: &entity.Action{Type: entity.ActionTypeScroll, Direction: "down"}}, nil)

	cmd, err := f.agent.Run(context.Background(), "scroll")
	require.NoError(t, err)

	assert.Equal(t, entity.StateAborted, cmd.State)
	assert.Equal(t, entity.AbortSnapshotFailed, cmd.AbortReason)
	assert.Equal(t, 1, cmd.Steps)
	f.planner.AssertNotCalled(t, "Next", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunRecoversAfterSingleFailedCapture(t *testing.T) {
	f := newAgentFixture(t, 15)

	f.engine.On("Capture", mock.Anything, fullCapture).
		Return(entity.Capture{Text: "Error: Could not capture page snapshot", Mode: entity.CaptureFailed})
	f.engine.On("Capture", mock.Anything, observeCapture).
		Return(entity.Capture{Text: "- Page Snapshot (diff)", Mode: entity.CaptureDiff})
	f.engine.On("Last").Return(testSnapshot)
	f.succeedAll()

	f.planner.On("Initial", mock.Anything, mock.Anything, mock.Anything).
		Return(&ports.Decision{Action: &entity.Action{Type: entity.ActionTypeNavigate, URL: "https://example.com"}}, nil)
	f.planner.On("Next", mock.Anything, mock.Anything, testSnapshot, mock.Anything).
		Return(&entity.Action{Type: entity.ActionTypeFinish, Summary: "ok"}, nil)

	cmd, err := f.agent.Run(context.Background(), "open example")
	require.NoError(t, err)
	assert.Equal(t, entity.StateFinished, cmd.State)
}

func TestRunNoActionAborts(t *testing.T) {
	f := newAgentFixture(t, 15)
	f.healthyPage()

	f.planner.On("Initial", mock.Anything, mock.Anything, mock.Anything).Return(&ports.Decision{Plan: []string{"x"}}, nil)

	cmd, err := f.agent.Run(context.Background(), "do something")
	require.NoError(t, err)

	assert.Equal(t, entity.StateAborted, cmd.State)
	assert.Equal(t, entity.AbortNoAction, cmd.AbortReason)
	f.resolver.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestRunPlannerErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{
			name:   "malformed",
			err:    apperr.Wrap("Next", apperr.CodeMalformedResponse, errors.New("bad shape"), nil),
			reason: entity.AbortNoAction,
		},
		{
			name:   "transport",
			err:    apperr.Wrap("Next", apperr.CodeAIError, errors.New("502"), nil),
			reason: entity.AbortPlannerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAgentFixture(t, 15)
			f.healthyPage()
			f.succeedAll()

			f.planner.On("Initial", mock.Anything, mock.Anything, mock.Anything).
				Return(&ports.Decision{Action: &entity.Action{Type: entity.ActionTypeClick, Text: "Go"}}, nil)
			f.planner.On("Next", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			cmd, err := f.agent.Run(context.Background(), "go")
			require.NoError(t, err)

			assert.Equal(t, entity.StateAborted, cmd.State)
			assert.Equal(t, tt.reason, cmd.AbortReason)
			assert.Contains(t, cmd.Error, tt.err.Error())
			assert.Len(t, cmd.History, 1)
		})
	}
}

func TestRunExtractStoresVariable(t *testing.T) {
	f := newAgentFixture(t, 15)
	f.healthyPage()

	f.resolver.On("Execute", mock.Anything, mock.Anything).
		Return(entity.Outcome{Text: "Extracted text: $10...", Success: true, Value: "$10"})
	f.planner.On("Initial", mock.Anything, mock.Anything, mock.Anything).
		Return(&ports.Decision{Action: &entity.Action{Type: entity.ActionTypeExtract, Ref: "e4", Variable: "price"}}, nil)
	f.planner.On("Next", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&entity.Action{Type: entity.ActionTypeFinish, Summary: "price is $10"}, nil)

	cmd, err := f.agent.Run(context.Background(), "read the price")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"price": "$10"}, cmd.Variables)
	f.engine.AssertNumberOfCalls(t, "Capture", 1)
}

func TestRunCancelledContext(t *testing.T) {
	f := newAgentFixture(t, 15)
	f.healthyPage()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.planner.On("Initial", mock.Anything, mock.Anything, mock.Anything).
		Return(&ports.Decision{Action: &entity.Action{Type: entity.ActionTypeClick, Ref: "e1"}}, nil)

	cmd, err := f.agent.Run(ctx, "anything")
	require.NoError(t, err)

	assert.Equal(t, entity.StateAborted, cmd.State)
	assert.Equal(t, entity.AbortCancelled, cmd.AbortReason)
	f.resolver.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestRunRefusesConcurrentCommandAndStops(t *testing.T) {
	f := newAgentFixture(t, 15)
	f.healthyPage()

	started := make(chan struct{})

	f.planner.On("Initial", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(&ports.Decision{Action: &entity.Action{Type: entity.ActionTypeClick, Ref: "e1"}}, nil)

	done := make(chan *entity.Command)

	go func() {
		cmd, _ := f.agent.Run(context.Background(), "first")
		done <- cmd
	}()

	<-started

	_, err := f.agent.Run(context.Background(), "second")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnavailable, apperr.CodeOf(err))

	f.agent.Stop()

	cmd := <-done
	assert.Equal(t, entity.StateAborted, cmd.State)
	assert.Equal(t, entity.AbortCancelled, cmd.AbortReason)
}

func TestRunRejectsEmptyGoal(t *testing.T) {
	f := newAgentFixture(t, 15)

	_, err := f.agent.Run(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}
