package planner

import (
	"browser-agent/internal/entity"
	"browser-agent/internal/mocks"
	"browser-agent/pkg/apperr"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestPlanner(t *testing.T) (*Planner, *mocks.MockLLM) {
	t.Helper()

	llm := &mocks.MockLLM{}
	t.Cleanup(func() { llm.AssertExpectations(t) })

	return NewPlanner(Params{LLM: llm, Logger: zaptest.NewLogger(t)}), llm
}

func TestInitialReturnsPlanAndAction(t *testing.T) {
	p, llm := newTestPlanner(t)

	llm.On("Complete", mock.Anything, mock.Anything, "Snapshot:\nSNAP\n\nTask: find laptops").
		Return(map[string]any{
			"plan":   []any{"search", "open first result"},
			"action": map[string]any{"type": "type", "ref": "e1", "text": "laptop"},
		}, nil)

	d, err := p.Initial(context.Background(), "find laptops", "SNAP")
	require.NoError(t, err)

	assert.Equal(t, []string{"search", "open first result"}, d.Plan)
	assert.Equal(t, &entity.Action{Type: entity.ActionTypeType, Ref: "e1", Text: "laptop"}, d.Action)
}

func TestInitialSystemPromptListsActions(t *testing.T) {
	p, llm := newTestPlanner(t)

	llm.On("Complete", mock.Anything, mock.MatchedBy(func(system string) bool {
		return strings.HasPrefix(system, "You are a web automation assistant") &&
			strings.Contains(system, `"plan"`) &&
			strings.Contains(system, "'extract'") &&
			strings.Contains(system, "Only use 'ref' values that exist")
	}), mock.Anything).Return(map[string]any{"action": map[string]any{"type": "finish", "summary": "ok"}}, nil)

	_, err := p.Initial(context.Background(), "goal", "snap")
	require.NoError(t, err)
}

func TestInitialNullActionIsNotAnError(t *testing.T) {
	p, llm := newTestPlanner(t)

	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return(map[string]any{"plan": []any{"a"}, "action": nil}, nil)

	d, err := p.Initial(context.Background(), "goal", "snap")
	require.NoError(t, err)
	assert.Nil(t, d.Action)
	assert.Equal(t, []string{"a"}, d.Plan)
}

func TestNextNonObjectReplyMeansNoAction(t *testing.T) {
	p, llm := newTestPlanner(t)

	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return([]any{"x"}, nil)

	a, err := p.Next(context.Background(), "goal", "snap", nil)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestNextPromptCarriesHistory(t *testing.T) {
	p, llm := newTestPlanner(t)

	history := []entity.HistoryEntry{
		{Action: entity.Action{Type: entity.ActionTypeClick, Ref: "e2"}, Outcome: "Successfully clicked element e2", Success: true},
	}

	want := "Snapshot:\nSNAP\n\nHistory:\n1. ✅ click -> Successfully clicked element e2\n\nTask: goal"
	llm.On("Complete", mock.Anything, mock.Anything, want).
		Return(map[string]any{"action": map[string]any{"click": "e5"}}, nil)

	a, err := p.Next(context.Background(), "goal", "SNAP", history)
	require.NoError(t, err)
	assert.Equal(t, &entity.Action{Type: entity.ActionTypeClick, Ref: "e5"}, a)
}

func TestNextMalformedAction(t *testing.T) {
	p, llm := newTestPlanner(t)

	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return(map[string]any{"action": "click the button"}, nil)

	_, err := p.Next(context.Background(), "goal", "snap", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeMalformedResponse, apperr.CodeOf(err))
}

func TestNextLLMFailure(t *testing.T) {
	p, llm := newTestPlanner(t)

	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	_, err := p.Next(context.Background(), "goal", "snap", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeAIError, apperr.CodeOf(err))
}

func TestNextKeepsLLMErrorCode(t *testing.T) {
	p, llm := newTestPlanner(t)

	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apperr.Wrap("Complete", apperr.CodeMalformedResponse, errors.New("no JSON object"), nil))

	_, err := p.Next(context.Background(), "goal", "snap", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeMalformedResponse, apperr.CodeOf(err))
}
