package mocks

import (
	"browser-agent/internal/entity"
	"browser-agent/internal/ports"
	"context"

	"github.com/stretchr/testify/mock"
)

// -- Collaborator mocks --

type MockLLM struct {
	mock.Mock
}

func (m *MockLLM) Complete(ctx context.Context, system, user string) (any, error) {
	args := m.Called(ctx, system, user)
	return args.Get(0), args.Error(1)
}

type MockSnapshotEngine struct {
	mock.Mock
}

func (m *MockSnapshotEngine) Capture(ctx context.Context, opts entity.CaptureOptions) entity.Capture {
	args := m.Called(ctx, opts)
	if fn, ok := args.Get(0).(func(entity.CaptureOptions) entity.Capture); ok {
		return fn(opts)
	}
	return args.Get(0).(entity.Capture)
}

func (m *MockSnapshotEngine) Last() string {
	args := m.Called()
	if fn, ok := args.Get(0).(func() string); ok {
		return fn()
	}
	return args.String(0)
}

func (m *MockSnapshotEngine) NameForRef(ref string) (string, bool) {
	args := m.Called(ref)
	return args.String(0), args.Bool(1)
}

func (m *MockSnapshotEngine) RefSelector(ref string) string {
	args := m.Called(ref)
	if fn, ok := args.Get(0).(func(string) string); ok {
		return fn(ref)
	}
	return args.String(0)
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Execute(ctx context.Context, action *entity.Action) entity.Outcome {
	args := m.Called(ctx, action)
	if fn, ok := args.Get(0).(func(*entity.Action) entity.Outcome); ok {
		return fn(action)
	}
	return args.Get(0).(entity.Outcome)
}

type MockPlanner struct {
	mock.Mock
}

func (m *MockPlanner) Initial(ctx context.Context, goal, snapshot string) (*ports.Decision, error) {
	args := m.Called(ctx, goal, snapshot)

	var d *ports.Decision
	if v := args.Get(0); v != nil {
		d = v.(*ports.Decision)
	}

	return d, args.Error(1)
}

func (m *MockPlanner) Next(ctx context.Context, goal, snapshot string, history []entity.HistoryEntry) (*entity.Action, error) {
	args := m.Called(ctx, goal, snapshot, history)

	var a *entity.Action
	if v := args.Get(0); v != nil {
		a = v.(*entity.Action)
	}

	return a, args.Error(1)
}
