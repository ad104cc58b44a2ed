package adapters

import (
	"browser-agent/internal/entity"
	"context"
)

type AgentService interface {
	Run(ctx context.Context, goal string) (*entity.Command, error)
	Stop()
	LastCommand() *entity.Command
}

type SnapshotService interface {
	Capture(ctx context.Context, opts entity.CaptureOptions) entity.Capture
	Last() string
}

type ActionService interface {
	Execute(ctx context.Context, action *entity.Action) entity.Outcome
}
