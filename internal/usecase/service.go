package usecase

import (
	"browser-agent/internal/config"
	"browser-agent/internal/ports"
	"browser-agent/internal/usecase/adapters"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	Agent    adapters.AgentService
	Snapshot adapters.SnapshotService
	Actions  adapters.ActionService
}

type Params struct {
	fx.In

	Logger   *zap.Logger
	Config   *config.Config
	Engine   ports.SnapshotEngine
	Resolver ports.ActionResolver
	Planner  ports.Planner
}

func NewUsecase(params Params) *Service {
	factory := newServiceFactory(params)

	return &Service{
		Agent:    factory.CreateAgentService(),
		Snapshot: factory.CreateSnapshotService(),
		Actions:  factory.CreateActionService(),
	}
}
