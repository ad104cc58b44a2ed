package usecase

import (
	"browser-agent/internal/usecase/adapters"
)

type serviceFactory struct {
	deps Params
}

func newServiceFactory(deps Params) *serviceFactory {
	return &serviceFactory{
		deps: deps,
	}
}

func (f *serviceFactory) CreateAgentService() adapters.AgentService {
	return NewAgentService(AgentServiceParams{
		Config:   f.deps.Config,
		Logger:   f.deps.Logger,
		Engine:   f.deps.Engine,
		Resolver: f.deps.Resolver,
		Planner:  f.deps.Planner,
	})
}

func (f *serviceFactory) CreateSnapshotService() adapters.SnapshotService {
	return f.deps.Engine
}

func (f *serviceFactory) CreateActionService() adapters.ActionService {
	return f.deps.Resolver
}
