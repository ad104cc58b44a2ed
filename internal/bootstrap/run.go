package bootstrap

import (
	"browser-agent/internal/console"
	"browser-agent/internal/entity"
	"browser-agent/internal/usecase"
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type runParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Usecase    *usecase.Service
	Logger     *zap.Logger
}

// runOnce runs a single goal and shuts the app down with exit code 1 unless
// the command finished.
func runOnce(params runParams, goal string) {
	logger := params.Logger

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				code := 0

				cmd, err := params.Usecase.Agent.Run(context.Background(), goal)
				switch {
				case err != nil:
					logger.Error("Command refused", zap.Error(err))
					code = 1
				default:
					console.WriteResult(os.Stdout, cmd)

					if cmd.State != entity.StateFinished {
						code = 1
					}
				}

				if err := params.Shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					logger.Error("Failed to request shutdown", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(context.Context) error {
			params.Usecase.Agent.Stop()

			return nil
		},
	})
}
