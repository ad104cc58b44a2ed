package bootstrap

import (
	"browser-agent/internal/action"
	"browser-agent/internal/ai"
	"browser-agent/internal/browser"
	"browser-agent/internal/config"
	"browser-agent/internal/console"
	"browser-agent/internal/planner"
	"browser-agent/internal/ports"
	"browser-agent/internal/snapshot"
	"browser-agent/internal/usecase"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Override adjusts the loaded configuration, e.g. from command line flags.
type Override func(*config.Config)

// NewApp wires the agent. mode decides what runs once the browser is up:
// ConsoleMode or RunMode.
func NewApp(mode fx.Option, overrides ...Override) *fx.App {
	return fx.New(
		fx.Provide(
			config.GetConfig,
			newLogger,
			newTraceProvider,

			newDriver,
			fx.Annotate(ai.NewClient, fx.As(new(ports.LLM))),
			fx.Annotate(snapshot.NewEngine, fx.As(new(ports.SnapshotEngine))),
			fx.Annotate(action.NewResolver, fx.As(new(ports.ActionResolver))),
			fx.Annotate(planner.NewPlanner, fx.As(new(ports.Planner))),

			usecase.NewUsecase,

			console.NewInterface,
		),

		fx.Decorate(func(cfg *config.Config) (*config.Config, error) {
			for _, override := range overrides {
				override(cfg)
			}

			return cfg, cfg.Validate()
		}),

		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),

		fx.Invoke(
			startBrowser,
		),

		mode,

		fx.StartTimeout(60*time.Second),
	)
}

func ConsoleMode() fx.Option {
	return fx.Invoke(runConsole)
}

func RunMode(goal string) fx.Option {
	return fx.Invoke(func(params runParams) {
		runOnce(params, goal)
	})
}

func newDriver(params browser.Params) ports.Driver {
	if params.Config.BrowserConfig.Driver == "rod" {
		return browser.NewRodDriver(params)
	}

	return browser.NewManager(params)
}
