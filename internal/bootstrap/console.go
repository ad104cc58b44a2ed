package bootstrap

import (
	"browser-agent/internal/config"
	"browser-agent/internal/console"
	"browser-agent/internal/ports"
	"context"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startBrowser(
	lc fx.Lifecycle,
	driver ports.Driver,
	config *config.Config,
	logger *zap.Logger,
	_ *sdktrace.TracerProvider,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Launching browser...", zap.String("driver", config.BrowserConfig.Driver))

			if err := driver.Launch(ctx); err != nil {
				logger.Error("Failed to launch browser", zap.Error(err))

				return err
			}

			logger.Info("Browser launched successfully")

			if url := config.BrowserConfig.StartURL; url != "" {
				timeout := time.Duration(config.BrowserConfig.Timeout) * time.Millisecond

				if err := driver.Navigate(ctx, url, timeout); err != nil {
					logger.Warn("Failed to open start URL", zap.String("url", url), zap.Error(err))
				}
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := driver.Close(ctx); err != nil {
				logger.Error("Failed to close browser", zap.Error(err))
			}

			return nil
		},
	})
}

func runConsole(lc fx.Lifecycle, shutdowner fx.Shutdowner, consoleInterface *console.Interface, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting console interface...")

			go func() {
				if err := consoleInterface.Start(); err != nil {
					logger.Error("Console interface error", zap.Error(err))
				}

				if err := shutdowner.Shutdown(); err != nil {
					logger.Error("Failed to request shutdown", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down browser agent...")

			return consoleInterface.Stop()
		},
	})
}
