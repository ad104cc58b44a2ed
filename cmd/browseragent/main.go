package main

import (
	"browser-agent/internal/bootstrap"
	"fmt"
	"os"

	"go.uber.org/fx"
)

func main() {
	if err := newRootCmd(startApp).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// startApp blocks until shutdown and exits with the app's exit code.
func startApp(mode fx.Option, overrides ...bootstrap.Override) error {
	app := bootstrap.NewApp(mode, overrides...)
	if err := app.Err(); err != nil {
		return err
	}

	app.Run()

	return nil
}
