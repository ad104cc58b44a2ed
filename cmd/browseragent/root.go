package main

import (
	"browser-agent/internal/bootstrap"
	"browser-agent/internal/config"
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

type starter func(mode fx.Option, overrides ...bootstrap.Override) error

type flags struct {
	url      string
	maxSteps int
	headless bool
	driver   string
}

func newRootCmd(start starter) *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:          "browseragent",
		Short:        "Drive a browser toward a natural-language goal",
		Long:         "Interactive console: type a goal to run it, or use /snapshot, /diff, /navigate, /action and /history.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(bootstrap.ConsoleMode(), f.overrides(cmd)...)
		},
	}

	run := &cobra.Command{
		Use:          "run <goal>",
		Short:        "Run a single goal and exit; the exit code is non-zero unless the goal finished",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := strings.TrimSpace(strings.Join(args, " "))
			if goal == "" {
				return errors.New("goal cannot be empty")
			}

			return start(bootstrap.RunMode(goal), f.overrides(cmd)...)
		},
	}

	root.PersistentFlags().StringVar(&f.url, "url", "", "page to open before starting (BROWSER_START_URL)")
	root.PersistentFlags().IntVar(&f.maxSteps, "max-steps", 0, "step budget per goal (AGENT_MAX_STEPS)")
	root.PersistentFlags().BoolVar(&f.headless, "headless", false, "run the browser headless (BROWSER_HEADLESS)")
	root.PersistentFlags().StringVar(&f.driver, "driver", "", "browser driver: playwright or rod (BROWSER_DRIVER)")

	root.AddCommand(run)

	return root
}

// overrides returns config overrides for the flags that were set explicitly.
func (f *flags) overrides(cmd *cobra.Command) []bootstrap.Override {
	var out []bootstrap.Override

	changed := cmd.Flags().Changed

	if changed("url") {
		url := f.url
		out = append(out, func(c *config.Config) { c.BrowserConfig.StartURL = url })
	}

	if changed("max-steps") {
		steps := f.maxSteps
		out = append(out, func(c *config.Config) { c.AgentConfig.MaxSteps = steps })
	}

	if changed("headless") {
		headless := f.headless
		out = append(out, func(c *config.Config) { c.BrowserConfig.Headless = headless })
	}

	if changed("driver") {
		driver := f.driver
		out = append(out, func(c *config.Config) { c.BrowserConfig.Driver = driver })
	}

	return out
}
