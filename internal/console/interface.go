package console

import (
	"browser-agent/internal/ai"
	"browser-agent/internal/config"
	"browser-agent/internal/entity"
	"browser-agent/internal/planner"
	"browser-agent/internal/usecase"
	"browser-agent/pkg/logg"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var errExit = errors.New("exit")

type Interface struct {
	config  *config.Config
	logger  *zap.Logger
	usecase *usecase.Service
	in      io.Reader
	out     io.Writer
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	stopping bool
}

type Params struct {
	fx.In

	Config  *config.Config
	Logger  *zap.Logger
	Usecase *usecase.Service
}

func NewInterface(params Params) *Interface {
	ctx, cancel := context.WithCancel(context.Background())

	return &Interface{
		config:  params.Config,
		logger:  params.Logger.With(zap.String(logg.Layer, "Console")),
		usecase: params.Usecase,
		in:      os.Stdin,
		out:     os.Stdout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start reads commands until exit, EOF or Stop.
func (i *Interface) Start() error {
	i.printBanner()
	i.printHelp()

	scanner := bufio.NewScanner(i.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for !i.isStopping() {
		fmt.Fprint(i.out, "\n> ")

		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if err := i.handleCommand(input); err != nil {
			if errors.Is(err, errExit) {
				break
			}

			i.logger.Error("Command error", zap.Error(err))
			fmt.Fprintf(i.out, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

// Stop cancels the running command and makes Start return after the
// current line.
func (i *Interface) Stop() error {
	i.mu.Lock()
	if i.stopping {
		i.mu.Unlock()
		return nil
	}
	i.stopping = true
	i.mu.Unlock()

	i.logger.Info("Stopping console interface...")

	i.cancel()
	i.usecase.Agent.Stop()

	return nil
}

func (i *Interface) isStopping() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.stopping
}

func (i *Interface) handleCommand(input string) error {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "help", "h":
		i.printHelp()
		return nil
	case "exit", "quit", "q":
		fmt.Fprintln(i.out, "Shutting down...")
		return errExit
	case "/snapshot":
		return i.snapshot(arg == "all")
	case "/diff":
		return i.diff()
	case "/navigate":
		return i.navigate(arg)
	case "/action":
		return i.action(arg)
	case "/history":
		return i.history()
	}

	if strings.HasPrefix(name, "/") {
		return fmt.Errorf("unknown command %s, type help", name)
	}

	return i.runGoal(input)
}

func (i *Interface) snapshot(all bool) error {
	capture := i.usecase.Snapshot.Capture(i.ctx, entity.CaptureOptions{ForceRefresh: true, IncludeAll: all})
	fmt.Fprintln(i.out, capture.Text)
	fmt.Fprintf(i.out, "(%s, %d elements)\n", capture.Mode, capture.Elements)

	return nil
}

func (i *Interface) diff() error {
	capture := i.usecase.Snapshot.Capture(i.ctx, entity.CaptureOptions{ForceRefresh: true, DiffOnly: true})
	fmt.Fprintln(i.out, capture.Text)

	return nil
}

func (i *Interface) navigate(url string) error {
	if url == "" {
		return errors.New("usage: /navigate <url>")
	}

	return i.execute(&entity.Action{Type: entity.ActionTypeNavigate, URL: url})
}

func (i *Interface) action(raw string) error {
	if raw == "" {
		return errors.New(`usage: /action {"type": "click", "ref": "e1"}`)
	}

	decoded, err := ai.ExtractJSON(raw)
	if err != nil {
		return fmt.Errorf("parse action: %w", err)
	}

	action, err := planner.Normalize(decoded)
	if err != nil {
		return err
	}

	if action == nil {
		return errors.New("empty action")
	}

	if action.Type == entity.ActionTypeFinish {
		fmt.Fprintf(i.out, "Task completed: %s\n", action.Summary)
		return nil
	}

	return i.execute(action)
}

func (i *Interface) execute(action *entity.Action) error {
	fmt.Fprintf(i.out, "Action: %s\n", action.Describe())

	outcome := i.usecase.Actions.Execute(i.ctx, action)

	mark := "✅"
	if !outcome.Success {
		mark = "❌"
	}

	fmt.Fprintf(i.out, "%s %s\n", mark, outcome.Text)

	if outcome.Value != "" {
		fmt.Fprintf(i.out, "Value: %s\n", outcome.Value)
	}

	return nil
}

func (i *Interface) history() error {
	cmd := i.usecase.Agent.LastCommand()
	if cmd == nil {
		fmt.Fprintln(i.out, "No command has run yet.")
		return nil
	}

	fmt.Fprintf(i.out, "Goal: %s\nState: %s\n", cmd.Goal, cmd.State)

	if len(cmd.Plan) > 0 {
		fmt.Fprintln(i.out, "Plan:")

		for n, p := range cmd.Plan {
			fmt.Fprintf(i.out, "  %d. %s\n", n+1, p)
		}
	}

	fmt.Fprintf(i.out, "History:\n%s\n", planner.HistoryLines(cmd.History))
	writeVariables(i.out, cmd.Variables)

	return nil
}

func (i *Interface) runGoal(goal string) error {
	fmt.Fprintf(i.out, "\n🤖 Starting task: %s\n", goal)
	fmt.Fprintln(i.out, strings.Repeat("─", 55))

	cmd, err := i.usecase.Agent.Run(i.ctx, goal)
	if err != nil {
		return err
	}

	fmt.Fprintln(i.out, strings.Repeat("─", 55))
	WriteResult(i.out, cmd)

	return nil
}

// WriteResult prints the terminal state of cmd.
func WriteResult(w io.Writer, cmd *entity.Command) {
	if cmd.State == entity.StateFinished {
		fmt.Fprintf(w, "✅ Task completed: %s\n", cmd.Summary)
	} else {
		fmt.Fprintf(w, "❌ Task aborted (%s)", cmd.AbortReason)

		if cmd.Error != "" {
			fmt.Fprintf(w, ": %s", cmd.Error)
		}

		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Steps taken: %d\n", cmd.Steps)
	writeVariables(w, cmd.Variables)
}

func writeVariables(w io.Writer, vars map[string]string) {
	if len(vars) == 0 {
		return
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	fmt.Fprintln(w, "Variables:")

	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", k, vars[k])
	}
}

func (i *Interface) printBanner() {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║               🤖  Browser Agent  🌐                       ║
║                                                           ║
║     Snapshot-driven web automation guided by an LLM       ║
║                                                           ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Fprintln(i.out, banner)
}

func (i *Interface) printHelp() {
	help := `
Available commands:
  help, h            - Show this help message
  exit, quit, q      - Exit the application
  /snapshot [all]    - Print a full snapshot of the current page (all = no element cap)
  /diff              - Print what changed since the last snapshot
  /navigate <url>    - Open a URL
  /action <json>     - Execute one action, e.g. /action {"type": "click", "ref": "e1"}
  /history           - Show the plan, history and variables of the last task

Anything else starts a task, for example:
    - Search for "golang generics" and open the first result
    - Read the price of the first laptop on the page
`
	fmt.Fprintln(i.out, help)
}
