package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rahul/charforge/internal/agent"
	"github.com/rahul/charforge/internal/gateway"
	"github.com/rahul/charforge/internal/governance"
	"github.com/rahul/charforge/internal/observability"
	"github.com/rahul/charforge/internal/store"
	"github.com/rahul/charforge/internal/workflow"
	"github.com/rahul/charforge/pkg/config"
)

// app holds everything one process needs to serve requests.
type app struct {
	engine   *workflow.Engine
	logger   *observability.Logger
	targets  []gateway.Target
	telegram *gateway.TelegramGateway
	out      io.Writer
	// beat is how often the active role is printed during a run; zero disables it.
	beat time.Duration

	mu      sync.Mutex
	closers []func() error
}

// newApp wires the configured provider, stores and gateways.
func newApp(ctx context.Context, cfg *config.Config, out io.Writer) (*app, error) {
	logger, err := observability.NewLogger(cfg.App.LogDir, observability.SessionID(time.Now()), cfg.App.LogKeep, observability.NewTermWriter())
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}

	history, err := store.NewHistoryStore(cfg.Memory.Path)
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	name, model, err := newModel(ctx, cfg)
	if err != nil {
		_ = history.Close()
		_ = logger.Close()
		return nil, err
	}
	fmt.Fprintf(out, "Provider: %s (%s)\n", name, cfg.Providers[name].Model)

	a, err := assemble(cfg, agent.NewLLMCaller(model, samplingFor(cfg), logger), history, logger, out)
	if err != nil {
		_ = history.Close()
		_ = logger.Close()
		return nil, err
	}
	a.closers = append(a.closers, history.Close, logger.Close)
	a.beat = 15 * time.Second

	if tg, ok := cfg.GetTelegramConfig(); ok {
		a.telegram, err = gateway.NewTelegramGateway(tg.Token, a, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		if tg.ChatID != "" {
			a.targets = append(a.targets, gateway.Target{Name: "telegram", Messenger: a.telegram, ChatID: tg.ChatID})
		}
	}
	if dc, ok := cfg.GetDiscordConfig(); ok {
		notifier, err := gateway.NewDiscordNotifier(dc.Token)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.targets = append(a.targets, gateway.Target{Name: "discord", Messenger: notifier, ChatID: dc.ChannelID})
	}
	return a, nil
}

// assemble builds the engine around a model boundary.
func assemble(cfg *config.Config, caller agent.Caller, history workflow.History, logger *observability.Logger, out io.Writer) (*app, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	policy := governance.NewDefaultPolicyEngine()
	if p := cfg.Policy.AssetURIPattern; p != "" {
		if err := policy.RequireURI(p); err != nil {
			return nil, fmt.Errorf("asset uri pattern: %w", err)
		}
	}
	for _, p := range cfg.Policy.DenyPatterns {
		if err := policy.DenyContent(p); err != nil {
			return nil, fmt.Errorf("deny pattern: %w", err)
		}
	}

	todo := store.NewTodoStore(cfg.App.TodoPath)
	todo.OnRecover = func(path string, cause error) {
		logger.LogStore(path, "recreating todo document: "+cause.Error())
	}

	prompts := agent.NewPromptManager(cfg.App.PromptsDir)
	engine := workflow.NewEngine(
		agent.NewPlanner(caller, prompts, logger),
		agent.NewSupervisor(caller, prompts, todo, logger),
		agent.NewRoleCreator(caller, prompts, policy, logger),
		history,
		logger,
	)
	return &app{engine: engine, logger: logger, out: out}, nil
}

// dispatch picks the mode: one request from args, the chat gateway, or the REPL.
func (a *app) dispatch(ctx context.Context, args []string, in io.Reader) error {
	if request := strings.TrimSpace(strings.Join(args, " ")); request != "" {
		a.run(ctx, request, "")
		return nil
	}
	if a.telegram != nil {
		fmt.Fprintln(a.out, "Serving chat requests on Telegram. Press Ctrl+C to stop.")
		return a.telegram.Start(ctx)
	}
	return a.repl(ctx, in)
}

// run executes one request and prints its report. A run that ends in error
// is still a report, not a process failure. Targets whose chat is skipChat are
// not notified.
func (a *app) run(ctx context.Context, request, skipChat string) workflow.Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	fmt.Fprintf(a.out, "\n%s\nProcessing: %s\n", observability.Rule(), request)
	stop := heartbeat(a.beat)
	state, _ := a.engine.Run(ctx, request)
	stop()
	report := workflow.Summarize(state)

	fmt.Fprintf(a.out, "\n%s %s\n%s\n", observability.Heading("Status:"), observability.StatusText(report.Status), report.String())

	var targets []gateway.Target
	for _, t := range a.targets {
		if skipChat == "" || t.ChatID != skipChat {
			targets = append(targets, t)
		}
	}
	if err := gateway.Broadcast(targets, report.String()); err != nil {
		a.logger.LogError("gateway", err)
	}
	return report
}

// Respond serves a chat request; the requester gets the report as the reply.
func (a *app) Respond(ctx context.Context, chatID, text string) (string, error) {
	return a.run(ctx, text, chatID).String(), nil
}

// heartbeat prints the active role every interval until stop is called.
func heartbeat(interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		w := observability.NewTermWriter()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				fmt.Fprintf(w, "[ .. ] %s\n", observability.StatusLine())
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (a *app) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
