package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rahul/charforge/internal/observability"
	"github.com/rahul/charforge/pkg/config"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "charforge: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "charforge [request...]",
		Short: "Plan and build a game character with a team of agents",
		Long: `charforge turns a character request into phases and tasks and walks them
with a planner, a supervisor and a role creator.

With a request, it runs once and prints the report. Without one, it serves
Telegram chat requests when the telegram gateway is enabled and otherwise
starts an interactive prompt.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			observability.PrintBanner()

			a, err := setup(cmd.Context(), ".", cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.dispatch(cmd.Context(), args, cmd.InOrStdin())
		},
	}
}

// setup loads .env and the config found in dir, then wires the app.
func setup(ctx context.Context, dir string, out io.Writer) (*app, error) {
	if err := config.LoadEnv(".env"); err != nil {
		return nil, err
	}
	path, err := config.Find(dir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return newApp(ctx, cfg, out)
}
