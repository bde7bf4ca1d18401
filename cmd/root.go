// Package cmd defines the CLI commands for the polite-crawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/polite-crawler/internal/config"
	"github.com/JakeFAU/polite-crawler/internal/server"
)

// Runner is the built application a command runs.
type Runner interface {
	Run(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can
// replace it.
var newApp = func(ctx context.Context, cfg *config.Config, mode server.Mode) (Runner, error) {
	return server.Build(ctx, cfg, mode)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "polite-crawler",
		Short: "A polite, queue-backed web crawler service.",
		Long: `polite-crawler accepts crawl jobs over HTTP, queues them, and crawls
each one depth-first while honouring robots.txt and global and per-domain
rate limits. Results are kept for 24 hours.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newModeCmd(&cfgFile, server.ModeAll, "run", "Run the HTTP API and the worker pool in one process"),
		newModeCmd(&cfgFile, server.ModeAPI, "serve", "Run only the HTTP API"),
		newModeCmd(&cfgFile, server.ModeWorker, "work", "Run only the worker pool"),
	)
	return cmd
}

func newModeCmd(cfgFile *string, mode server.Mode, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app, err := newApp(cmd.Context(), &cfg, mode)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
