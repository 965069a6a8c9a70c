// Package cmd defines the CLI commands for the quillwatch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quillfeed/quillwatch/internal/app"
	"github.com/quillfeed/quillwatch/internal/config"
	"github.com/quillfeed/quillwatch/internal/logging"
)

var cfgFile string

type appKeyType string

const appKey appKeyType = "app"

// newApp is a variable so tests can swap in a mock factory.
var newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quillwatch",
		Short: "Watches social search queries through public mirrors and alerts on traction.",
		Long: `quillwatch polls a set of saved search queries against public read-only
mirrors of a social platform, extracts structured posts from the HTML,
and raises alerts when a post is seen for the first time or when its
engagement grows sharply between polls.`,

		// Build and inject the service container after flags are
		// parsed but before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "quillwatch.yaml", "path to configuration file")

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newSearchCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	logging.InitLogger()

	if err := newRootCmd().Execute(); err != nil {
		logging.L.Fatal("command failed", zap.Error(err))
	}
}
