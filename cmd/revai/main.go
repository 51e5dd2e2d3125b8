package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"RevAI/internal/app"
	"RevAI/internal/config"
	"RevAI/internal/infrastructure/parser"
	"RevAI/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "revai",
		Short:        "AI-assisted article screening for systematic reviews",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCommand(), batchCommand(), parseCommand())
	return rootCmd
}

func serveCommand() *cobra.Command {
	var withScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cmd.Flags().Changed("scheduler") {
				cfg.Scheduler.Enabled = withScheduler
			}
			logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

			application, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			defer application.Close()

			if err := application.Serve(cmd.Context()); err != nil {
				logger.Error("server stopped", "error", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withScheduler, "scheduler", false, "Also run batch evaluation on the configured interval")
	return cmd
}

func batchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "batch",
		Short: "Evaluate one batch of pending articles and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

			application, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			defer application.Close()

			res, err := application.RunBatch(cmd.Context())
			if err != nil {
				logger.Error("batch failed", "error", err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "claimed=%d evaluated=%d failed=%d fallbacks=%d lease_lost=%d\n",
				res.Claimed, res.Evaluated, res.Failed, res.Fallbacks, res.LeaseLost)
			return nil
		},
	}
}

func parseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse an export file and print the article records as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			text, err := parser.NewRegistry().Resolve(args[0]).Decode(raw)
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(parser.ParseArticles(text))
		},
	}
}
