package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"FeedRater/internal/app"
	"FeedRater/internal/config"
	"FeedRater/internal/logging"
)

var (
	configPath string
	rateForce  bool
	ratePaper  string
)

var rootCmd = &cobra.Command{
	Use:           "feedrater",
	Short:         "Ingest scholarly feeds and rate entries with a language model",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
			return a.Run(ctx)
		})
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [journal]",
	Short: "Fetch one journal, or all of them, and store new entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := ""
		if len(args) > 0 {
			key = args[0]
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
			res, err := a.Ingest(ctx, key)
			if printErr := printJSON(res); printErr != nil {
				return printErr
			}
			return err
		})
	},
}

var rateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Score stored entries that have no rating yet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
			res, err := a.Rate(ctx, rateForce, ratePaper)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml (default $FEEDRATER_CONFIG or ./config.yaml)")
	rateCmd.Flags().BoolVar(&rateForce, "force", false, "Re-score entries that already have a rating")
	rateCmd.Flags().StringVar(&ratePaper, "paper", "", "Rate only the entry with this link")
	rootCmd.AddCommand(serveCmd, ingestCmd, rateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func withApp(ctx context.Context, run func(context.Context, *app.Application) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Error("close application", "error", err)
		}
	}()

	return run(ctx, application)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
