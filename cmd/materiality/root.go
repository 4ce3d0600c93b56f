package main

import (
	"context"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/esgflow/materiality/internal/config"
	"github.com/esgflow/materiality/internal/usage"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "materiality",
	Short: "Extract ranked materiality issues from sustainability reports",
	Long: `materiality runs a multi-tier extraction pipeline over an uploaded
report: direct text extraction, then OCR, then AI vision analysis, under
shared daily usage ceilings. The result is a ranked, deduplicated list of
materiality issues tagged E/S/G.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// clientOptions translates the config into Google Cloud client options.
func clientOptions(cfg config.Config) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return opts
}

// newGovernor wires the usage governor with its configured store backend.
func newGovernor(ctx context.Context, cfg config.Config) (*usage.Governor, error) {
	var store usage.Store
	if cfg.UsageBucket != "" {
		client, err := storage.NewClient(ctx, clientOptions(cfg)...)
		if err != nil {
			return nil, err
		}
		store = usage.NewGCSStore(client, cfg.UsageBucket, cfg.UsageFile)
	} else {
		store = usage.NewFileStore(cfg.UsageFile)
	}
	limits := usage.Limits{
		DailyRequests: cfg.DailyRequestLimit,
		DailyCostUSD:  cfg.DailyCostLimit,
	}
	return usage.NewGovernor(limits, store, slog.Default())
}
