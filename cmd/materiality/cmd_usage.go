package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/esgflow/materiality/internal/config"
)

var (
	usageDays  int
	usageReset bool
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show or reset the shared daily AI usage ledger",
	RunE:  runUsage,
}

func init() {
	usageCmd.Flags().IntVar(&usageDays, "days", 7, "number of recent days to include")
	usageCmd.Flags().BoolVar(&usageReset, "reset", false, "discard today's usage record")
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	governor, err := newGovernor(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize usage governor: %w", err)
	}

	if usageReset {
		if err := governor.Reset(""); err != nil {
			return err
		}
	}

	out, err := json.MarshalIndent(governor.GetSummary(usageDays), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
