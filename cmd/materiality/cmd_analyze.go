package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/esgflow/materiality/internal/config"
	"github.com/esgflow/materiality/internal/document"
	"github.com/esgflow/materiality/internal/export"
	"github.com/esgflow/materiality/internal/extract"
	"github.com/esgflow/materiality/internal/industry"
	"github.com/esgflow/materiality/internal/pipeline"
	"github.com/esgflow/materiality/internal/scoring"
)

var (
	analyzeMIME string
	analyzeXLSX string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Run the extraction pipeline over one report document",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeMIME, "mime", "", "declared mime type (detected from content when empty)")
	analyzeCmd.Flags().StringVar(&analyzeXLSX, "xlsx", "", "also write the ranked issues to this XLSX file")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := slog.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	payload, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	governor, err := newGovernor(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize usage governor: %w", err)
	}

	var vision extract.VisionAnalyzer
	if cfg.ProjectID != "" {
		vv, err := extract.NewVertexVision(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.VisionModel, logger, clientOptions(cfg)...)
		if err != nil {
			return fmt.Errorf("failed to initialize vision backend: %w", err)
		}
		defer vv.Close()
		vision = vv
	} else {
		logger.Warn("PROJECT_ID not set, vision strategy disabled")
	}

	orch := pipeline.NewOrchestrator(
		document.NewIntake(cfg.MaxFileSizeBytes, logger),
		extract.NewPopplerExtractor(cfg.Pdftotext, logger),
		extract.NewTesseractExtractor(extract.OCRConfig{
			Pdftoppm:  cfg.Pdftoppm,
			Tesseract: cfg.Tesseract,
		}, logger),
		vision,
		governor,
		industry.NewClassifier(cfg.IndustryMinHits, logger),
		scoring.NewEngine(cfg.MaxIssuesReturned, logger),
		pipeline.Config{
			PerCallTimeout:        cfg.PerCallTimeout.Std(),
			PerPageTimeout:        cfg.PerPageTimeout.Std(),
			DocumentDeadline:      cfg.PerDocumentDeadline.Std(),
			MinSufficientElements: cfg.MinSufficientElementCount,
			OCRLanguages:          cfg.OCRLanguages,
			VisionModel:           cfg.VisionModel,
		},
		logger,
	)

	result, err := orch.Process(ctx, filepath.Base(args[0]), analyzeMIME, payload)
	if result != nil {
		out, mErr := json.MarshalIndent(result, "", "  ")
		if mErr != nil {
			return mErr
		}
		fmt.Println(string(out))
	}
	if err != nil {
		return err
	}

	if analyzeXLSX != "" {
		data, err := export.IssuesXLSX(result)
		if err != nil {
			return fmt.Errorf("failed to build XLSX export: %w", err)
		}
		if err := os.WriteFile(analyzeXLSX, data, 0o644); err != nil {
			return fmt.Errorf("failed to write XLSX export: %w", err)
		}
		logger.Info("XLSX export written", "path", analyzeXLSX, "issues", len(result.MaterialityIssues))
	}
	return nil
}
