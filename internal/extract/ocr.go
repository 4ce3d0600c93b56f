package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/esgflow/materiality/internal/document"
)

// TesseractExtractor implements the OCR contract: rasterize with pdftoppm,
// recognize with tesseract. Images skip the rasterization step.
type TesseractExtractor struct {
	pdftoppm  string
	tesseract string
	dpi       int
	maxPages  int
	runner    Runner
	logger    *slog.Logger
}

// OCRConfig configures the OCR adapter binaries and limits.
type OCRConfig struct {
	Pdftoppm  string // default "pdftoppm"
	Tesseract string // default "tesseract"
	DPI       int    // default 200
	MaxPages  int    // 0 = no limit
}

func NewTesseractExtractor(cfg OCRConfig, logger *slog.Logger) *TesseractExtractor {
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TesseractExtractor{
		pdftoppm:  cfg.Pdftoppm,
		tesseract: cfg.Tesseract,
		dpi:       cfg.DPI,
		maxPages:  cfg.MaxPages,
		runner:    execRunner{},
		logger:    logger,
	}
}

func (e *TesseractExtractor) Extract(ctx context.Context, doc *document.Document, languages []string) ([]document.PageElement, error) {
	lang := "eng"
	if len(languages) > 0 {
		lang = strings.Join(languages, "+")
	}

	if doc.MIMEType != document.MIMEPDF {
		txt, err := e.recognize(ctx, doc.SourcePath, lang)
		if err != nil {
			return nil, err
		}
		return elementsFromText(txt, "ocr"), nil
	}

	images, cleanup, err := e.rasterize(ctx, doc)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var pages []string
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		txt, err := e.recognize(ctx, img, lang)
		if err != nil {
			e.logger.Warn("OCR failed for page image, skipping",
				"documentId", doc.ID,
				"image", filepath.Base(img),
				"error", err,
			)
			txt = ""
		}
		pages = append(pages, txt)
	}

	elements := elementsFromText(strings.Join(pages, "\f"), "ocr")
	e.logger.Debug("OCR extraction done",
		"documentId", doc.ID,
		"pages", len(images),
		"elements", len(elements),
	)
	return elements, nil
}

func (e *TesseractExtractor) rasterize(ctx context.Context, doc *document.Document) ([]string, func(), error) {
	tmpDir, err := os.MkdirTemp("", "materiality-ocr-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r <dpi> -png <source> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.pdftoppm, "-r", fmt.Sprintf("%d", e.dpi), "-png", doc.SourcePath, prefix)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("pdftoppm: %w (%s)", err, truncate(string(errb), 512))
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.maxPages > 0 && len(matches) > e.maxPages {
		matches = matches[:e.maxPages]
	}
	if len(matches) == 0 {
		cleanup()
		return nil, nil, fmt.Errorf("pdftoppm produced no page images")
	}
	return matches, cleanup, nil
}

func (e *TesseractExtractor) recognize(ctx context.Context, imagePath, lang string) (string, error) {
	// tesseract <image> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.tesseract, imagePath, "stdout", "-l", lang)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w (%s)", err, truncate(string(errb), 512))
	}
	return string(out), nil
}
