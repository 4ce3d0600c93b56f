package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/esgflow/materiality/internal/document"
)

// PopplerExtractor implements the direct text-extraction contract with
// pdftotext. It only sees text already embedded in the PDF; scanned
// documents come back empty and escalate to OCR.
type PopplerExtractor struct {
	pdftotext string
	runner    Runner
	logger    *slog.Logger
}

// NewPopplerExtractor builds an extractor around the pdftotext binary.
// An empty binary path falls back to "pdftotext" on PATH.
func NewPopplerExtractor(binary string, logger *slog.Logger) *PopplerExtractor {
	if binary == "" {
		binary = "pdftotext"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PopplerExtractor{pdftotext: binary, runner: execRunner{}, logger: logger}
}

func (e *PopplerExtractor) Extract(ctx context.Context, doc *document.Document) ([]document.PageElement, error) {
	if doc.MIMEType != document.MIMEPDF {
		return nil, fmt.Errorf("direct text extraction supports PDF only, got %s", doc.MIMEType)
	}

	// pdftotext -layout -enc UTF-8 -eol unix <source> -
	out, errb, err := e.runner.Run(ctx, e.pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", doc.SourcePath, "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w (%s)", err, truncate(string(errb), 512))
	}

	elements := elementsFromText(string(out), "fast")
	e.logger.Debug("direct text extraction done",
		"documentId", doc.ID,
		"elements", len(elements),
	)
	return elements, nil
}
