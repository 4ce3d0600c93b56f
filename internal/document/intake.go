package document

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Intake validates an uploaded payload and normalizes it into per-page
// artifacts in a private working directory.
type Intake struct {
	maxSize int64
	logger  *slog.Logger
}

// NewIntake builds an Intake enforcing the given size ceiling in bytes.
func NewIntake(maxSize int64, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{maxSize: maxSize, logger: logger}
}

// Normalize validates the payload and prepares a Document: PDFs are
// optimized, counted, and split into single-page files; images become a
// one-page document. The caller owns the returned Document and must call
// Cleanup when done.
func (in *Intake) Normalize(filename, declaredType string, payload []byte) (*Document, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if in.maxSize > 0 && int64(len(payload)) > in.maxSize {
		return nil, fmt.Errorf("payload of %d bytes exceeds limit of %d", len(payload), in.maxSize)
	}

	mimeType, err := DetectType(filename, declaredType, payload)
	if err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "materiality-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create working dir: %w", err)
	}

	doc := &Document{
		ID:        uuid.NewString(),
		Filename:  filename,
		MIMEType:  mimeType,
		Size:      int64(len(payload)),
		CreatedAt: time.Now(),
		workDir:   workDir,
	}

	if err := in.materialize(doc, payload); err != nil {
		doc.Cleanup()
		return nil, err
	}

	in.logger.Info("document normalized",
		"documentId", doc.ID,
		"mimeType", doc.MIMEType,
		"sizeBytes", doc.Size,
		"pageCount", doc.PageCount,
	)
	return doc, nil
}

func (in *Intake) materialize(doc *Document, payload []byte) error {
	ext := ".pdf"
	if doc.MIMEType == MIMEPNG {
		ext = ".png"
	} else if doc.MIMEType == MIMEJPEG {
		ext = ".jpg"
	}
	sourcePath := filepath.Join(doc.workDir, "source"+ext)
	if err := os.WriteFile(sourcePath, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write source file: %w", err)
	}
	doc.SourcePath = sourcePath

	if doc.MIMEType != MIMEPDF {
		doc.PageCount = 1
		return nil
	}
	return in.splitPDF(doc, sourcePath)
}

// splitPDF runs the document through pdfcpu: a relaxed-validation optimize
// pass first, then a page count, then a per-page split. A payload that does
// not survive the optimize pass is rejected as invalid input.
func (in *Intake) splitPDF(doc *Document, sourcePath string) error {
	optimizedPath := filepath.Join(doc.workDir, "optimized.pdf")
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.OptimizeFile(sourcePath, optimizedPath, cfg); err != nil {
		return fmt.Errorf("not a processable PDF: %w", err)
	}

	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount == 0 {
		return fmt.Errorf("PDF contains no pages")
	}

	if err := api.SplitFile(optimizedPath, doc.workDir, 1, nil); err != nil {
		return fmt.Errorf("failed to split PDF: %w", err)
	}

	doc.SourcePath = optimizedPath
	doc.PageCount = pageCount
	base := filepath.Join(doc.workDir, "optimized")
	doc.PagePaths = make([]string, pageCount)
	for i := 1; i <= pageCount; i++ {
		doc.PagePaths[i-1] = fmt.Sprintf("%s_%d.pdf", base, i)
	}
	return nil
}
