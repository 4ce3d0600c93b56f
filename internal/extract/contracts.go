// Package extract defines the call contracts for the three extraction
// backends and ships local adapters for them: poppler for direct text
// extraction, poppler+tesseract for OCR, and Vertex AI Gemini for vision
// analysis.
package extract

import (
	"context"

	"github.com/esgflow/materiality/internal/document"
)

// TextExtractor pulls embedded text out of a document without rendering.
type TextExtractor interface {
	Extract(ctx context.Context, doc *document.Document) ([]document.PageElement, error)
}

// OCRExtractor rasterizes the document and recognizes text in the result.
type OCRExtractor interface {
	Extract(ctx context.Context, doc *document.Document, languages []string) ([]document.PageElement, error)
}

// CandidateIssue is one issue the vision backend reads off a page.
type CandidateIssue struct {
	Name        string  `json:"issue_name"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// VisionResult is the per-page outcome of an AI vision call, including the
// token counts the Usage Governor needs for cost accounting.
type VisionResult struct {
	Candidates   []CandidateIssue
	Model        string
	InputTokens  int
	OutputTokens int
}

// VisionAnalyzer analyzes a single normalized page artifact.
type VisionAnalyzer interface {
	AnalyzePage(ctx context.Context, pagePath string, pageNumber int) (*VisionResult, error)
}
