// Package document owns the in-flight representation of an uploaded report:
// the validated payload, its normalized per-page artifacts, and the text
// elements the extraction strategies produce.
package document

import (
	"os"
	"time"
)

// ElementKind is a closed enumeration of the ways a text element can be
// produced.
type ElementKind int

const (
	KindParagraph ElementKind = iota
	KindTable
	KindAIDerived
)

func (k ElementKind) String() string {
	switch k {
	case KindParagraph:
		return "paragraph"
	case KindTable:
		return "table"
	case KindAIDerived:
		return "ai-derived"
	default:
		return "unknown"
	}
}

// PageElement is one unit of extracted text. Immutable once created.
type PageElement struct {
	Page   int         `json:"page"`
	Text   string      `json:"text"`
	Kind   ElementKind `json:"kind"`
	Source string      `json:"source"`
	// Label carries an extracted issue name for AI-derived elements.
	// Empty for elements produced by text extraction or OCR.
	Label string `json:"label,omitempty"`
	// AICategory and AIConfidence are the vision backend's own reading
	// of the issue. Zero values for non-AI elements.
	AICategory   string  `json:"aiCategory,omitempty"`
	AIConfidence float64 `json:"aiConfidence,omitempty"`
}

// Document is the unit of work for one pipeline invocation. It is owned
// exclusively by the request that created it and discarded via Cleanup
// once the pipeline returns.
type Document struct {
	ID        string
	Filename  string
	MIMEType  string
	Size      int64
	PageCount int
	CreatedAt time.Time

	// SourcePath is the normalized document written to the working dir.
	SourcePath string
	// PagePaths holds per-page PDF files for page-oriented strategies,
	// indexed page 1 at position 0. Empty for single-image uploads.
	PagePaths []string

	workDir string
}

// Cleanup removes the document's working directory. Safe to call more
// than once.
func (d *Document) Cleanup() {
	if d.workDir != "" {
		_ = os.RemoveAll(d.workDir)
		d.workDir = ""
	}
}

// PagePath returns the normalized artifact for a 1-based page number, or
// the source path when the document was not split.
func (d *Document) PagePath(page int) string {
	if page >= 1 && page <= len(d.PagePaths) {
		return d.PagePaths[page-1]
	}
	return d.SourcePath
}
