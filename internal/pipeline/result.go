package pipeline

import (
	"encoding/json"
	"time"

	"github.com/esgflow/materiality/internal/catalog"
	"github.com/esgflow/materiality/internal/industry"
	"github.com/esgflow/materiality/internal/scoring"
)

// Millis is a duration that marshals as integer milliseconds, matching its
// JSON field names.
type Millis time.Duration

func (m Millis) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(m).Milliseconds())
}

func (m Millis) String() string { return time.Duration(m).String() }

// Strategy names, in escalation order.
const (
	StrategyFast   = "fast"
	StrategyOCR    = "ocr"
	StrategyVision = "vision"
)

// Outcome classifies one extraction attempt.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomePartial  Outcome = "partial"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimedOut Outcome = "timed-out"
	OutcomeDenied   Outcome = "denied"
)

// Attempt is one entry in the document's attempt log.
type Attempt struct {
	Strategy     string  `json:"strategy"`
	Outcome      Outcome `json:"outcome"`
	Elapsed      Millis  `json:"elapsedMs"`
	ElementCount int     `json:"elementCount"`
	Detail       string  `json:"detail,omitempty"`
}

// FileInfo describes the processed upload.
type FileInfo struct {
	Filename  string `json:"filename"`
	MIMEType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
	PageCount int    `json:"pageCount"`
}

// Result is the pipeline's final response for one document. On a FAILED
// pipeline the attempt log is still populated.
type Result struct {
	File              FileInfo                 `json:"fileInfo"`
	MaterialityIssues []scoring.Issue          `json:"materialityIssues"`
	ExtractionMethod  string                   `json:"extractionMethod"`
	IndustryDetected  industry.Signal          `json:"industryDetected"`
	ConfidenceSummary scoring.Summary          `json:"confidenceSummary"`
	CategoryCounts    map[catalog.Category]int `json:"categoryCounts"`
	AttemptLog        []Attempt                `json:"attemptLog"`
	// Degraded marks a result finalized from an earlier strategy because
	// the Usage Governor denied the vision step.
	Degraded    bool      `json:"degraded,omitempty"`
	ProcessedAt time.Time `json:"processedAt"`
	Elapsed     Millis    `json:"elapsedMs"`
}
