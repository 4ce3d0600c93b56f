// Package pipeline drives the multi-tier extraction of materiality issues
// from one document: a prioritized strategy sequence (direct text → OCR →
// AI vision) with per-step and per-document deadlines, usage governance of
// AI-backed calls, and scoring of whatever elements the winning strategy
// produced.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/esgflow/materiality/internal/catalog"
	"github.com/esgflow/materiality/internal/document"
	"github.com/esgflow/materiality/internal/extract"
	"github.com/esgflow/materiality/internal/industry"
	"github.com/esgflow/materiality/internal/scoring"
	"github.com/esgflow/materiality/internal/usage"
)

// Config bundles the orchestration knobs consumed at construction time.
type Config struct {
	PerCallTimeout        time.Duration // FAST and OCR step ceiling
	PerPageTimeout        time.Duration // vision per-page ceiling
	DocumentDeadline      time.Duration // ceiling across all steps combined
	MinSufficientElements int
	OCRLanguages          []string
	VisionModel           string
	MaxCallAttempts       int // bounded retries per external call
	VisionConcurrency     int
	InitialBackoff        time.Duration
}

func (c *Config) applyDefaults() {
	if c.PerCallTimeout <= 0 {
		c.PerCallTimeout = 30 * time.Second
	}
	if c.PerPageTimeout <= 0 {
		c.PerPageTimeout = 20 * time.Second
	}
	if c.DocumentDeadline <= 0 {
		c.DocumentDeadline = 3 * time.Minute
	}
	if c.MinSufficientElements <= 0 {
		c.MinSufficientElements = 3
	}
	if len(c.OCRLanguages) == 0 {
		c.OCRLanguages = []string{"kor", "eng"}
	}
	if c.VisionModel == "" {
		c.VisionModel = "gemini-1.5-flash"
	}
	if c.MaxCallAttempts <= 0 {
		c.MaxCallAttempts = 2
	}
	if c.VisionConcurrency <= 0 {
		c.VisionConcurrency = 4
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
}

// Orchestrator runs the per-document state machine
// INIT → FAST → OCR → VISION → DONE, with FAILED reachable from any step.
// One Orchestrator serves many concurrent documents; the Usage Governor is
// the only state shared between them.
type Orchestrator struct {
	intake     *document.Intake
	fast       extract.TextExtractor
	ocr        extract.OCRExtractor
	vision     extract.VisionAnalyzer
	governor   *usage.Governor
	classifier *industry.Classifier
	engine     *scoring.Engine
	cfg        Config
	logger     *slog.Logger
}

func NewOrchestrator(
	intake *document.Intake,
	fast extract.TextExtractor,
	ocr extract.OCRExtractor,
	vision extract.VisionAnalyzer,
	governor *usage.Governor,
	classifier *industry.Classifier,
	engine *scoring.Engine,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		intake:     intake,
		fast:       fast,
		ocr:        ocr,
		vision:     vision,
		governor:   governor,
		classifier: classifier,
		engine:     engine,
		cfg:        cfg,
		logger:     logger,
	}
}

// Sufficient is the escalation guard applied after FAST and OCR: enough
// elements, and at least one of them mentions a materiality indicator.
func Sufficient(elements []document.PageElement, minCount int) bool {
	if len(elements) < minCount {
		return false
	}
	for _, el := range elements {
		lower := strings.ToLower(el.Text)
		for _, kw := range catalog.MaterialityIndicators() {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

// Process runs the full pipeline for one uploaded document. On a FAILED
// pipeline the returned Result still carries the attempt log alongside the
// error.
func (o *Orchestrator) Process(ctx context.Context, filename, declaredType string, payload []byte) (*Result, error) {
	start := time.Now()

	doc, err := o.intake.Normalize(filename, declaredType, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	defer doc.Cleanup()

	return o.run(ctx, doc, start)
}

// run executes the strategy state machine for a normalized document.
func (o *Orchestrator) run(ctx context.Context, doc *document.Document, start time.Time) (*Result, error) {
	logCtx := o.logger.With("documentId", doc.ID, "filename", doc.Filename)
	logCtx.Info("pipeline started", "pageCount", doc.PageCount, "sizeBytes", doc.Size)

	docCtx, cancel := context.WithTimeout(ctx, o.cfg.DocumentDeadline)
	defer cancel()

	var attempts []Attempt
	var stepErrs []error
	// bestElements holds the richest insufficient result so far, so a
	// denied or empty vision step can still finalize with something.
	var bestElements []document.PageElement
	bestStrategy := ""

	// Strictly richer results win, so an element-count tie keeps the
	// earlier strategy.
	keepBest := func(strategy string, elems []document.PageElement) {
		if len(elems) > len(bestElements) {
			bestElements = elems
			bestStrategy = strategy
		}
	}

	// FAST
	elems, attempt, stepErr := o.runStep(docCtx, logCtx, StrategyFast, func(stepCtx context.Context) ([]document.PageElement, error) {
		return o.fast.Extract(stepCtx, doc)
	})
	attempts = append(attempts, attempt)
	if stepErr != nil {
		stepErrs = append(stepErrs, stepErr)
	}
	if Sufficient(elems, o.cfg.MinSufficientElements) {
		return o.finalize(doc, logCtx, elems, StrategyFast, attempts, false, start), nil
	}
	keepBest(StrategyFast, elems)

	// OCR
	elems, attempt, stepErr = o.runStep(docCtx, logCtx, StrategyOCR, func(stepCtx context.Context) ([]document.PageElement, error) {
		return o.ocr.Extract(stepCtx, doc, o.cfg.OCRLanguages)
	})
	attempts = append(attempts, attempt)
	if stepErr != nil {
		stepErrs = append(stepErrs, stepErr)
	}
	if Sufficient(elems, o.cfg.MinSufficientElements) {
		return o.finalize(doc, logCtx, elems, StrategyOCR, attempts, false, start), nil
	}
	keepBest(StrategyOCR, elems)

	// VISION
	if o.vision == nil {
		attempts = append(attempts, Attempt{
			Strategy: StrategyVision,
			Outcome:  OutcomeFailed,
			Detail:   "no vision backend configured",
		})
		return o.finalizeWithoutVision(doc, logCtx, bestElements, bestStrategy, attempts, false, start, stepErrs)
	}

	if allowed, reason := o.governor.CheckLimit(); !allowed {
		logCtx.Warn("vision step denied by usage governor", "reason", reason)
		attempts = append(attempts, Attempt{
			Strategy: StrategyVision,
			Outcome:  OutcomeDenied,
			Detail:   reason,
		})
		if len(bestElements) == 0 {
			result := o.failedResult(doc, attempts, start)
			return result, fmt.Errorf("%w: %s", ErrUsageLimitExceeded, reason)
		}
		return o.finalize(doc, logCtx, bestElements, bestStrategy, attempts, true, start), nil
	}

	visionElems, attempt := o.runVision(docCtx, logCtx, doc, bestElements)
	attempts = append(attempts, attempt)
	if len(visionElems) > 0 {
		return o.finalize(doc, logCtx, visionElems, StrategyVision, attempts, false, start), nil
	}
	if attempt.Outcome == OutcomeDenied && len(bestElements) == 0 {
		result := o.failedResult(doc, attempts, start)
		return result, fmt.Errorf("%w: %s", ErrUsageLimitExceeded, attempt.Detail)
	}

	return o.finalizeWithoutVision(doc, logCtx, bestElements, bestStrategy, attempts, attempt.Outcome == OutcomeDenied, start, stepErrs)
}

// runStep runs one non-AI strategy with its own timeout and bounded
// retries. Failures are recorded and classified against the error
// taxonomy; the classified error escalates to the next strategy instead of
// aborting the pipeline.
func (o *Orchestrator) runStep(ctx context.Context, logCtx *slog.Logger, strategy string, fn func(context.Context) ([]document.PageElement, error)) ([]document.PageElement, Attempt, error) {
	start := time.Now()

	var elems []document.PageElement
	err := withRetry(ctx, o.cfg.MaxCallAttempts, o.cfg.InitialBackoff, logCtx, strategy, func() error {
		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.PerCallTimeout)
		defer cancel()
		var stepErr error
		elems, stepErr = fn(stepCtx)
		return stepErr
	})

	attempt := Attempt{
		Strategy:     strategy,
		Elapsed:      Millis(time.Since(start)),
		ElementCount: len(elems),
	}
	var classified error
	switch {
	case err == nil && len(elems) > 0:
		attempt.Outcome = OutcomeSuccess
	case err == nil:
		attempt.Outcome = OutcomeFailed
		attempt.Detail = "no elements extracted"
	case errors.Is(err, context.DeadlineExceeded):
		classified = fmt.Errorf("%w: %s: %v", ErrExtractionTimeout, strategy, err)
		attempt.Outcome = OutcomeTimedOut
		attempt.Detail = classified.Error()
	default:
		classified = fmt.Errorf("%w: %s: %v", ErrExternalService, strategy, err)
		attempt.Outcome = OutcomeFailed
		attempt.Detail = classified.Error()
	}

	logCtx.Info("strategy attempt finished",
		"strategy", strategy,
		"outcome", attempt.Outcome,
		"elements", attempt.ElementCount,
		"elapsed", attempt.Elapsed.String(),
	)
	return elems, attempt, classified
}

// runVision fans the vision backend out over the document's pages with a
// bounded concurrency, a per-page deadline, and the document deadline as a
// ceiling. Pages finished before the ceiling are kept even when the rest
// are abandoned.
func (o *Orchestrator) runVision(ctx context.Context, logCtx *slog.Logger, doc *document.Document, priorElements []document.PageElement) ([]document.PageElement, Attempt) {
	start := time.Now()
	pages := o.visionPageOrder(doc, priorElements)
	promptTokens := usage.EstimateTokens(extract.VisionPromptText())

	var (
		mu        sync.Mutex
		elements  []document.PageElement
		succeeded int
		malformed int
		failed    int
		denied    bool
	)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(o.cfg.VisionConcurrency)

	for _, page := range pages {
		eg.Go(func() error {
			if gctx.Err() != nil {
				return nil // deadline hit, abandon remaining pages
			}

			// Today's record is consulted before, and updated strictly
			// after, every AI-backed call. Preflight also projects the
			// call's own prompt cost against the remaining budget.
			if allowed, reason := o.governor.PreflightCheck(o.cfg.VisionModel, promptTokens); !allowed {
				mu.Lock()
				denied = true
				mu.Unlock()
				logCtx.Warn("usage limit reached mid-flight, abandoning page",
					"page", page, "reason", reason)
				return nil
			}

			var res *extract.VisionResult
			err := withRetry(gctx, o.cfg.MaxCallAttempts, o.cfg.InitialBackoff, logCtx,
				fmt.Sprintf("vision page %d", page), func() error {
					pageCtx, cancel := context.WithTimeout(gctx, o.cfg.PerPageTimeout)
					defer cancel()
					var callErr error
					res, callErr = o.vision.AnalyzePage(pageCtx, doc.PagePath(page), page)
					return callErr
				})

			// Token usage is recorded for every completed call, even one
			// whose payload turned out to be malformed.
			if res != nil && (res.InputTokens > 0 || res.OutputTokens > 0) {
				model := res.Model
				if model == "" {
					model = o.cfg.VisionModel
				}
				if recErr := o.governor.RecordCall(model, res.InputTokens, res.OutputTokens); recErr != nil {
					logCtx.Error("failed to record AI call", "page", page, "error", recErr)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
				for _, cand := range res.Candidates {
					elements = append(elements, candidateElement(cand, page))
				}
			case errors.Is(err, extract.ErrMalformedVision):
				// The page contributes zero candidates but does not
				// abort the rest.
				malformed++
			default:
				failed++
				logCtx.Warn("vision page failed", "page", page, "error", err)
			}
			return nil
		})
	}
	_ = eg.Wait()

	attempt := Attempt{
		Strategy:     StrategyVision,
		Elapsed:      Millis(time.Since(start)),
		ElementCount: len(elements),
	}
	processed := succeeded + malformed + failed
	switch {
	case succeeded == len(pages):
		attempt.Outcome = OutcomeSuccess
	case succeeded > 0:
		attempt.Outcome = OutcomePartial
		attempt.Detail = fmt.Sprintf("%d of %d pages analyzed", succeeded, len(pages))
	case denied && processed == 0:
		attempt.Outcome = OutcomeDenied
		attempt.Detail = "usage limit reached before any page"
	case ctx.Err() != nil:
		attempt.Outcome = OutcomeTimedOut
		attempt.Detail = "document deadline reached"
	default:
		attempt.Outcome = OutcomeFailed
		attempt.Detail = fmt.Sprintf("%d pages failed, %d malformed", failed, malformed)
	}

	logCtx.Info("vision attempt finished",
		"outcome", attempt.Outcome,
		"pagesSucceeded", succeeded,
		"pagesMalformed", malformed,
		"pagesFailed", failed,
		"elements", len(elements),
		"elapsed", attempt.Elapsed.String(),
	)
	return elements, attempt
}

// visionPageOrder puts pages that already showed materiality keywords in
// earlier strategies first, so the most promising pages are analyzed
// before the document deadline can cut the run short.
func (o *Orchestrator) visionPageOrder(doc *document.Document, priorElements []document.PageElement) []int {
	hit := map[int]bool{}
	for _, el := range priorElements {
		lower := strings.ToLower(el.Text)
		for _, kw := range catalog.MaterialityIndicators() {
			if strings.Contains(lower, strings.ToLower(kw)) {
				hit[el.Page] = true
				break
			}
		}
	}

	order := make([]int, 0, doc.PageCount)
	for p := 1; p <= doc.PageCount; p++ {
		if hit[p] {
			order = append(order, p)
		}
	}
	for p := 1; p <= doc.PageCount; p++ {
		if !hit[p] {
			order = append(order, p)
		}
	}
	return order
}

func candidateElement(cand extract.CandidateIssue, page int) document.PageElement {
	text := cand.Name
	if cand.Description != "" {
		text = cand.Name + ": " + cand.Description
	}
	return document.PageElement{
		Page:         page,
		Text:         text,
		Kind:         document.KindAIDerived,
		Source:       StrategyVision,
		Label:        cand.Name,
		AICategory:   cand.Category,
		AIConfidence: cand.Confidence,
	}
}

// finalizeWithoutVision closes out a document whose vision step produced
// nothing usable: fall back to earlier elements when they exist, otherwise
// the pipeline has FAILED. The classified per-step errors are joined onto
// the failure so callers can still distinguish timeouts from service
// errors.
func (o *Orchestrator) finalizeWithoutVision(doc *document.Document, logCtx *slog.Logger, bestElements []document.PageElement, bestStrategy string, attempts []Attempt, degraded bool, start time.Time, stepErrs []error) (*Result, error) {
	if len(bestElements) > 0 {
		return o.finalize(doc, logCtx, bestElements, bestStrategy, attempts, degraded, start), nil
	}
	result := o.failedResult(doc, attempts, start)
	err := fmt.Errorf("%w: all strategies exhausted with zero elements", ErrExtractionFailure)
	if len(stepErrs) > 0 {
		err = errors.Join(append([]error{err}, stepErrs...)...)
	}
	return result, err
}

// finalize classifies, scores, and assembles the response.
func (o *Orchestrator) finalize(doc *document.Document, logCtx *slog.Logger, elements []document.PageElement, method string, attempts []Attempt, degraded bool, start time.Time) *Result {
	var b strings.Builder
	for _, el := range elements {
		b.WriteString(el.Text)
		b.WriteString(" ")
	}
	signal := o.classifier.Classify(b.String())

	issues, summary := o.engine.Score(elements, signal)

	logCtx.Info("pipeline finished",
		"extractionMethod", method,
		"industry", signal.Label,
		"issues", len(issues),
		"confidence", summary.Score,
		"degraded", degraded,
		"elapsed", time.Since(start).String(),
	)

	return &Result{
		File: FileInfo{
			Filename:  doc.Filename,
			MIMEType:  doc.MIMEType,
			SizeBytes: doc.Size,
			PageCount: doc.PageCount,
		},
		MaterialityIssues: issues,
		ExtractionMethod:  method,
		IndustryDetected:  signal,
		ConfidenceSummary: summary,
		CategoryCounts:    scoring.CountByCategory(issues),
		AttemptLog:        attempts,
		Degraded:          degraded,
		ProcessedAt:       time.Now(),
		Elapsed:           Millis(time.Since(start)),
	}
}

func (o *Orchestrator) failedResult(doc *document.Document, attempts []Attempt, start time.Time) *Result {
	return &Result{
		File: FileInfo{
			Filename:  doc.Filename,
			MIMEType:  doc.MIMEType,
			SizeBytes: doc.Size,
			PageCount: doc.PageCount,
		},
		IndustryDetected:  industry.Signal{Label: industry.UnknownLabel},
		ConfidenceSummary: scoring.Summary{Tier: scoring.TierLow},
		CategoryCounts:    map[catalog.Category]int{},
		AttemptLog:        attempts,
		ProcessedAt:       time.Now(),
		Elapsed:           Millis(time.Since(start)),
	}
}
