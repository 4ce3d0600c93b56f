package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/esgflow/materiality/internal/document"
	"github.com/esgflow/materiality/internal/extract"
	"github.com/esgflow/materiality/internal/industry"
	"github.com/esgflow/materiality/internal/scoring"
	"github.com/esgflow/materiality/internal/usage"
)

// --- fakes ---

type fakeText struct {
	elems []document.PageElement
	err   error
	calls int
}

func (f *fakeText) Extract(_ context.Context, _ *document.Document) ([]document.PageElement, error) {
	f.calls++
	return f.elems, f.err
}

type fakeOCR struct {
	elems []document.PageElement
	err   error
	calls int
}

func (f *fakeOCR) Extract(_ context.Context, _ *document.Document, _ []string) ([]document.PageElement, error) {
	f.calls++
	return f.elems, f.err
}

type fakeVision struct {
	fn func(ctx context.Context, pagePath string, page int) (*extract.VisionResult, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeVision) AnalyzePage(ctx context.Context, pagePath string, page int) (*extract.VisionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, pagePath, page)
}

type memStore struct {
	mu      sync.Mutex
	records map[string]usage.Record
}

func newMemStore() *memStore {
	return &memStore{records: map[string]usage.Record{}}
}

func (s *memStore) Load() (map[string]usage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]usage.Record{}
	for k, v := range s.records {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) Save(records map[string]usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = map[string]usage.Record{}
	for k, v := range records {
		s.records[k] = v
	}
	return nil
}

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestGovernor(t *testing.T, limits usage.Limits) *usage.Governor {
	t.Helper()
	g, err := usage.NewGovernor(limits, newMemStore(), discardLogger())
	if err != nil {
		t.Fatalf("NewGovernor: %v", err)
	}
	return g
}

func newTestOrchestrator(t *testing.T, fast extract.TextExtractor, ocr extract.OCRExtractor, vision extract.VisionAnalyzer, governor *usage.Governor, cfg Config) *Orchestrator {
	t.Helper()
	logger := discardLogger()
	return NewOrchestrator(
		document.NewIntake(1<<20, logger),
		fast,
		ocr,
		vision,
		governor,
		industry.NewClassifier(2, logger),
		scoring.NewEngine(20, logger),
		cfg,
		logger,
	)
}

func testConfig() Config {
	return Config{
		PerCallTimeout:        time.Second,
		PerPageTimeout:        time.Second,
		DocumentDeadline:      5 * time.Second,
		MinSufficientElements: 3,
		MaxCallAttempts:       1,
		VisionConcurrency:     4,
		InitialBackoff:        time.Millisecond,
	}
}

func testDoc(pages int) *document.Document {
	return &document.Document{
		ID:        "doc-test",
		Filename:  "report.pdf",
		MIMEType:  document.MIMEPDF,
		Size:      2048,
		PageCount: pages,
	}
}

// sufficientElements builds n elements that clear the escalation guard.
func sufficientElements(n, page int) []document.PageElement {
	elems := make([]document.PageElement, 0, n)
	for i := 0; i < n; i++ {
		elems = append(elems, document.PageElement{
			Page:   page,
			Text:   fmt.Sprintf("중대성 평가 이슈 %d번에 대한 설명", i+1),
			Kind:   document.KindParagraph,
			Source: StrategyFast,
		})
	}
	return elems
}

// --- tests ---

func TestSufficient(t *testing.T) {
	tests := []struct {
		name     string
		elements []document.PageElement
		minCount int
		want     bool
	}{
		{
			name:     "enough elements with indicator",
			elements: sufficientElements(3, 1),
			minCount: 3,
			want:     true,
		},
		{
			name:     "too few elements",
			elements: sufficientElements(2, 1),
			minCount: 3,
			want:     false,
		},
		{
			name: "enough elements but no indicator",
			elements: []document.PageElement{
				{Page: 1, Text: "회사 연혁 소개"},
				{Page: 1, Text: "대표이사 인사말"},
				{Page: 2, Text: "사업장 위치 안내"},
			},
			minCount: 3,
			want:     false,
		},
		{
			name:     "empty",
			minCount: 3,
			want:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sufficient(tt.elements, tt.minCount); got != tt.want {
				t.Errorf("Sufficient = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunFastShortCircuit(t *testing.T) {
	fast := &fakeText{elems: sufficientElements(3, 1)}
	ocr := &fakeOCR{}
	vision := &fakeVision{fn: func(context.Context, string, int) (*extract.VisionResult, error) {
		return nil, errors.New("must not be called")
	}}
	governor := newTestGovernor(t, usage.Limits{DailyRequests: 10, DailyCostUSD: 5})
	o := newTestOrchestrator(t, fast, ocr, vision, governor, testConfig())

	result, err := o.run(context.Background(), testDoc(2), time.Now())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExtractionMethod != StrategyFast {
		t.Errorf("method = %q, want %q", result.ExtractionMethod, StrategyFast)
	}
	if len(result.AttemptLog) != 1 {
		t.Fatalf("attempt log has %d entries, want 1 (no escalation past a sufficient step)", len(result.AttemptLog))
	}
	if result.AttemptLog[0].Outcome != OutcomeSuccess {
		t.Errorf("attempt outcome = %q, want success", result.AttemptLog[0].Outcome)
	}
	if ocr.calls != 0 || vision.calls != 0 {
		t.Errorf("later strategies ran: ocr=%d vision=%d", ocr.calls, vision.calls)
	}
	if len(result.MaterialityIssues) == 0 {
		t.Error("sufficient elements produced no issues")
	}
	if result.Degraded {
		t.Error("clean fast result marked degraded")
	}
}

func TestRunEscalatesToOCR(t *testing.T) {
	fast := &fakeText{err: errors.New("no embedded text")}
	ocr := &fakeOCR{elems: sufficientElements(4, 2)}
	governor := newTestGovernor(t, usage.Limits{DailyRequests: 10, DailyCostUSD: 5})
	o := newTestOrchestrator(t, fast, ocr, nil, governor, testConfig())

	result, err := o.run(context.Background(), testDoc(3), time.Now())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExtractionMethod != StrategyOCR {
		t.Errorf("method = %q, want %q", result.ExtractionMethod, StrategyOCR)
	}
	if len(result.AttemptLog) != 2 {
		t.Fatalf("attempt log has %d entries, want 2", len(result.AttemptLog))
	}
	if result.AttemptLog[0].Outcome != OutcomeFailed {
		t.Errorf("fast outcome = %q, want failed", result.AttemptLog[0].Outcome)
	}
	if result.AttemptLog[1].Outcome != OutcomeSuccess {
		t.Errorf("ocr outcome = %q, want success", result.AttemptLog[1].Outcome)
	}
}

func TestRunUsageDeniedWithoutFallback(t *testing.T) {
	fast := &fakeText{err: errors.New("no embedded text")}
	ocr := &fakeOCR{err: errors.New("rasterizer crashed")}
	vision := &fakeVision{fn: func(context.Context, string, int) (*extract.VisionResult, error) {
		return nil, errors.New("must not be called")
	}}
	governor := newTestGovernor(t, usage.Limits{DailyRequests: 1, DailyCostUSD: 5})
	if err := governor.RecordCall("gemini-1.5-flash", 100, 10); err != nil {
		t.Fatalf("RecordCall: %v", err)
	}
	o := newTestOrchestrator(t, fast, ocr, vision, governor, testConfig())

	result, err := o.run(context.Background(), testDoc(2), time.Now())
	if !errors.Is(err, ErrUsageLimitExceeded) {
		t.Fatalf("err = %v, want ErrUsageLimitExceeded", err)
	}
	if result == nil {
		t.Fatal("failed pipeline returned nil result")
	}
	if len(result.AttemptLog) != 3 {
		t.Fatalf("attempt log has %d entries, want 3", len(result.AttemptLog))
	}
	wantOutcomes := []Outcome{OutcomeFailed, OutcomeFailed, OutcomeDenied}
	for i, want := range wantOutcomes {
		if result.AttemptLog[i].Outcome != want {
			t.Errorf("attempt %d outcome = %q, want %q", i, result.AttemptLog[i].Outcome, want)
		}
	}
	if len(result.MaterialityIssues) != 0 {
		t.Errorf("failed pipeline carries %d issues", len(result.MaterialityIssues))
	}
	if vision.calls != 0 {
		t.Errorf("vision called %d times despite denial", vision.calls)
	}
}

func TestRunUsageDeniedFallsBackDegraded(t *testing.T) {
	// Two materiality elements: under the sufficiency minimum but still
	// usable when the vision escalation is denied.
	fast := &fakeText{elems: sufficientElements(2, 1)}
	ocr := &fakeOCR{err: errors.New("rasterizer crashed")}
	governor := newTestGovernor(t, usage.Limits{DailyRequests: 1, DailyCostUSD: 5})
	if err := governor.RecordCall("gemini-1.5-flash", 100, 10); err != nil {
		t.Fatalf("RecordCall: %v", err)
	}
	vision := &fakeVision{fn: func(context.Context, string, int) (*extract.VisionResult, error) {
		return nil, errors.New("must not be called")
	}}
	o := newTestOrchestrator(t, fast, ocr, vision, governor, testConfig())

	result, err := o.run(context.Background(), testDoc(2), time.Now())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Degraded {
		t.Error("fallback result not marked degraded")
	}
	if result.ExtractionMethod != StrategyFast {
		t.Errorf("method = %q, want %q", result.ExtractionMethod, StrategyFast)
	}
	if len(result.MaterialityIssues) == 0 {
		t.Error("degraded result carries no issues")
	}
	last := result.AttemptLog[len(result.AttemptLog)-1]
	if last.Strategy != StrategyVision || last.Outcome != OutcomeDenied {
		t.Errorf("last attempt = %+v, want denied vision", last)
	}
}

func TestRunVisionSuccess(t *testing.T) {
	fast := &fakeText{}
	ocr := &fakeOCR{}
	vision := &fakeVision{fn: func(_ context.Context, _ string, page int) (*extract.VisionResult, error) {
		return &extract.VisionResult{
			Candidates: []extract.CandidateIssue{
				{
					Name:        fmt.Sprintf("기후변화 대응 %d", page),
					Category:    "E",
					Description: "매트릭스 상위 이슈",
					Confidence:  0.9,
				},
			},
			Model:        "gemini-1.5-flash",
			InputTokens:  500,
			OutputTokens: 80,
		}, nil
	}}
	governor := newTestGovernor(t, usage.Limits{DailyRequests: 100, DailyCostUSD: 5})
	o := newTestOrchestrator(t, fast, ocr, vision, governor, testConfig())

	result, err := o.run(context.Background(), testDoc(3), time.Now())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExtractionMethod != StrategyVision {
		t.Errorf("method = %q, want %q", result.ExtractionMethod, StrategyVision)
	}
	if len(result.AttemptLog) != 3 {
		t.Fatalf("attempt log has %d entries, want 3", len(result.AttemptLog))
	}
	if got := result.AttemptLog[2].Outcome; got != OutcomeSuccess {
		t.Errorf("vision outcome = %q, want success", got)
	}
	if len(result.MaterialityIssues) != 3 {
		t.Errorf("issues = %d, want 3 (one per page)", len(result.MaterialityIssues))
	}
	for _, issue := range result.MaterialityIssues {
		if issue.PriorityTier != scoring.TierHigh {
			t.Errorf("issue %q tier = %q, want high", issue.Name, issue.PriorityTier)
		}
	}
	// Every AI call is accounted for.
	if got := governor.GetSummary(1).Today.RequestCount; got != 3 {
		t.Errorf("recorded requests = %d, want 3", got)
	}
}

func TestRunVisionToleratesMalformedPage(t *testing.T) {
	fast := &fakeText{}
	ocr := &fakeOCR{}
	vision := &fakeVision{fn: func(_ context.Context, _ string, page int) (*extract.VisionResult, error) {
		if page == 2 {
			// Completed call, unusable payload: tokens must still be
			// recorded.
			res := &extract.VisionResult{Model: "gemini-1.5-flash", InputTokens: 400, OutputTokens: 20}
			return res, fmt.Errorf("%w: page %d: invalid JSON", extract.ErrMalformedVision, page)
		}
		return &extract.VisionResult{
			Candidates: []extract.CandidateIssue{
				{Name: "안전보건 강화", Category: "S", Confidence: 0.8},
			},
			Model:        "gemini-1.5-flash",
			InputTokens:  500,
			OutputTokens: 60,
		}, nil
	}}
	governor := newTestGovernor(t, usage.Limits{DailyRequests: 100, DailyCostUSD: 5})
	o := newTestOrchestrator(t, fast, ocr, vision, governor, testConfig())

	result, err := o.run(context.Background(), testDoc(2), time.Now())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	visionAttempt := result.AttemptLog[len(result.AttemptLog)-1]
	if visionAttempt.Outcome != OutcomePartial {
		t.Errorf("vision outcome = %q, want partial", visionAttempt.Outcome)
	}
	if !strings.Contains(visionAttempt.Detail, "1 of 2") {
		t.Errorf("attempt detail = %q, want page tally", visionAttempt.Detail)
	}
	if len(result.MaterialityIssues) != 1 {
		t.Fatalf("issues = %d, want 1 from the good page", len(result.MaterialityIssues))
	}
	if got := governor.GetSummary(1).Today.RequestCount; got != 2 {
		t.Errorf("recorded requests = %d, want 2 (malformed call still costs)", got)
	}
}

func TestRunVisionDeadlinePartial(t *testing.T) {
	cfg := testConfig()
	cfg.DocumentDeadline = 200 * time.Millisecond
	cfg.PerPageTimeout = 200 * time.Millisecond
	cfg.VisionConcurrency = 5

	fast := &fakeText{}
	ocr := &fakeOCR{}
	vision := &fakeVision{fn: func(ctx context.Context, _ string, page int) (*extract.VisionResult, error) {
		if page <= 2 {
			return &extract.VisionResult{
				Candidates: []extract.CandidateIssue{
					{Name: fmt.Sprintf("이슈 %d", page), Category: "G", Confidence: 0.7},
				},
				Model:        "gemini-1.5-flash",
				InputTokens:  100,
				OutputTokens: 10,
			}, nil
		}
		// Slow pages never finish before the document deadline.
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	governor := newTestGovernor(t, usage.Limits{DailyRequests: 100, DailyCostUSD: 5})
	o := newTestOrchestrator(t, fast, ocr, vision, governor, cfg)

	result, err := o.run(context.Background(), testDoc(5), time.Now())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	visionAttempt := result.AttemptLog[len(result.AttemptLog)-1]
	if visionAttempt.Outcome != OutcomePartial {
		t.Errorf("vision outcome = %q, want partial", visionAttempt.Outcome)
	}
	// Only the fast pages contributed issues.
	if len(result.MaterialityIssues) != 2 {
		t.Errorf("issues = %d, want 2", len(result.MaterialityIssues))
	}
	for _, issue := range result.MaterialityIssues {
		for _, page := range issue.SupportingPages {
			if page > 2 {
				t.Errorf("issue %q cites abandoned page %d", issue.Name, page)
			}
		}
	}
}

func TestRunVisionPreflightDeniesProjectedCost(t *testing.T) {
	fast := &fakeText{}
	ocr := &fakeOCR{}
	vision := &fakeVision{fn: func(context.Context, string, int) (*extract.VisionResult, error) {
		return nil, errors.New("must not be called")
	}}
	// Nothing recorded yet, so the plain limit check passes; the budget is
	// so small that projecting the prompt cost of a single page must fail
	// preflight.
	governor := newTestGovernor(t, usage.Limits{DailyRequests: 100, DailyCostUSD: 1e-7})
	o := newTestOrchestrator(t, fast, ocr, vision, governor, testConfig())

	result, err := o.run(context.Background(), testDoc(2), time.Now())
	if !errors.Is(err, ErrUsageLimitExceeded) {
		t.Fatalf("err = %v, want ErrUsageLimitExceeded", err)
	}
	if vision.calls != 0 {
		t.Errorf("vision called %d times past a failed preflight", vision.calls)
	}
	last := result.AttemptLog[len(result.AttemptLog)-1]
	if last.Strategy != StrategyVision || last.Outcome != OutcomeDenied {
		t.Errorf("last attempt = %+v, want denied vision", last)
	}
	if got := governor.GetSummary(1).Today.RequestCount; got != 0 {
		t.Errorf("recorded requests = %d, want 0", got)
	}
}

func TestRunFallbackTieKeepsEarlierStrategy(t *testing.T) {
	// Both strategies produce two insufficient elements; the tie must keep
	// the fast result when vision is denied.
	fast := &fakeText{elems: sufficientElements(2, 1)}
	ocrElems := []document.PageElement{
		{Page: 2, Text: "중대성 관련 OCR 요소 하나", Kind: document.KindParagraph, Source: StrategyOCR},
		{Page: 2, Text: "중대성 관련 OCR 요소 둘", Kind: document.KindParagraph, Source: StrategyOCR},
	}
	ocr := &fakeOCR{elems: ocrElems}
	vision := &fakeVision{fn: func(context.Context, string, int) (*extract.VisionResult, error) {
		return nil, errors.New("must not be called")
	}}
	governor := newTestGovernor(t, usage.Limits{DailyRequests: 1, DailyCostUSD: 5})
	if err := governor.RecordCall("gemini-1.5-flash", 100, 10); err != nil {
		t.Fatalf("RecordCall: %v", err)
	}
	o := newTestOrchestrator(t, fast, ocr, vision, governor, testConfig())

	result, err := o.run(context.Background(), testDoc(2), time.Now())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExtractionMethod != StrategyFast {
		t.Errorf("method = %q, want %q (earlier strategy wins the tie)", result.ExtractionMethod, StrategyFast)
	}
	for _, issue := range result.MaterialityIssues {
		for _, page := range issue.SupportingPages {
			if page != 1 {
				t.Errorf("issue %q cites page %d from the losing strategy", issue.Name, page)
			}
		}
	}
}

func TestRunClassifiesStepErrors(t *testing.T) {
	fast := &fakeText{err: context.DeadlineExceeded}
	ocr := &fakeOCR{err: errors.New("tesseract not installed")}
	governor := newTestGovernor(t, usage.Limits{DailyRequests: 10, DailyCostUSD: 5})
	o := newTestOrchestrator(t, fast, ocr, nil, governor, testConfig())

	result, err := o.run(context.Background(), testDoc(1), time.Now())
	if !errors.Is(err, ErrExtractionFailure) {
		t.Fatalf("err = %v, want ErrExtractionFailure", err)
	}
	if !errors.Is(err, ErrExtractionTimeout) {
		t.Errorf("err %v does not carry the fast step's timeout classification", err)
	}
	if !errors.Is(err, ErrExternalService) {
		t.Errorf("err %v does not carry the ocr step's service-error classification", err)
	}
	if result.AttemptLog[0].Outcome != OutcomeTimedOut {
		t.Errorf("fast outcome = %q, want timed-out", result.AttemptLog[0].Outcome)
	}
	if result.AttemptLog[1].Outcome != OutcomeFailed {
		t.Errorf("ocr outcome = %q, want failed", result.AttemptLog[1].Outcome)
	}
}

func TestAttemptElapsedMarshalsMilliseconds(t *testing.T) {
	attempt := Attempt{
		Strategy: StrategyFast,
		Outcome:  OutcomeSuccess,
		Elapsed:  Millis(1500 * time.Millisecond),
	}
	data, err := json.Marshal(attempt)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"elapsedMs":1500`) {
		t.Errorf("marshaled attempt = %s, want elapsedMs in milliseconds", data)
	}
}

func TestRunNoVisionBackend(t *testing.T) {
	fast := &fakeText{err: errors.New("no embedded text")}
	ocr := &fakeOCR{err: errors.New("rasterizer crashed")}
	governor := newTestGovernor(t, usage.Limits{DailyRequests: 10, DailyCostUSD: 5})
	o := newTestOrchestrator(t, fast, ocr, nil, governor, testConfig())

	result, err := o.run(context.Background(), testDoc(1), time.Now())
	if !errors.Is(err, ErrExtractionFailure) {
		t.Fatalf("err = %v, want ErrExtractionFailure", err)
	}
	if result == nil {
		t.Fatal("failed pipeline returned nil result")
	}
	last := result.AttemptLog[len(result.AttemptLog)-1]
	if last.Strategy != StrategyVision || last.Outcome != OutcomeFailed {
		t.Errorf("last attempt = %+v, want failed vision", last)
	}
}

func TestProcessRejectsUnsupportedType(t *testing.T) {
	governor := newTestGovernor(t, usage.Limits{DailyRequests: 10, DailyCostUSD: 5})
	o := newTestOrchestrator(t, &fakeText{}, &fakeOCR{}, nil, governor, testConfig())

	_, err := o.Process(context.Background(), "notes.txt", "text/plain", []byte("hello"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestVisionPageOrderPrioritizesHits(t *testing.T) {
	governor := newTestGovernor(t, usage.Limits{DailyRequests: 10, DailyCostUSD: 5})
	o := newTestOrchestrator(t, &fakeText{}, &fakeOCR{}, nil, governor, testConfig())

	prior := []document.PageElement{
		{Page: 4, Text: "중대성 평가 매트릭스"},
		{Page: 2, Text: "일반 현황 설명"},
	}
	got := o.visionPageOrder(testDoc(5), prior)
	want := []int{4, 1, 2, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("order length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
