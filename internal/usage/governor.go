package usage

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Limits are the shared daily ceilings for AI-backed calls.
type Limits struct {
	DailyRequests int
	DailyCostUSD  float64
}

// Governor tracks today's usage against the configured limits. All
// mutations run under a single mutex with a bounded critical section: the
// only I/O held under the lock is the store's atomic replace.
//
// CheckLimit followed later by RecordCall is deliberately not one
// transaction; under heavy concurrency a few calls may slightly exceed the
// ceiling. That soft-limit policy is accepted.
type Governor struct {
	limits Limits
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	records map[string]Record
}

// NewGovernor loads the durable ledger and returns a ready Governor.
func NewGovernor(limits Limits, store Store, logger *slog.Logger) (*Governor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	records, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load usage ledger: %w", err)
	}
	g := &Governor{
		limits:  limits,
		store:   store,
		logger:  logger,
		now:     time.Now,
		records: records,
	}
	logger.Info("usage governor initialized",
		"dailyRequestLimit", limits.DailyRequests,
		"dailyCostLimitUSD", limits.DailyCostUSD,
	)
	return g, nil
}

func (g *Governor) today() string {
	return g.now().Format("2006-01-02")
}

// CheckLimit reports whether another AI-backed call is allowed right now,
// with a human-readable reason when it is not.
func (g *Governor) CheckLimit() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.records[g.today()]
	if rec.RequestCount >= g.limits.DailyRequests {
		return false, fmt.Sprintf("daily request limit exceeded (%d/%d)",
			rec.RequestCount, g.limits.DailyRequests)
	}
	if rec.EstimatedCost >= g.limits.DailyCostUSD {
		return false, fmt.Sprintf("daily cost limit exceeded ($%.4f/$%.2f)",
			rec.EstimatedCost, g.limits.DailyCostUSD)
	}
	return true, "OK"
}

// PreflightCheck additionally rejects a call whose projected cost would
// cross the daily cost ceiling before the call is made.
func (g *Governor) PreflightCheck(model string, estimatedInputTokens int) (bool, string) {
	if ok, reason := g.CheckLimit(); !ok {
		return false, reason
	}

	projected := EstimateCost(model, estimatedInputTokens, 0)
	g.mu.Lock()
	rec := g.records[g.today()]
	g.mu.Unlock()

	if rec.EstimatedCost+projected > g.limits.DailyCostUSD {
		return false, fmt.Sprintf("projected cost exceeds daily limit ($%.4f + $%.4f > $%.2f)",
			rec.EstimatedCost, projected, g.limits.DailyCostUSD)
	}
	return true, "OK"
}

// RecordCall atomically adds one completed call to today's record and
// persists the ledger. Cost already recorded stays recorded even when the
// surrounding document processing later fails.
func (g *Governor) RecordCall(model string, inputTokens, outputTokens int) error {
	cost := EstimateCost(model, inputTokens, outputTokens)

	g.mu.Lock()
	defer g.mu.Unlock()

	day := g.today()
	rec := g.records[day]
	rec.Date = day
	rec.RequestCount++
	rec.TokensUsed += inputTokens + outputTokens
	rec.EstimatedCost += cost
	rec.LastUpdated = g.now()
	g.records[day] = rec

	if err := g.store.Save(g.records); err != nil {
		return fmt.Errorf("failed to persist usage ledger: %w", err)
	}

	g.logger.Info("AI call recorded",
		"model", model,
		"tokens", inputTokens+outputTokens,
		"costUSD", cost,
		"dailyRequests", rec.RequestCount,
	)
	return nil
}

// Summary is a read-only snapshot for reporting.
type Summary struct {
	Today      Record   `json:"today"`
	Limits     Limits   `json:"limits"`
	RecentDays []Record `json:"recent_days"`
}

// GetSummary returns today's record, the configured limits, and up to
// `days` recent records, newest first. It never mutates state.
func (g *Governor) GetSummary(days int) Summary {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := g.today()
	s := Summary{
		Today:  g.records[today],
		Limits: g.limits,
	}
	if s.Today.Date == "" {
		s.Today.Date = today
	}
	for i := 0; i < days; i++ {
		day := g.now().AddDate(0, 0, -i).Format("2006-01-02")
		if rec, ok := g.records[day]; ok {
			s.RecentDays = append(s.RecentDays, rec)
		}
	}
	return s
}

// Reset discards the record for the given date ("" means today) and
// persists the change.
func (g *Governor) Reset(date string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if date == "" {
		date = g.today()
	}
	if _, ok := g.records[date]; !ok {
		return nil
	}
	delete(g.records, date)
	if err := g.store.Save(g.records); err != nil {
		return fmt.Errorf("failed to persist usage ledger: %w", err)
	}
	g.logger.Info("daily usage reset", "date", date)
	return nil
}
