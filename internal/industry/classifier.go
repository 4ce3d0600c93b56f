// Package industry infers the reporting organization's industry from
// extracted text, selecting the keyword weighting profile the scoring
// engine applies.
package industry

import (
	"log/slog"
	"strings"

	"github.com/esgflow/materiality/internal/catalog"
)

// UnknownLabel is returned when no profile clears the threshold. It makes
// the scoring engine fall back to universal keyword weighting only.
const UnknownLabel = "unknown"

// Signal is the one industry classification computed per document.
type Signal struct {
	Label      string  `json:"label"`
	Hits       int     `json:"hits"`
	Confidence float64 `json:"confidence"`
}

// Classifier scores the industry profiles against document text.
type Classifier struct {
	minHits int
	logger  *slog.Logger
}

// NewClassifier builds a Classifier that requires at least minHits distinct
// keyword hits before committing to an industry.
func NewClassifier(minHits int, logger *slog.Logger) *Classifier {
	if minHits <= 0 {
		minHits = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{minHits: minHits, logger: logger}
}

// Classify counts distinct keyword hits per profile, one point each, and
// picks the highest score at or above the threshold. Ties keep the profile
// declared first in the catalogue.
func (c *Classifier) Classify(text string) Signal {
	lower := strings.ToLower(text)

	best := Signal{Label: UnknownLabel}
	for _, profile := range catalog.IndustryProfiles() {
		hits := 0
		for _, kw := range profile.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > best.Hits {
			best = Signal{
				Label:      profile.Label,
				Hits:       hits,
				Confidence: confidence(hits, len(profile.Keywords)),
			}
		}
	}

	if best.Hits < c.minHits {
		c.logger.Debug("industry below detection threshold",
			"bestLabel", best.Label,
			"hits", best.Hits,
			"minHits", c.minHits,
		)
		return Signal{Label: UnknownLabel}
	}

	c.logger.Info("industry detected",
		"industry", best.Label,
		"hits", best.Hits,
		"confidence", best.Confidence,
	)
	return best
}

func confidence(hits, total int) float64 {
	if total == 0 {
		return 0
	}
	conf := float64(hits) / float64(total)
	if conf > 1 {
		conf = 1
	}
	return conf
}
