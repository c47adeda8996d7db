package engine

import "github.com/hexlattice/oddslens/internal/models"

// Normalize reconciles calibration outputs with baseline probabilities into
// one final probability per market.
//
// ranked must cover every eligible market of the event (selected or not),
// and calibrations maps market ID to the forecaster's result for markets
// that were actually analyzed. An empty calibrations map (forecaster
// failure or empty selection) leaves every market at its baseline.
//
// When shouldNormalize is false, analyzed markets keep their calibrated
// probability (clamped to [0,1]) and unanalyzed markets keep their
// baseline. When true, every market's value is divided by the total mass S
// so the event's markets sum to 1 while preserving relative signal; a
// non-positive S falls back to a neutral denominator of 1 to avoid
// dividing by zero.
func Normalize(ranked []Candidate, calibrations map[string]models.CalibrationResult, shouldNormalize bool) []models.MarketAnalysis {
	out := make([]models.MarketAnalysis, 0, len(ranked))

	var total float64
	for _, cand := range ranked {
		if cal, ok := calibrations[cand.Market.ID]; ok {
			total += clamp01(cal.Probability)
		} else {
			total += cand.Baseline
		}
	}
	if total <= 0 {
		total = 1
	}

	for _, cand := range ranked {
		analysis := models.MarketAnalysis{
			MarketID: cand.Market.ID,
			Question: cand.Market.Question,
			Baseline: cand.Baseline,
		}

		value := cand.Baseline
		if cal, ok := calibrations[cand.Market.ID]; ok {
			value = clamp01(cal.Probability)
			analysis.Analyzed = true
			analysis.Confidence = cal.Confidence
			analysis.Rationale = cal.Rationale
		}

		if shouldNormalize {
			analysis.Final = value / total
			analysis.Normalized = true
		} else {
			analysis.Final = value
		}

		out = append(out, analysis)
	}
	return out
}
