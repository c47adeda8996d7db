package engine

import (
	"sort"

	"github.com/hexlattice/oddslens/internal/models"
)

// SelectorConfig holds the tunable constants of the market selector.
type SelectorConfig struct {
	// MinOddsThreshold is the baseline probability below which a market
	// does not qualify for calibration on its own merits.
	MinOddsThreshold float64
	// MinMarkets is the guaranteed minimum analysis pool when the event
	// has at least that many eligible markets.
	MinMarkets int
	// MaxMarkets caps the number of markets submitted to the forecaster.
	MaxMarkets int
}

// DefaultSelectorConfig returns the production selector constants.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		MinOddsThreshold: 0.05,
		MinMarkets:       2,
		MaxMarkets:       5,
	}
}

// Candidate pairs a market with its derived baseline probability.
type Candidate struct {
	Market   models.Market
	Baseline float64
}

// Eligible filters an event's markets down to tradeable ones: not archived,
// active, and not closed. Input order is preserved.
func Eligible(markets []models.Market) []models.Market {
	var out []models.Market
	for _, m := range markets {
		if m.Archived || !m.Active || m.Closed {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Rank computes the baseline probability for each market and sorts the
// result descending by that probability. The sort is stable so markets with
// equal baselines keep their input order, which keeps selection and
// normalization deterministic.
func Rank(markets []models.Market) []Candidate {
	cands := make([]Candidate, 0, len(markets))
	for _, m := range markets {
		cands = append(cands, Candidate{Market: m, Baseline: ExtractProbability(m)})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Baseline > cands[j].Baseline
	})
	return cands
}

// Select chooses the subset of ranked candidates to submit for calibration.
//
// Markets at or above MinOddsThreshold form the qualified set. A qualified
// set smaller than MinMarkets is topped up from the full ranked list so even
// low-probability events get a minimum viable analysis pool; one larger than
// MaxMarkets is cut to the top MaxMarkets. The returned slice preserves the
// descending-baseline order of ranked.
func (c SelectorConfig) Select(ranked []Candidate) []Candidate {
	if len(ranked) == 0 {
		return nil
	}

	var qualified []Candidate
	for _, cand := range ranked {
		if cand.Baseline >= c.MinOddsThreshold {
			qualified = append(qualified, cand)
		}
	}

	switch {
	case len(qualified) < c.MinMarkets:
		n := c.MinMarkets
		if n > len(ranked) {
			n = len(ranked)
		}
		return ranked[:n]
	case len(qualified) > c.MaxMarkets:
		return qualified[:c.MaxMarkets]
	default:
		return qualified
	}
}
