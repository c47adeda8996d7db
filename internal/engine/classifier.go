package engine

import "strings"

// Classifier decides whether an event's calibrated probabilities should be
// normalized to sum to 1. It is a single-responsibility interface so the
// keyword heuristic below can be swapped for a learned model without
// touching the normalizer contract.
type Classifier interface {
	ShouldNormalize(title string, eligibleCount int) bool
}

// cumulativeMarkers flag independent threshold questions ("Will BTC hit
// 100k by March?"). Summing such probabilities is not meaningful.
var cumulativeMarkers = []string{
	" by ",
	"hit",
	"reach",
	"above",
	"below",
	"over",
	"under",
	"at least",
	"more than",
	"less than",
	"exceed",
	"surpass",
}

// competitiveMarkers flag mutually exclusive framings where exactly one
// outcome resolves yes.
var competitiveMarkers = []string{
	"nominee",
	"winner",
	"which",
	"who will win",
	"who will be",
	"next president",
	"next prime minister",
	"champion",
}

// KeywordClassifier classifies event titles with case-insensitive substring
// markers. It is a reproducible heuristic, not a guarantee of correctness
// for every title.
type KeywordClassifier struct{}

// ShouldNormalize reports whether the event's markets form a distribution
// that should sum to 1. Rules fire in order: single-market events are never
// normalized, cumulative framing wins over competitive framing, and
// multi-market events with no marker default to normalized.
func (KeywordClassifier) ShouldNormalize(title string, eligibleCount int) bool {
	if eligibleCount <= 1 {
		return false
	}
	lower := strings.ToLower(title)
	for _, marker := range cumulativeMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	for _, marker := range competitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return true
}
