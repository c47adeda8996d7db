package engine

import (
	"math"
	"sort"

	"github.com/hexlattice/oddslens/internal/models"
)

// DivergenceScore measures how much the calibration disagrees with the
// crowd on one event: the sum of the two largest |final − baseline| deltas
// across its markets, weighted by the event's trading volume. Volume
// weights the disagreement by how much capital is exposed to it, and
// capping at the top two deltas keeps events with many near-identical
// markets from diluting the signal.
//
// An event with a single market contributes its one delta once; events
// with zero volume or zero markets score 0.
func DivergenceScore(analyses []models.MarketAnalysis, volume float64) float64 {
	if len(analyses) == 0 || volume <= 0 {
		return 0
	}

	deltas := make([]float64, 0, len(analyses))
	for _, a := range analyses {
		deltas = append(deltas, math.Abs(a.Final-a.Baseline))
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(deltas)))

	top := deltas[0]
	if len(deltas) > 1 {
		top += deltas[1]
	}
	return top * volume
}
