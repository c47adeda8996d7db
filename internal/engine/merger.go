package engine

import (
	"sort"

	"github.com/hexlattice/oddslens/internal/models"
)

// FinalizedEvent is the read view the scorer and merger operate on: an
// event's identity, its volume, its divergence score, and the final
// per-market probabilities from the latest calibration run. It is derived,
// never persisted.
type FinalizedEvent struct {
	ID         string
	Slug       string
	Title      string
	Volume     float64
	Divergence float64
	Summary    string
	Markets    []models.MarketAnalysis
}

// Merge produces one deterministic ordering from two ranked views of the
// same event set: a stable descending-volume list and a stable
// descending-divergence list, zipper-merged.
//
// Starting at the head of both lists, the merge alternates taking the next
// not-yet-used event from the volume list and then from the divergence
// list; a used-set keyed by event ID guarantees each event appears exactly
// once however often it recurs near the top of both lists. When one list
// runs out the other drains. Both sorts are stable and the walk order is
// fixed, so identical inputs always produce an identical merged order.
func Merge(events []FinalizedEvent) []FinalizedEvent {
	if len(events) == 0 {
		return nil
	}

	byVolume := make([]FinalizedEvent, len(events))
	copy(byVolume, events)
	sort.SliceStable(byVolume, func(i, j int) bool {
		return byVolume[i].Volume > byVolume[j].Volume
	})

	byDivergence := make([]FinalizedEvent, len(events))
	copy(byDivergence, events)
	sort.SliceStable(byDivergence, func(i, j int) bool {
		return byDivergence[i].Divergence > byDivergence[j].Divergence
	})

	merged := make([]FinalizedEvent, 0, len(events))
	used := make(map[string]struct{}, len(events))

	take := func(list []FinalizedEvent, pos int) int {
		for pos < len(list) {
			ev := list[pos]
			pos++
			if _, ok := used[ev.ID]; ok {
				continue
			}
			used[ev.ID] = struct{}{}
			merged = append(merged, ev)
			return pos
		}
		return pos
	}

	// Duplicate IDs in the input collapse to one entry, so exhaustion of
	// both cursors is the loop bound rather than the merged length.
	var vi, di int
	for vi < len(byVolume) || di < len(byDivergence) {
		vi = take(byVolume, vi)
		di = take(byDivergence, di)
	}

	return merged
}

// Page slices a merged sequence into one page and reports the full merged
// length. page is 1-based; a page beyond the end yields an empty slice, not
// an error. Argument validation (page ≥ 1, pageSize ≥ 1) belongs to the
// caller at the API boundary.
func Page(merged []FinalizedEvent, page, pageSize int) ([]FinalizedEvent, int) {
	total := len(merged)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return merged[start:end], total
}
