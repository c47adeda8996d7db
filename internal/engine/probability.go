// Package engine implements the calibration selection and ranking engine:
// baseline probability extraction, market selection for calibration,
// normalization of calibrated probabilities, divergence scoring, and the
// dual-rank feed merge. Every function is a deterministic transformation of
// its inputs with no I/O and no shared state.
package engine

import (
	"encoding/json"
	"strconv"

	"github.com/hexlattice/oddslens/internal/models"
)

// ExtractProbability derives the baseline probability for a market from its
// raw fields. Priority: precomputed calculated odds, then the first element
// of the outcome-price list, then the explicit probability field, then 0.
// Parse failures fall through to the next tier; the result is always in [0,1].
func ExtractProbability(m models.Market) float64 {
	if m.CalculatedOdds != nil {
		return clamp01(*m.CalculatedOdds)
	}
	if p, ok := firstOutcomePrice(m.OutcomePrices); ok {
		return clamp01(p)
	}
	if m.Probability != nil {
		return clamp01(*m.Probability)
	}
	return 0.0
}

// firstOutcomePrice parses the first element of an outcome-price list. The
// upstream API sends either a JSON list or a string-encoded JSON list, and
// elements may be numbers or numeric strings.
func firstOutcomePrice(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	data := []byte(raw)

	// A string-encoded list ("[\"0.75\", \"0.25\"]") unwraps once.
	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		data = []byte(encoded)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil || len(elems) == 0 {
		return 0, false
	}

	var num float64
	if err := json.Unmarshal(elems[0], &num); err == nil {
		return num, true
	}

	var str string
	if err := json.Unmarshal(elems[0], &str); err == nil {
		if parsed, perr := strconv.ParseFloat(str, 64); perr == nil {
			return parsed, true
		}
	}
	return 0, false
}

func clamp01(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
