package engine

import (
	"math"
	"testing"

	"github.com/hexlattice/oddslens/internal/models"
)

const tolerance = 1e-6

func candidates(odds ...float64) []Candidate {
	cands := make([]Candidate, len(odds))
	for i, o := range odds {
		cands[i] = Candidate{
			Market:   models.Market{ID: string(rune('a' + i)), Active: true},
			Baseline: o,
		}
	}
	return cands
}

func TestNormalizeCompetitiveEvent(t *testing.T) {
	// "Who will win the election?" with three markets all calibrated:
	// S = 0.5+0.3+0.3 = 1.1, every final value divides by S.
	cands := candidates(0.7, 0.2, 0.1)
	cals := map[string]models.CalibrationResult{
		"a": {Probability: 0.5, Confidence: 8, Analyzed: true},
		"b": {Probability: 0.3, Confidence: 7, Analyzed: true},
		"c": {Probability: 0.3, Confidence: 6, Analyzed: true},
	}

	got := Normalize(cands, cals, true)

	wantFinals := []float64{0.5 / 1.1, 0.3 / 1.1, 0.3 / 1.1}
	var sum float64
	for i, a := range got {
		if math.Abs(a.Final-wantFinals[i]) > tolerance {
			t.Errorf("market %s: final = %v, want %v", a.MarketID, a.Final, wantFinals[i])
		}
		if !a.Analyzed || !a.Normalized {
			t.Errorf("market %s: flags analyzed=%v normalized=%v, want both true", a.MarketID, a.Analyzed, a.Normalized)
		}
		sum += a.Final
	}
	if math.Abs(sum-1.0) > tolerance {
		t.Errorf("finals sum to %v, want 1.0", sum)
	}
}

func TestNormalizeSingleMarketKeepsCalibratedValue(t *testing.T) {
	// "Will X happen by December 31?": the count<=1 classifier rule means
	// shouldNormalize=false, so the calibrated value passes through.
	cands := candidates(0.1)
	cals := map[string]models.CalibrationResult{
		"a": {Probability: 0.3, Confidence: 9, Analyzed: true},
	}

	got := Normalize(cands, cals, false)
	if len(got) != 1 {
		t.Fatalf("got %d analyses, want 1", len(got))
	}
	if got[0].Final != 0.3 {
		t.Errorf("final = %v, want 0.3 unchanged", got[0].Final)
	}
	if got[0].Normalized {
		t.Error("normalized flag set on non-normalized event")
	}
	if got[0].Baseline != 0.1 {
		t.Errorf("baseline = %v, want 0.1", got[0].Baseline)
	}
}

func TestNormalizeMixedAnalyzedAndBaseline(t *testing.T) {
	// Two analyzed, one carried at baseline: S covers all three.
	cands := candidates(0.6, 0.3, 0.1)
	cals := map[string]models.CalibrationResult{
		"a": {Probability: 0.4, Analyzed: true},
		"b": {Probability: 0.4, Analyzed: true},
	}

	got := Normalize(cands, cals, true)
	s := 0.4 + 0.4 + 0.1

	wantFinals := []float64{0.4 / s, 0.4 / s, 0.1 / s}
	for i, a := range got {
		if math.Abs(a.Final-wantFinals[i]) > tolerance {
			t.Errorf("market %s: final = %v, want %v", a.MarketID, a.Final, wantFinals[i])
		}
	}
	if got[2].Analyzed {
		t.Error("unanalyzed market carries analyzed flag")
	}
	if !got[2].Normalized {
		t.Error("unanalyzed market in a normalized event must still be rescaled")
	}
}

func TestNormalizeClampsOutOfRangeCalibration(t *testing.T) {
	cands := candidates(0.5)
	cals := map[string]models.CalibrationResult{
		"a": {Probability: 1.4, Analyzed: true},
	}

	got := Normalize(cands, cals, false)
	if got[0].Final != 1.0 {
		t.Errorf("final = %v, want clamped 1.0", got[0].Final)
	}
}

func TestNormalizeZeroMassFallsBackToNeutralDenominator(t *testing.T) {
	cands := candidates(0, 0)
	got := Normalize(cands, nil, true)
	for _, a := range got {
		if a.Final != 0 {
			t.Errorf("market %s: final = %v, want 0", a.MarketID, a.Final)
		}
		if math.IsNaN(a.Final) || math.IsInf(a.Final, 0) {
			t.Errorf("market %s: final is not finite", a.MarketID)
		}
	}
}

func TestNormalizeForecasterFailureLeavesBaselines(t *testing.T) {
	cands := candidates(0.7, 0.3)
	got := Normalize(cands, map[string]models.CalibrationResult{}, true)

	wantFinals := []float64{0.7, 0.3}
	for i, a := range got {
		if math.Abs(a.Final-wantFinals[i]) > tolerance {
			t.Errorf("market %s: final = %v, want %v", a.MarketID, a.Final, wantFinals[i])
		}
		if a.Analyzed {
			t.Errorf("market %s: analyzed flag set with no calibration", a.MarketID)
		}
	}
}
