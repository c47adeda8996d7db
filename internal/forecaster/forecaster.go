// Package forecaster calls the external calibration service: given an
// event and its selected markets, it returns a calibrated probability,
// confidence, and rationale per market, or fails — in which case the event
// proceeds uncalibrated.
package forecaster

import (
	"context"

	"github.com/hexlattice/oddslens/internal/models"
)

// SubmittedMarket is one market sent for calibration.
type SubmittedMarket struct {
	ID       string
	Question string
	Baseline float64
}

// Request carries everything the forecaster sees about one event.
type Request struct {
	EventID     string
	Title       string
	Description string
	Markets     []SubmittedMarket
}

// Analysis is the forecaster's response for one event: a one-line summary
// and a calibration result per submitted market ID. Markets the forecaster
// skipped are simply absent.
type Analysis struct {
	Summary string
	Markets map[string]models.CalibrationResult
}

// Forecaster produces calibrated probabilities for an event's selected
// markets.
type Forecaster interface {
	Analyze(ctx context.Context, req Request) (*Analysis, error)
}
