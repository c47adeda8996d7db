// Package models defines the core domain entities: events, markets,
// calibration results, and predictions.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Market is a single tradeable sub-question within an Event, as ingested
// from the upstream market API. Probability-bearing fields are kept raw;
// the engine derives a single baseline probability from them.
type Market struct {
	ID         string `json:"id"`
	Question   string `json:"question"`
	GroupTitle string `json:"groupItemTitle,omitempty"`
	Icon       string `json:"icon,omitempty"`

	Active   bool `json:"active"`
	Closed   bool `json:"closed"`
	Archived bool `json:"archived"`

	Volume    float64 `json:"volume"`
	Liquidity float64 `json:"liquidity"`

	// CalculatedOdds is attached by the ingestion layer from trade-level
	// fields (last trade price, best bid) when available. Nil means no
	// precomputed value exists and the raw fields below decide.
	CalculatedOdds *float64 `json:"calculatedOdds,omitempty"`

	// OutcomePrices is either a JSON list of numbers/strings or a
	// string-encoded JSON list, exactly as the upstream API sends it.
	OutcomePrices json.RawMessage `json:"outcomePrices,omitempty"`

	// Probability is an explicit fallback field some payloads carry.
	Probability *float64 `json:"probability,omitempty"`

	Outcomes []string `json:"outcomes,omitempty"`
}

// Tag labels an event for feed-level filtering.
type Tag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// Event is a top-level prediction question grouping one or more Markets.
type Event struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Volume      float64   `json:"volume"`
	EndDate     time.Time `json:"end_date,omitzero"`
	Active      bool      `json:"active"`
	Closed      bool      `json:"closed"`
	Archived    bool      `json:"archived"`
	Tags        []Tag     `json:"tags,omitempty"`
	Markets     []Market  `json:"markets,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks event field constraints.
func (e *Event) Validate() error {
	if e.ID == "" {
		return errors.New("event ID must not be empty")
	}
	if e.Slug == "" {
		return errors.New("event slug must not be empty")
	}
	if e.Title == "" {
		return errors.New("event title must not be empty")
	}
	if e.Volume < 0 {
		return errors.New("event volume must not be negative")
	}
	for i := range e.Markets {
		if e.Markets[i].ID == "" {
			return errors.New("market ID must not be empty")
		}
	}
	if !e.UpdatedAt.IsZero() && !e.CreatedAt.IsZero() && e.CreatedAt.After(e.UpdatedAt) {
		return errors.New("created at must be <= updated at")
	}
	return nil
}

// Rationale holds the forecaster's per-market reasoning fields.
type Rationale struct {
	Anchor    string `json:"structural_anchor,omitempty"`
	Noise     string `json:"noise,omitempty"`
	Barrier   string `json:"barrier,omitempty"`
	Blindspot string `json:"blindspot,omitempty"`
}

// CalibrationResult is the forecaster's output for one market. It is owned
// by its market and replaced wholesale whenever a new calibration run
// completes; fields are never merged individually.
type CalibrationResult struct {
	Probability float64   `json:"probability"`
	Confidence  float64   `json:"confidence"`
	Rationale   Rationale `json:"rationale"`
	Analyzed    bool      `json:"analyzed"`
}

// MarketAnalysis is the per-market outcome of one calibration run: the
// derived baseline, the final (possibly normalized) probability, and
// provenance flags for downstream transparency.
type MarketAnalysis struct {
	MarketID   string    `json:"market_id"`
	Question   string    `json:"question"`
	Baseline   float64   `json:"baseline"`
	Final      float64   `json:"final"`
	Confidence float64   `json:"confidence"`
	Rationale  Rationale `json:"rationale"`
	Analyzed   bool      `json:"analyzed"`
	Normalized bool      `json:"normalized"`
}

// Prediction is the stored calibration record for one event. Exactly one
// row exists per event; a new run replaces the old row entirely.
type Prediction struct {
	ID             string           `json:"id"`
	EventID        string           `json:"event_id"`
	Summary        string           `json:"summary"`
	PrimaryOutcome string           `json:"primary_outcome"`
	Confidence     float64          `json:"confidence"`
	Markets        []MarketAnalysis `json:"markets"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Validate checks prediction field constraints.
func (p *Prediction) Validate() error {
	if p.ID == "" {
		return errors.New("prediction ID must not be empty")
	}
	if p.EventID == "" {
		return errors.New("prediction event ID must not be empty")
	}
	if p.Confidence < 0 || p.Confidence > 100 {
		return errors.New("prediction confidence must be between 0 and 100")
	}
	for i := range p.Markets {
		m := &p.Markets[i]
		if m.MarketID == "" {
			return errors.New("analysis market ID must not be empty")
		}
		if m.Final < 0 || m.Final > 1 {
			return errors.New("final probability must be between 0.0 and 1.0")
		}
	}
	return nil
}
