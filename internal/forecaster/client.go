package forecaster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/hexlattice/oddslens/internal/models"
)

// Client calls a Gemini-style generateContent endpoint with JSON-mode
// output. Responses are parsed tolerantly: models occasionally wrap JSON in
// markdown fences or leave trailing commas, and both are repaired before
// the parse is abandoned.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	retryDelay time.Duration
}

// ClientConfig tunes the forecaster client.
type ClientConfig struct {
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	RateLimit  float64
	RateBurst  int
}

// NewClient creates a forecaster client for the given endpoint.
func NewClient(baseURL string, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "forecaster",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("forecaster breaker state changed")
		},
	})

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		breaker:    breaker,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// generateRequest / generateResponse are the wire shapes of the
// generateContent API.
type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// rawAnalysis mirrors the forecaster's strict-JSON output contract.
type rawAnalysis struct {
	ExecutiveSummary string               `json:"executive_summary"`
	Markets          map[string]rawMarket `json:"markets"`
}

type rawMarket struct {
	CalibratedOdds  float64 `json:"ai_calibrated_odds"`
	ConfidenceScore float64 `json:"confidence_score"`
	Analysis        struct {
		StructuralAnchor string `json:"structural_anchor"`
		Noise            string `json:"noise"`
		Barrier          string `json:"barrier"`
		Blindspot        string `json:"blindspot"`
	} `json:"analysis"`
}

// Analyze audits one event. Each attempt covers both the HTTP call and the
// response parse; a bounded number of attempts with linear backoff precedes
// giving up, and a tripped circuit breaker fails fast.
func (c *Client) Analyze(ctx context.Context, req Request) (*Analysis, error) {
	if len(req.Markets) == 0 {
		return nil, fmt.Errorf("no markets submitted for event %s", req.EventID)
	}

	prompt := buildPrompt(req, time.Now())

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		result, err := c.breaker.Execute(func() (any, error) {
			return c.analyzeOnce(ctx, prompt)
		})
		if err == nil {
			return result.(*Analysis), nil
		}
		lastErr = err

		log.Warn().Err(err).Str("event_id", req.EventID).
			Int("attempt", attempt).Int("max", c.maxRetries).
			Msg("forecaster call failed")

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			break
		}
		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return nil, fmt.Errorf("forecaster failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) analyzeOnce(ctx context.Context, prompt string) (*Analysis, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:      0.7,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("forecaster request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("forecaster returned %d: %s", resp.StatusCode, payload)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("failed to decode response envelope: %w", err)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("forecaster returned no candidates")
	}

	return parseAnalysis(genResp.Candidates[0].Content.Parts[0].Text)
}

// parseAnalysis parses the model's JSON text, repairing common formatting
// slips before giving up.
func parseAnalysis(text string) (*Analysis, error) {
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		fixed := repairJSON(text)
		if err2 := json.Unmarshal([]byte(fixed), &raw); err2 != nil {
			return nil, fmt.Errorf("failed to parse analysis: %w", err)
		}
		log.Warn().Msg("forecaster JSON was malformed, auto-fixed successfully")
	}

	analysis := &Analysis{
		Summary: raw.ExecutiveSummary,
		Markets: make(map[string]models.CalibrationResult, len(raw.Markets)),
	}
	for id, rm := range raw.Markets {
		analysis.Markets[id] = models.CalibrationResult{
			Probability: clampRange(rm.CalibratedOdds, 0, 1),
			Confidence:  clampRange(rm.ConfidenceScore, 0, 10),
			Rationale: models.Rationale{
				Anchor:    rm.Analysis.StructuralAnchor,
				Noise:     rm.Analysis.Noise,
				Barrier:   rm.Analysis.Barrier,
				Blindspot: rm.Analysis.Blindspot,
			},
			Analyzed: true,
		}
	}
	return analysis, nil
}

var (
	fenceOpenRe  = regexp.MustCompile("(?m)^```(?:json)?\\s*")
	fenceCloseRe = regexp.MustCompile("(?m)^```\\s*$")
	trailingRe   = regexp.MustCompile(`,(\s*[}\]])`)
)

// repairJSON strips markdown code fences and trailing commas.
func repairJSON(text string) string {
	text = fenceOpenRe.ReplaceAllString(text, "")
	text = fenceCloseRe.ReplaceAllString(text, "")
	text = trailingRe.ReplaceAllString(text, "$1")
	return text
}

func clampRange(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
