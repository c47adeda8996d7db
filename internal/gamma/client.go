// Package gamma provides a client for the Polymarket Gamma API.
package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hexlattice/oddslens/internal/models"
)

// Client fetches events and markets from the Gamma API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
}

// ClientConfig tunes retries and rate limiting.
type ClientConfig struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	RateLimit  float64
	RateBurst  int
}

// apiEvent is the wire shape of a Gamma event.
type apiEvent struct {
	ID          string      `json:"id"`
	Slug        string      `json:"slug"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Icon        string      `json:"icon"`
	Active      bool        `json:"active"`
	Closed      bool        `json:"closed"`
	Archived    bool        `json:"archived"`
	Volume      float64     `json:"volume"`
	EndDate     string      `json:"endDate"`
	Tags        []apiTag    `json:"tags"`
	Markets     []apiMarket `json:"markets"`
}

type apiTag struct {
	ID    json.Number `json:"id"`
	Label string      `json:"label"`
	Slug  string      `json:"slug"`
}

// apiMarket is the wire shape of a Gamma market. Outcomes and outcomePrices
// arrive as string-encoded JSON lists ("[\"Yes\", \"No\"]").
type apiMarket struct {
	ID             string          `json:"id"`
	Question       string          `json:"question"`
	GroupItemTitle string          `json:"groupItemTitle"`
	Icon           string          `json:"icon"`
	Outcomes       string          `json:"outcomes"`
	OutcomePrices  json.RawMessage `json:"outcomePrices"`
	LastTradePrice *float64        `json:"lastTradePrice"`
	BestBid        *float64        `json:"bestBid"`
	Active         bool            `json:"active"`
	Closed         bool            `json:"closed"`
	Archived       bool            `json:"archived"`
	Volume         float64         `json:"volumeNum"`
	Liquidity      float64         `json:"liquidityNum"`
}

// NewClient creates a new Gamma API client.
func NewClient(baseURL string, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// FetchEvents retrieves one page of active events ordered by volume
// descending, converted into domain events.
func (c *Client) FetchEvents(ctx context.Context, limit, offset int) ([]models.Event, error) {
	u, err := url.Parse(c.baseURL + "/events")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("order", "volume")
	q.Set("ascending", "false")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	defer resp.Body.Close()

	var apiEvents []apiEvent
	if err := json.NewDecoder(resp.Body).Decode(&apiEvents); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}

	events := make([]models.Event, 0, len(apiEvents))
	for _, ae := range apiEvents {
		events = append(events, ae.toDomain())
	}
	return events, nil
}

// EventStatus holds the upstream lifecycle flags of one event.
type EventStatus struct {
	ID       string
	Active   bool
	Closed   bool
	Archived bool
	Found    bool
}

// FetchEventStatus looks up the current lifecycle flags for a stored event.
// An event missing upstream reports Found=false, not an error.
func (c *Client) FetchEventStatus(ctx context.Context, eventID string) (EventStatus, error) {
	u, err := url.Parse(c.baseURL + "/events")
	if err != nil {
		return EventStatus{}, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("id", eventID)
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return EventStatus{}, fmt.Errorf("failed to fetch event status: %w", err)
	}
	defer resp.Body.Close()

	var apiEvents []apiEvent
	if err := json.NewDecoder(resp.Body).Decode(&apiEvents); err != nil {
		return EventStatus{}, fmt.Errorf("failed to decode event status: %w", err)
	}
	if len(apiEvents) == 0 {
		return EventStatus{ID: eventID}, nil
	}
	ae := apiEvents[0]
	return EventStatus{
		ID:       eventID,
		Active:   ae.Active,
		Closed:   ae.Closed,
		Archived: ae.Archived,
		Found:    true,
	}, nil
}

func (ae apiEvent) toDomain() models.Event {
	event := models.Event{
		ID:          ae.ID,
		Slug:        ae.Slug,
		Title:       ae.Title,
		Description: ae.Description,
		ImageURL:    ae.Image,
		Volume:      ae.Volume,
		Active:      ae.Active,
		Closed:      ae.Closed,
		Archived:    ae.Archived,
	}
	if event.ImageURL == "" {
		event.ImageURL = ae.Icon
	}
	if event.Slug == "" {
		event.Slug = ae.ID
	}
	if ae.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, ae.EndDate); err == nil {
			event.EndDate = t
		}
	}
	for _, at := range ae.Tags {
		if at.ID.String() == "" {
			continue
		}
		event.Tags = append(event.Tags, models.Tag{
			ID:    at.ID.String(),
			Label: at.Label,
			Slug:  at.Slug,
		})
	}
	for _, am := range ae.Markets {
		event.Markets = append(event.Markets, am.toDomain())
	}
	return event
}

func (am apiMarket) toDomain() models.Market {
	m := models.Market{
		ID:            am.ID,
		Question:      am.Question,
		GroupTitle:    am.GroupItemTitle,
		Icon:          am.Icon,
		Active:        am.Active,
		Closed:        am.Closed,
		Archived:      am.Archived,
		Volume:        am.Volume,
		Liquidity:     am.Liquidity,
		OutcomePrices: am.OutcomePrices,
		Outcomes:      parseStringList(am.Outcomes),
	}
	// Trade-level fields give a sharper current price than outcome prices;
	// when present they become the precomputed odds the engine prefers.
	if am.LastTradePrice != nil {
		m.CalculatedOdds = am.LastTradePrice
	} else if am.BestBid != nil {
		m.CalculatedOdds = am.BestBid
	}
	return m
}

// parseStringList decodes a string-encoded JSON list; malformed input
// yields nil.
func parseStringList(encoded string) []string {
	if encoded == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(encoded), &out); err != nil {
		return nil
	}
	return out
}

// doRequest performs a rate-limited GET with linear-backoff retry on
// transport errors and 5xx responses.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		} else if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, fmt.Errorf("client error: %d", resp.StatusCode)
		} else {
			return resp, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelay * time.Duration(i+1)):
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
