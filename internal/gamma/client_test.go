package gamma

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const eventsPayload = `[
  {
    "id": "ev-1",
    "slug": "who-wins",
    "title": "Who will win the election?",
    "description": "desc",
    "image": "https://img.example/e1.png",
    "active": true,
    "closed": false,
    "archived": false,
    "volume": 123456.78,
    "endDate": "2026-11-03T00:00:00Z",
    "tags": [{"id": 2, "label": "Politics", "slug": "politics"}],
    "markets": [
      {
        "id": "m-1",
        "question": "Will Alice win?",
        "outcomes": "[\"Yes\", \"No\"]",
        "outcomePrices": "[\"0.65\", \"0.35\"]",
        "lastTradePrice": 0.66,
        "active": true,
        "closed": false,
        "archived": false
      },
      {
        "id": "m-2",
        "question": "Will Bob win?",
        "outcomes": "[\"Yes\", \"No\"]",
        "outcomePrices": "[\"0.30\", \"0.70\"]",
        "bestBid": 0.29,
        "active": true,
        "closed": false,
        "archived": false
      }
    ]
  }
]`

func testClient(url string) *Client {
	return NewClient(url, ClientConfig{
		Timeout:    2 * time.Second,
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
		RateLimit:  1000,
		RateBurst:  100,
	})
}

func TestFetchEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("active"); got != "true" {
			t.Errorf("active param = %q, want true", got)
		}
		if got := r.URL.Query().Get("order"); got != "volume" {
			t.Errorf("order param = %q, want volume", got)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit param = %q, want 50", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(eventsPayload))
	}))
	defer srv.Close()

	events, err := testClient(srv.URL).FetchEvents(context.Background(), 50, 0)
	if err != nil {
		t.Fatalf("FetchEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	ev := events[0]
	if ev.ID != "ev-1" || ev.Title != "Who will win the election?" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Volume != 123456.78 {
		t.Errorf("volume = %v, want 123456.78", ev.Volume)
	}
	if len(ev.Tags) != 1 || ev.Tags[0].ID != "2" {
		t.Errorf("tags = %+v, want numeric id coerced to string", ev.Tags)
	}
	if len(ev.Markets) != 2 {
		t.Fatalf("got %d markets, want 2", len(ev.Markets))
	}

	m1 := ev.Markets[0]
	if m1.CalculatedOdds == nil || *m1.CalculatedOdds != 0.66 {
		t.Errorf("m1 calculated odds = %v, want lastTradePrice 0.66", m1.CalculatedOdds)
	}
	if len(m1.Outcomes) != 2 || m1.Outcomes[0] != "Yes" {
		t.Errorf("m1 outcomes = %v, want [Yes No]", m1.Outcomes)
	}

	m2 := ev.Markets[1]
	if m2.CalculatedOdds == nil || *m2.CalculatedOdds != 0.29 {
		t.Errorf("m2 calculated odds = %v, want bestBid 0.29", m2.CalculatedOdds)
	}
}

func TestFetchEventsRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	events, err := testClient(srv.URL).FetchEvents(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("FetchEvents failed after retries: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
	if calls.Load() != 3 {
		t.Errorf("server called %d times, want 3", calls.Load())
	}
}

func TestFetchEventsGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).FetchEvents(context.Background(), 10, 0); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestFetchEventsClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).FetchEvents(context.Background(), 10, 0); err == nil {
		t.Fatal("expected error on 4xx")
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1", calls.Load())
	}
}

func TestFetchEventStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.URL.Query().Get("id"); id == "ev-gone" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{"id":"ev-1","active":false,"closed":true,"archived":false}]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)

	status, err := c.FetchEventStatus(context.Background(), "ev-1")
	if err != nil {
		t.Fatalf("FetchEventStatus failed: %v", err)
	}
	if !status.Found || status.Active || !status.Closed {
		t.Errorf("status = %+v, want found, inactive, closed", status)
	}

	gone, err := c.FetchEventStatus(context.Background(), "ev-gone")
	if err != nil {
		t.Fatalf("FetchEventStatus (gone) failed: %v", err)
	}
	if gone.Found {
		t.Error("missing event reported as found")
	}
}
