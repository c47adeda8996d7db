package server

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hexlattice/oddslens/internal/models"
	"github.com/hexlattice/oddslens/internal/storage"
)

type listResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Total    int    `json:"total"`
		Page     int    `json:"page"`
		PageSize int    `json:"pageSize"`
		List     []Card `json:"list"`
	} `json:"data"`
}

type detailResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    Card   `json:"data"`
}

// seedServer stores three events whose volume and divergence rankings
// disagree:
//
//	volume order:     ev-1 (1000), ev-3 (500), ev-2 (100)
//	divergence order: ev-2 (60),   ev-3 (50),  ev-1 (10)
func seedServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.New(100, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	seed := []struct {
		event      models.Event
		prediction models.Prediction
	}{
		{
			event: models.Event{
				ID: "ev-1", Slug: "big-volume", Title: "Big volume event",
				Volume: 1000, Active: true,
			},
			prediction: models.Prediction{
				ID: "p-1", EventID: "ev-1", Summary: "Quiet.",
				PrimaryOutcome: "51.0% - Yes", Confidence: 50,
				Markets: []models.MarketAnalysis{
					{MarketID: "m-1", Question: "Yes?", Baseline: 0.50, Final: 0.51, Analyzed: true},
				},
				CreatedAt: time.Now(),
			},
		},
		{
			event: models.Event{
				ID: "ev-2", Slug: "big-divergence", Title: "Big divergence event",
				Volume: 100, Active: true,
				Tags: []models.Tag{{ID: "5", Label: "Crypto", Slug: "crypto"}},
			},
			prediction: models.Prediction{
				ID: "p-2", EventID: "ev-2", Summary: "Crowd is way off.",
				PrimaryOutcome: "80.0% - Yes", Confidence: 90,
				Markets: []models.MarketAnalysis{
					{MarketID: "m-2", Question: "Yes?", Baseline: 0.20, Final: 0.80, Analyzed: true},
				},
				CreatedAt: time.Now(),
			},
		},
		{
			event: models.Event{
				ID: "ev-3", Slug: "middle", Title: "Middle event",
				Volume: 500, Active: true,
			},
			prediction: models.Prediction{
				ID: "p-3", EventID: "ev-3", Summary: "Somewhat off.",
				PrimaryOutcome: "50.0% - Yes", Confidence: 60,
				Markets: []models.MarketAnalysis{
					{MarketID: "m-3", Question: "Yes?", Baseline: 0.40, Final: 0.50, Analyzed: true},
				},
				CreatedAt: time.Now(),
			},
		},
	}
	for _, s := range seed {
		ev := s.event
		if err := store.UpsertEvent(&ev); err != nil {
			t.Fatalf("failed to seed event: %v", err)
		}
		p := s.prediction
		if err := store.ReplacePrediction(&p); err != nil {
			t.Fatalf("failed to seed prediction: %v", err)
		}
	}

	return New(store, Config{Host: "127.0.0.1", Port: 0})
}

func getList(t *testing.T, srv *Server, query string) (*http.Response, listResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cards/list"+query, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body listResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return rec.Result(), body
}

func listIDs(body listResponse) []string {
	ids := make([]string, 0, len(body.Data.List))
	for _, c := range body.Data.List {
		ids = append(ids, c.EventID)
	}
	return ids
}

func TestCardsListSmartOrder(t *testing.T) {
	srv := seedServer(t)
	resp, body := getList(t, srv, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body.Data.Total != 3 {
		t.Errorf("total = %d, want 3", body.Data.Total)
	}

	// Zipper merge: top volume, then top divergence, then the remainder.
	want := []string{"ev-1", "ev-2", "ev-3"}
	got := listIDs(body)
	if len(got) != len(want) {
		t.Fatalf("got %d cards, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d = %s, want %s", i, got[i], want[i])
		}
	}

	// Divergence is recomputed server-side from the stored analyses.
	if math.Abs(body.Data.List[1].Divergence-60) > 1e-9 {
		t.Errorf("ev-2 divergence = %v, want 60", body.Data.List[1].Divergence)
	}
}

func TestCardsListSortModes(t *testing.T) {
	srv := seedServer(t)

	_, byVolume := getList(t, srv, "?sort=volume")
	if got := listIDs(byVolume); got[0] != "ev-1" || got[1] != "ev-3" || got[2] != "ev-2" {
		t.Errorf("volume order = %v", got)
	}

	_, byDivergence := getList(t, srv, "?sort=divergence")
	if got := listIDs(byDivergence); got[0] != "ev-2" || got[1] != "ev-3" || got[2] != "ev-1" {
		t.Errorf("divergence order = %v", got)
	}
}

func TestCardsListPagination(t *testing.T) {
	srv := seedServer(t)

	_, page2 := getList(t, srv, "?page=2&pageSize=2")
	if page2.Data.Total != 3 {
		t.Errorf("total = %d, want 3", page2.Data.Total)
	}
	if len(page2.Data.List) != 1 {
		t.Errorf("page 2 size = %d, want 1", len(page2.Data.List))
	}

	_, beyond := getList(t, srv, "?page=9&pageSize=10")
	if len(beyond.Data.List) != 0 {
		t.Errorf("page beyond end returned %d cards", len(beyond.Data.List))
	}
	if beyond.Data.Total != 3 {
		t.Errorf("total = %d, want 3", beyond.Data.Total)
	}
}

func TestCardsListValidation(t *testing.T) {
	srv := seedServer(t)
	tests := []string{
		"?page=0",
		"?page=abc",
		"?pageSize=0",
		"?pageSize=101",
		"?sort=random",
	}
	for _, query := range tests {
		resp, body := getList(t, srv, query)
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("%s: status = %d, want 422", query, resp.StatusCode)
		}
		if body.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: envelope code = %d, want 422", query, body.Code)
		}
	}
}

func TestCardsListTagFilter(t *testing.T) {
	srv := seedServer(t)
	_, body := getList(t, srv, "?tagId=5")
	if body.Data.Total != 1 {
		t.Fatalf("total = %d, want 1", body.Data.Total)
	}
	if body.Data.List[0].EventID != "ev-2" {
		t.Errorf("tag filter returned %s", body.Data.List[0].EventID)
	}
}

func TestCardDetails(t *testing.T) {
	srv := seedServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cards/details?id=ev-2", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body detailResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	card := body.Data
	if card.EventID != "ev-2" || card.Summary != "Crowd is way off." {
		t.Errorf("card = %+v", card)
	}
	if math.Abs(card.Divergence-60) > 1e-9 {
		t.Errorf("divergence = %v, want 60", card.Divergence)
	}
	if len(card.Markets) != 1 || card.Markets[0].Final != 0.80 {
		t.Errorf("markets = %+v", card.Markets)
	}
	if len(card.Tags) != 1 || card.Tags[0].ID != "5" {
		t.Errorf("tags = %+v", card.Tags)
	}
}

func TestCardDetailsNotFound(t *testing.T) {
	srv := seedServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cards/details?id=nope", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := seedServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
