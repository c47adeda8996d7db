// Package server exposes the calibration feed over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/hexlattice/oddslens/internal/engine"
	"github.com/hexlattice/oddslens/internal/metrics"
	"github.com/hexlattice/oddslens/internal/models"
	"github.com/hexlattice/oddslens/internal/storage"
)

const maxPageSize = 100

// Config holds the HTTP server settings.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server serves the cards API backed by stored events and predictions.
type Server struct {
	store  *storage.Storage
	router *mux.Router
	http   *http.Server
}

// New creates the HTTP server and registers all routes.
func New(store *storage.Storage, cfg Config) *Server {
	s := &Server{store: store, router: mux.NewRouter()}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/cards/list", s.instrument("cards_list", s.handleCardsList)).Methods(http.MethodGet)
	api.HandleFunc("/cards/details", s.instrument("cards_details", s.handleCardDetails)).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// envelope is the fixed response wrapper of every API endpoint.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type pageData struct {
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
	List     []Card `json:"list"`
}

// Card is the feed view of one event with its latest calibration.
type Card struct {
	EventID        string                  `json:"event_id"`
	Slug           string                  `json:"slug"`
	Title          string                  `json:"title"`
	ImageURL       string                  `json:"image_url,omitempty"`
	Volume         float64                 `json:"volume"`
	Divergence     float64                 `json:"divergence"`
	EndDate        time.Time               `json:"end_date,omitzero"`
	Tags           []models.Tag            `json:"tags,omitempty"`
	Summary        string                  `json:"summary,omitempty"`
	PrimaryOutcome string                  `json:"primary_outcome,omitempty"`
	Confidence     float64                 `json:"confidence"`
	Markets        []models.MarketAnalysis `json:"markets,omitempty"`
	AnalyzedAt     time.Time               `json:"analyzed_at,omitzero"`
}

func (s *Server) handleCardsList(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil || page < 1 {
		writeError(w, http.StatusUnprocessableEntity, "page must be a positive integer")
		return
	}
	pageSize, err := queryInt(r, "pageSize", 10)
	if err != nil || pageSize < 1 || pageSize > maxPageSize {
		writeError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("pageSize must be between 1 and %d", maxPageSize))
		return
	}
	sortMode := r.URL.Query().Get("sort")
	switch sortMode {
	case "", "smart", "volume", "divergence":
	default:
		writeError(w, http.StatusUnprocessableEntity, "sort must be one of: smart, volume, divergence")
		return
	}

	cards, finalized, err := s.loadCards(r.URL.Query().Get("tagId"))
	if err != nil {
		log.Error().Err(err).Msg("failed to load cards")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ordered := orderCards(cards, finalized, sortMode)

	total := len(ordered)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, envelope{
		Code:    0,
		Message: "ok",
		Data: pageData{
			Total:    total,
			Page:     page,
			PageSize: pageSize,
			List:     ordered[start:end],
		},
	})
}

func (s *Server) handleCardDetails(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusUnprocessableEntity, "id is required")
		return
	}

	event, err := s.store.GetEvent(id)
	if err == storage.ErrNotFound {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("event_id", id).Msg("failed to load event")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	card := cardFromEvent(event, nil)
	if p, err := s.store.GetPrediction(id); err == nil {
		card = cardFromEvent(event, p)
	} else if err != storage.ErrNotFound {
		log.Error().Err(err).Str("event_id", id).Msg("failed to load prediction")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, envelope{Code: 0, Message: "ok", Data: card})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loadCards builds the card view for all active events, optionally filtered
// to one tag, alongside the finalized projection the sorter works on.
func (s *Server) loadCards(tagID string) ([]Card, []engine.FinalizedEvent, error) {
	events, err := s.store.ListEvents(true)
	if err != nil {
		return nil, nil, err
	}

	var tagged map[string]struct{}
	if tagID != "" {
		tagged, err = s.store.EventIDsByTag(tagID)
		if err != nil {
			return nil, nil, err
		}
	}

	predictions, err := s.store.PredictionsByEvent()
	if err != nil {
		return nil, nil, err
	}

	cards := make([]Card, 0, len(events))
	finalized := make([]engine.FinalizedEvent, 0, len(events))
	for _, ev := range events {
		if tagged != nil {
			if _, ok := tagged[ev.ID]; !ok {
				continue
			}
		}
		card := cardFromEvent(ev, predictions[ev.ID])
		cards = append(cards, card)
		finalized = append(finalized, engine.FinalizedEvent{
			ID:         card.EventID,
			Slug:       card.Slug,
			Title:      card.Title,
			Volume:     card.Volume,
			Divergence: card.Divergence,
			Summary:    card.Summary,
			Markets:    card.Markets,
		})
	}
	return cards, finalized, nil
}

func cardFromEvent(ev *models.Event, p *models.Prediction) Card {
	card := Card{
		EventID:  ev.ID,
		Slug:     ev.Slug,
		Title:    ev.Title,
		ImageURL: ev.ImageURL,
		Volume:   ev.Volume,
		EndDate:  ev.EndDate,
		Tags:     ev.Tags,
	}
	if p != nil {
		card.Summary = p.Summary
		card.PrimaryOutcome = p.PrimaryOutcome
		card.Confidence = p.Confidence
		card.Markets = p.Markets
		card.AnalyzedAt = p.CreatedAt
		card.Divergence = engine.DivergenceScore(p.Markets, ev.Volume)
	}
	return card
}

// orderCards applies the requested sort. The default smart order
// zipper-merges the volume and divergence rankings; the explicit modes are
// plain stable sorts over one key.
func orderCards(cards []Card, finalized []engine.FinalizedEvent, sortMode string) []Card {
	byID := make(map[string]Card, len(cards))
	for _, c := range cards {
		byID[c.EventID] = c
	}

	var orderedIDs []string
	switch sortMode {
	case "volume":
		// ListEvents already returns volume-descending order.
		for _, c := range cards {
			orderedIDs = append(orderedIDs, c.EventID)
		}
	case "divergence":
		sorted := make([]Card, len(cards))
		copy(sorted, cards)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Divergence > sorted[j].Divergence
		})
		for _, c := range sorted {
			orderedIDs = append(orderedIDs, c.EventID)
		}
	default: // smart
		for _, fe := range engine.Merge(finalized) {
			orderedIDs = append(orderedIDs, fe.ID)
		}
	}

	out := make([]Card, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		out = append(out, byID[id])
	}
	return out
}

// instrument wraps a handler with latency metrics.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.HTTPDuration.WithLabelValues(route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Code: status, Message: message, Data: nil})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
