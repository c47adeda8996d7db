// Package pipeline orchestrates one crawl-and-calibrate cycle: ingest
// events from the market API, select markets, call the forecaster, reconcile
// probabilities, score divergence, and persist the resulting predictions.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hexlattice/oddslens/internal/engine"
	"github.com/hexlattice/oddslens/internal/forecaster"
	"github.com/hexlattice/oddslens/internal/metrics"
	"github.com/hexlattice/oddslens/internal/models"
	"github.com/hexlattice/oddslens/internal/storage"
)

// EventSource provides pages of upstream events. The Gamma client satisfies
// it; tests substitute a stub.
type EventSource interface {
	FetchEvents(ctx context.Context, limit, offset int) ([]models.Event, error)
}

// Notifier receives the post-cycle digest of top divergent events.
type Notifier interface {
	SendDigest(events []engine.FinalizedEvent) error
}

// Config holds the pipeline tunables.
type Config struct {
	PageSize          int
	MaxEvents         int
	Concurrency       int
	SnapshotsPerEvent int
	DigestTopK        int
}

// Runner executes crawl and recalibration cycles.
type Runner struct {
	store      *storage.Storage
	source     EventSource
	forecaster forecaster.Forecaster // nil disables calibration
	classifier engine.Classifier
	selector   engine.SelectorConfig
	notifier   Notifier // nil disables the digest
	cfg        Config
}

// New creates a pipeline runner. forecaster and notifier may be nil.
func New(store *storage.Storage, source EventSource, fc forecaster.Forecaster, selector engine.SelectorConfig, notifier Notifier, cfg Config) *Runner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 200
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.SnapshotsPerEvent <= 0 {
		cfg.SnapshotsPerEvent = 10
	}
	if cfg.DigestTopK <= 0 {
		cfg.DigestTopK = 10
	}
	return &Runner{
		store:      store,
		source:     source,
		forecaster: fc,
		classifier: engine.KeywordClassifier{},
		selector:   selector,
		notifier:   notifier,
		cfg:        cfg,
	}
}

// Crawl runs one full cycle: fetch, persist, calibrate, score, store, and
// notify. Per-event failures are logged and skipped; only ingestion-level
// failures abort the cycle.
func (r *Runner) Crawl(ctx context.Context) error {
	start := time.Now()
	log.Info().Msg("starting crawl cycle")

	events, err := r.fetchAll(ctx)
	if err != nil {
		metrics.CrawlCycles.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to fetch events: %w", err)
	}
	log.Info().Int("events", len(events)).Msg("fetched events")

	stored := make([]models.Event, 0, len(events))
	for i := range events {
		ev := events[i]
		if err := r.store.UpsertEvent(&ev); err != nil {
			log.Warn().Err(err).Str("event_id", ev.ID).Msg("failed to store event")
			continue
		}
		raw, err := json.Marshal(ev)
		if err != nil {
			log.Warn().Err(err).Str("event_id", ev.ID).Msg("failed to encode snapshot")
			continue
		}
		if err := r.store.AddSnapshot(ev.ID, raw); err != nil {
			log.Warn().Err(err).Str("event_id", ev.ID).Msg("failed to store snapshot")
			continue
		}
		stored = append(stored, ev)
	}

	finalized := r.calibrateAll(ctx, stored)

	if err := r.store.RotateEvents(); err != nil {
		log.Warn().Err(err).Msg("failed to rotate events")
	}
	if err := r.store.PruneSnapshots(r.cfg.SnapshotsPerEvent); err != nil {
		log.Warn().Err(err).Msg("failed to prune snapshots")
	}

	r.sendDigest(finalized)

	metrics.CrawlCycles.WithLabelValues("ok").Inc()
	metrics.CrawlDuration.Observe(time.Since(start).Seconds())
	log.Info().Dur("duration", time.Since(start)).
		Int("calibrated", len(finalized)).Msg("crawl cycle completed")
	return nil
}

// Recalibrate re-runs calibration for every stored active event from its
// latest snapshot, without touching the upstream API.
func (r *Runner) Recalibrate(ctx context.Context) error {
	stored, err := r.store.ListEvents(true)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]models.Event, 0, len(stored))
	for _, ev := range stored {
		snap, err := r.store.LatestSnapshot(ev.ID)
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		events = append(events, *snap)
	}
	log.Info().Int("events", len(events)).Msg("recalibrating from snapshots")

	finalized := r.calibrateAll(ctx, events)
	r.sendDigest(finalized)
	log.Info().Int("calibrated", len(finalized)).Msg("recalibration completed")
	return nil
}

// fetchAll pages through the upstream feed up to MaxEvents.
func (r *Runner) fetchAll(ctx context.Context) ([]models.Event, error) {
	var all []models.Event
	for offset := 0; offset < r.cfg.MaxEvents; offset += r.cfg.PageSize {
		limit := r.cfg.PageSize
		if remaining := r.cfg.MaxEvents - offset; remaining < limit {
			limit = remaining
		}
		page, err := r.source.FetchEvents(ctx, limit, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < limit {
			break
		}
	}
	return all, nil
}

// calibrateAll runs the per-event chain with bounded concurrency. Each
// event's downstream steps run only after its own forecast resolves, so slow
// forecasts never block unrelated events.
func (r *Runner) calibrateAll(ctx context.Context, events []models.Event) []engine.FinalizedEvent {
	sem := make(chan struct{}, r.cfg.Concurrency)
	var (
		mu        sync.Mutex
		finalized []engine.FinalizedEvent
		wg        sync.WaitGroup
	)

	for i := range events {
		ev := events[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			fe, prediction := r.calibrateEvent(ctx, ev)
			if prediction == nil {
				return
			}
			if err := r.store.ReplacePrediction(prediction); err != nil {
				log.Warn().Err(err).Str("event_id", ev.ID).Msg("failed to store prediction")
				return
			}
			metrics.EventsAnalyzed.Inc()

			mu.Lock()
			finalized = append(finalized, fe)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return finalized
}

// calibrateEvent runs selection, forecasting, classification, normalization,
// and scoring for one event. Events without eligible markets yield no
// prediction. A forecaster failure degrades to baselines instead of dropping
// the event.
func (r *Runner) calibrateEvent(ctx context.Context, ev models.Event) (engine.FinalizedEvent, *models.Prediction) {
	eligible := engine.Eligible(ev.Markets)
	if len(eligible) == 0 {
		log.Debug().Str("event_id", ev.ID).Msg("no eligible markets, skipping")
		return engine.FinalizedEvent{}, nil
	}

	ranked := engine.Rank(eligible)
	selected := r.selector.Select(ranked)

	var (
		calibrations map[string]models.CalibrationResult
		summary      string
	)
	if r.forecaster != nil && len(selected) > 0 {
		req := forecaster.Request{
			EventID:     ev.ID,
			Title:       ev.Title,
			Description: ev.Description,
		}
		for _, cand := range selected {
			req.Markets = append(req.Markets, forecaster.SubmittedMarket{
				ID:       cand.Market.ID,
				Question: cand.Market.Question,
				Baseline: cand.Baseline,
			})
		}

		analysis, err := r.forecaster.Analyze(ctx, req)
		if err != nil {
			metrics.ForecasterCalls.WithLabelValues("error").Inc()
			log.Warn().Err(err).Str("event_id", ev.ID).
				Msg("forecaster failed, keeping baselines")
		} else {
			metrics.ForecasterCalls.WithLabelValues("ok").Inc()
			summary = analysis.Summary
			// Only results for markets that were actually submitted count;
			// a hallucinated extra ID must not leak into normalization.
			submitted := make(map[string]struct{}, len(req.Markets))
			for _, m := range req.Markets {
				submitted[m.ID] = struct{}{}
			}
			calibrations = make(map[string]models.CalibrationResult, len(analysis.Markets))
			for id, cal := range analysis.Markets {
				if _, ok := submitted[id]; ok {
					calibrations[id] = cal
				}
			}
		}
	}

	shouldNormalize := r.classifier.ShouldNormalize(ev.Title, len(eligible))
	analyses := engine.Normalize(ranked, calibrations, shouldNormalize)
	divergence := engine.DivergenceScore(analyses, ev.Volume)

	prediction := buildPrediction(ev, summary, analyses)

	fe := engine.FinalizedEvent{
		ID:         ev.ID,
		Slug:       ev.Slug,
		Title:      ev.Title,
		Volume:     ev.Volume,
		Divergence: divergence,
		Summary:    summary,
		Markets:    analyses,
	}
	return fe, prediction
}

// buildPrediction derives the stored record from one calibration run. The
// primary outcome is the analyzed market the forecaster is most confident
// about, falling back to the highest final probability when nothing was
// analyzed.
func buildPrediction(ev models.Event, summary string, analyses []models.MarketAnalysis) *models.Prediction {
	best := analyses[0]
	for _, a := range analyses[1:] {
		if a.Confidence > best.Confidence ||
			(a.Confidence == best.Confidence && a.Final > best.Final) {
			best = a
		}
	}

	outcome := fmt.Sprintf("%.1f%%", best.Final*100)
	if best.Question != "" && best.Question != ev.Title {
		outcome = fmt.Sprintf("%s - %s", outcome, best.Question)
	}

	return &models.Prediction{
		ID:             uuid.NewString(),
		EventID:        ev.ID,
		Summary:        summary,
		PrimaryOutcome: outcome,
		Confidence:     math.Min(best.Confidence*10, 99.9),
		Markets:        analyses,
		CreatedAt:      time.Now(),
	}
}

// sendDigest notifies the top divergent events of this cycle.
func (r *Runner) sendDigest(finalized []engine.FinalizedEvent) {
	if r.notifier == nil || len(finalized) == 0 {
		return
	}
	sort.SliceStable(finalized, func(i, j int) bool {
		return finalized[i].Divergence > finalized[j].Divergence
	})
	top := finalized
	if len(top) > r.cfg.DigestTopK {
		top = top[:r.cfg.DigestTopK]
	}
	if err := r.notifier.SendDigest(top); err != nil {
		log.Warn().Err(err).Msg("failed to send digest")
	}
}
