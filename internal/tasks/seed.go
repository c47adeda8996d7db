// Package tasks holds the operational one-shot jobs: seeding predictions
// from exported CSV analyses and cleaning stale events against the upstream
// API.
package tasks

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hexlattice/oddslens/internal/models"
	"github.com/hexlattice/oddslens/internal/storage"
)

// SeedReport summarizes one seed run.
type SeedReport struct {
	Rows     int
	Imported int
	NoEvent  int
	BadJSON  int
}

// seedRow is the per-row JSON payload of the export: an executive summary
// plus per-market calibration values.
type seedRow struct {
	ExecutiveSummary string                `json:"executive_summary"`
	Markets          map[string]seedMarket `json:"markets"`
}

type seedMarket struct {
	Question     string `json:"question"`
	OriginalOdds any    `json:"original_odds"`
	Calibrated   any    `json:"ai_calibrated_odds_pct"`
}

// Seed imports predictions from a CSV export with the columns
// event_id, event_title, summary_and_calibration_json. Rows whose event is
// not already stored are skipped, and malformed JSON payloads are repaired
// where possible before being skipped too.
func Seed(store *storage.Storage, csvPath string) (SeedReport, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return SeedReport{}, fmt.Errorf("failed to open CSV: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return SeedReport{}, fmt.Errorf("failed to read CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"event_id", "summary_and_calibration_json"} {
		if _, ok := col[required]; !ok {
			return SeedReport{}, fmt.Errorf("CSV is missing column %q", required)
		}
	}

	var report SeedReport
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return report, fmt.Errorf("failed to read CSV row: %w", err)
		}
		report.Rows++

		eventID := strings.TrimSpace(record[col["event_id"]])
		if _, err := store.GetEvent(eventID); err == storage.ErrNotFound {
			report.NoEvent++
			continue
		} else if err != nil {
			return report, err
		}

		payload := record[col["summary_and_calibration_json"]]
		row, err := parseSeedRow(payload)
		if err != nil {
			log.Warn().Err(err).Str("event_id", eventID).Msg("skipping row with bad JSON")
			report.BadJSON++
			continue
		}

		prediction := predictionFromSeed(eventID, row)
		if err := store.ReplacePrediction(prediction); err != nil {
			return report, fmt.Errorf("failed to store prediction for %s: %w", eventID, err)
		}
		report.Imported++
	}

	log.Info().Int("rows", report.Rows).Int("imported", report.Imported).
		Int("no_event", report.NoEvent).Int("bad_json", report.BadJSON).
		Msg("seed completed")
	return report, nil
}

func parseSeedRow(payload string) (*seedRow, error) {
	var row seedRow
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		fixed := fixSeedJSON(payload)
		if err2 := json.Unmarshal([]byte(fixed), &row); err2 != nil {
			return nil, fmt.Errorf("failed to parse payload: %w", err)
		}
	}
	return &row, nil
}

// predictionFromSeed converts one export row into a stored prediction. The
// primary outcome comes from the market with the highest original odds, the
// same market a reader would consider the event's headline question.
func predictionFromSeed(eventID string, row *seedRow) *models.Prediction {
	summary := row.ExecutiveSummary
	if summary == "" {
		summary = "No summary available"
	}

	analyses := make([]models.MarketAnalysis, 0, len(row.Markets))
	for id, m := range row.Markets {
		baseline := asFraction(ParseOdds(m.OriginalOdds))
		final := asFraction(ParseOdds(m.Calibrated))
		analyses = append(analyses, models.MarketAnalysis{
			MarketID: id,
			Question: m.Question,
			Baseline: baseline,
			Final:    final,
			Analyzed: true,
		})
	}
	sort.SliceStable(analyses, func(i, j int) bool {
		return analyses[i].Baseline > analyses[j].Baseline
	})

	outcome := "N/A"
	if len(analyses) > 0 {
		best := analyses[0]
		question := best.Question
		if len(question) > 100 {
			question = question[:100]
		}
		outcome = fmt.Sprintf("%.1f%% - %s", best.Final*100, question)
	}

	return &models.Prediction{
		ID:             uuid.NewString(),
		EventID:        eventID,
		Summary:        summary,
		PrimaryOutcome: outcome,
		Confidence:     85, // exports carry no confidence, use the default
		Markets:        analyses,
		CreatedAt:      time.Now(),
	}
}

// ParseOdds interprets the mixed odds formats seen in exports and returns a
// percentage: fractions (0.565) become 56.5, bare percentages (22.0) stay,
// and percent strings ("22.00%", "0.01%") are taken at face value.
func ParseOdds(value any) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		if v <= 1.0 {
			return v * 100
		}
		return v
	case string:
		clean := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "%"))
		num, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return 0
		}
		if strings.Contains(v, "%") {
			return num
		}
		if num <= 1.0 {
			return num * 100
		}
		return num
	}
	return 0
}

// asFraction converts a percentage to a probability clamped to [0,1].
func asFraction(pct float64) float64 {
	p := pct / 100
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

var (
	barePercentRe = regexp.MustCompile(`:\s*(\d+\.?\d*)%`)
	openQuoteRe   = regexp.MustCompile(`([a-zA-Z]) "([A-Za-z])`)
	closeQuoteRe  = regexp.MustCompile(`([a-zA-Z])" ([a-z])`)
	parenQuoteRe  = regexp.MustCompile(`([a-zA-Z])" \(`)
)

// fixSeedJSON repairs the two defects the exports are known to carry:
// unquoted percent values (0.01% as a bare token) and unescaped double
// quotes inside string values (the "Invisible Primary" phase).
func fixSeedJSON(payload string) string {
	payload = barePercentRe.ReplaceAllString(payload, `: "$1%"`)
	payload = openQuoteRe.ReplaceAllString(payload, `$1 \"$2`)
	payload = closeQuoteRe.ReplaceAllString(payload, `$1\" $2`)
	payload = parenQuoteRe.ReplaceAllString(payload, `$1\" (`)
	return payload
}
