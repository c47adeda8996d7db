package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/hexlattice/oddslens/internal/engine"
	"github.com/hexlattice/oddslens/internal/models"
)

func TestFormatDigest(t *testing.T) {
	events := []engine.FinalizedEvent{
		{
			ID:         "ev-1",
			Title:      "Who will win the election?",
			Volume:     1_500_000,
			Divergence: 270000,
			Summary:    "Polling momentum favors the incumbent.",
			Markets: []models.MarketAnalysis{
				{MarketID: "m-1", Question: "Will Alice win?", Baseline: 0.55, Final: 0.62, Analyzed: true},
				{MarketID: "m-2", Question: "Will Bob win?", Baseline: 0.30, Final: 0.30},
			},
		},
		{
			ID:         "ev-2",
			Title:      "BTC above $100k by March?",
			Volume:     40_000,
			Divergence: 8000,
			Markets: []models.MarketAnalysis{
				{MarketID: "m-3", Question: "BTC above $100k by March?", Baseline: 0.20, Final: 0.12, Analyzed: true},
			},
		},
	}

	now := time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)
	msg := formatDigest(events, now)

	for _, want := range []string{
		"Top Calibration Divergences",
		"2026\\-08\\-30 09:30:00",
		"Who will win the election?",
		"1\\.5M",
		"55\\.0% → 62\\.0%",
		"📈",
		"📉",
		"12\\.0%",
		"Polling momentum favors the incumbent\\.",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("digest missing %q\n%s", want, msg)
		}
	}

	// Unanalyzed markets carry no movement line.
	if strings.Contains(msg, "Will Bob win?") {
		t.Error("unanalyzed market should not appear in digest")
	}
}

func TestFormatDigestSingleMarketSkipsDuplicateQuestion(t *testing.T) {
	events := []engine.FinalizedEvent{
		{
			ID:         "ev-2",
			Title:      "BTC above $100k by March?",
			Volume:     500,
			Divergence: 40,
			Markets: []models.MarketAnalysis{
				{MarketID: "m-3", Question: "BTC above $100k by March?", Baseline: 0.20, Final: 0.12, Analyzed: true},
			},
		},
	}

	msg := formatDigest(events, time.Now())
	if got := strings.Count(msg, "BTC above"); got != 1 {
		t.Errorf("question repeated %d times, want 1", got)
	}
}

func TestFormatCompact(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{950, "950"},
		{1500, "1.5K"},
		{2_300_000, "2.3M"},
		{7_100_000_000, "7.1B"},
	}
	for _, tt := range tests {
		if got := formatCompact(tt.in); got != tt.want {
			t.Errorf("formatCompact(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	in := "BTC > $100k (by March!)"
	want := "BTC \\> $100k \\(by March\\!\\)"
	if got := escapeMarkdownV2(in); got != want {
		t.Errorf("escapeMarkdownV2 = %q, want %q", got, want)
	}
}
