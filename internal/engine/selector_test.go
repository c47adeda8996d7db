package engine

import (
	"testing"

	"github.com/hexlattice/oddslens/internal/models"
)

func marketWithOdds(id string, odds float64) models.Market {
	return models.Market{ID: id, Active: true, CalculatedOdds: &odds}
}

func TestEligible(t *testing.T) {
	markets := []models.Market{
		{ID: "a", Active: true},
		{ID: "b", Active: true, Closed: true},
		{ID: "c", Active: false},
		{ID: "d", Active: true, Archived: true},
		{ID: "e", Active: true},
	}

	got := Eligible(markets)
	if len(got) != 2 {
		t.Fatalf("Eligible() returned %d markets, want 2", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "e" {
		t.Errorf("Eligible() kept %s,%s, want a,e", got[0].ID, got[1].ID)
	}
}

func TestRankStableOnTies(t *testing.T) {
	markets := []models.Market{
		marketWithOdds("first", 0.3),
		marketWithOdds("second", 0.3),
		marketWithOdds("third", 0.5),
	}

	ranked := Rank(markets)
	wantOrder := []string{"third", "first", "second"}
	for i, want := range wantOrder {
		if ranked[i].Market.ID != want {
			t.Errorf("position %d: got %s, want %s", i, ranked[i].Market.ID, want)
		}
	}
}

func TestSelect(t *testing.T) {
	cfg := DefaultSelectorConfig()

	tests := []struct {
		name  string
		odds  []float64
		want  int
		first float64
	}{
		{
			name:  "seven markets threshold cuts to exactly max",
			odds:  []float64{0.6, 0.3, 0.2, 0.1, 0.08, 0.04, 0.02},
			want:  5,
			first: 0.6,
		},
		{
			name:  "all below threshold tops up to min",
			odds:  []float64{0.04, 0.03, 0.02},
			want:  2,
			first: 0.04,
		},
		{
			name:  "qualified within bounds selected as-is",
			odds:  []float64{0.5, 0.3, 0.1},
			want:  3,
			first: 0.5,
		},
		{
			name:  "too many qualified cut to max",
			odds:  []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3},
			want:  5,
			first: 0.9,
		},
		{
			name:  "single market still selected",
			odds:  []float64{0.7},
			want:  1,
			first: 0.7,
		},
		{
			name: "no markets yields empty selection",
			odds: nil,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var markets []models.Market
			for i, o := range tt.odds {
				markets = append(markets, marketWithOdds(string(rune('a'+i)), o))
			}

			selected := cfg.Select(Rank(markets))
			if len(selected) != tt.want {
				t.Fatalf("Select() returned %d markets, want %d", len(selected), tt.want)
			}
			if tt.want > 0 && selected[0].Baseline != tt.first {
				t.Errorf("top selection baseline = %v, want %v", selected[0].Baseline, tt.first)
			}
			if len(selected) > cfg.MaxMarkets {
				t.Errorf("selection exceeds MaxMarkets: %d", len(selected))
			}
			// Selection must stay in descending baseline order.
			for i := 1; i < len(selected); i++ {
				if selected[i].Baseline > selected[i-1].Baseline {
					t.Errorf("selection not descending at %d: %v > %v", i, selected[i].Baseline, selected[i-1].Baseline)
				}
			}
		})
	}
}

func TestSelectNeverBelowMinWhenPossible(t *testing.T) {
	cfg := DefaultSelectorConfig()
	for n := 2; n <= 8; n++ {
		var markets []models.Market
		for i := 0; i < n; i++ {
			markets = append(markets, marketWithOdds(string(rune('a'+i)), 0.01))
		}
		selected := cfg.Select(Rank(markets))
		if len(selected) < cfg.MinMarkets {
			t.Errorf("n=%d: selected %d markets, want at least %d", n, len(selected), cfg.MinMarkets)
		}
	}
}
