package engine

import "testing"

func TestKeywordClassifier(t *testing.T) {
	var c KeywordClassifier

	tests := []struct {
		name  string
		title string
		count int
		want  bool
	}{
		{
			name:  "single market never normalizes",
			title: "Who will win the election?",
			count: 1,
			want:  false,
		},
		{
			name:  "competitive framing normalizes",
			title: "Who will win the election?",
			count: 3,
			want:  true,
		},
		{
			name:  "cumulative by-date framing does not",
			title: "Will X happen by December 31?",
			count: 3,
			want:  false,
		},
		{
			name:  "cumulative beats competitive when both match",
			title: "Which price will BTC reach?",
			count: 4,
			want:  false,
		},
		{
			name:  "threshold wording",
			title: "Will ETH trade above $5000?",
			count: 2,
			want:  false,
		},
		{
			name:  "case insensitive markers",
			title: "NEXT PRESIDENT of France",
			count: 5,
			want:  true,
		},
		{
			name:  "nominee marker",
			title: "Democratic nominee 2028",
			count: 6,
			want:  true,
		},
		{
			name:  "no marker defaults to normalize",
			title: "Premier League top scorer",
			count: 4,
			want:  true,
		},
		{
			name:  "empty title multi-market defaults to normalize",
			title: "",
			count: 2,
			want:  true,
		},
		{
			name:  "zero eligible markets",
			title: "Who will win?",
			count: 0,
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.ShouldNormalize(tt.title, tt.count)
			if got != tt.want {
				t.Errorf("ShouldNormalize(%q, %d) = %v, want %v", tt.title, tt.count, got, tt.want)
			}
		})
	}
}
