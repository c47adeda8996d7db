package forecaster

import (
	"fmt"
	"strings"
	"time"
)

// buildPrompt renders the audit prompt for one event. The forecaster is
// framed as a risk auditor anchored on current market odds: it adjusts
// prices based on unpriced information rather than inventing probabilities
// from scratch, which keeps its output comparable to the baseline.
func buildPrompt(req Request, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Role: You are a Senior Risk Manager at a hedge fund.\n")
	fmt.Fprintf(&b, "Current Time: %s\n\n", now.UTC().Format("2006-01-02 15:04 UTC"))

	b.WriteString("Task: AUDIT the current prediction market odds.\n")
	b.WriteString("CRITICAL RULE: The market is efficient by default. The current probability is your STARTING ANCHOR. ")
	b.WriteString("Do not invent a probability from scratch; only adjust the market price up or down based on information the market has not priced in.\n\n")

	fmt.Fprintf(&b, "Input Event:\nTitle: %s\nDescription: %s\nMarkets:\n", req.Title, req.Description)
	for _, m := range req.Markets {
		fmt.Fprintf(&b, "- Market ID: %s\n  Question: %s\n  Current Probability: %.2f (%.1f%%)\n",
			m.ID, m.Question, m.Baseline, m.Baseline*100)
	}

	b.WriteString(`
Analysis Framework:
1. Start with the market odds.
2. Search for contradictions the market ignores: breaking news, injury reports, legal filings.
3. Apply an adjustment proportional to the strength of the new information; no new information means staying close to the market.

Sanity check: if market odds are above 60% and you predict below 10%, you are likely wrong unless the outcome has become impossible.

For the event, provide one executive summary sentence (max 20 words) citing the biggest macro-factor.
For EACH market, provide:
- structural_anchor: the base assumption supporting the current price.
- noise: the specific headline or hype inflating the price.
- barrier: the specific hurdle (injury, law, math).
- blindspot: the specific data the crowd is missing.
- ai_calibrated_odds: your final adjusted odds (0.0-1.0), relative to the original odds.
- confidence_score: 0-10, confidence in your deviation from the market.

OUTPUT FORMAT (strict JSON, nothing else):
{
  "executive_summary": "string",
  "markets": {
    "MARKET_ID_HERE": {
      "ai_calibrated_odds": 0.65,
      "confidence_score": 8.5,
      "analysis": {
        "structural_anchor": "string",
        "noise": "string",
        "barrier": "string",
        "blindspot": "string"
      }
    }
  }
}
`)

	return b.String()
}
