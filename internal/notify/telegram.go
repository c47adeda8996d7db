// Package notify delivers calibration digests via the Telegram Bot API.
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hexlattice/oddslens/internal/engine"
)

// Telegram sends digest messages to a single chat.
type Telegram struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Telegram{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (t *Telegram) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		if _, err := t.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(t.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", t.maxRetries, lastErr)
}

// SendError sends a crawl error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (t *Telegram) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Crawl error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return t.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (t *Telegram) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Crawler recovered* after %d consecutive failure\\(s\\)", failureCount)
	return t.sendMarkdownV2(text)
}

// SendDigest sends the post-crawl digest of top divergent events.
func (t *Telegram) SendDigest(events []engine.FinalizedEvent) error {
	if len(events) == 0 {
		return nil
	}
	return t.sendMarkdownV2(formatDigest(events, time.Now()))
}

// formatDigest renders the top divergent events as a MarkdownV2 message.
// Each event shows its divergence score and, for every analyzed market, the
// move from the market baseline to the calibrated probability.
func formatDigest(events []engine.FinalizedEvent, now time.Time) string {
	var b strings.Builder

	b.WriteString("🔍 *Top Calibration Divergences*\n\n")
	fmt.Fprintf(&b, "📅 %s\n\n", escapeMarkdownV2(now.Format("2006-01-02 15:04:05")))

	for i, ev := range events {
		fmt.Fprintf(&b, "%d\\. *%s*\n", i+1, escapeMarkdownV2(ev.Title))
		fmt.Fprintf(&b, "   💰 vol %s \\| score %s\n",
			escapeMarkdownV2(formatCompact(ev.Volume)),
			escapeMarkdownV2(fmt.Sprintf("%.0f", ev.Divergence)))

		for _, m := range ev.Markets {
			if !m.Analyzed {
				continue
			}
			emoji := "📈"
			if m.Final < m.Baseline {
				emoji = "📉"
			}
			basePct := escapeMarkdownV2(fmt.Sprintf("%.1f%%", m.Baseline*100))
			finalPct := escapeMarkdownV2(fmt.Sprintf("%.1f%%", m.Final*100))
			if m.Question != "" && m.Question != ev.Title {
				fmt.Fprintf(&b, "   🎯 %s\n", escapeMarkdownV2(m.Question))
			}
			fmt.Fprintf(&b, "   %s %s → %s\n", emoji, basePct, finalPct)
		}

		if ev.Summary != "" {
			fmt.Fprintf(&b, "   💬 %s\n", escapeMarkdownV2(ev.Summary))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// formatCompact renders a volume in short form (12.3K, 4.5M).
func formatCompact(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	}
	return fmt.Sprintf("%.0f", v)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
