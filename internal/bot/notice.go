package bot

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/vibes/internal/telegram"
)

// SendCompletionNotice posts a standalone "run finished" message with an
// acknowledge button, retrying through rate limits. It degrades to a plain
// payload when the HTML one is rejected.
func (s *Shell) SendCompletionNotice(chatID int64, sessionName, path, prompt string) {
	promptClean := strings.TrimSpace(prompt)
	if promptClean == "" {
		promptClean = "(empty)"
	}

	var textHTML string
	promptMax := 2400
	for i := 0; i < 10; i++ {
		promptView := promptClean
		if len(promptView) > promptMax {
			promptView = telegram.TruncateText(promptView, promptMax)
		}
		textHTML = strings.Join([]string{
			"<b>Run finished</b>",
			fmt.Sprintf("Session: <code>%s</code>", telegram.Escape(sessionName)),
			fmt.Sprintf("Path: <code>%s</code>", telegram.Escape(path)),
			"",
			"<b>Prompt:</b>",
			fmt.Sprintf("<pre><code>%s</code></pre>", telegram.Escape(promptView)),
		}, "\n")
		if len(textHTML) <= telegram.MaxMessageChars {
			break
		}
		promptMax = max(200, promptMax*7/10)
	}

	textPlain := strings.TrimSpace(strings.Join([]string{
		"Run finished",
		"Session: " + sessionName,
		"Path: " + path,
		"",
		"Prompt:",
		telegram.TruncateText(promptClean, 2000),
	}, "\n"))

	markup := markupOf(row(btn("✅", "ack")))
	payloads := []struct {
		text      string
		parseMode string
	}{
		{textHTML, tgbotapi.ModeHTML},
		{telegram.TruncateText(textPlain, 3500), ""},
	}

	for _, payload := range payloads {
		if s.sendNoticeWithRetry(chatID, payload.text, payload.parseMode, markup) {
			return
		}
	}
}

// sendNoticeWithRetry delivers one payload, honoring rate-limit waits within a
// one-hour wall and retrying transient failures with exponential backoff.
func (s *Shell) sendNoticeWithRetry(chatID int64, text, parseMode string, markup *tgbotapi.InlineKeyboardMarkup) bool {
	const maxTotalWait = time.Hour
	started := time.Now()
	delay := time.Second
	attempts := 10

	for attempts > 0 {
		_, err := s.bot.SendMessage(chatID, text, parseMode, markup)
		if err == nil {
			return true
		}
		if retryAfter, ok := telegram.RetryAfterOf(err); ok {
			time.Sleep(retryAfter)
			if time.Since(started) > maxTotalWait {
				slog.Error("completion notice: rate-limit wait exceeded", "chat_id", chatID)
				return false
			}
			continue
		}
		if telegram.IsParseError(err) || telegram.IsTooLong(err) {
			slog.Error("completion notice: payload rejected", "chat_id", chatID, "error", err)
			return false
		}
		attempts--
		if attempts <= 0 || time.Since(started) > maxTotalWait {
			slog.Error("completion notice: send failed", "chat_id", chatID, "error", err)
			return false
		}
		time.Sleep(delay)
		delay = min(30*time.Second, delay*2)
	}
	return false
}
