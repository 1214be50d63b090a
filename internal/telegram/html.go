package telegram

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

var tagRe = regexp.MustCompile(`<[^>]+>`)

// Escape escapes text for inclusion in Telegram HTML.
func Escape(text string) string {
	return html.EscapeString(text)
}

// StripTags removes HTML tags and unescapes entities, yielding plain text.
func StripTags(textHTML string) string {
	return html.UnescapeString(tagRe.ReplaceAllString(textHTML, ""))
}

// PlainLen approximates the visible length of an HTML fragment.
func PlainLen(textHTML string) int {
	return len(tagRe.ReplaceAllString(textHTML, ""))
}

// TruncateText shortens text to limit characters, keeping the head and the
// tail around a cut marker.
func TruncateText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	head := (limit / 2) - 10
	if head < 0 {
		head = 0
	}
	tail := limit - head - 20
	if tail < 0 {
		tail = 0
	}
	return fmt.Sprintf("%s\n…(truncated)…\n%s", text[:head], text[len(text)-tail:])
}

// TailText keeps at most limit characters from the end of text, marking the
// cut with prefix.
func TailText(text string, limit int, prefix string) string {
	if len(text) <= limit {
		return text
	}
	keep := limit - len(prefix)
	if keep <= 0 {
		return text[len(text)-limit:]
	}
	return prefix + text[len(text)-keep:]
}

// SafeCodeBlock wraps text in a preformatted code block guaranteed to fit a
// Telegram message, shrinking the plain-text budget until the escaped render
// fits under maxChars.
func SafeCodeBlock(text string, maxChars int) string {
	plainBudget := maxChars - 50
	if plainBudget < 200 {
		plainBudget = 200
	}
	for i := 0; i < 12; i++ {
		plainView := strings.TrimSpace(text)
		if len(plainView) > plainBudget {
			plainView = TruncateText(plainView, plainBudget)
		}
		candidate := fmt.Sprintf("<pre><code>%s</code></pre>", Escape(plainView))
		if len(candidate) <= maxChars {
			return candidate
		}
		plainBudget = plainBudget * 7 / 10
		if plainBudget < 200 {
			plainBudget = 200
		}
	}
	plainView := TruncateText(strings.TrimSpace(text), max(200, maxChars/2))
	return fmt.Sprintf("<pre><code>%s</code></pre>", Escape(plainView))
}
