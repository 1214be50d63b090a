package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/hrygo/vibes/internal/diag"
)

// EditThrottle is the minimum interval between successful edits of one
// streamed message.
const EditThrottle = 2 * time.Second

const hiddenOutputMarker = "…previous output hidden…\n\n"

// Segment is one buffered piece of subprocess output.
type Segment struct {
	Kind    string // "text" | "code"
	Content string
}

func (s Segment) renderHTML() string {
	if s.Kind == "code" {
		return fmt.Sprintf("<pre><code>%s</code></pre>", Escape(s.Content))
	}
	return Escape(s.Content)
}

// StreamConfig is the initial presentation of a Stream.
type StreamConfig struct {
	HeaderHTML     string
	HeaderPlainLen int
	// AutoClearHeader drops the header on the first log append, used for
	// the "startup wait" note.
	AutoClearHeader bool
	// FooterProvider is called on every render; nil means no footer.
	FooterProvider func() string
	FooterPlainLen int
	WrapLogInPre   bool
	ReplyMarkup    *tgbotapi.InlineKeyboardMarkup
}

// Stream is the throttled background editor of one remote message. Exactly
// one Stream exists per active run. Buffer mutations are serialized by a
// mutex; a single goroutine renders the bounded tail of the buffer and edits
// the message no more often than EditThrottle, surviving rate limits and
// transient API failures. Pausing freezes the message in place without
// losing buffered output.
type Stream struct {
	transport Transport
	chatID    int64
	messageID int

	mu              sync.Mutex
	cond            *sync.Cond
	header          string
	headerPlainLen  int
	autoClearHeader bool
	footerProvider  func() string
	footerPlainLen  int
	wrapLogInPre    bool
	markup          *tgbotapi.InlineKeyboardMarkup
	segments        []Segment
	dirty           bool
	paused          bool
	stopped         bool

	stopCtx  context.Context
	stopFn   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}

	limiter        *rate.Limiter
	lastSentHTML   string
	lastSentMarkup string
	hasSent        bool
}

// NewStream binds a stream to (chatID, messageID) and starts its edit loop.
// The first render happens immediately since the stream starts dirty.
func NewStream(transport Transport, chatID int64, messageID int, cfg StreamConfig) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		transport:       transport,
		chatID:          chatID,
		messageID:       messageID,
		header:          cfg.HeaderHTML,
		headerPlainLen:  cfg.HeaderPlainLen,
		autoClearHeader: cfg.AutoClearHeader,
		footerProvider:  cfg.FooterProvider,
		footerPlainLen:  cfg.FooterPlainLen,
		wrapLogInPre:    cfg.WrapLogInPre,
		markup:          cfg.ReplyMarkup,
		dirty:           true,
		stopCtx:         ctx,
		stopFn:          cancel,
		done:            make(chan struct{}),
		limiter:         rate.NewLimiter(rate.Every(EditThrottle), 1),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

// ChatID returns the bound chat id.
func (s *Stream) ChatID() int64 { return s.chatID }

// MessageID returns the bound message id.
func (s *Stream) MessageID() int { return s.messageID }

// AddText appends plain output. Consecutive text segments are merged.
func (s *Stream) AddText(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.clearHeaderOnFirstLog()
	if n := len(s.segments); n > 0 && s.segments[n-1].Kind == "text" {
		s.segments[n-1].Content += text
	} else {
		s.segments = append(s.segments, Segment{Kind: "text", Content: text})
	}
	s.markDirtyLocked()
	s.mu.Unlock()
}

// AddCode appends a code block, visually separated from surrounding text.
func (s *Stream) AddCode(code string) {
	if code == "" {
		return
	}
	s.mu.Lock()
	s.clearHeaderOnFirstLog()
	if n := len(s.segments); n == 0 || !strings.HasSuffix(s.segments[n-1].Content, "\n") {
		s.segments = append(s.segments, Segment{Kind: "text", Content: "\n"})
	}
	s.segments = append(s.segments, Segment{Kind: "code", Content: code})
	s.segments = append(s.segments, Segment{Kind: "text", Content: "\n"})
	s.markDirtyLocked()
	s.mu.Unlock()
}

func (s *Stream) clearHeaderOnFirstLog() {
	if s.autoClearHeader {
		s.autoClearHeader = false
		s.header = ""
		s.headerPlainLen = 0
	}
}

// SetHeader replaces the header. The plain length is estimated from the HTML
// when plainLen is negative.
func (s *Stream) SetHeader(headerHTML string, plainLen int) {
	if plainLen < 0 {
		plainLen = PlainLen(headerHTML)
	}
	s.mu.Lock()
	s.header = headerHTML
	s.headerPlainLen = plainLen
	s.markDirtyLocked()
	s.mu.Unlock()
}

// SetFooter replaces the footer provider and optionally the preformatted
// wrapping of the log.
func (s *Stream) SetFooter(provider func() string, plainLen int, wrapLogInPre bool) {
	if plainLen < 0 {
		sample := ""
		if provider != nil {
			sample = provider()
		}
		plainLen = PlainLen(sample)
	}
	s.mu.Lock()
	s.footerProvider = provider
	s.footerPlainLen = plainLen
	s.wrapLogInPre = wrapLogInPre
	s.markDirtyLocked()
	s.mu.Unlock()
}

// SetReplyMarkup replaces the inline keyboard.
func (s *Stream) SetReplyMarkup(markup *tgbotapi.InlineKeyboardMarkup) {
	s.mu.Lock()
	s.markup = markup
	s.markDirtyLocked()
	s.mu.Unlock()
}

// Pause suppresses edits, freezing the message content in place. Buffered
// appends keep accumulating.
func (s *Stream) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables edits and forces a render.
func (s *Stream) Resume() {
	s.mu.Lock()
	s.paused = false
	s.markDirtyLocked()
	s.mu.Unlock()
}

// Paused reports whether edits are currently suppressed.
func (s *Stream) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Stop requests a final flush and blocks until the edit loop has exited.
// A paused stream exits without flushing.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.cond.Broadcast()
		s.mu.Unlock()
		s.stopFn()
	})
	<-s.done
}

func (s *Stream) markDirtyLocked() {
	s.dirty = true
	s.cond.Broadcast()
}

func (s *Stream) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for !s.dirty && !s.stopped {
			s.cond.Wait()
		}
		if !s.dirty && s.stopped {
			s.mu.Unlock()
			return
		}
		s.dirty = false
		s.mu.Unlock()

		// Throttle. The limiter enforces the minimum edit interval; stop
		// cancels the wait so the terminal flush is not delayed.
		if err := s.limiter.Wait(s.stopCtx); err != nil && s.stopCtx.Err() == nil {
			slog.Warn("stream: throttle wait failed", "error", err)
		}

		// Resume gate; stop wins over pause.
		s.mu.Lock()
		for s.paused && !s.stopped {
			s.cond.Wait()
		}
		if s.paused && s.stopped {
			s.mu.Unlock()
			return
		}
		terminal := s.stopped
		markup := s.markup
		s.mu.Unlock()

		textHTML := s.renderHTML()
		s.edit(textHTML, markup, terminal)

		s.mu.Lock()
		exit := s.stopped && !s.dirty
		s.mu.Unlock()
		if exit {
			return
		}
	}
}

// tailSegments returns the suffix of segments fitting under maxPlain plain
// characters, prefixed by a hidden-output marker when anything was dropped.
// A single oversized segment keeps only its tail.
func tailSegments(segments []Segment, maxPlain int) []Segment {
	total := 0
	var keptRev []Segment
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if total+len(seg.Content) <= maxPlain {
			keptRev = append(keptRev, seg)
			total += len(seg.Content)
			continue
		}
		if len(keptRev) == 0 {
			content := seg.Content
			if len(content) > maxPlain {
				content = content[len(content)-maxPlain:]
			}
			keptRev = append(keptRev, Segment{Kind: seg.Kind, Content: content})
		}
		break
	}

	kept := make([]Segment, 0, len(keptRev)+1)
	if len(keptRev) < len(segments) {
		kept = append(kept, Segment{Kind: "text", Content: hiddenOutputMarker})
	}
	for i := len(keptRev) - 1; i >= 0; i-- {
		kept = append(kept, keptRev[i])
	}
	return kept
}

// renderHTML renders header, log tail and footer joined by blank lines,
// shrinking the log budget up to 8 times until the escaped render fits.
func (s *Stream) renderHTML() string {
	s.mu.Lock()
	header := strings.TrimSpace(s.header)
	headerPlainLen := s.headerPlainLen
	footerProvider := s.footerProvider
	footerPlainLen := s.footerPlainLen
	wrapLogInPre := s.wrapLogInPre
	segments := make([]Segment, len(s.segments))
	copy(segments, s.segments)
	s.mu.Unlock()

	footer := ""
	if footerProvider != nil {
		footer = strings.TrimSpace(footerProvider())
	}

	// Leave room for HTML wrappers and escaping expansion.
	maxPlainTotal := MaxMessageChars - 250
	maxPlainLog := maxPlainTotal - headerPlainLen - footerPlainLen - 50
	if maxPlainLog < 300 {
		maxPlainLog = 300
	}

	var textHTML string
	for i := 0; i < 8; i++ {
		tail := tailSegments(segments, maxPlainLog)
		var logHTML string
		if wrapLogInPre {
			var plain strings.Builder
			for _, seg := range tail {
				plain.WriteString(seg.Content)
			}
			logHTML = fmt.Sprintf("<pre><code>%s</code></pre>", Escape(strings.Trim(plain.String(), "\n")))
		} else {
			var b strings.Builder
			for _, seg := range tail {
				b.WriteString(seg.renderHTML())
			}
			logHTML = strings.TrimSpace(b.String())
		}

		textHTML = joinParts(header, logHTML, footer)
		if len(textHTML) <= MaxMessageChars {
			return textHTML
		}
		maxPlainLog = maxPlainLog * 3 / 4
		if maxPlainLog < 80 {
			maxPlainLog = 80
		}
	}
	return textHTML
}

func joinParts(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// edit performs one throttled edit with rate-limit retries. Normal operation
// bounds the retries to 5 attempts within 15 seconds and re-marks the stream
// dirty on give-up; the terminal flush raises the bounds to 12 attempts and
// 60 seconds so the final state is not lost.
func (s *Stream) edit(textHTML string, markup *tgbotapi.InlineKeyboardMarkup, terminal bool) {
	markupJSON := marshalMarkup(markup)
	if s.hasSent && textHTML == s.lastSentHTML && markupJSON == s.lastSentMarkup {
		return
	}

	maxAttempts, maxTotalWait := 5, 15*time.Second
	if terminal {
		maxAttempts, maxTotalWait = 12, 60*time.Second
	}

	attempts := 0
	var delay time.Duration
	started := time.Now()
	for {
		attempts++
		err := s.transport.EditMessageText(s.chatID, s.messageID, textHTML, tgbotapi.ModeHTML, markup)
		if err == nil || IsNotModified(err) {
			diag.StreamEdits.WithLabelValues("ok").Inc()
			s.recordSent(textHTML, markupJSON)
			return
		}

		if retryAfter, ok := RetryAfterOf(err); ok {
			diag.TransportRetries.Inc()
			if retryAfter <= 0 {
				retryAfter = 2 * time.Second
			}
			if doubled := delay * 2; doubled > retryAfter {
				delay = doubled
			} else {
				delay = retryAfter
			}
			if attempts >= maxAttempts || time.Since(started) > maxTotalWait {
				if !terminal {
					s.mu.Lock()
					s.markDirtyLocked()
					s.mu.Unlock()
				}
				return
			}
			time.Sleep(delay)
			continue
		}

		if IsUneditable(err) {
			// The message is gone; give up on this edit but keep accepting
			// buffer data.
			s.recordSent(textHTML, markupJSON)
			return
		}

		diag.StreamEdits.WithLabelValues("error").Inc()
		slog.Warn("stream: edit failed",
			"chat_id", s.chatID, "message_id", s.messageID, "error", err)
		return
	}
}

func (s *Stream) recordSent(textHTML, markupJSON string) {
	s.lastSentHTML = textHTML
	s.lastSentMarkup = markupJSON
	s.hasSent = true
}

func marshalMarkup(markup *tgbotapi.InlineKeyboardMarkup) string {
	if markup == nil {
		return ""
	}
	data, err := json.Marshal(markup)
	if err != nil {
		return ""
	}
	return string(data)
}
