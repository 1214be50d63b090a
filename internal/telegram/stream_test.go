package telegram

import (
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records every call and replies with scripted errors.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []string
	edits    []string
	editErrs []error
	nextID   int
}

func (f *fakeTransport) SendMessage(chatID int64, text, parseMode string, markup *tgbotapi.InlineKeyboardMarkup) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	f.nextID++
	return 1000 + f.nextID, nil
}

func (f *fakeTransport) EditMessageText(chatID int64, messageID int, text, parseMode string, markup *tgbotapi.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	if len(f.editErrs) > 0 {
		err := f.editErrs[0]
		f.editErrs = f.editErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) DeleteMessage(chatID int64, messageID int) error { return nil }

func (f *fakeTransport) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edits)
}

func (f *fakeTransport) lastEdit() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return ""
	}
	return f.edits[len(f.edits)-1]
}

// TestStream_FlushOnStop delivers buffered output in the terminal edit.
func TestStream_FlushOnStop(t *testing.T) {
	ft := &fakeTransport{}
	s := NewStream(ft, 1, 10, StreamConfig{WrapLogInPre: true})
	s.AddText("hello world\n")
	s.Stop()

	require.NotZero(t, ft.editCount())
	last := ft.lastEdit()
	assert.Contains(t, last, "hello world")
	assert.Contains(t, last, "<pre><code>")
	assert.LessOrEqual(t, len(last), MaxMessageChars)
}

// TestStream_HeaderAutoClear drops the startup note on the first log line.
func TestStream_HeaderAutoClear(t *testing.T) {
	ft := &fakeTransport{}
	s := NewStream(ft, 1, 10, StreamConfig{
		HeaderHTML:      "<i>warming up</i>",
		HeaderPlainLen:  len("warming up"),
		AutoClearHeader: true,
	})
	s.AddText("first output\n")
	s.Stop()

	last := ft.lastEdit()
	assert.NotContains(t, last, "warming up")
	assert.Contains(t, last, "first output")
}

// TestStream_TailUnderLimit hides old output rather than exceeding the
// message ceiling.
func TestStream_TailUnderLimit(t *testing.T) {
	ft := &fakeTransport{}
	s := NewStream(ft, 1, 10, StreamConfig{WrapLogInPre: true})
	for i := 0; i < 50; i++ {
		s.AddText(strings.Repeat("x", 500) + "\n")
	}
	s.AddText("FINAL-MARKER\n")
	s.Stop()

	last := ft.lastEdit()
	assert.LessOrEqual(t, len(last), MaxMessageChars)
	assert.Contains(t, last, "FINAL-MARKER")
	assert.Contains(t, StripTags(last), "previous output hidden")
}

// TestStream_PausedSkipsFinalFlush keeps a frozen message untouched on stop.
func TestStream_PausedSkipsFinalFlush(t *testing.T) {
	ft := &fakeTransport{}
	s := NewStream(ft, 1, 10, StreamConfig{})
	// Let the initial dirty render drain before pausing.
	time.Sleep(50 * time.Millisecond)
	before := ft.editCount()

	s.Pause()
	s.AddText("never shown\n")
	s.Stop()

	assert.Equal(t, before, ft.editCount())
}

// TestStream_SkipsIdenticalEdits never sends the same content twice in a row.
func TestStream_SkipsIdenticalEdits(t *testing.T) {
	ft := &fakeTransport{}
	s := NewStream(ft, 1, 10, StreamConfig{})
	s.AddText("same\n")
	time.Sleep(50 * time.Millisecond)
	s.Resume() // dirty without content change
	s.Stop()

	ft.mu.Lock()
	defer ft.mu.Unlock()
	for i := 1; i < len(ft.edits); i++ {
		assert.NotEqual(t, ft.edits[i-1], ft.edits[i])
	}
}

// TestStream_UneditableGivesUpQuietly treats a deleted message as done.
func TestStream_UneditableGivesUpQuietly(t *testing.T) {
	ft := &fakeTransport{editErrs: []error{
		&tgbotapi.Error{Message: "Bad Request: message to edit not found"},
	}}
	s := NewStream(ft, 1, 10, StreamConfig{})
	s.AddText("content\n")
	s.Stop()

	// The failed edit is not retried; at most the initial render plus the
	// terminal flush reach the transport.
	assert.LessOrEqual(t, ft.editCount(), 2)
}

// TestStream_FooterAppended renders the footer after the log.
func TestStream_FooterAppended(t *testing.T) {
	ft := &fakeTransport{}
	s := NewStream(ft, 1, 10, StreamConfig{
		FooterProvider: func() string { return "<code>---- Working 0m 1s ----</code>" },
		FooterPlainLen: len("---- Working 0m 1s ----"),
	})
	s.AddText("line\n")
	s.Stop()

	last := ft.lastEdit()
	assert.Contains(t, last, "Working 0m 1s")
	assert.Less(t, strings.Index(last, "line"), strings.Index(last, "Working"))
}
