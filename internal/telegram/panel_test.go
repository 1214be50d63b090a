package telegram

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBindings is a map-backed PanelBindings.
type fakeBindings struct {
	panels map[int64]int
}

func newFakeBindings() *fakeBindings {
	return &fakeBindings{panels: make(map[int64]int)}
}

func (b *fakeBindings) PanelMessageID(chatID int64) (int, bool) {
	id, ok := b.panels[chatID]
	return id, ok
}

func (b *fakeBindings) SetPanelMessageID(chatID int64, messageID int) {
	b.panels[chatID] = messageID
}

// TestPanel_EnsureCreatesOnce sends the placeholder only for unbound chats.
func TestPanel_EnsureCreatesOnce(t *testing.T) {
	ft := &fakeTransport{}
	fb := newFakeBindings()
	p := NewPanel(ft, fb)

	id, err := p.Ensure(7)
	require.NoError(t, err)
	assert.Len(t, ft.sent, 1)
	assert.Contains(t, ft.sent[0], "Vibes")

	again, err := p.Ensure(7)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Len(t, ft.sent, 1)
}

// TestPanel_RenderEditsInPlace keeps the bound message on a clean edit.
func TestPanel_RenderEditsInPlace(t *testing.T) {
	ft := &fakeTransport{}
	fb := newFakeBindings()
	fb.SetPanelMessageID(7, 42)
	p := NewPanel(ft, fb)

	id, err := p.Render(7, "<b>hello</b>", nil)
	require.NoError(t, err)
	assert.Equal(t, 42, id)
	assert.Empty(t, ft.sent)
	assert.Equal(t, []string{"<b>hello</b>"}, ft.edits)
}

// TestPanel_NotModifiedIsSuccess treats the duplicate-content rejection as a
// clean edit.
func TestPanel_NotModifiedIsSuccess(t *testing.T) {
	ft := &fakeTransport{editErrs: []error{
		&tgbotapi.Error{Message: "Bad Request: message is not modified"},
	}}
	fb := newFakeBindings()
	p := NewPanel(ft, fb)

	id, err := p.RenderToMessage(7, 42, "<b>same</b>", nil, true)
	require.NoError(t, err)
	assert.Equal(t, 42, id)
	assert.Len(t, ft.edits, 1)
	assert.Empty(t, ft.sent)
}

// TestPanel_TooLongRetriesTrimmed falls back to a size-capped code block.
func TestPanel_TooLongRetriesTrimmed(t *testing.T) {
	ft := &fakeTransport{editErrs: []error{
		&tgbotapi.Error{Message: "Bad Request: message is too long"},
	}}
	fb := newFakeBindings()
	p := NewPanel(ft, fb)

	huge := strings.Repeat("line of output\n", 1000)
	id, err := p.RenderToMessage(7, 42, huge, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 42, id)
	require.Len(t, ft.edits, 2)
	assert.LessOrEqual(t, len(ft.edits[1]), MaxMessageChars)
	assert.True(t, strings.HasPrefix(ft.edits[1], "<pre><code>"))
}

// TestPanel_ParseErrorFallsBackToPlain strips the markup when Telegram
// rejects the entities.
func TestPanel_ParseErrorFallsBackToPlain(t *testing.T) {
	ft := &fakeTransport{editErrs: []error{
		&tgbotapi.Error{Message: "Bad Request: can't parse entities"},
	}}
	fb := newFakeBindings()
	p := NewPanel(ft, fb)

	id, err := p.RenderToMessage(7, 42, "<b>broken <markup</b>", nil, true)
	require.NoError(t, err)
	assert.Equal(t, 42, id)
	require.Len(t, ft.edits, 2)
	assert.NotContains(t, ft.edits[1], "<b>")
}

// TestPanel_UneditableSendsReplacement rebinds the chat to a fresh message
// when the old panel is gone.
func TestPanel_UneditableSendsReplacement(t *testing.T) {
	ft := &fakeTransport{editErrs: []error{
		&tgbotapi.Error{Message: "Bad Request: message to edit not found"},
	}}
	fb := newFakeBindings()
	fb.SetPanelMessageID(7, 42)
	p := NewPanel(ft, fb)

	id, err := p.RenderToMessage(7, 42, "<b>hello</b>", nil, true)
	require.NoError(t, err)
	assert.NotEqual(t, 42, id)
	require.Len(t, ft.sent, 1)
	assert.Equal(t, "<b>hello</b>", ft.sent[0])

	bound, ok := fb.PanelMessageID(7)
	require.True(t, ok)
	assert.Equal(t, id, bound)
}

// TestPanel_UneditableWithoutRebind leaves the binding alone for run
// messages that are not the panel.
func TestPanel_UneditableWithoutRebind(t *testing.T) {
	ft := &fakeTransport{editErrs: []error{
		&tgbotapi.Error{Message: "Bad Request: message can't be edited"},
	}}
	fb := newFakeBindings()
	fb.SetPanelMessageID(7, 42)
	p := NewPanel(ft, fb)

	id, err := p.RenderToMessage(7, 99, "<b>hello</b>", nil, false)
	require.NoError(t, err)
	assert.NotEqual(t, 99, id)

	bound, _ := fb.PanelMessageID(7)
	assert.Equal(t, 42, bound)
}

// TestPanel_UnknownErrorLastResort retries plain, then replaces the message.
func TestPanel_UnknownErrorLastResort(t *testing.T) {
	ft := &fakeTransport{editErrs: []error{
		&tgbotapi.Error{Message: "Bad Request: something unexpected"},
		&tgbotapi.Error{Message: "Bad Request: something unexpected"},
	}}
	fb := newFakeBindings()
	p := NewPanel(ft, fb)

	id, err := p.RenderToMessage(7, 42, "<b>hello</b>", nil, true)
	require.NoError(t, err)
	assert.NotEqual(t, 42, id)
	require.Len(t, ft.edits, 2)
	assert.Equal(t, "hello", ft.edits[1])
	require.Len(t, ft.sent, 1)
	assert.Equal(t, "hello", ft.sent[0])
}
