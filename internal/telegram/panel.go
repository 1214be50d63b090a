package telegram

import (
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/vibes/internal/diag"
)

const panelPlaceholder = "<b>Vibes</b>\n\nLoading…"

// PanelBindings is the persistent chat→panel-message mapping the renderer
// reads and, on forced replacement, rewrites.
type PanelBindings interface {
	PanelMessageID(chatID int64) (int, bool)
	SetPanelMessageID(chatID int64, messageID int)
}

// Panel owns the single persistent menu message per chat and renders
// non-streaming screens into it with an HTML-first, trimmed-second,
// plain-third, replacement-last degradation ladder.
type Panel struct {
	transport Transport
	bindings  PanelBindings
}

// NewPanel creates a panel renderer over the given transport and bindings.
func NewPanel(transport Transport, bindings PanelBindings) *Panel {
	return &Panel{transport: transport, bindings: bindings}
}

// Ensure returns the panel message id for a chat, sending a placeholder and
// persisting the binding when none exists yet.
func (p *Panel) Ensure(chatID int64) (int, error) {
	if id, ok := p.bindings.PanelMessageID(chatID); ok {
		return id, nil
	}
	id, err := p.transport.SendMessage(chatID, panelPlaceholder, tgbotapi.ModeHTML, nil)
	if err != nil {
		return 0, err
	}
	p.bindings.SetPanelMessageID(chatID, id)
	return id, nil
}

// Render edits the chat's panel message. It returns the message id that now
// carries the content, which differs from the prior binding when the panel
// had to be replaced.
func (p *Panel) Render(chatID int64, textHTML string, markup *tgbotapi.InlineKeyboardMarkup) (int, error) {
	messageID, err := p.Ensure(chatID)
	if err != nil {
		return 0, err
	}
	return p.RenderToMessage(chatID, messageID, textHTML, markup, true)
}

// RenderToMessage edits an arbitrary message through the degradation ladder.
// When rebind is set, a replacement message becomes the chat's new panel.
func (p *Panel) RenderToMessage(chatID int64, messageID int, textHTML string, markup *tgbotapi.InlineKeyboardMarkup, rebind bool) (int, error) {
	sendNew := func(text, parseMode string) (int, error) {
		id, err := p.transport.SendMessage(chatID, text, parseMode, markup)
		if err != nil {
			return 0, err
		}
		if rebind {
			p.bindings.SetPanelMessageID(chatID, id)
		}
		return id, nil
	}

	err := p.transport.EditMessageText(chatID, messageID, textHTML, tgbotapi.ModeHTML, markup)
	if err == nil || IsNotModified(err) {
		return messageID, nil
	}

	if retryAfter, ok := RetryAfterOf(err); ok {
		diag.TransportRetries.Inc()
		time.Sleep(retryAfter)
		if err := p.transport.EditMessageText(chatID, messageID, textHTML, tgbotapi.ModeHTML, markup); err == nil || IsNotModified(err) {
			return messageID, nil
		}
		slog.Warn("panel: edit retry failed, sending replacement", "chat_id", chatID, "message_id", messageID)
		return sendNew(textHTML, tgbotapi.ModeHTML)
	}

	slog.Warn("panel: edit failed", "chat_id", chatID, "message_id", messageID, "error", err)

	if IsTooLong(err) {
		trimmed := SafeCodeBlock(StripTags(textHTML), MaxMessageChars)
		if err2 := p.transport.EditMessageText(chatID, messageID, trimmed, tgbotapi.ModeHTML, markup); err2 == nil || IsNotModified(err2) {
			return messageID, nil
		}
	}

	if IsParseError(err) {
		plain := TruncateText(StripTags(textHTML), MaxMessageChars)
		if err2 := p.transport.EditMessageText(chatID, messageID, plain, "", markup); err2 == nil || IsNotModified(err2) {
			return messageID, nil
		}
	}

	if IsUneditable(err) {
		return sendNew(textHTML, tgbotapi.ModeHTML)
	}

	// Last resort: plain edit, then replace.
	plain := TruncateText(StripTags(textHTML), MaxMessageChars)
	if err2 := p.transport.EditMessageText(chatID, messageID, plain, "", markup); err2 == nil || IsNotModified(err2) {
		return messageID, nil
	}
	return sendNew(plain, "")
}

// DeleteBestEffort deletes a message, ignoring failures.
func (p *Panel) DeleteBestEffort(chatID int64, messageID int) {
	if err := p.transport.DeleteMessage(chatID, messageID); err != nil {
		slog.Debug("panel: delete failed", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}
