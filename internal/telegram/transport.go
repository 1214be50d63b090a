// Package telegram adapts the Telegram Bot API for the control plane: a thin
// transport wrapper, a distinguishable error taxonomy, the per-run stream
// multiplexer and the panel renderer.
package telegram

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxMessageChars is the Telegram message length ceiling.
const MaxMessageChars = 4096

// Transport is the subset of the chat API the control plane consumes. Any
// equivalent provider satisfies it; tests use an in-memory fake.
type Transport interface {
	// SendMessage sends a message and returns its id. parseMode is
	// tgbotapi.ModeHTML or "" for plain text.
	SendMessage(chatID int64, text string, parseMode string, markup *tgbotapi.InlineKeyboardMarkup) (int, error)
	EditMessageText(chatID int64, messageID int, text string, parseMode string, markup *tgbotapi.InlineKeyboardMarkup) error
	DeleteMessage(chatID int64, messageID int) error
}

// Bot wraps tgbotapi.BotAPI into the Transport interface plus the file
// download and update plumbing the shell needs.
type Bot struct {
	api    *tgbotapi.BotAPI
	client *http.Client
}

// NewBot creates the API client and verifies the token with getMe.
func NewBot(token string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return &Bot{
		api: api,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// API exposes the underlying client for update polling and callback answers.
func (b *Bot) API() *tgbotapi.BotAPI { return b.api }

// Username returns the authenticated bot username.
func (b *Bot) Username() string { return b.api.Self.UserName }

func (b *Bot) SendMessage(chatID int64, text string, parseMode string, markup *tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (b *Bot) EditMessageText(chatID int64, messageID int, text string, parseMode string, markup *tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = parseMode
	edit.DisableWebPagePreview = true
	edit.ReplyMarkup = markup
	_, err := b.api.Send(edit)
	return err
}

func (b *Bot) DeleteMessage(chatID int64, messageID int) error {
	_, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

// AnswerCallback acknowledges a callback query, best effort.
func (b *Bot) AnswerCallback(callbackID string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		slog.Debug("telegram: answer callback failed", "error", err)
	}
}

// GetFile resolves Telegram file metadata, including the remote path its
// extension can be derived from.
func (b *Bot) GetFile(fileID string) (tgbotapi.File, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return tgbotapi.File{}, fmt.Errorf("get file info: %w", err)
	}
	return file, nil
}

// DownloadTo fetches a resolved Telegram file into destPath.
func (b *Bot) DownloadTo(file tgbotapi.File, destPath string) error {
	fileURL := file.Link(b.api.Token)
	if fileURL == "" {
		return fmt.Errorf("empty file link from Telegram")
	}

	resp, err := b.client.Get(fileURL)
	if err != nil {
		return fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	return out.Close()
}

// apiErrorMessage returns the lowercased API error description, or "".
func apiErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return strings.ToLower(err.Error())
}

// RetryAfterOf reports whether err is a rate-limit response and the advised
// wait before retrying.
func RetryAfterOf(err error) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	if apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second, true
	}
	if apiErr.Code == http.StatusTooManyRequests {
		return 2 * time.Second, true
	}
	return 0, false
}

// IsNotModified reports the "message is not modified" response, which edit
// paths treat as success.
func IsNotModified(err error) bool {
	return strings.Contains(apiErrorMessage(err), "message is not modified")
}

// IsTooLong reports the "message is too long" response.
func IsTooLong(err error) bool {
	return strings.Contains(apiErrorMessage(err), "message is too long")
}

// IsParseError reports an HTML entity parse rejection.
func IsParseError(err error) bool {
	return strings.Contains(apiErrorMessage(err), "can't parse entities")
}

// IsUneditable reports the terminal edit failures: the message is gone,
// cannot be edited, or the chat is gone.
func IsUneditable(err error) bool {
	msg := apiErrorMessage(err)
	return strings.Contains(msg, "message can't be edited") ||
		strings.Contains(msg, "message to edit not found") ||
		strings.Contains(msg, "message_id_invalid") ||
		strings.Contains(msg, "chat not found")
}
