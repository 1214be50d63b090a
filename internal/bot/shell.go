package bot

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/vibes/internal/codex"
	"github.com/hrygo/vibes/internal/profile"
	"github.com/hrygo/vibes/internal/session"
	"github.com/hrygo/vibes/internal/telegram"
)

// Shell is the Telegram front of the control plane: it owns the update loop,
// the per-chat screen state and the panel renderer, and implements the
// presentation callbacks the session runner needs.
type Shell struct {
	bot      *telegram.Bot
	registry *session.Registry
	panel    *telegram.Panel
	profile  *profile.Profile
	ui       *uiStore
	restart  chan<- struct{}

	// runPrompt launches one run against the chat's panel message. It is a
	// field so tests can observe scheduled runs without a live bot.
	runPrompt func(chatID int64, panelID int, name, prompt, runMode string)

	modelPresets []string

	// mu serializes screen-state mutation between the update loop and the
	// run-finish goroutines.
	mu sync.Mutex
}

// NewShell wires the shell over a connected bot and loaded registry. Restart
// requests from the UI are delivered on restart.
func NewShell(bot *telegram.Bot, registry *session.Registry, restart chan<- struct{}) *Shell {
	s := &Shell{
		bot:          bot,
		registry:     registry,
		panel:        telegram.NewPanel(bot, registry),
		profile:      registry.Profile(),
		ui:           newUIStore(),
		restart:      restart,
		modelPresets: codex.DiscoverModelPresets(),
	}
	s.runPrompt = func(chatID int64, panelID int, name, prompt, runMode string) {
		s.registry.RunPrompt(chatID, panelID, name, prompt, runMode, s)
	}
	return s
}

var _ session.RunUI = (*Shell)(nil)

// RunningMarkup implements session.RunUI.
func (s *Shell) RunningMarkup() *tgbotapi.InlineKeyboardMarkup {
	return runningMarkup()
}

// RenderSessionView implements session.RunUI: the runner calls it when a run
// ends to replace the live stream with the finished-session screen.
func (s *Shell) RenderSessionView(chatID int64, messageID int, sessionName, notice string) {
	s.mu.Lock()
	text, markup := s.renderSessionView(sessionName, notice)
	s.mu.Unlock()
	if _, err := s.panel.RenderToMessage(chatID, messageID, text, markup, true); err != nil {
		slog.Warn("shell: render session view failed", "chat_id", chatID, "error", err)
	}
}

// Run polls updates until ctx is cancelled.
func (s *Shell) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := s.bot.API().GetUpdatesChan(cfg)
	slog.Info("bot started", "username", s.bot.Username())

	for {
		select {
		case <-ctx.Done():
			s.bot.API().StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			s.handleUpdate(update)
		}
	}
}

func (s *Shell) handleUpdate(update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		s.onCallback(update.CallbackQuery)
	case update.Message != nil:
		s.onMessage(update.Message)
	}
}

func (s *Shell) onMessage(msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	if !s.ensureAuthorized(chatID, msg.From.ID) {
		return
	}
	s.deleteUserMessage(msg)

	switch {
	case msg.IsCommand():
		s.onCommand(chatID, msg)
	case hasAttachment(msg):
		s.onAttachment(chatID, msg)
	case strings.TrimSpace(msg.Text) != "":
		s.onText(chatID, msg.Text)
	}
}

func hasAttachment(msg *tgbotapi.Message) bool {
	return len(msg.Photo) > 0 || msg.Document != nil || msg.Audio != nil ||
		msg.Video != nil || msg.Voice != nil || msg.VideoNote != nil ||
		msg.Animation != nil || msg.Sticker != nil
}

// ensureAuthorized admits the fixed admin id, or captures the first user as
// owner when no admin id is configured. Denied users get the home screen.
func (s *Shell) ensureAuthorized(chatID, userID int64) bool {
	if s.profile.AdminID != 0 {
		if userID == s.profile.AdminID {
			return true
		}
	} else if s.registry.EnsureOwner(userID) {
		return true
	}

	slog.Warn("access denied", "user_id", userID, "chat_id", chatID)
	s.mu.Lock()
	ui := s.ui.get(chatID)
	ui.Mode = modeHome
	ui.Notice = "Access denied."
	s.mu.Unlock()
	s.renderAndSync(chatID)
	return false
}

// deleteUserMessage keeps the chat clean: user messages are removed in
// private chats always, in groups only when configured.
func (s *Shell) deleteUserMessage(msg *tgbotapi.Message) {
	switch msg.Chat.Type {
	case "private":
	case "group", "supergroup":
		if !s.profile.DeleteMessagesInGroups {
			return
		}
	default:
		return
	}
	s.panel.DeleteBestEffort(msg.Chat.ID, msg.MessageID)
}

// sanitizeUILocked drops references to sessions that no longer exist.
// Callers hold s.mu.
func (s *Shell) sanitizeUILocked(ui *chatUI) {
	if ui.Session == "" {
		return
	}
	if _, ok := s.registry.Get(ui.Session); ok {
		return
	}
	ui.Session = ""
	switch ui.Mode {
	case modeSession, modeAwaitPrompt, modeConfirmDelete, modeConfirmStop,
		modeModel, modeModelCustom, modeLogs:
		ui.Mode = modeSessions
	}
}

// renderAndSync repaints the chat's panel for its current screen. When the
// screen is a running session already streaming into the panel message, the
// stream is re-attached instead of overwritten.
func (s *Shell) renderAndSync(chatID int64) {
	panelID, err := s.panel.Ensure(chatID)
	if err != nil {
		slog.Warn("shell: ensure panel failed", "chat_id", chatID, "error", err)
		return
	}

	s.mu.Lock()
	ui := s.ui.get(chatID)
	mode, name := ui.Mode, ui.Session
	s.mu.Unlock()

	if mode == modeSession && name != "" {
		if info, ok := s.registry.Get(name); ok && info.Running {
			if tc, tm, live := s.registry.StreamTarget(name); live && tc == chatID && tm == panelID {
				s.mu.Lock()
				ui.Notice, ui.NoticeCode = "", ""
				s.mu.Unlock()
				if s.attachToSession(chatID, panelID, name, info.StartedAt) {
					return
				}
			}
		}
	}

	s.registry.PauseOtherAttachedRuns(chatID, "")

	s.mu.Lock()
	text, markup := s.renderCurrent(ui)
	s.mu.Unlock()
	if _, err := s.panel.RenderToMessage(chatID, panelID, text, markup, true); err != nil {
		slog.Warn("shell: panel render failed", "chat_id", chatID, "error", err)
	}
}

func (s *Shell) onCommand(chatID int64, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "start", "menu":
		s.cmdFreshPanel(chatID)

	case "new":
		s.mu.Lock()
		ui := s.ui.get(chatID)
		if len(args) >= 2 {
			info, err := s.registry.Create(args[0], args[1])
			if err != nil {
				ui.Mode = modeNewName
				ui.Notice = err.Error()
			} else {
				ui.Mode = modeSession
				ui.Session = info.Name
			}
		} else {
			ui.navTo(modeNewName, func(u *chatUI) { u.DraftName = "" })
		}
		s.mu.Unlock()
		s.renderAndSync(chatID)

	case "use":
		s.mu.Lock()
		ui := s.ui.get(chatID)
		switch {
		case len(args) != 1:
			ui.Mode = modeSessions
			ui.Notice = "Usage: /use <name>"
		default:
			if _, ok := s.registry.Get(args[0]); !ok {
				ui.Mode = modeSessions
				ui.Notice = "Unknown session: " + args[0]
			} else {
				ui.Mode = modeSession
				ui.Session = args[0]
			}
		}
		s.mu.Unlock()
		s.renderAndSync(chatID)

	case "list":
		s.mu.Lock()
		s.ui.get(chatID).Mode = modeSessions
		s.mu.Unlock()
		s.renderAndSync(chatID)

	case "logs":
		s.mu.Lock()
		ui := s.ui.get(chatID)
		target := ui.Session
		if len(args) >= 1 {
			target = args[0]
		}
		switch {
		case target == "":
			ui.Mode = modeSessions
			ui.Notice = "No session selected. Use /logs <name>."
		default:
			if _, ok := s.registry.Get(target); !ok {
				ui.Mode = modeSessions
				ui.Notice = "Unknown session: " + target
			} else {
				ui.Mode = modeLogs
				ui.Session = target
			}
		}
		s.mu.Unlock()
		s.renderAndSync(chatID)

	case "stop":
		s.cmdStop(chatID, args)

	default:
		s.renderAndSync(chatID)
	}
}

// cmdFreshPanel handles /start and /menu: reset the screen state and, unless
// a run is streaming in this chat, replace the panel with a fresh message at
// the bottom of the chat.
func (s *Shell) cmdFreshPanel(chatID int64) {
	s.mu.Lock()
	ui := s.ui.get(chatID)
	ui.navReset(nil)
	ui.Mode = modeSessions
	s.mu.Unlock()

	hasRunning := s.registry.HasActiveRunInChat(chatID)
	oldID, hadOld := 0, false
	if !hasRunning {
		oldID, hadOld = s.registry.DropPanelBinding(chatID)
	}

	s.renderAndSync(chatID)

	if !hasRunning && hadOld {
		newID, ok := s.registry.PanelMessageID(chatID)
		if !ok {
			// Render failed before a new panel appeared; restore the old one.
			s.registry.SetPanelMessageID(chatID, oldID)
			return
		}
		if newID != oldID {
			s.panel.DeleteBestEffort(chatID, oldID)
		}
	}
}

func (s *Shell) cmdStop(chatID int64, args []string) {
	s.mu.Lock()
	ui := s.ui.get(chatID)
	target := ui.Session
	if len(args) >= 1 {
		target = args[0]
	}
	if target == "" {
		ui.Mode = modeSessions
		ui.Notice = "No session selected to stop."
		s.mu.Unlock()
		s.renderAndSync(chatID)
		return
	}
	s.mu.Unlock()

	info, ok := s.registry.Get(target)
	s.mu.Lock()
	switch {
	case !ok:
		ui.Mode = modeSessions
		ui.Notice = "Unknown session: " + target
	case !info.Running:
		ui.Mode = modeSession
		ui.Session = target
		ui.Notice = "This session is not running."
	default:
		go s.registry.Stop(target)
		if !info.Paused {
			// The attached stream will repaint on exit.
			s.mu.Unlock()
			return
		}
		ui.Mode = modeSession
		ui.Session = target
		ui.Notice = "Stop requested…"
	}
	s.mu.Unlock()
	s.renderAndSync(chatID)
}
