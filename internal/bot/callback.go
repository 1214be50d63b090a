package bot

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/hrygo/vibes/internal/profile"
	"github.com/hrygo/vibes/internal/session"
)

// backAliases are legacy button payloads that all mean "go back".
var backAliases = map[string]bool{
	"session_back": true,
	"new_back":     true,
	"new_cancel":   true,
	"paths_back":   true,
	"await_cancel": true,
}

// stopFamily actions must keep the live stream attached, so the dispatcher
// skips the auto-detach for them.
var stopFamily = map[string]bool{
	"stop":      true,
	"stop_yes":  true,
	"stop_no":   true,
	"interrupt": true,
	"detach":    true,
}

func parseIndex(arg string) int {
	idx, err := strconv.Atoi(arg)
	if err != nil {
		return -1
	}
	return idx
}

// resolveRunSession finds the session a stop-family button refers to: the run
// attached to the pressed message first, then any run bound to it, then the
// screen's current session.
func (s *Shell) resolveRunSession(chatID int64, messageID int, fallback string) string {
	if name, ok := s.registry.ResolveAttachedRunningSession(chatID, messageID); ok {
		return name
	}
	if name, ok := s.registry.RunMessageSession(chatID, messageID); ok {
		return name
	}
	return fallback
}

// attachToSession puts a live run back on screen in the pressed message.
func (s *Shell) attachToSession(chatID int64, messageID int, name string, startedAt time.Time) bool {
	return s.registry.Attach(chatID, messageID, name,
		workingFooterFor(startedAt), workingFooterPlainLen, runningMarkup())
}

// onCallback dispatches one inline-button press.
func (s *Shell) onCallback(query *tgbotapi.CallbackQuery) {
	if query.Message == nil {
		s.bot.AnswerCallback(query.ID)
		return
	}
	chatID := query.Message.Chat.ID
	messageID := query.Message.MessageID
	data := query.Data

	parts := strings.Split(data, ":")
	action, arg := "", ""
	if len(parts) >= 2 && parts[0] == cbPrefix {
		action = parts[1]
	}
	if len(parts) >= 3 {
		arg = parts[2]
	}

	// A button press on an unbound message adopts it as the chat's panel, so
	// the bot keeps working after its state file was lost.
	if _, ok := s.registry.PanelMessageID(chatID); !ok && action != "ack" {
		s.registry.SetPanelMessageID(chatID, messageID)
	}

	s.bot.AnswerCallback(query.ID)

	if !s.ensureAuthorized(chatID, query.From.ID) {
		return
	}
	if action == "" {
		return
	}
	slog.Debug("callback", "chat_id", chatID, "message_id", messageID, "data", data)

	if !stopFamily[action] {
		s.registry.AutoDetach(chatID, messageID)
	}
	if backAliases[action] {
		action = "back"
	}

	if action == "ack" {
		s.panel.DeleteBestEffort(chatID, messageID)
		return
	}

	if done := s.dispatchCallback(chatID, messageID, action, arg); done {
		s.cleanupStaleMessage(chatID, messageID)
	}
}

// dispatchCallback runs one action against the chat's UI state. It reports
// whether the stale-message cleanup should run; attach-style actions that keep
// streaming into the pressed message return false.
func (s *Shell) dispatchCallback(chatID int64, messageID int, action, arg string) bool {
	s.mu.Lock()
	ui := s.ui.get(chatID)
	current := ui.Session

	switch action {
	case "home":
		ui.navReset(nil)
		ui.Mode = modeSessions

	case "back":
		if !ui.navPop() {
			ui.Mode = modeSessions
		}
		s.sanitizeUILocked(ui)

	case "back_sessions":
		s.mu.Unlock()
		if name := s.resolveRunSession(chatID, messageID, current); name != "" {
			s.registry.PauseRun(name)
		}
		s.mu.Lock()
		ui.navReset(nil)
		ui.Mode = modeSessions

	case "disconnect":
		ui.navReset(nil)
		ui.Mode = modeSessions

	case "sessions":
		ui.navTo(modeSessions, nil)

	case "restart":
		if s.registry.HasRunningSessions() {
			ui.Notice = "Stop all running sessions before restarting the bot."
			break
		}
		ui.Mode = modeSessions
		ui.Notice = "Restarting…"
		go func() {
			time.Sleep(250 * time.Millisecond)
			select {
			case s.restart <- struct{}{}:
			default:
			}
		}()

	case "session":
		if arg == "" {
			arg = current
		}
		if _, ok := s.registry.Get(arg); ok {
			ui.navTo(modeSession, func(u *chatUI) { u.Session = arg })
		} else {
			ui.navTo(modeSessions, nil)
			ui.Notice = "No session selected."
		}

	case "sess":
		idx := parseIndex(arg)
		names := ui.SessList
		if idx < 0 || idx >= len(names) {
			ui.Mode = modeSessions
			ui.Notice = "Stale session list. Refreshing…"
			break
		}
		name := names[idx]
		if _, ok := s.registry.Get(name); !ok {
			ui.Mode = modeSessions
			ui.Notice = "Session not found. Refreshing…"
			break
		}
		ui.navTo(modeSession, func(u *chatUI) { u.Session = name })

	case "new":
		ui.navTo(modeNewName, func(u *chatUI) { u.DraftName = "" })

	case "new_auto":
		name := ui.AutoName
		if name == "" {
			name = s.registry.NextAutoName()
		}
		if _, ok := s.registry.Get(name); ok {
			ui.Mode = modeNewName
			ui.Notice = "Auto-name is taken. Pick another."
			break
		}
		ui.navTo(modeNewPath, func(u *chatUI) { u.DraftName = name })

	case "path_pick":
		if ui.DraftName == "" {
			ui.Mode = modeNewName
			ui.Notice = "Missing draft name. Start again."
			break
		}
		presets := s.registry.PathPresets()
		idx := parseIndex(arg)
		if idx < 0 || idx >= len(presets) {
			ui.Mode = modeNewPath
			ui.Notice = "Invalid preset index."
			break
		}
		path, err := session.SafeResolvePath(presets[idx])
		if err != nil {
			ui.Mode = modeNewPath
			ui.Notice = err.Error()
			ui.NoticeCode = presets[idx]
			break
		}
		info, err := s.registry.Create(ui.DraftName, path)
		if err != nil {
			ui.Mode = modeNewPath
			ui.Notice = err.Error()
			ui.NoticeCode = path
			break
		}
		ui.DraftName = ""
		ui.navReset(&navSnapshot{Mode: modeSessions})
		ui.Mode = modeSession
		ui.Session = info.Name

	case "paths":
		ui.navTo(modePaths, nil)

	case "paths_add":
		ui.navTo(modePathsAdd, nil)

	case "path_del":
		if s.registry.DeletePathPreset(parseIndex(arg)) {
			ui.Notice = "Deleted."
		} else {
			ui.Notice = "Invalid preset index."
		}
		ui.Mode = modePaths

	case "logs":
		if _, ok := s.registry.Get(current); !ok {
			ui.navTo(modeSessions, nil)
			ui.Notice = "No session selected."
			break
		}
		ui.navTo(modeLogs, nil)

	case "log":
		info, ok := s.registry.Get(current)
		if !ok {
			ui.navTo(modeSessions, nil)
			ui.Notice = "No session selected."
			break
		}
		if info.Running {
			s.mu.Unlock()
			s.attachToSession(chatID, messageID, info.Name, info.StartedAt)
			return false
		}
		ui.navTo(modeLogs, nil)

	case "start", "run", "continue", "newprompt":
		if _, ok := s.registry.Get(current); !ok {
			ui.Mode = modeSessions
			ui.Notice = "No session selected."
			break
		}
		ui.Mode = modeSession

	case "model":
		if _, ok := s.registry.Get(current); !ok {
			ui.Mode = modeSessions
			ui.Notice = "No session selected."
			break
		}
		ui.navTo(modeModel, nil)

	case "model_pick":
		if _, ok := s.registry.Get(current); !ok {
			ui.Mode = modeSessions
			ui.Notice = "No session selected."
			break
		}
		idx := parseIndex(arg)
		if idx < 0 || idx >= len(s.modelPresets) {
			ui.Mode = modeModel
			ui.Notice = "Invalid model."
			break
		}
		model := s.modelPresets[idx]
		if err := s.registry.SetModel(current, model); err != nil {
			ui.Notice = err.Error()
			break
		}
		ui.Mode = modeModel
		ui.Notice = "Model: " + model

	case "reasoning_pick":
		if _, ok := s.registry.Get(current); !ok {
			ui.Mode = modeSessions
			ui.Notice = "No session selected."
			break
		}
		valid := false
		for _, level := range profile.ReasoningEfforts {
			if level == arg {
				valid = true
				break
			}
		}
		if !valid {
			ui.Mode = modeModel
			ui.Notice = "Invalid reasoning effort."
			break
		}
		if err := s.registry.SetReasoningEffort(current, arg); err != nil {
			ui.Notice = err.Error()
			break
		}
		ui.Mode = modeModel
		ui.Notice = "Reasoning effort: " + arg

	case "model_custom":
		ui.navTo(modeModelCustom, nil)

	case "delete":
		if _, ok := s.registry.Get(current); !ok {
			ui.Mode = modeSessions
			ui.Notice = "No session selected."
			break
		}
		ui.Mode = modeConfirmDelete

	case "delete_no":
		if _, ok := s.registry.Get(current); ok {
			ui.Mode = modeSession
		} else {
			ui.Mode = modeSessions
		}

	case "delete_yes":
		if _, ok := s.registry.Get(current); !ok {
			ui.Mode = modeSessions
			ui.Notice = "No session selected."
			break
		}
		s.mu.Unlock()
		msg, err := s.registry.Delete(current)
		s.mu.Lock()
		if err != nil {
			msg = err.Error()
		}
		if _, stillThere := s.registry.Get(current); stillThere {
			ui.Mode = modeSession
		} else {
			ui.Mode = modeSessions
		}
		ui.Notice = msg

	case "mkdir_no":
		ui.MkdirPath, ui.MkdirFlow = "", ""
		if !ui.navPop() {
			ui.Mode = modeSessions
		}

	case "mkdir_yes":
		s.handleMkdirYesLocked(ui)

	case "clear":
		if _, ok := s.registry.Get(current); !ok {
			ui.Mode = modeSessions
			ui.Notice = "No session selected."
			break
		}
		msg, err := s.registry.Clear(current)
		if err != nil {
			ui.Notice = err.Error()
			break
		}
		ui.Mode = modeSession
		ui.Notice = msg

	case "stop", "interrupt", "stop_yes":
		s.mu.Unlock()
		name := s.resolveRunSession(chatID, messageID, current)
		info, ok := s.registry.Get(name)
		if !ok || !info.Running {
			s.mu.Lock()
			ui.Notice = "Not running."
			break
		}
		go s.registry.Stop(name)
		if info.Paused {
			s.mu.Lock()
			ui.Mode = modeSession
			ui.Session = name
			ui.Notice = "Stop requested…"
			break
		}
		// The live stream keeps the message; the run's exit repaints it.
		return false

	case "stop_no":
		s.mu.Unlock()
		name := s.resolveRunSession(chatID, messageID, current)
		if s.registry.ResumeRun(name) {
			return false
		}
		s.mu.Lock()
		ui.Notice = "Not running."

	case "detach":
		s.mu.Unlock()
		if name := s.resolveRunSession(chatID, messageID, current); name != "" {
			s.registry.PauseRun(name)
		}
		s.mu.Lock()
		ui.navReset(nil)
		ui.Mode = modeSessions

	case "attach":
		info, ok := s.registry.Get(current)
		if !ok || !info.Running {
			ui.Mode = modeSessions
			ui.Notice = "Run is not active."
			break
		}
		s.mu.Unlock()
		s.attachToSession(chatID, messageID, info.Name, info.StartedAt)
		return false

	default:
		ui.Mode = modeSessions
		ui.Notice = "Unknown action."
	}
	s.mu.Unlock()

	s.renderAndSync(chatID)
	return true
}

// mkdirAll creates path with parents and verifies the result is a directory.
func mkdirAll(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return errors.New("not a directory after mkdir")
	}
	return nil
}

// handleMkdirYesLocked creates the pending directory and resumes whichever
// flow asked for it. Callers hold s.mu.
func (s *Shell) handleMkdirYesLocked(ui *chatUI) {
	path, flow := ui.MkdirPath, ui.MkdirFlow
	if path == "" {
		ui.Mode = modeSessions
		ui.Notice = "No pending directory to create."
		return
	}
	if err := mkdirAll(path); err != nil {
		ui.Mode = modeConfirmMkdir
		ui.Notice = "Failed to create directory: " + err.Error()
		return
	}
	ui.MkdirPath, ui.MkdirFlow = "", ""

	switch flow {
	case "new_path":
		if ui.DraftName == "" {
			ui.Mode = modeNewName
			ui.Notice = "Missing draft name. Start again."
			return
		}
		s.completePathFlow(ui, path, "new_path")
	case "paths_add":
		s.completePathFlow(ui, path, "paths_add")
	default:
		ui.Mode = modeSessions
		ui.Notice = "Unknown mkdir flow."
	}
}

// cleanupStaleMessage deletes a non-panel message whose buttons were pressed,
// unless a run is still streaming into it.
func (s *Shell) cleanupStaleMessage(chatID int64, messageID int) {
	panelID, ok := s.registry.PanelMessageID(chatID)
	if !ok || messageID == panelID {
		return
	}
	if _, bound := s.registry.RunMessageSession(chatID, messageID); bound {
		return
	}
	s.panel.DeleteBestEffort(chatID, messageID)
}
