package bot

import (
	"fmt"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/vibes/internal/codex"
	"github.com/hrygo/vibes/internal/session"
)

// mediaGroupDebounce is how long an album must stay quiet before its
// accumulated files become one run.
const mediaGroupDebounce = 800 * time.Millisecond

// mediaGroup accumulates the parts of a Telegram album; parts arrive as
// separate messages with a shared group id and no completion marker.
type mediaGroup struct {
	sessionName string
	runMode     string
	caption     string
	files       []string
	lastUpdate  time.Time
}

// onText routes a plain text message into the chat's current screen.
func (s *Shell) onText(chatID int64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	var runSession, runPrompt, runMode string

	s.mu.Lock()
	ui := s.ui.get(chatID)
	switch ui.Mode {
	case modeNewName:
		name := session.SafeSessionName(text)
		if name == "" {
			ui.Notice = "Invalid name. Allowed: a-zA-Z0-9._- (<=64)."
			break
		}
		if _, ok := s.registry.Get(name); ok {
			ui.Notice = fmt.Sprintf("Session '%s' already exists.", name)
			break
		}
		ui.navTo(modeNewPath, func(u *chatUI) { u.DraftName = name })

	case modeNewPath:
		s.handlePathInput(ui, text, "new_path")

	case modePathsAdd:
		s.handlePathInput(ui, text, "paths_add")

	case modeModelCustom:
		if err := s.registry.SetModel(ui.Session, text); err != nil {
			ui.Notice = err.Error()
			break
		}
		ui.Notice = "Model: " + text
		if !ui.navPop() {
			ui.Mode = modeSession
		}

	case modeAwaitPrompt:
		mode := ui.AwaitRunMode
		if mode == "" {
			mode = codex.RunModeContinue
		}
		runSession, runPrompt, runMode = ui.Session, text, mode
		s.prepareRunLocked(ui, runSession)

	case modeSession:
		runSession, runPrompt, runMode = ui.Session, text, codex.RunModeContinue
		s.prepareRunLocked(ui, runSession)

	default:
		// Free text on menu screens is ignored; just repaint.
	}
	if runSession != "" && !strings.HasPrefix(ui.Notice, "Starting") {
		// prepareRunLocked rejected the run.
		runSession = ""
	}
	s.mu.Unlock()

	s.renderAndSync(chatID)
	if runSession != "" {
		s.schedulePromptRun(chatID, runSession, runPrompt, runMode)
	}
}

// prepareRunLocked validates that name can run now and flips the screen into
// the session view with the starting notice. Callers hold s.mu.
func (s *Shell) prepareRunLocked(ui *chatUI, name string) {
	info, ok := s.registry.Get(name)
	if !ok {
		ui.Mode = modeSessions
		ui.Notice = "No session selected."
		return
	}
	if info.Running {
		ui.Notice = "This session is already running."
		return
	}
	ui.Mode = modeSession
	ui.Session = name
	ui.AwaitRunMode = ""
	ui.Notice = "Starting… (see output message below)"
}

// handlePathInput validates a user-typed directory for the new-session wizard
// or the preset editor, diverting missing-but-creatable paths into the mkdir
// confirmation screen. Callers hold s.mu.
func (s *Shell) handlePathInput(ui *chatUI, text, flow string) {
	path, err := session.SafeResolvePath(text)
	if err != nil {
		ui.Notice = err.Error()
		return
	}

	fi, statErr := os.Stat(path)
	switch {
	case statErr == nil && !fi.IsDir():
		ui.Notice = "This is not a directory."
		ui.NoticeCode = path
	case statErr != nil && session.CanCreateDirectory(path):
		ui.MkdirPath = path
		ui.MkdirFlow = flow
		ui.navTo(modeConfirmMkdir, nil)
	case statErr != nil:
		ui.Notice = "Directory not found."
		ui.NoticeCode = path
	default:
		s.completePathFlow(ui, path, flow)
	}
}

// completePathFlow finishes the wizard once a valid directory exists: either
// creates the drafted session or records a preset. Callers hold s.mu.
func (s *Shell) completePathFlow(ui *chatUI, path, flow string) {
	if flow == "paths_add" {
		s.registry.UpsertPathPreset(path)
		ui.Notice = "Added."
		if !ui.navPop() {
			ui.Mode = modePaths
		}
		return
	}

	info, err := s.registry.Create(ui.DraftName, path)
	if err != nil {
		ui.Notice = err.Error()
		return
	}
	ui.DraftName = ""
	ui.navReset(&navSnapshot{Mode: modeSessions})
	ui.Mode = modeSession
	ui.Session = info.Name
}

// schedulePromptRun starts the run against the chat's panel message in its
// own goroutine and posts a finish notice if the user has navigated away by
// the time it ends.
func (s *Shell) schedulePromptRun(chatID int64, name, prompt, runMode string) {
	panelID, ok := s.registry.PanelMessageID(chatID)
	if !ok {
		return
	}
	go func() {
		s.runPrompt(chatID, panelID, name, prompt, runMode)

		s.mu.Lock()
		ui := s.ui.get(chatID)
		if ui.Mode == modeSession && ui.Session == name {
			s.mu.Unlock()
			return
		}
		ui.Notice = "Run finished: " + name
		s.mu.Unlock()
		s.renderAndSync(chatID)
	}()
}

// onAttachment downloads a message's files into the current session directory
// and turns them into a prompt, debouncing album parts into a single run.
func (s *Shell) onAttachment(chatID int64, msg *tgbotapi.Message) {
	s.mu.Lock()
	ui := s.ui.get(chatID)
	name := ui.Session
	mode := ui.Mode
	runMode := codex.RunModeContinue
	if mode == modeAwaitPrompt && ui.AwaitRunMode != "" {
		runMode = ui.AwaitRunMode
	}

	if (mode != modeSession && mode != modeAwaitPrompt) || name == "" {
		ui.Notice = "Select a session first, then send files."
		s.mu.Unlock()
		s.renderAndSync(chatID)
		return
	}
	info, ok := s.registry.Get(name)
	if !ok {
		ui.Mode = modeSessions
		ui.Notice = "No session selected."
		s.mu.Unlock()
		s.renderAndSync(chatID)
		return
	}
	if info.Running {
		ui.Notice = "This session is already running."
		s.mu.Unlock()
		s.renderAndSync(chatID)
		return
	}
	s.mu.Unlock()

	saved, skipNotice, err := s.downloadAttachments(msg, info.Path)
	if err != nil {
		s.mu.Lock()
		ui.Notice = "Failed to download attachment: " + err.Error()
		s.mu.Unlock()
		s.renderAndSync(chatID)
		return
	}

	caption := strings.TrimSpace(msg.Caption)

	if msg.MediaGroupID != "" {
		first := s.addAlbumPart(chatID, msg.MediaGroupID, name, runMode, caption, saved)
		if skipNotice != "" {
			s.mu.Lock()
			ui.Notice = skipNotice
			s.mu.Unlock()
			s.renderAndSync(chatID)
		}
		if first {
			go s.flushMediaGroup(chatID, msg.MediaGroupID)
		}
		return
	}

	if len(saved) == 0 {
		s.mu.Lock()
		if skipNotice != "" {
			ui.Notice = skipNotice
		} else {
			ui.Notice = "Nothing to download in that message."
		}
		s.mu.Unlock()
		s.renderAndSync(chatID)
		return
	}

	prompt := buildPromptWithFiles(caption, saved)
	s.mu.Lock()
	s.prepareRunLocked(ui, name)
	blocked := ui.Notice != "" && !strings.HasPrefix(ui.Notice, "Starting")
	if skipNotice != "" {
		ui.Notice = skipNotice
	}
	s.mu.Unlock()
	s.renderAndSync(chatID)
	if !blocked {
		s.schedulePromptRun(chatID, name, prompt, runMode)
	}
}

// addAlbumPart records one album message into its group, opening the group on
// the first part. The caller that opened it owns the flush goroutine.
func (s *Shell) addAlbumPart(chatID int64, groupID, name, runMode, caption string, saved []string) (first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ui := s.ui.get(chatID)
	if ui.mediaGroups == nil {
		ui.mediaGroups = map[string]*mediaGroup{}
	}
	g, exists := ui.mediaGroups[groupID]
	if !exists {
		g = &mediaGroup{sessionName: name, runMode: runMode}
		ui.mediaGroups[groupID] = g
	}
	g.files = append(g.files, saved...)
	if caption != "" {
		g.caption = caption
	}
	g.lastUpdate = time.Now()
	return !exists
}

// flushMediaGroup waits until the album stops receiving parts, then runs the
// accumulated files as one prompt.
func (s *Shell) flushMediaGroup(chatID int64, groupID string) {
	for {
		time.Sleep(mediaGroupDebounce)

		s.mu.Lock()
		ui := s.ui.get(chatID)
		g, ok := ui.mediaGroups[groupID]
		if !ok {
			s.mu.Unlock()
			return
		}
		if time.Since(g.lastUpdate) < mediaGroupDebounce {
			s.mu.Unlock()
			continue
		}
		delete(ui.mediaGroups, groupID)
		if len(g.files) == 0 {
			s.mu.Unlock()
			return
		}
		prompt := buildPromptWithFiles(g.caption, g.files)
		s.prepareRunLocked(ui, g.sessionName)
		blocked := ui.Notice != "" && !strings.HasPrefix(ui.Notice, "Starting")
		name, runMode := g.sessionName, g.runMode
		s.mu.Unlock()

		s.renderAndSync(chatID)
		if !blocked {
			s.schedulePromptRun(chatID, name, prompt, runMode)
		}
		return
	}
}
