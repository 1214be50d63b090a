package bot

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/vibes/internal/profile"
	"github.com/hrygo/vibes/internal/session"
	"github.com/hrygo/vibes/internal/state"
	"github.com/hrygo/vibes/internal/telegram"
)

// cbPrefix versions the callback payload format; stale buttons from older
// builds are ignored by the dispatcher.
const cbPrefix = "v3"

const (
	labelBack  = "⬅️"
	labelLog   = "📜"
	labelStart = "🚀"
)

// cb assembles callback data; colons in arguments would break the field
// split, so they are replaced.
func cb(parts ...string) string {
	out := make([]string, 0, len(parts)+1)
	out = append(out, cbPrefix)
	for _, p := range parts {
		out = append(out, strings.ReplaceAll(p, ":", "_"))
	}
	return strings.Join(out, ":")
}

func btn(label string, parts ...string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(label, cb(parts...))
}

func markupOf(rows ...[]tgbotapi.InlineKeyboardButton) *tgbotapi.InlineKeyboardMarkup {
	m := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &m
}

func row(buttons ...tgbotapi.InlineKeyboardButton) []tgbotapi.InlineKeyboardButton {
	return buttons
}

func noticeHTML(notice string) string {
	if notice == "" {
		return ""
	}
	return fmt.Sprintf("<i>%s</i>\n\n", telegram.Escape(notice))
}

func statusEmoji(info session.Info) string {
	switch {
	case info.Status == state.StatusRunning:
		return "🟢"
	case info.LastResult == state.ResultSuccess && info.Status == state.StatusIdle:
		return "✅"
	case info.Status == state.StatusStopped || info.LastResult == state.ResultStopped:
		return "⏹"
	case info.Status == state.StatusError || info.LastResult == state.ResultError:
		return "❌"
	case info.LastResult == state.ResultNever:
		return "🆕"
	}
	return "⚪️"
}

func compactInfo(info session.Info) string {
	return fmt.Sprintf("<code>%s</code> <code>%s</code>\n<code>%s</code>",
		telegram.Escape(info.Model), telegram.Escape(info.ReasoningEffort), telegram.Escape(info.Path))
}

func workingFooterFor(startedAt time.Time) func() string {
	return func() string {
		return fmt.Sprintf("<code>---- Working %s ----</code>",
			telegram.Escape(session.FormatDuration(time.Since(startedAt))))
	}
}

const workingFooterPlainLen = len("---- Working 0m 0s ----")

func runningMarkup() *tgbotapi.InlineKeyboardMarkup {
	return markupOf(row(btn(labelBack, "back_sessions"), btn("⛔", "interrupt")))
}

// renderCurrent renders the chat's current screen, consuming its one-shot
// notice fields.
func (s *Shell) renderCurrent(ui *chatUI) (string, *tgbotapi.InlineKeyboardMarkup) {
	notice, noticeCode := ui.Notice, ui.NoticeCode
	ui.Notice, ui.NoticeCode = "", ""

	switch ui.Mode {
	case modeHome:
		return s.renderHome(notice)
	case modeNewName:
		return s.renderNewName(ui, notice)
	case modeNewPath:
		return s.renderNewPath(notice, noticeCode)
	case modePaths:
		return s.renderPaths(notice)
	case modePathsAdd:
		return renderPathsAdd(notice, noticeCode)
	case modeAwaitPrompt:
		if info, ok := s.registry.Get(ui.Session); ok {
			return renderAwaitPrompt(info, ui.AwaitRunMode, notice)
		}
		return s.renderSessions(ui, "No session selected.")
	case modeConfirmDelete:
		if info, ok := s.registry.Get(ui.Session); ok {
			return renderConfirmDelete(info, notice)
		}
		return s.renderSessions(ui, "Unknown session.")
	case modeConfirmMkdir:
		return renderConfirmMkdir(ui.MkdirPath, notice)
	case modeConfirmStop:
		if _, ok := s.registry.Get(ui.Session); ok {
			return renderConfirmStop(ui.Session, notice)
		}
		return s.renderSessions(ui, "No session selected.")
	case modeModel:
		if info, ok := s.registry.Get(ui.Session); ok {
			return s.renderModel(info, notice)
		}
		return s.renderSessions(ui, "Unknown session.")
	case modeModelCustom:
		if info, ok := s.registry.Get(ui.Session); ok {
			return s.renderModelCustom(info, notice)
		}
		return s.renderSessions(ui, "No session selected.")
	case modeLogs:
		if ui.Session != "" {
			return s.renderLogsView(ui.Session, notice)
		}
		return s.renderSessions(ui, "No session selected.")
	case modeSession:
		if ui.Session != "" {
			return s.renderSessionView(ui.Session, notice)
		}
		return s.renderSessions(ui, notice)
	}
	return s.renderSessions(ui, notice)
}

func (s *Shell) renderHome(notice string) (string, *tgbotapi.InlineKeyboardMarkup) {
	adminNote := ""
	if s.profile.AdminID == 0 {
		adminNote = "\n\n<i>Warning:</i> this bot is running without an admin id — anyone who finds it can control it."
	}
	text := noticeHTML(notice) +
		"<b>Vibes</b> is a lightweight session manager for Codex CLI.\n\n" +
		"It keeps this chat clean by editing a single panel message and deleting your messages.\n\n" +
		"Use the buttons below to manage sessions, pick working directories, and run prompts." +
		adminNote
	return text, markupOf(row(btn("📂", "sessions"), btn("➕", "new")))
}

func (s *Shell) renderSessions(ui *chatUI, notice string) (string, *tgbotapi.InlineKeyboardMarkup) {
	infos := s.registry.List()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	ui.SessList = names

	text := noticeHTML(notice) +
		"<b>Vibes</b> is a lightweight session manager for Codex CLI.\n\n" +
		"Choose or create session:"

	var rows [][]tgbotapi.InlineKeyboardButton
	for i, info := range infos {
		label := fmt.Sprintf("%s %s", statusEmoji(info), info.Name)
		rows = append(rows, row(btn(label, "sess", fmt.Sprintf("%d", i))))
	}
	rows = append(rows, row(btn("➕", "new")))
	rows = append(rows, row(btn("🔄", "restart")))
	return text, markupOf(rows...)
}

func (s *Shell) renderNewName(ui *chatUI, notice string) (string, *tgbotapi.InlineKeyboardMarkup) {
	autoName := s.registry.NextAutoName()
	ui.AutoName = autoName
	text := noticeHTML(notice) +
		"<b>Step 1/2 — Name</b>\n\n" +
		"Send a session name: <code>a-zA-Z0-9._-</code>.\n" +
		"Or tap the suggested name below."
	return text, markupOf(
		row(btn(autoName, "new_auto")),
		row(btn(labelBack, "back")),
	)
}

func (s *Shell) renderNewPath(notice, noticeCode string) (string, *tgbotapi.InlineKeyboardMarkup) {
	codeHTML := ""
	if noticeCode != "" {
		codeHTML = fmt.Sprintf("<b>Path:</b> <code>%s</code>\n\n", telegram.Escape(noticeCode))
	}
	text := noticeHTML(notice) +
		"<b>Step 2/2 — Path</b>\n\n" +
		codeHTML +
		"Send a directory path, or choose a preset below.\n\n" +
		"<i>Tip: you can use <code>~/</code> as your home directory.</i>\n" +
		"<i>For example: <code>~/projects/my-app</code></i>\n\n" +
		"<b>Click on path to copy!</b>"

	var rows [][]tgbotapi.InlineKeyboardButton
	for i, p := range s.registry.PathPresets() {
		rows = append(rows, row(btn("📁 "+session.ShortenPath(p, 34), "path_pick", fmt.Sprintf("%d", i))))
	}
	rows = append(rows, row(btn("⚙️", "paths")))
	rows = append(rows, row(btn(labelBack, "back")))
	return text, markupOf(rows...)
}

func (s *Shell) renderPaths(notice string) (string, *tgbotapi.InlineKeyboardMarkup) {
	presets := s.registry.PathPresets()
	lines := []string{"<b>Paths presets</b>", "", "These appear as quick buttons in the New session wizard.", ""}
	if len(presets) > 0 {
		for i, p := range presets {
			lines = append(lines, fmt.Sprintf("%d. <code>%s</code>", i+1, telegram.Escape(p)))
		}
	} else {
		lines = append(lines, "<i>No presets yet.</i>")
	}

	rows := [][]tgbotapi.InlineKeyboardButton{row(btn("➕", "paths_add"))}
	var delButtons []tgbotapi.InlineKeyboardButton
	for i := range presets {
		delButtons = append(delButtons, btn(fmt.Sprintf("🗑 #%d", i+1), "path_del", fmt.Sprintf("%d", i)))
	}
	for i := 0; i < len(delButtons); i += 3 {
		end := min(i+3, len(delButtons))
		rows = append(rows, delButtons[i:end])
	}
	rows = append(rows, row(btn(labelBack, "back")))
	return noticeHTML(notice) + strings.Join(lines, "\n"), markupOf(rows...)
}

func renderPathsAdd(notice, noticeCode string) (string, *tgbotapi.InlineKeyboardMarkup) {
	codeHTML := ""
	if noticeCode != "" {
		codeHTML = fmt.Sprintf("<b>Path:</b> <code>%s</code>\n\n", telegram.Escape(noticeCode))
	}
	text := noticeHTML(notice) +
		"<b>Add path preset</b>\n\n" +
		codeHTML +
		"Send a directory path. I will validate it and add it to presets.\n\n" +
		"<i>Tip: you can use <code>~/</code> as your home directory.</i>\n" +
		"<i>For example: <code>~/projects/my-app</code></i>\n\n" +
		"<b>Click on path to copy!</b>"
	return text, markupOf(row(btn(labelBack, "back")))
}

func renderAwaitPrompt(info session.Info, runMode, notice string) (string, *tgbotapi.InlineKeyboardMarkup) {
	modeLabel := "new prompt"
	if runMode == "continue" {
		modeLabel = "continue (resume)"
	}
	model := info.Model
	if model == "" {
		model = profile.DefaultModel
	}
	effort := info.ReasoningEffort
	if effort == "" {
		effort = profile.DefaultReasoningEffort
	}
	pathLine := ""
	if info.Path != "" {
		pathLine = fmt.Sprintf("<code>%s</code>\n", telegram.Escape(info.Path))
	}
	text := noticeHTML(notice) +
		fmt.Sprintf("<b>Session:</b> <code>%s</code>\n", telegram.Escape(info.Name)) +
		fmt.Sprintf("<code>%s</code> <code>%s</code>\n", telegram.Escape(model), telegram.Escape(effort)) +
		pathLine + "\n" +
		"Send a prompt as a message.\n\n" +
		fmt.Sprintf("<i>Mode:</i> %s", telegram.Escape(modeLabel))
	return text, markupOf(row(btn("⚙️", "model"), btn(labelBack, "back")))
}

func renderConfirmDelete(info session.Info, notice string) (string, *tgbotapi.InlineKeyboardMarkup) {
	text := noticeHTML(notice) +
		"<b>Delete session?</b>\n\n" +
		fmt.Sprintf("Session: <code>%s</code>\n", telegram.Escape(info.Name)) +
		fmt.Sprintf("Path: <code>%s</code>\n\n", telegram.Escape(info.Path)) +
		"<b>This will delete only bot artifacts</b> (state + logs).\n" +
		"<b>Your project directory will NOT be deleted.</b>"
	return text, markupOf(row(btn("✅", "delete_yes"), btn("❌", "delete_no")))
}

func renderConfirmMkdir(path, notice string) (string, *tgbotapi.InlineKeyboardMarkup) {
	if path == "" {
		text := noticeHTML(notice) + "<b>Create directory?</b>\n\n<i>No pending directory.</i>"
		return text, markupOf(row(btn(labelBack, "back")))
	}
	text := noticeHTML(notice) +
		"<b>Create directory?</b>\n\n" +
		fmt.Sprintf("<code>%s</code>\n\n", telegram.Escape(path)) +
		"This folder doesn't exist. Create it (including parents)?"
	return text, markupOf(row(btn("✅", "mkdir_yes"), btn("❌", "mkdir_no")))
}

func renderConfirmStop(sessionName, notice string) (string, *tgbotapi.InlineKeyboardMarkup) {
	text := noticeHTML(notice) +
		"<b>Stop run?</b>\n\n" +
		fmt.Sprintf("Session: <code>%s</code>\n\n", telegram.Escape(sessionName)) +
		"This will interrupt the current run."
	return text, markupOf(row(btn("✅", "stop_yes"), btn("❌", "stop_no")))
}

func (s *Shell) renderModel(info session.Info, notice string) (string, *tgbotapi.InlineKeyboardMarkup) {
	mark := func(label string, selected bool) string {
		if selected {
			return "✅ " + label
		}
		return label
	}

	lines := []string{
		noticeHTML(notice) + "<b>Run settings</b>",
		"",
		compactInfo(info),
		"",
		fmt.Sprintf("Model: <code>%s</code>", telegram.Escape(info.Model)),
		fmt.Sprintf("Reasoning effort: <code>%s</code>", telegram.Escape(info.ReasoningEffort)),
		"",
		"Pick overrides below.",
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var buttons []tgbotapi.InlineKeyboardButton
	inPresets := false
	for i, m := range s.modelPresets {
		if m == info.Model {
			inPresets = true
		}
		buttons = append(buttons, btn(mark(m, m == info.Model), "model_pick", fmt.Sprintf("%d", i)))
	}
	for i := 0; i < len(buttons); i += 2 {
		end := min(i+2, len(buttons))
		rows = append(rows, buttons[i:end])
	}
	rows = append(rows, row(btn(mark("📝", !inPresets), "model_custom")))

	var effortRow []tgbotapi.InlineKeyboardButton
	for _, level := range profile.ReasoningEfforts {
		effortRow = append(effortRow, btn(mark(level, info.ReasoningEffort == level), "reasoning_pick", level))
	}
	rows = append(rows, effortRow)
	rows = append(rows, row(btn(labelBack, "back")))
	return strings.Join(lines, "\n"), markupOf(rows...)
}

func (s *Shell) renderModelCustom(info session.Info, notice string) (string, *tgbotapi.InlineKeyboardMarkup) {
	example := profile.DefaultModel
	if len(s.modelPresets) > 0 {
		example = s.modelPresets[0]
	}
	text := noticeHTML(notice) +
		"<b>Custom model</b>\n\n" +
		compactInfo(info) + "\n\n" +
		fmt.Sprintf("Send a model id (e.g. <code>%s</code>) or tap Back.", telegram.Escape(example))
	return text, markupOf(row(btn(labelBack, "back")))
}

func (s *Shell) renderLogsView(sessionName, notice string) (string, *tgbotapi.InlineKeyboardMarkup) {
	info, ok := s.registry.Get(sessionName)
	if !ok {
		return s.renderSessions(&chatUI{}, "Unknown session: "+sessionName)
	}

	lastMsg := extractLastAgentMessage(info.LastStdoutLog, 3200)
	if lastMsg == "" {
		lastMsg = previewFromStdoutLog(info.LastStdoutLog, 3200)
	}
	if lastMsg == "" {
		lastMsg = "(empty)"
	}

	text := noticeHTML(notice) +
		fmt.Sprintf("<b>Log</b> <code>%s</code>\n\n", telegram.Escape(info.Name)) +
		compactInfo(info) + "\n\n" +
		fmt.Sprintf("<pre><code>%s</code></pre>", telegram.Escape(lastMsg))
	return text, markupOf(row(btn(labelBack, "back")))
}

// renderSessionView renders the per-session screen: a live tail while the
// session runs, otherwise the last run's log tail, status line and result.
func (s *Shell) renderSessionView(sessionName, notice string) (string, *tgbotapi.InlineKeyboardMarkup) {
	info, ok := s.registry.Get(sessionName)
	if !ok {
		return s.renderSessions(&chatUI{}, "Unknown session: "+sessionName)
	}

	if info.Running {
		raw := strings.TrimSpace(previewFromStdoutLog(info.LastStdoutLog, 100000))
		logTail := ""
		if raw != "" {
			logTail = telegram.TailText(raw, 3200, "…")
		}
		startNote := ""
		if logTail == "" {
			startNote = fmt.Sprintf("<i>%s</i>\n\n", telegram.Escape(session.RunStartWaitNote))
		}
		elapsed := session.FormatDuration(time.Since(info.StartedAt))
		text := noticeHTML(notice) + startNote +
			fmt.Sprintf("<pre><code>%s</code></pre>\n\n", telegram.Escape(logTail)) +
			fmt.Sprintf("<code>---- Working %s ----</code>", telegram.Escape(elapsed))
		return text, runningMarkup()
	}

	neverRun := info.LastResult == state.ResultNever && !info.HasThread &&
		info.LastStdoutLog == "" && info.LastStderrLog == "" && info.LastRunDuration == 0
	if neverRun {
		text := noticeHTML(notice) + compactInfo(info) + "\n\n<i>Send a prompt to start.</i>"
		return text, markupOf(
			row(btn("⚙️", "model")),
			row(btn(labelBack, "back"), btn("🗑", "delete")),
		)
	}

	stdoutPlain := strings.TrimSpace(previewFromStdoutLog(info.LastStdoutLog, 100000))
	stderrPlain := strings.TrimSpace(previewFromStderrLog(info.LastStderrLog, 100000))
	logPlain := stdoutPlain
	if logPlain == "" {
		logPlain = stderrPlain
	}
	if logPlain == "" {
		logPlain = "(empty)"
	}

	duration := session.FormatDuration(time.Duration(info.LastRunDuration) * time.Second)
	var statusLine string
	switch {
	case info.LastResult == state.ResultStopped || info.Status == state.StatusStopped:
		statusLine = fmt.Sprintf("<code>---- Stopped after %s ----</code>", telegram.Escape(duration))
	case info.LastResult == state.ResultError || info.Status == state.StatusError:
		statusLine = fmt.Sprintf("<code>---- Failed after %s ----</code>", telegram.Escape(duration))
	default:
		statusLine = fmt.Sprintf("<code>---- Worked for %s ----</code>", telegram.Escape(duration))
	}

	resultPlain := strings.TrimSpace(extractLastAgentMessage(info.LastStdoutLog, 100000))

	// Shrink the log and result budgets until the screen fits.
	logMax, resultMax := 2600, 1400
	var text string
	for i := 0; i < 10; i++ {
		logTail := telegram.TailText(logPlain, logMax, "…")
		resultView := resultPlain
		if len(resultView) > resultMax {
			resultView = telegram.TruncateText(resultView, resultMax)
		}
		resultHTML := ""
		if resultView != "" {
			if strings.Contains(resultView, "\n") {
				resultHTML = fmt.Sprintf("<pre><code>%s</code></pre>", telegram.Escape(resultView))
			} else {
				resultHTML = telegram.Escape(resultView)
			}
		}

		parts := []string{
			strings.TrimRight(noticeHTML(notice), "\n"),
			fmt.Sprintf("<pre><code>%s</code></pre>", telegram.Escape(logTail)),
			compactInfo(info),
			statusLine,
		}
		if resultHTML != "" {
			parts = append(parts, resultHTML)
		}
		parts = append(parts, "Send a prompt to continue.")

		var nonEmpty []string
		for _, p := range parts {
			if p != "" {
				nonEmpty = append(nonEmpty, p)
			}
		}
		text = strings.Join(nonEmpty, "\n\n")
		if len(text) <= telegram.MaxMessageChars {
			break
		}
		if logMax > 900 {
			logMax = max(900, logMax*8/10)
			continue
		}
		if resultMax > 300 {
			resultMax = max(300, resultMax*8/10)
			continue
		}
		break
	}

	markup := markupOf(
		row(btn("🆕", "clear"), btn("⚙️", "model"), btn(labelLog, "log")),
		row(btn(labelBack, "back"), btn("🗑", "delete")),
	)
	return text, markup
}
