package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hrygo/vibes/internal/codex"
	"github.com/hrygo/vibes/internal/diag"
	"github.com/hrygo/vibes/internal/logsink"
	"github.com/hrygo/vibes/internal/state"
	"github.com/hrygo/vibes/internal/telegram"
)

// RunStartWaitNote is shown while the CLI warms up, before the first output.
const RunStartWaitNote = "The request has been sent. During startup (especially for larger models), the first logs may appear after about one minute — please wait…"

// Scanner buffer sizing for the CLI pipes. Event lines can carry whole file
// diffs, so the ceiling is generous.
const (
	scannerInitialBuf = 256 * 1024
	scannerMaxBuf     = 1024 * 1024
)

// RunUI supplies the presentation pieces the runner needs from the shell:
// the keyboard shown under a live stream, the finished-session screen and the
// out-of-band completion notice.
type RunUI interface {
	RunningMarkup() *tgbotapi.InlineKeyboardMarkup
	RenderSessionView(chatID int64, messageID int, sessionName, notice string)
	SendCompletionNotice(chatID int64, sessionName, path, prompt string)
}

// RunPrompt executes one prompt against a session's codex CLI, streaming
// output into the panel message and persisting every status transition. It
// blocks until the run finishes and is meant to be called from its own
// goroutine.
func (r *Registry) RunPrompt(chatID int64, panelMessageID int, name, prompt, runMode string, ui RunUI) {
	r.mu.Lock()
	s, ok := r.sessions[name]
	if !ok || s.Busy() {
		r.mu.Unlock()
		return
	}
	if runMode == codex.RunModeNew {
		s.ThreadID = ""
	}

	if err := os.MkdirAll(r.profile.LogDir(), 0o755); err != nil {
		slog.Warn("run: create log directory failed", "error", err)
	}
	ts := time.Now().UTC().Format("20060102_150405")
	stdoutLog := fmt.Sprintf("%s/%s_%s.jsonl", r.profile.LogDir(), name, ts)
	stderrLog := fmt.Sprintf("%s/%s_%s.stderr.txt", r.profile.LogDir(), name, ts)

	s.Status = state.StatusRunning
	s.LastActive = time.Now().UTC().Format(time.RFC3339)
	s.LastStdoutLog = stdoutLog
	s.LastStderrLog = stderrLog
	s.LastRunDuration = 0
	spec := codex.CommandSpec{
		Bin:             r.profile.CodexBin,
		SandboxMode:     r.profile.SandboxMode,
		ApprovalPolicy:  r.profile.ApprovalPolicy,
		WorkDir:         s.Path,
		Model:           s.Model,
		ReasoningEffort: s.ReasoningEffort,
		ThreadID:        s.ThreadID,
		RunMode:         runMode,
		Prompt:          prompt,
	}
	path := s.Path
	r.saveLocked()
	r.mu.Unlock()

	started := time.Now()
	footer := func() string {
		return fmt.Sprintf("<code>---- Working %s ----</code>",
			telegram.Escape(FormatDuration(time.Since(started))))
	}

	r.PauseOtherAttachedRuns(chatID, name)
	r.RegisterRunMessage(chatID, panelMessageID, name)

	stream := telegram.NewStream(r.transport, chatID, panelMessageID, telegram.StreamConfig{
		HeaderHTML:      fmt.Sprintf("<i>%s</i>", telegram.Escape(RunStartWaitNote)),
		HeaderPlainLen:  len(RunStartWaitNote),
		AutoClearHeader: true,
		FooterProvider:  footer,
		FooterPlainLen:  len("---- Working 0m 0s ----"),
		WrapLogInPre:    true,
		ReplyMarkup:     ui.RunningMarkup(),
	})

	startFailure := func(stderrText string) {
		if err := os.WriteFile(stderrLog, []byte(stderrText), 0o644); err != nil {
			slog.Warn("run: write start-failure stderr log failed", "error", err)
		}
		r.mu.Lock()
		s.Status = state.StatusError
		s.LastResult = state.ResultError
		s.LastActive = time.Now().UTC().Format(time.RFC3339)
		s.LastRunDuration = float64(int(time.Since(started).Seconds()))
		r.saveLocked()
		r.mu.Unlock()
		stream.Stop()
		r.UnregisterRunMessage(chatID, panelMessageID, name)
		ui.RenderSessionView(chatID, panelMessageID, name, "Failed to start.")
	}

	argv := spec.Argv()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = path
	configureProcessGroup(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		startFailure(fmt.Sprintf("Failed to start Codex: %v\n", err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		startFailure(fmt.Sprintf("Failed to start Codex: %v\n", err))
		return
	}

	if err := cmd.Start(); err != nil {
		if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			startFailure("`codex` not found in PATH.\n")
		} else {
			startFailure(fmt.Sprintf("Failed to start Codex: %v\n", err))
		}
		return
	}

	diag.RunsStarted.Inc()
	run := &Run{
		Cmd:        cmd,
		Stream:     stream,
		StdoutLog:  stdoutLog,
		StderrLog:  stderrLog,
		StderrTail: NewTailBuffer(StderrTailLines),
		StartedAt:  started,
		done:       make(chan struct{}),
	}
	r.mu.Lock()
	s.Run = run
	r.saveLocked()
	r.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.pumpStdout(s, run, stream, stdout)
	}()
	go func() {
		defer wg.Done()
		r.pumpStderr(run, stderr)
	}()
	wg.Wait()
	waitErr := cmd.Wait()
	close(run.done)

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		slog.Debug("run: codex exited with error", "session", name, "error", waitErr)
	}

	r.mu.Lock()
	paused := run.Paused
	s.LastRunDuration = float64(int(time.Since(started).Seconds()))
	switch {
	case run.StopRequested:
		s.Status = state.StatusStopped
		s.LastResult = state.ResultStopped
	case exitCode == 0:
		s.Status = state.StatusIdle
		s.LastResult = state.ResultSuccess
	default:
		s.Status = state.StatusError
		s.LastResult = state.ResultError
	}
	diag.RunsFinished.WithLabelValues(s.LastResult).Inc()
	s.LastActive = time.Now().UTC().Format(time.RFC3339)
	r.saveLocked()
	r.mu.Unlock()

	stream.Stop()
	r.UnregisterRunMessage(chatID, panelMessageID, name)

	r.mu.Lock()
	s.Run = nil
	pendingDelete := s.PendingDelete
	r.saveLocked()
	r.mu.Unlock()

	if !paused {
		ui.RenderSessionView(chatID, panelMessageID, name, "")
	}
	ui.SendCompletionNotice(chatID, name, path, prompt)

	if pendingDelete {
		if _, err := r.Delete(name); err != nil {
			slog.Warn("run: deferred delete failed", "session", name, "error", err)
		}
	}
}

// pumpStdout mirrors CLI stdout into the run log and interprets line-JSON
// events into the stream. Non-JSON lines pass through verbatim.
func (r *Registry) pumpStdout(s *Session, run *Run, stream *telegram.Stream, stdout io.Reader) {
	sink := logsink.New(run.StdoutLog)
	defer sink.Close()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, scannerInitialBuf), scannerMaxBuf)
	for scanner.Scan() {
		line := scanner.Text()
		sink.WriteLine(line)

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		var ev codex.Event
		if err := json.Unmarshal([]byte(trimmed), &ev); err != nil || ev == nil {
			stream.AddText(line + "\n")
			continue
		}
		r.handleEvent(s, run, stream, ev)
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("run: stdout read failed", "session", s.Name, "error", err)
	}
}

// pumpStderr mirrors CLI stderr into the run log and the in-memory tail ring.
func (r *Registry) pumpStderr(run *Run, stderr io.Reader) {
	sink := logsink.New(run.StderrLog)
	defer sink.Close()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, scannerInitialBuf), scannerMaxBuf)
	for scanner.Scan() {
		line := scanner.Text()
		sink.WriteLine(line)
		run.StderrTail.Add(line)
	}
}

// persistThreadID stores a newly discovered continuation id.
func (r *Registry) persistThreadID(s *Session, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ThreadID == id {
		return
	}
	s.ThreadID = id
	s.LastActive = time.Now().UTC().Format(time.RFC3339)
	r.saveLocked()
}

func (r *Registry) threadID(s *Session) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return s.ThreadID
}

func (r *Registry) lastCmd(run *Run) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return run.LastCmd
}

func (r *Registry) setLastCmd(run *Run, cmd string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.LastCmd = cmd
}

// handleEvent routes one decoded CLI event into the stream, mirroring only
// the signal a chat transcript can carry: thread ids, agent text, commands
// with their output, tool calls and file changes.
func (r *Registry) handleEvent(s *Session, run *Run, stream *telegram.Stream, ev codex.Event) {
	kind := ev.Kind()

	if r.threadID(s) == "" {
		if id := ev.SessionIDExplicit(); id != "" {
			r.persistThreadID(s, id)
		}
	}

	switch kind {
	case "thread.started", "thread_started", "thread.start":
		if id := ev.SessionID(); id != "" {
			r.persistThreadID(s, id)
		}
		return
	}

	if strings.HasPrefix(kind, "item.") {
		if item, ok := ev.Item(); ok {
			switch codex.ItemKind(item) {
			case "reasoning":
				return
			case "command_execution":
				cexec := codex.CommandExecutionFields(item)
				isStart := cexec.Starting(kind)
				isDone := cexec.Completed(kind)
				if cexec.Command != "" && (isStart || isDone) && cexec.Command != r.lastCmd(run) {
					stream.AddText(fmt.Sprintf("\n$ %s\n", cexec.Command))
					r.setLastCmd(run, cexec.Command)
				}
				if isDone {
					if out := strings.TrimRight(cexec.Output, "\n"); strings.TrimSpace(out) != "" {
						stream.AddText(telegram.TruncateText(out, 2000) + "\n")
					}
					if cexec.ExitCode != nil {
						stream.AddText(fmt.Sprintf("(exit_code: %d)\n", *cexec.ExitCode))
					}
				}
				return
			default:
				if text := codex.ItemText(item); text != "" {
					stream.AddText(text)
					return
				}
			}
		}
	}

	switch kind {
	case "text":
		if delta := ev.TextDelta(); delta != "" {
			stream.AddText(delta)
		}
		return
	case "tool_use":
		if cmd := ev.ToolCommand(); cmd != "" {
			stream.AddText(fmt.Sprintf("\n[tool_use]\n%s\n", cmd))
		} else {
			stream.AddText("\n[tool_use]\n" + telegram.TruncateText(dumpEvent(ev), 2000) + "\n")
		}
		return
	case "tool_result":
		if out := ev.ToolOutput(); out != "" {
			stream.AddText("\n[tool_result]\n" + telegram.TruncateText(out, 2000) + "\n")
		} else {
			stream.AddText("\n[tool_result]\n" + telegram.TruncateText(dumpEvent(ev), 2000) + "\n")
		}
		return
	}

	if diff := ev.Diff(); diff != "" {
		stream.AddText("\n[file_change]\n" + telegram.TruncateText(diff, 2500) + "\n")
		return
	}

	if delta := ev.TextDelta(); delta != "" {
		stream.AddText(delta)
	}
}

func dumpEvent(ev codex.Event) string {
	data, err := json.MarshalIndent(map[string]any(ev), "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
