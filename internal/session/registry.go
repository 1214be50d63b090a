package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/vibes/internal/profile"
	"github.com/hrygo/vibes/internal/state"
	"github.com/hrygo/vibes/internal/telegram"
)

type attachKey struct {
	chatID    int64
	messageID int
}

// Registry is the in-memory authority over sessions, panel bindings, the
// owner id and path presets. Every mutation is persisted through the state
// store before the mutating call returns.
type Registry struct {
	mu        sync.Mutex
	profile   *profile.Profile
	store     *state.Store
	transport telegram.Transport

	sessions    map[string]*Session
	attach      map[attachKey]string
	panelByChat map[int64]int
	pathPresets []string
	ownerID     *int64
}

// NewRegistry loads persisted state and builds the registry over it.
func NewRegistry(p *profile.Profile, store *state.Store, transport telegram.Transport) *Registry {
	snap := store.Load()
	r := &Registry{
		profile:     p,
		store:       store,
		transport:   transport,
		sessions:    map[string]*Session{},
		attach:      map[attachKey]string{},
		panelByChat: map[int64]int{},
		pathPresets: snap.PathPresets,
		ownerID:     snap.OwnerID,
	}
	for name, rec := range snap.Sessions {
		r.sessions[name] = &Session{Name: name, SessionRecord: *rec}
	}
	for chat, messageID := range snap.PanelByChat {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			slog.Warn("state: dropping malformed panel binding", "chat", chat)
			continue
		}
		r.panelByChat[id] = messageID
	}
	return r
}

// Profile returns the runtime profile the registry was built with.
func (r *Registry) Profile() *profile.Profile { return r.profile }

// saveLocked persists the current state. Callers hold r.mu.
func (r *Registry) saveLocked() {
	snap := state.NewSnapshot()
	snap.OwnerID = r.ownerID
	for name, s := range r.sessions {
		rec := s.SessionRecord
		snap.Sessions[name] = &rec
	}
	for chat, messageID := range r.panelByChat {
		snap.PanelByChat[strconv.FormatInt(chat, 10)] = messageID
	}
	snap.PathPresets = append([]string{}, r.pathPresets...)
	if err := r.store.Save(snap); err != nil {
		slog.Error("state: save failed", "error", err)
	}
}

// Save persists the current state.
func (r *Registry) Save() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveLocked()
}

// EnsureOwner captures the first user as owner and afterwards admits only the
// owner.
func (r *Registry) EnsureOwner(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ownerID == nil {
		id := userID
		r.ownerID = &id
		r.saveLocked()
		slog.Info("owner captured", "user_id", userID)
		return true
	}
	return *r.ownerID == userID
}

// PanelMessageID implements telegram.PanelBindings.
func (r *Registry) PanelMessageID(chatID int64) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.panelByChat[chatID]
	return id, ok
}

// SetPanelMessageID implements telegram.PanelBindings.
func (r *Registry) SetPanelMessageID(chatID int64, messageID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panelByChat[chatID] = messageID
	r.saveLocked()
}

// PathPresets returns a copy of the stored directory presets.
func (r *Registry) PathPresets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.pathPresets...)
}

// UpsertPathPreset records a directory preset, skipping duplicates.
func (r *Registry) UpsertPathPreset(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pathPresets {
		if p == path {
			return
		}
	}
	r.pathPresets = append(r.pathPresets, path)
	r.saveLocked()
}

// DeletePathPreset removes the preset at index, reporting success.
func (r *Registry) DeletePathPreset(index int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.pathPresets) {
		return false
	}
	r.pathPresets = append(r.pathPresets[:index], r.pathPresets[index+1:]...)
	r.saveLocked()
	return true
}

// Get returns a snapshot of one session.
func (r *Registry) Get(name string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok {
		return Info{}, false
	}
	return snapshotInfo(s), true
}

// List returns snapshots of all sessions ordered by name.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Info, 0, len(names))
	for _, name := range names {
		out = append(out, snapshotInfo(r.sessions[name]))
	}
	return out
}

// NextAutoName returns the first free "session-N" name.
func (r *Registry) NextAutoName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 1; ; i++ {
		name := fmt.Sprintf("session-%d", i)
		if _, ok := r.sessions[name]; !ok {
			return name
		}
	}
}

// Create registers a new session over an existing directory. Errors carry
// user-facing messages.
func (r *Registry) Create(rawName, rawPath string) (Info, error) {
	name := SafeSessionName(rawName)
	if name == "" {
		return Info{}, errors.New("Invalid name. Allowed: a-zA-Z0-9._- (<=64).")
	}
	path, err := SafeResolvePath(rawPath)
	if err != nil {
		return Info{}, err
	}
	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		return Info{}, errors.Errorf("Directory not found: %s", path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[name]; ok {
		return Info{}, errors.Errorf("Session '%s' already exists.", name)
	}
	s := &Session{
		Name: name,
		SessionRecord: state.SessionRecord{
			Path:            path,
			Model:           profile.DefaultModel,
			ReasoningEffort: profile.DefaultReasoningEffort,
			Status:          state.StatusIdle,
			LastResult:      state.ResultNever,
			CreatedAt:       time.Now().UTC().Format(time.RFC3339),
		},
	}
	r.sessions[name] = s
	r.saveLocked()
	return snapshotInfo(s), nil
}

// Delete removes a session. A running session is marked for deletion and
// stopped; removal completes when the run finishes. The returned message is
// user-facing.
func (r *Registry) Delete(name string) (string, error) {
	r.mu.Lock()
	s, ok := r.sessions[name]
	if !ok {
		r.mu.Unlock()
		return "", errors.Errorf("Session '%s' not found.", name)
	}
	if s.Busy() {
		s.PendingDelete = true
		r.saveLocked()
		r.mu.Unlock()
		go r.Stop(name)
		return "Stop requested. Session will be deleted after it finishes.", nil
	}

	r.deleteArtifactsLocked(s)
	delete(r.sessions, name)
	for key, attached := range r.attach {
		if attached == name {
			delete(r.attach, key)
		}
	}
	r.saveLocked()
	r.mu.Unlock()
	return "Deleted.", nil
}

// Clear resets a session's conversation thread and run history while keeping
// its name, path and model settings.
func (r *Registry) Clear(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok {
		return "", errors.Errorf("Session '%s' not found.", name)
	}
	if s.Busy() {
		return "", errors.New("This session is running.")
	}
	s.ThreadID = ""
	s.Status = state.StatusIdle
	s.LastResult = state.ResultNever
	s.LastActive = ""
	s.LastStdoutLog = ""
	s.LastStderrLog = ""
	s.LastRunDuration = 0
	r.saveLocked()
	return "Cleared.", nil
}

// deleteArtifactsLocked removes the session's log files, including any left
// over from earlier runs matched by name prefix.
func (r *Registry) deleteArtifactsLocked(s *Session) {
	remove := func(p string) {
		if p == "" {
			return
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Debug("session: remove artifact failed", "path", p, "error", err)
		}
	}
	remove(s.LastStdoutLog)
	remove(s.LastStderrLog)
	logDir := r.profile.LogDir()
	for _, pattern := range []string{s.Name + "_*.jsonl", s.Name + "_*.stderr.txt"} {
		matches, err := filepath.Glob(filepath.Join(logDir, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			remove(m)
		}
	}
}

// SetModel updates the session's model.
func (r *Registry) SetModel(name, model string) error {
	return r.mutate(name, func(s *Session) { s.Model = model })
}

// SetReasoningEffort updates the session's reasoning effort.
func (r *Registry) SetReasoningEffort(name, effort string) error {
	return r.mutate(name, func(s *Session) { s.ReasoningEffort = effort })
}

func (r *Registry) mutate(name string, fn func(*Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok {
		return errors.Errorf("Session '%s' not found.", name)
	}
	fn(s)
	r.saveLocked()
	return nil
}

// RegisterRunMessage binds (chatID, messageID) to the session streaming into
// that message.
func (r *Registry) RegisterRunMessage(chatID int64, messageID int, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attach[attachKey{chatID, messageID}] = name
}

// UnregisterRunMessage drops the binding if it still points at name.
func (r *Registry) UnregisterRunMessage(chatID int64, messageID int, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := attachKey{chatID, messageID}
	if r.attach[key] == name {
		delete(r.attach, key)
	}
}

// RunMessageSession resolves the session bound to a message, if any.
func (r *Registry) RunMessageSession(chatID int64, messageID int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.attach[attachKey{chatID, messageID}]
	return name, ok
}

// ResolveAttachedRunningSession returns the session actively streaming into
// (chatID, messageID): bound, running and not paused.
func (r *Registry) ResolveAttachedRunningSession(chatID int64, messageID int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.attach[attachKey{chatID, messageID}]
	if !ok {
		return "", false
	}
	s, ok := r.sessions[name]
	if !ok || !s.Active() || s.Run.Paused {
		return "", false
	}
	return name, true
}

// PauseOtherAttachedRuns freezes every run attached in chatID except the
// named one, so at most one stream edits the chat's panel.
func (r *Registry) PauseOtherAttachedRuns(chatID int64, exceptName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, name := range r.attach {
		if key.chatID != chatID || name == exceptName {
			continue
		}
		s, ok := r.sessions[name]
		if !ok || s.Run == nil || s.Run.Paused {
			continue
		}
		s.Run.Paused = true
		s.Run.Stream.Pause()
	}
}

// Attach makes name's live run the active writer of (chatID, messageID):
// other runs in the chat are paused, the binding is rewritten and the stream
// resumes with the given footer and keyboard.
func (r *Registry) Attach(chatID int64, messageID int, name string, footer func() string, footerPlainLen int, markup *tgbotapi.InlineKeyboardMarkup) bool {
	r.mu.Lock()
	s, ok := r.sessions[name]
	if !ok || !s.Active() {
		r.mu.Unlock()
		return false
	}
	run := s.Run
	r.attach[attachKey{chatID, messageID}] = name
	run.Paused = false
	r.mu.Unlock()

	r.PauseOtherAttachedRuns(chatID, name)
	run.Stream.SetFooter(footer, footerPlainLen, true)
	run.Stream.SetReplyMarkup(markup)
	run.Stream.Resume()
	return true
}

// PauseRun freezes a session's live stream, keeping the run going.
func (r *Registry) PauseRun(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok || !s.Active() {
		return false
	}
	s.Run.Paused = true
	s.Run.Stream.Pause()
	return true
}

// ResumeRun unfreezes a session's live stream.
func (r *Registry) ResumeRun(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok || !s.Active() {
		return false
	}
	s.Run.Paused = false
	s.Run.Stream.Resume()
	return true
}

// AutoDetach pauses the run streaming into (chatID, messageID), if any, so a
// menu screen can take over the message.
func (r *Registry) AutoDetach(chatID int64, messageID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.attach[attachKey{chatID, messageID}]
	if !ok {
		return
	}
	s, ok := r.sessions[name]
	if !ok || !s.Active() || s.Run.Paused {
		return
	}
	s.Run.Paused = true
	s.Run.Stream.Pause()
}

// StreamTarget returns the chat and message a session's live stream edits.
func (r *Registry) StreamTarget(name string) (int64, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok || !s.Active() {
		return 0, 0, false
	}
	return s.Run.Stream.ChatID(), s.Run.Stream.MessageID(), true
}

// HasRunningSessions reports whether any session has a live run.
func (r *Registry) HasRunningSessions() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Active() {
			return true
		}
	}
	return false
}

// HasActiveRunInChat reports whether any live run is attached in the chat.
func (r *Registry) HasActiveRunInChat(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, name := range r.attach {
		if key.chatID != chatID {
			continue
		}
		if s, ok := r.sessions[name]; ok && s.Active() {
			return true
		}
	}
	return false
}

// DropPanelBinding forgets the chat's panel message so the next render sends
// a fresh one. Returns the previous binding.
func (r *Registry) DropPanelBinding(chatID int64) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.panelByChat[chatID]
	if ok {
		delete(r.panelByChat, chatID)
		r.saveLocked()
	}
	return id, ok
}

// Stop requests termination of a session's run: mark the stop, signal the
// process group, escalate to a kill after a grace period. Reports whether a
// run was live to stop.
func (r *Registry) Stop(name string) bool {
	r.mu.Lock()
	s, ok := r.sessions[name]
	if !ok || s.Run == nil {
		r.mu.Unlock()
		return false
	}
	run := s.Run
	run.StopRequested = true
	r.mu.Unlock()

	if run.Finished() {
		return true
	}
	terminateGroup(run.Cmd)
	select {
	case <-run.done:
	case <-time.After(5 * time.Second):
		killGroup(run.Cmd)
	}
	return true
}

// Shutdown stops all live runs in parallel and persists the final state.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	var names []string
	for name, s := range r.sessions {
		if s.Active() {
			names = append(names, name)
		}
	}
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			r.Stop(name)
			return nil
		})
	}
	err := g.Wait()
	r.Save()
	return err
}
