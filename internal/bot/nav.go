// Package bot is the Telegram shell of the control plane: the update loop,
// the screen state machine rendered into a single panel message per chat, and
// the bridges between chat input and session runs.
package bot

import "sync"

// Screen modes.
const (
	modeHome          = "home"
	modeSessions      = "sessions"
	modeSession       = "session"
	modeNewName       = "new_name"
	modeNewPath       = "new_path"
	modePaths         = "paths"
	modePathsAdd      = "paths_add"
	modeAwaitPrompt   = "await_prompt"
	modeConfirmDelete = "confirm_delete"
	modeConfirmMkdir  = "confirm_mkdir"
	modeConfirmStop   = "confirm_stop"
	modeModel         = "model"
	modeModelCustom   = "model_custom"
	modeLogs          = "logs"
)

const (
	navStackMax  = 32
	navStackDrop = 16
)

// navSnapshot is the part of the UI state the Back button restores.
type navSnapshot struct {
	Mode         string
	Session      string
	DraftName    string
	AwaitRunMode string
}

// chatUI is the per-chat screen state. It lives in memory only; a restart
// lands every chat back on the sessions list.
type chatUI struct {
	navSnapshot

	// One-shot fields consumed by the next render.
	Notice     string
	NoticeCode string

	// MkdirPath/MkdirFlow carry a pending directory-creation confirmation.
	MkdirPath string
	MkdirFlow string // "new_path" | "paths_add"

	// SessList pins button indexes to names for the sessions screen.
	SessList []string
	AutoName string

	nav         []navSnapshot
	mediaGroups map[string]*mediaGroup
}

func (u *chatUI) snapshot() navSnapshot {
	snap := u.navSnapshot
	if snap.Mode == "" {
		snap.Mode = modeSessions
	}
	return snap
}

// navTo switches screens, pushing the previous state when it differs so Back
// can return to it.
func (u *chatUI) navTo(mode string, mutate func(*chatUI)) {
	before := u.snapshot()
	u.Mode = mode
	if mutate != nil {
		mutate(u)
	}
	if u.snapshot() != before {
		u.nav = append(u.nav, before)
		if len(u.nav) > navStackMax {
			u.nav = u.nav[navStackDrop:]
		}
	}
}

// navPop restores the most recent distinct snapshot, reporting whether one
// was found.
func (u *chatUI) navPop() bool {
	current := u.snapshot()
	for len(u.nav) > 0 {
		snap := u.nav[len(u.nav)-1]
		u.nav = u.nav[:len(u.nav)-1]
		if snap == current {
			continue
		}
		u.navSnapshot = snap
		return true
	}
	return false
}

// navReset clears the stack, optionally seeding it with a single entry.
func (u *chatUI) navReset(to *navSnapshot) {
	if to == nil {
		u.nav = nil
		return
	}
	u.nav = []navSnapshot{*to}
}

// uiStore hands out per-chat UI state.
type uiStore struct {
	mu    sync.Mutex
	chats map[int64]*chatUI
}

func newUIStore() *uiStore {
	return &uiStore{chats: map[int64]*chatUI{}}
}

func (s *uiStore) get(chatID int64) *chatUI {
	s.mu.Lock()
	defer s.mu.Unlock()
	ui, ok := s.chats[chatID]
	if !ok {
		ui = &chatUI{navSnapshot: navSnapshot{Mode: modeSessions}}
		s.chats[chatID] = ui
	}
	return ui
}
