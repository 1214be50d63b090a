package bot

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNavTo_PushesDistinctStates records the previous screen only when the
// destination actually differs.
func TestNavTo_PushesDistinctStates(t *testing.T) {
	ui := &chatUI{navSnapshot: navSnapshot{Mode: modeSessions}}

	ui.navTo(modeSession, func(u *chatUI) { u.Session = "alpha" })
	require.Len(t, ui.nav, 1)
	assert.Equal(t, modeSessions, ui.nav[0].Mode)

	// Same mode, same session: nothing to push.
	ui.navTo(modeSession, func(u *chatUI) { u.Session = "alpha" })
	assert.Len(t, ui.nav, 1)

	ui.navTo(modeModel, nil)
	require.Len(t, ui.nav, 2)
	assert.Equal(t, modeSession, ui.nav[1].Mode)
	assert.Equal(t, "alpha", ui.nav[1].Session)
}

// TestNavTo_StackBound drops the oldest entries once the stack overflows.
func TestNavTo_StackBound(t *testing.T) {
	ui := &chatUI{navSnapshot: navSnapshot{Mode: modeSessions}}
	for i := 0; i < navStackMax+1; i++ {
		ui.navTo(modeSession, func(u *chatUI) { u.Session = fmt.Sprintf("s%d", i) })
	}
	assert.Equal(t, navStackMax+1-navStackDrop, len(ui.nav))
}

// TestNavPop_SkipsEqualSnapshots walks past entries identical to the current
// screen.
func TestNavPop_SkipsEqualSnapshots(t *testing.T) {
	ui := &chatUI{navSnapshot: navSnapshot{Mode: modeSession, Session: "alpha"}}
	ui.nav = []navSnapshot{
		{Mode: modeSessions},
		{Mode: modeSession, Session: "alpha"},
		{Mode: modeSession, Session: "alpha"},
	}

	require.True(t, ui.navPop())
	assert.Equal(t, modeSessions, ui.Mode)
	assert.Empty(t, ui.nav)
}

// TestNavPop_EmptyStack reports false and leaves the screen alone.
func TestNavPop_EmptyStack(t *testing.T) {
	ui := &chatUI{navSnapshot: navSnapshot{Mode: modeModel, Session: "alpha"}}
	assert.False(t, ui.navPop())
	assert.Equal(t, modeModel, ui.Mode)
}

// TestNavReset clears or reseeds the stack.
func TestNavReset(t *testing.T) {
	ui := &chatUI{navSnapshot: navSnapshot{Mode: modeSession, Session: "alpha"}}
	ui.nav = []navSnapshot{{Mode: modeSessions}, {Mode: modeModel}}

	ui.navReset(nil)
	assert.Empty(t, ui.nav)

	ui.navReset(&navSnapshot{Mode: modeSessions})
	require.Len(t, ui.nav, 1)
	assert.Equal(t, modeSessions, ui.nav[0].Mode)
}

// TestSnapshot_DefaultsToSessions treats an unset mode as the sessions list.
func TestSnapshot_DefaultsToSessions(t *testing.T) {
	ui := &chatUI{}
	assert.Equal(t, modeSessions, ui.snapshot().Mode)
}
