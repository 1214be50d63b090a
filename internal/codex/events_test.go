package codex

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEvent(t *testing.T, raw string) Event {
	t.Helper()
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return ev
}

// TestEvent_Kind checks the lookup priority of the kind field.
func TestEvent_Kind(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"type wins", `{"type":"text","event":"other"}`, "text"},
		{"event fallback", `{"event":"thread.started"}`, "thread.started"},
		{"kind fallback", `{"kind":"tool_use"}`, "tool_use"},
		{"name fallback", `{"name":"item.completed"}`, "item.completed"},
		{"whitespace trimmed", `{"type":"  text  "}`, "text"},
		{"nothing", `{"id":"x"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeEvent(t, tt.raw).Kind())
		})
	}
}

// TestEvent_SessionID covers explicit id locations and the bounded fallback
// scan.
func TestEvent_SessionID(t *testing.T) {
	const id = "0c5ba2e8-4f0f-4be4-9df5-8b7a2a5fd21c"

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"top-level session_id", `{"session_id":"` + id + `"}`, id},
		{"top-level thread_id", `{"thread_id":"` + id + `"}`, id},
		{"nested thread object", `{"thread":{"id":"` + id + `"}}`, id},
		{"under data", `{"data":{"session":{"id":"` + id + `"}}}`, id},
		{"embedded in text", `{"session_id":"session ` + id + ` ready"}`, id},
		{"fallback deep scan", `{"payload":{"meta":{"id":"` + id + `"}}}`, id},
		{"not a uuid", `{"session_id":"not-a-uuid"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeEvent(t, tt.raw).SessionID())
		})
	}
}

// TestEvent_SessionIDExplicit must not fall back to arbitrary UUID-shaped
// values outside the known fields.
func TestEvent_SessionIDExplicit(t *testing.T) {
	const id = "0c5ba2e8-4f0f-4be4-9df5-8b7a2a5fd21c"
	ev := decodeEvent(t, `{"payload":{"meta":{"id":"`+id+`"}}}`)
	assert.Empty(t, ev.SessionIDExplicit())
	assert.Equal(t, id, ev.SessionID())
}

// TestEvent_TextDelta checks the delta/text/content priority at both levels.
func TestEvent_TextDelta(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"delta wins", `{"delta":"a","text":"b"}`, "a"},
		{"text fallback", `{"text":"b","content":"c"}`, "b"},
		{"content fallback", `{"content":"c"}`, "c"},
		{"under data", `{"data":{"delta":"d"}}`, "d"},
		{"top level wins over data", `{"text":"top","data":{"delta":"d"}}`, "top"},
		{"none", `{"type":"text"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeEvent(t, tt.raw).TextDelta())
		})
	}
}

// TestEvent_Item resolves item objects at the top level and under data.
func TestEvent_Item(t *testing.T) {
	ev := decodeEvent(t, `{"item":{"type":"reasoning"}}`)
	item, ok := ev.Item()
	require.True(t, ok)
	assert.Equal(t, "reasoning", ItemKind(item))

	ev = decodeEvent(t, `{"data":{"item":{"type":"command_execution","text":"x"}}}`)
	item, ok = ev.Item()
	require.True(t, ok)
	assert.Equal(t, "command_execution", ItemKind(item))
	assert.Equal(t, "x", ItemText(item))

	_, ok = decodeEvent(t, `{"type":"text"}`).Item()
	assert.False(t, ok)
}

// TestEvent_ToolCommand checks all four lookup locations in order.
func TestEvent_ToolCommand(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"command", `{"command":"ls -la"}`, "ls -la"},
		{"cmd", `{"cmd":"pwd"}`, "pwd"},
		{"data command", `{"data":{"command":"make"}}`, "make"},
		{"input command", `{"input":{"command":"go test"}}`, "go test"},
		{"data input command", `{"data":{"input":{"command":"go vet"}}}`, "go vet"},
		{"none", `{"type":"tool_use"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeEvent(t, tt.raw).ToolCommand())
		})
	}
}

// TestEvent_Diff returns diffs untrimmed but ignores whitespace-only values.
func TestEvent_Diff(t *testing.T) {
	ev := decodeEvent(t, `{"diff":"--- a\n+++ b\n"}`)
	assert.Equal(t, "--- a\n+++ b\n", ev.Diff())

	ev = decodeEvent(t, `{"patch":"   "}`)
	assert.Empty(t, ev.Diff())

	ev = decodeEvent(t, `{"data":{"unified_diff":"@@ -1 +1 @@"}}`)
	assert.Equal(t, "@@ -1 +1 @@", ev.Diff())
}

// TestCommandExecutionFields interprets a command_execution item.
func TestCommandExecutionFields(t *testing.T) {
	ev := decodeEvent(t, `{
		"type": "item.completed",
		"item": {
			"type": "command_execution",
			"command": "  go build ./...  ",
			"aggregated_output": "ok\n",
			"status": "completed",
			"exit_code": 0
		}
	}`)
	item, ok := ev.Item()
	require.True(t, ok)

	cexec := CommandExecutionFields(item)
	assert.Equal(t, "go build ./...", cexec.Command)
	assert.Equal(t, "ok\n", cexec.Output)
	require.NotNil(t, cexec.ExitCode)
	assert.Equal(t, 0, *cexec.ExitCode)
	assert.True(t, cexec.Completed("item.completed"))
	assert.False(t, cexec.Starting("item.completed"))
}

// TestCommandExecution_StartingCompleted covers the kind-suffix and status
// derivations.
func TestCommandExecution_StartingCompleted(t *testing.T) {
	assert.True(t, CommandExecution{}.Starting("item.started"))
	assert.True(t, CommandExecution{Status: "in_progress"}.Starting("item.updated"))
	assert.False(t, CommandExecution{}.Starting("item.updated"))

	assert.True(t, CommandExecution{}.Completed("item.completed"))
	assert.True(t, CommandExecution{Status: "failed"}.Completed("item.updated"))
	assert.False(t, CommandExecution{Status: "in_progress"}.Completed("item.updated"))
}
