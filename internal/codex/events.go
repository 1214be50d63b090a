// Package codex integrates the codex CLI: command construction, model preset
// discovery, and structural extraction from its line-JSON event stream.
//
// Event shapes vary across CLI versions and providers, so every extractor is
// a pure function over a weakly typed object tree with a pinned priority
// order of field lookups.
package codex

import "strings"

// Event is one decoded line-JSON object from the CLI stdout.
type Event map[string]any

func stringField(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if val, ok := obj[key].(string); ok && val != "" {
			return val
		}
	}
	return ""
}

func trimmedField(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if val, ok := obj[key].(string); ok && strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func dataOf(obj map[string]any) (map[string]any, bool) {
	data, ok := obj["data"].(map[string]any)
	return data, ok
}

// Kind returns the event kind: the first non-empty string among the type,
// event, kind and name fields.
func (e Event) Kind() string {
	return trimmedField(e, "type", "event", "kind", "name")
}

// SessionIDExplicit searches the well-known locations of the continuation id:
// session_id / thread_id at the top level, nested thread.id / session.id, and
// the same set mirrored under data. Candidates must look like a UUID.
func (e Event) SessionIDExplicit() string {
	var candidates []any
	collect := func(obj map[string]any) {
		candidates = append(candidates, obj["session_id"], obj["thread_id"])
		if thread, ok := obj["thread"].(map[string]any); ok {
			candidates = append(candidates, thread["id"])
		}
		if session, ok := obj["session"].(map[string]any); ok {
			candidates = append(candidates, session["id"])
		}
	}
	collect(e)
	if data, ok := dataOf(e); ok {
		collect(data)
	}
	for _, cand := range candidates {
		if id := LooksLikeUUID(cand); id != "" {
			return id
		}
	}
	return ""
}

// SessionID resolves the continuation id from explicit fields, falling back
// to the first UUID-shaped token anywhere in the event within bounded depth.
func (e Event) SessionID() string {
	if id := e.SessionIDExplicit(); id != "" {
		return id
	}
	return FindFirstUUID(map[string]any(e))
}

// TextDelta returns the first non-empty of delta, text, content at the top
// level or under data.
func (e Event) TextDelta() string {
	if val := stringField(e, "delta", "text", "content"); val != "" {
		return val
	}
	if data, ok := dataOf(e); ok {
		return stringField(data, "delta", "text", "content")
	}
	return ""
}

// Item returns the item object from the event, checking item then data.item.
func (e Event) Item() (map[string]any, bool) {
	if item, ok := e["item"].(map[string]any); ok {
		return item, true
	}
	if data, ok := dataOf(e); ok {
		if item, ok := data["item"].(map[string]any); ok {
			return item, true
		}
	}
	return nil, false
}

// ItemKind returns the trimmed type field of an item object.
func ItemKind(item map[string]any) string {
	return trimmedField(item, "type")
}

// ItemText returns the item text with the same priority as TextDelta.
func ItemText(item map[string]any) string {
	return stringField(item, "delta", "text", "content")
}

// ToolCommand extracts the command of a tool invocation: command/cmd at the
// top level or under data, then input.command and data.input.command.
func (e Event) ToolCommand() string {
	if val := trimmedField(e, "command", "cmd"); val != "" {
		return val
	}
	data, hasData := dataOf(e)
	if hasData {
		if val := trimmedField(data, "command", "cmd"); val != "" {
			return val
		}
	}
	if input, ok := e["input"].(map[string]any); ok {
		if val := trimmedField(input, "command"); val != "" {
			return val
		}
	}
	if hasData {
		if input, ok := data["input"].(map[string]any); ok {
			if val := trimmedField(input, "command"); val != "" {
				return val
			}
		}
	}
	return ""
}

// ToolOutput extracts a tool result: output, stdout, result or text at the
// top level or under data.
func (e Event) ToolOutput() string {
	if val := stringField(e, "output", "stdout", "result", "text"); val != "" {
		return val
	}
	if data, ok := dataOf(e); ok {
		return stringField(data, "output", "stdout", "result", "text")
	}
	return ""
}

// Diff extracts a diff snippet: diff, patch or unified_diff at the top level
// or under data. Unlike the text extractors, whitespace-only values are
// ignored but the original value is returned untrimmed.
func (e Event) Diff() string {
	if val := rawField(e, "diff", "patch", "unified_diff"); val != "" {
		return val
	}
	if data, ok := dataOf(e); ok {
		return rawField(data, "diff", "patch", "unified_diff")
	}
	return ""
}

// rawField returns the first keyed string that is not whitespace-only,
// untrimmed.
func rawField(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if val, ok := obj[key].(string); ok && strings.TrimSpace(val) != "" {
			return val
		}
	}
	return ""
}

// CommandExecution holds the interpreted fields of a command_execution item.
type CommandExecution struct {
	Command  string
	Output   string // aggregated_output
	Status   string // in_progress | completed | failed
	ExitCode *int
}

// CommandExecutionFields interprets a command_execution item object.
func CommandExecutionFields(item map[string]any) CommandExecution {
	var exec CommandExecution
	exec.Command = trimmedField(item, "command")
	if val, ok := item["aggregated_output"].(string); ok {
		exec.Output = val
	}
	exec.Status = trimmedField(item, "status")
	if val, ok := item["exit_code"].(float64); ok {
		code := int(val)
		exec.ExitCode = &code
	}
	return exec
}

// Starting reports whether a command execution is beginning, derived from
// the event kind suffix or the item status.
func (c CommandExecution) Starting(eventKind string) bool {
	return strings.HasSuffix(eventKind, "started") || c.Status == "in_progress"
}

// Completed reports whether a command execution has finished, derived from
// the event kind suffix or the item status.
func (c CommandExecution) Completed(eventKind string) bool {
	return strings.HasSuffix(eventKind, "completed") ||
		c.Status == "completed" || c.Status == "failed"
}
