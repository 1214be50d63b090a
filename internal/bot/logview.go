package bot

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hrygo/vibes/internal/codex"
	"github.com/hrygo/vibes/internal/logsink"
	"github.com/hrygo/vibes/internal/telegram"
)

const (
	uiPreviewMaxChars = 2400
	uiTailMaxBytes    = 64 * 1024
)

// extractLastAgentMessage scans the tail of a run log backwards for the most
// recent agent message event.
func extractLastAgentMessage(path string, maxChars int) string {
	if path == "" {
		return ""
	}
	raw := logsink.TailBytes(path, uiTailMaxBytes)
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	lines := logsink.TailLines(raw, 500)
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		var ev codex.Event
		if err := json.Unmarshal([]byte(trimmed), &ev); err != nil || ev == nil {
			continue
		}
		kind := ev.Kind()
		if kind == "agent_message" || kind == "assistant_message" {
			if text, ok := ev["text"].(string); ok && strings.TrimSpace(text) != "" {
				return telegram.TruncateText(strings.TrimSpace(text), maxChars)
			}
		}
		if strings.HasPrefix(kind, "item.") {
			if item, ok := ev.Item(); ok {
				switch codex.ItemKind(item) {
				case "assistant_message", "message":
					if text := codex.ItemText(item); strings.TrimSpace(text) != "" {
						return telegram.TruncateText(strings.TrimSpace(text), maxChars)
					}
				}
			}
		}
	}
	return ""
}

// previewFromStdoutLog re-renders the tail of a run log the same way the live
// stream renders events, so the finished view matches what the user watched.
func previewFromStdoutLog(path string, maxChars int) string {
	if path == "" {
		return ""
	}
	raw := logsink.TailBytes(path, uiTailMaxBytes)
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	var pieces []string
	lastCmd := ""
	for _, line := range logsink.TailLines(raw, 250) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		var ev codex.Event
		if err := json.Unmarshal([]byte(trimmed), &ev); err != nil || ev == nil {
			pieces = append(pieces, line)
			continue
		}

		kind := ev.Kind()
		if strings.HasPrefix(kind, "item.") {
			if item, ok := ev.Item(); ok {
				switch codex.ItemKind(item) {
				case "reasoning":
					continue
				case "command_execution":
					cexec := codex.CommandExecutionFields(item)
					isStart := cexec.Starting(kind)
					isDone := cexec.Completed(kind)
					if cexec.Command != "" && (isStart || isDone) && cexec.Command != lastCmd {
						pieces = append(pieces, fmt.Sprintf("\n$ %s\n", cexec.Command))
						lastCmd = cexec.Command
					}
					if isDone {
						if strings.TrimSpace(cexec.Output) != "" {
							pieces = append(pieces, telegram.TruncateText(cexec.Output, 800)+"\n")
						}
						if cexec.ExitCode != nil {
							pieces = append(pieces, fmt.Sprintf("(exit_code: %d)\n", *cexec.ExitCode))
						}
					}
					continue
				default:
					if text := codex.ItemText(item); text != "" {
						pieces = append(pieces, text)
						continue
					}
				}
			}
		}

		switch kind {
		case "text":
			if delta := ev.TextDelta(); delta != "" {
				pieces = append(pieces, delta)
			}
			continue
		case "agent_message", "assistant_message":
			if text, ok := ev["text"].(string); ok && text != "" {
				pieces = append(pieces, "\n"+text+"\n")
			}
			continue
		case "tool_use":
			pieces = append(pieces, fmt.Sprintf("\n[tool_use]\n%s\n", ev.ToolCommand()))
			continue
		case "tool_result":
			pieces = append(pieces, fmt.Sprintf("\n[tool_result]\n%s\n", telegram.TruncateText(ev.ToolOutput(), 800)))
			continue
		}

		if diff := ev.Diff(); diff != "" {
			pieces = append(pieces, fmt.Sprintf("\n[file_change]\n%s\n", telegram.TruncateText(diff, 800)))
			continue
		}
		if delta := ev.TextDelta(); delta != "" {
			pieces = append(pieces, delta)
		}
	}

	text := strings.TrimSpace(strings.Join(pieces, ""))
	return telegram.TruncateText(text, maxChars)
}

// previewFromStderrLog returns the last lines of a stderr log.
func previewFromStderrLog(path string, maxChars int) string {
	if path == "" {
		return ""
	}
	raw := logsink.TailBytes(path, uiTailMaxBytes)
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	tail := strings.Join(logsink.TailLines(raw, 40), "\n")
	return telegram.TruncateText(tail, maxChars)
}
