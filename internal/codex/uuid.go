package codex

import (
	"regexp"

	"github.com/google/uuid"
)

// uuidRe matches the canonical 8-4-4-4-12 hex form and nothing else.
var uuidRe = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)

// maxUUIDSearchDepth bounds the recursive walk of FindFirstUUID.
const maxUUIDSearchDepth = 6

// LooksLikeUUID returns the first UUID-shaped token embedded in value when
// value is a string, or "".
func LooksLikeUUID(value any) string {
	s, ok := value.(string)
	if !ok {
		return ""
	}
	match := uuidRe.FindString(s)
	if match == "" {
		return ""
	}
	if _, err := uuid.Parse(match); err != nil {
		return ""
	}
	return match
}

// FindFirstUUID walks an object tree to bounded depth and returns the first
// UUID-shaped token found. Map nodes check the session_id, thread_id and id
// keys before recursing into remaining values.
func FindFirstUUID(node any) string {
	return findUUID(node, 0)
}

func findUUID(node any, depth int) string {
	if depth > maxUUIDSearchDepth {
		return ""
	}
	if id := LooksLikeUUID(node); id != "" {
		return id
	}
	switch v := node.(type) {
	case map[string]any:
		for _, key := range []string{"session_id", "thread_id", "id"} {
			if val, ok := v[key]; ok {
				if id := LooksLikeUUID(val); id != "" {
					return id
				}
			}
		}
		for _, val := range v {
			if id := findUUID(val, depth+1); id != "" {
				return id
			}
		}
	case []any:
		for _, val := range v {
			if id := findUUID(val, depth+1); id != "" {
				return id
			}
		}
	}
	return ""
}
