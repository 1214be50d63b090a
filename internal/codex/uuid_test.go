package codex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleUUID = "0c5ba2e8-4f0f-4be4-9df5-8b7a2a5fd21c"

// TestLooksLikeUUID accepts only canonical UUID tokens inside strings.
func TestLooksLikeUUID(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"bare uuid", sampleUUID, sampleUUID},
		{"embedded", "thread " + sampleUUID + " opened", sampleUUID},
		{"uppercase", "0C5BA2E8-4F0F-4BE4-9DF5-8B7A2A5FD21C", "0C5BA2E8-4F0F-4BE4-9DF5-8B7A2A5FD21C"},
		{"wrong shape", "0c5ba2e8-4f0f", ""},
		{"not a string", 42, ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LooksLikeUUID(tt.value))
		})
	}
}

// TestFindFirstUUID prefers the well-known keys before recursing.
func TestFindFirstUUID(t *testing.T) {
	other := "11111111-2222-4333-8444-555555555555"
	node := map[string]any{
		"noise":      map[string]any{"deep": other},
		"session_id": sampleUUID,
	}
	assert.Equal(t, sampleUUID, FindFirstUUID(node))

	assert.Equal(t, other, FindFirstUUID([]any{"x", map[string]any{"id": other}}))
	assert.Empty(t, FindFirstUUID(map[string]any{"a": 1, "b": "nope"}))
}

// TestFindFirstUUID_DepthBound stops descending past the recursion limit.
func TestFindFirstUUID_DepthBound(t *testing.T) {
	node := any(sampleUUID)
	for i := 0; i < 10; i++ {
		node = map[string]any{"wrap": node}
	}
	assert.Empty(t, FindFirstUUID(node))
}
