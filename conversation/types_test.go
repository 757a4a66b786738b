package conversation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartsJSONTagged(t *testing.T) {
	parts := Parts{
		TextPart{Text: "hello"},
		ToolCallPart{
			ToolCallID: "t1",
			ToolName:   "search",
			Status:     ToolStatusSuccess,
			Args:       json.RawMessage(`{"q":"x"}`),
			Result:     "found",
			Timestamp:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	data, err := json.Marshal(parts)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"text"`)
	assert.Contains(t, string(data), `"type":"tool_call"`)

	var decoded Parts
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, parts[0], decoded[0])
	toolPart, ok := decoded[1].(ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, "search", toolPart.ToolName)
	assert.Equal(t, "found", toolPart.Result)
}

func TestPartsUnmarshalUnknownType(t *testing.T) {
	var decoded Parts
	err := json.Unmarshal([]byte(`[{"type":"hologram"}]`), &decoded)
	assert.Error(t, err)
}

func TestChatMessageCloneIsDeep(t *testing.T) {
	message := &ChatMessage{
		ID:      "m1",
		Role:    RoleAssistant,
		Parts:   Parts{TextPart{Text: "hi"}, ToolCallPart{ToolCallID: "t1", Args: json.RawMessage(`{}`)}},
		Payload: map[string]any{"model": "fast"},
	}
	clone := message.Clone()
	clone.Parts[0] = TextPart{Text: "mutated"}
	clone.Payload["model"] = "slow"

	assert.Equal(t, "hi", message.Text())
	assert.Equal(t, "fast", message.Payload["model"])
}
