package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageAt(id string, role Role, text string, createdAt time.Time) *ChatMessage {
	return &ChatMessage{
		ID:        id,
		Role:      role,
		Parts:     Parts{TextPart{Text: text}},
		CreatedAt: createdAt,
	}
}

func messageIDs(messages []*ChatMessage) []string {
	ids := make([]string, len(messages))
	for i, message := range messages {
		ids[i] = message.ID
	}
	return ids
}

func TestMergeReplacesOptimisticMessages(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := []*ChatMessage{
		messageAt("optimistic-user-1", RoleUser, "hi", base),
		messageAt("optimistic-assistant-1", RoleAssistant, "partial", base.Add(time.Millisecond)),
	}
	incoming := []*ChatMessage{
		messageAt("u1", RoleUser, "hi", base),
		messageAt("a1", RoleAssistant, "hello there", base.Add(time.Second)),
	}

	merged, remaining := mergeMessages(current, incoming, OptimisticIDs{
		UserID:      "optimistic-user-1",
		AssistantID: "optimistic-assistant-1",
	})
	assert.Equal(t, []string{"u1", "a1"}, messageIDs(merged))
	assert.Empty(t, remaining.UserID)
	assert.Empty(t, remaining.AssistantID)
}

func TestMergeKeepsOptimisticWithoutReplacement(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := []*ChatMessage{
		messageAt("optimistic-user-1", RoleUser, "hi", base),
		messageAt("optimistic-assistant-1", RoleAssistant, "", base.Add(time.Millisecond)),
	}
	// Snapshot only confirms the user message; the assistant is still
	// streaming and its placeholder must survive.
	incoming := []*ChatMessage{
		messageAt("u1", RoleUser, "hi", base),
	}

	merged, remaining := mergeMessages(current, incoming, OptimisticIDs{
		UserID:      "optimistic-user-1",
		AssistantID: "optimistic-assistant-1",
	})
	assert.Equal(t, []string{"u1", "optimistic-assistant-1"}, messageIDs(merged))
	assert.Empty(t, remaining.UserID)
	assert.Equal(t, "optimistic-assistant-1", remaining.AssistantID)
}

func TestMergeMatchingIDUpdatesInPlace(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := []*ChatMessage{messageAt("a1", RoleAssistant, "partial", base)}
	incoming := []*ChatMessage{messageAt("a1", RoleAssistant, "full answer", base.Add(time.Second))}

	merged, _ := mergeMessages(current, incoming, OptimisticIDs{})
	require.Len(t, merged, 1)
	assert.Equal(t, "full answer", merged[0].Text())
	assert.Equal(t, base.Add(time.Second), merged[0].CreatedAt)
}

func TestMergeSortsByCreatedAt(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := []*ChatMessage{messageAt("late", RoleAssistant, "", base.Add(time.Hour))}
	incoming := []*ChatMessage{messageAt("early", RoleUser, "", base)}

	merged, _ := mergeMessages(current, incoming, OptimisticIDs{})
	assert.Equal(t, []string{"early", "late"}, messageIDs(merged))
}

func TestMergePartsPreservesToolHistory(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := messageAt("a1", RoleAssistant, "working on it", base)
	existing.Parts = append(existing.Parts, ToolCallPart{
		ToolCallID: "t1",
		ToolName:   "search",
		Status:     ToolStatusSuccess,
	})
	// Authoritative snapshot reports only text for the same message.
	incoming := []*ChatMessage{messageAt("a1", RoleAssistant, "final answer", base)}

	merged, _ := mergeMessages([]*ChatMessage{existing}, incoming, OptimisticIDs{})
	require.Len(t, merged, 1)
	require.Len(t, merged[0].Parts, 2)
	assert.Equal(t, "final answer", merged[0].Text())
	toolPart, ok := merged[0].Parts[1].(ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, "t1", toolPart.ToolCallID)
}

func TestMergePartsIncomingToolCallsReplace(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := messageAt("a1", RoleAssistant, "working", base)
	existing.Parts = append(existing.Parts, ToolCallPart{ToolCallID: "stale"})

	snapshot := messageAt("a1", RoleAssistant, "final", base)
	snapshot.Parts = append(snapshot.Parts, ToolCallPart{ToolCallID: "fresh", Status: ToolStatusSuccess})

	merged, _ := mergeMessages([]*ChatMessage{existing}, []*ChatMessage{snapshot}, OptimisticIDs{})
	require.Len(t, merged, 1)
	require.Len(t, merged[0].Parts, 2)
	toolPart, ok := merged[0].Parts[1].(ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, "fresh", toolPart.ToolCallID)
}

func TestMergeNilPayloadDoesNotClobber(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := messageAt("a1", RoleAssistant, "", base)
	existing.Payload = map[string]any{"model": "fast"}
	incoming := []*ChatMessage{messageAt("a1", RoleAssistant, "answer", base)}

	merged, _ := mergeMessages([]*ChatMessage{existing}, incoming, OptimisticIDs{})
	require.Len(t, merged, 1)
	assert.Equal(t, map[string]any{"model": "fast"}, merged[0].Payload)
}
