package conversation

import (
	"sort"
)

// OptimisticIDs are the locally generated placeholder ids of one turn.
type OptimisticIDs struct {
	UserID      string
	AssistantID string
}

// mergeMessages reconciles an authoritative message list against the
// current optimistic list. Between authoritative snapshots the client
// renders partial, optimistic state; this merge is what keeps a snapshot
// from regressing it. Returns the merged list sorted by CreatedAt
// ascending, plus whichever optimistic ids survived (no replacement of
// their role arrived yet).
func mergeMessages(current, incoming []*ChatMessage, optimistic OptimisticIDs) ([]*ChatMessage, OptimisticIDs) {
	index := make(map[string]*ChatMessage, len(current))
	merged := make([]*ChatMessage, 0, len(current)+len(incoming))
	for _, message := range current {
		index[message.ID] = message
		merged = append(merged, message)
	}

	lastByRole := make(map[Role]*ChatMessage, 2)
	for _, message := range incoming {
		if existing, ok := index[message.ID]; ok {
			existing.Role = message.Role
			existing.CreatedAt = message.CreatedAt
			if message.Payload != nil {
				existing.Payload = message.Payload
			}
			existing.Parts = mergeParts(existing.Parts, message.Parts)
		} else {
			index[message.ID] = message
			merged = append(merged, message)
		}
		lastByRole[message.Role] = message
	}

	remaining := OptimisticIDs{}
	deleted := make(map[string]bool, 2)
	reconcile := func(optimisticID string, role Role) string {
		if optimisticID == "" {
			return ""
		}
		replacement := lastByRole[role]
		if replacement == nil {
			// No authoritative replacement yet: the local placeholder
			// survives, e.g. mid-stream.
			return optimisticID
		}
		if replacement.ID != optimisticID {
			deleted[optimisticID] = true
		}
		return ""
	}
	remaining.UserID = reconcile(optimistic.UserID, RoleUser)
	remaining.AssistantID = reconcile(optimistic.AssistantID, RoleAssistant)

	if len(deleted) > 0 {
		filtered := merged[:0]
		for _, message := range merged {
			if !deleted[message.ID] {
				filtered = append(filtered, message)
			}
		}
		merged = filtered
	}

	// The single ordering guarantee for display.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged, remaining
}

// mergeParts applies the part-merge rule. An authoritative snapshot often
// reports only text while the client has already recorded tool-call parts
// for the same message: those must never be silently erased. If the
// incoming parts themselves contain tool calls the server is authoritative
// for tool output too and the incoming parts replace the existing ones
// outright.
func mergeParts(existing, incoming Parts) Parts {
	for _, part := range incoming {
		switch part.(type) {
		case ToolCallPart:
			return incoming
		case TextPart:
		}
	}
	result := make(Parts, 0, len(incoming)+len(existing))
	result = append(result, incoming...)
	for _, part := range existing {
		switch part.(type) {
		case ToolCallPart:
			result = append(result, part)
		case TextPart:
		}
	}
	return result
}
