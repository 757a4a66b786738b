package conversation

import (
	"encoding/json"
	"sort"
	"time"

	"dario.cat/mergo"
	"github.com/scylladb/go-set/strset"
)

// ToolActivity is the ephemeral state of one in-progress tool invocation,
// tracked outside the message log until it reaches a terminal state.
//
// Activities are keyed by tool-call id, never by tool name: concurrent
// invocations of the same tool must remain distinguishable.
type ToolActivity struct {
	ToolCallID      string
	MessageID       string
	ToolName        string
	Status          ToolStatus
	Args            json.RawMessage
	ProgressMessage string
	StartedAt       time.Time
}

// Clone returns a deep copy of the activity.
func (a *ToolActivity) Clone() *ToolActivity {
	clone := *a
	if a.Args != nil {
		clone.Args = append(json.RawMessage(nil), a.Args...)
	}
	return &clone
}

// activityTracker maps tool-call ids to their live activities.
type activityTracker struct {
	byID map[string]*ToolActivity
	ids  *strset.Set
	now  func() time.Time
}

func newActivityTracker(now func() time.Time) *activityTracker {
	if now == nil {
		now = time.Now
	}
	return &activityTracker{
		byID: make(map[string]*ToolActivity),
		ids:  strset.New(),
		now:  now,
	}
}

// Upsert merges patch onto the existing entry for toolCallID, creating one
// from defaults if absent. A resolvable message id (from the patch or the
// existing entry) is required: without one no mutation happens and nil is
// returned.
func (t *activityTracker) Upsert(toolCallID string, patch ToolActivity) *ToolActivity {
	if toolCallID == "" {
		return nil
	}
	existing := t.byID[toolCallID]
	if patch.MessageID == "" && (existing == nil || existing.MessageID == "") {
		return nil
	}

	var base ToolActivity
	if existing != nil {
		base = *existing.Clone()
	} else {
		base = ToolActivity{
			ToolCallID: toolCallID,
			Status:     ToolStatusPreparing,
			StartedAt:  t.now(),
		}
	}
	patch.ToolCallID = toolCallID
	// Non-zero patch fields win; zero fields leave the base untouched.
	if err := mergo.Merge(&base, patch, mergo.WithOverride); err != nil {
		return nil
	}

	t.byID[toolCallID] = &base
	t.ids.Add(toolCallID)
	return base.Clone()
}

// Remove deletes the activity for toolCallID and returns the prior value
// plus the remaining map size. Removing an unknown id is a no-op.
func (t *activityTracker) Remove(toolCallID string) (*ToolActivity, int) {
	activity, ok := t.byID[toolCallID]
	if !ok {
		return nil, len(t.byID)
	}
	delete(t.byID, toolCallID)
	t.ids.Remove(toolCallID)
	return activity, len(t.byID)
}

// Clear empties the tracker. Returns false if it was already empty so
// callers can avoid redundant state emission.
func (t *activityTracker) Clear() bool {
	if len(t.byID) == 0 {
		return false
	}
	t.byID = make(map[string]*ToolActivity)
	t.ids.Clear()
	return true
}

func (t *activityTracker) Get(toolCallID string) *ToolActivity {
	return t.byID[toolCallID]
}

func (t *activityTracker) Size() int {
	return len(t.byID)
}

func (t *activityTracker) Has(toolCallID string) bool {
	return t.ids.Has(toolCallID)
}

// List returns the live activities ordered by start time.
func (t *activityTracker) List() []*ToolActivity {
	activities := make([]*ToolActivity, 0, len(t.byID))
	for _, activity := range t.byID {
		activities = append(activities, activity.Clone())
	}
	sort.Slice(activities, func(i, j int) bool {
		if activities[i].StartedAt.Equal(activities[j].StartedAt) {
			return activities[i].ToolCallID < activities[j].ToolCallID
		}
		return activities[i].StartedAt.Before(activities[j].StartedAt)
	})
	return activities
}

// Retarget re-points activities owned by oldMessageID at newMessageID.
// Used when a streamed message's id is reconciled in place.
func (t *activityTracker) Retarget(oldMessageID, newMessageID string) {
	for _, activity := range t.byID {
		if activity.MessageID == oldMessageID {
			activity.MessageID = newMessageID
		}
	}
}
