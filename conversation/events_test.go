package conversation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireTimeRFC3339(t *testing.T) {
	var ts wireTime
	require.NoError(t, json.Unmarshal([]byte(`"2026-01-01T12:00:00.5Z"`), &ts))
	assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 0, 500000000, time.UTC), ts.Time)
}

func TestWireTimeEpochMillis(t *testing.T) {
	var ts wireTime
	require.NoError(t, json.Unmarshal([]byte(`1767225600000`), &ts))
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ts.Time)
}

func TestWireTimeNullAndEmpty(t *testing.T) {
	var ts wireTime
	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.IsZero())
	require.NoError(t, json.Unmarshal([]byte(`""`), &ts))
	assert.True(t, ts.IsZero())
}

func TestRawToString(t *testing.T) {
	assert.Equal(t, "", rawToString(nil))
	assert.Equal(t, "plain", rawToString(json.RawMessage(`"plain"`)))
	assert.Equal(t, `{"count":3}`, rawToString(json.RawMessage(`{"count":3}`)))
}

func TestNormalizeWireMessageDropsSystemRoles(t *testing.T) {
	c := New(Options{})
	assert.Nil(t, c.normalizeWireMessage(wireMessage{ID: "m1", Role: "system"}))
	assert.Nil(t, c.normalizeWireMessage(wireMessage{ID: "m1", Role: "tool"}))
	assert.NotNil(t, c.normalizeWireMessage(wireMessage{ID: "m1", Role: "user"}))
}

func TestNormalizeWireMessageDropsMissingID(t *testing.T) {
	c := New(Options{})
	assert.Nil(t, c.normalizeWireMessage(wireMessage{Role: "user"}))
}

func TestNormalizeWireMessageContentFallback(t *testing.T) {
	c := New(Options{})
	message := c.normalizeWireMessage(wireMessage{ID: "m1", Role: "user", Content: "hello"})
	require.NotNil(t, message)
	assert.Equal(t, "hello", message.Text())
}

func TestNormalizeWireMessageSkipsUnknownParts(t *testing.T) {
	c := New(Options{})
	message := c.normalizeWireMessage(wireMessage{
		ID:   "m1",
		Role: "assistant",
		Parts: []json.RawMessage{
			json.RawMessage(`{"type":"hologram"}`),
			json.RawMessage(`{"type":"text","text":"kept"}`),
		},
	})
	require.NotNil(t, message)
	require.Len(t, message.Parts, 1)
	assert.Equal(t, "kept", message.Text())
}

func TestNormalizeWireMessageSeedsEmptyTextPart(t *testing.T) {
	c := New(Options{})
	message := c.normalizeWireMessage(wireMessage{ID: "m1", Role: "assistant"})
	require.NotNil(t, message)
	require.Len(t, message.Parts, 1)
	assert.Equal(t, "", message.Text())
	assert.False(t, message.CreatedAt.IsZero())
}
