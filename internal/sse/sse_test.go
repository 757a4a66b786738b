package sse

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedSingleFrame(t *testing.T) {
	d := NewDecoder(nil)
	frames := d.Feed("event: message:chunk\ndata: {\"text\":\"hi\"}\n\n")
	require.Len(t, frames, 1)
	assert.Equal(t, "message:chunk", frames[0].Event)
	assert.JSONEq(t, `{"text":"hi"}`, string(frames[0].Data))
}

func TestFeedSplitAcrossChunks(t *testing.T) {
	d := NewDecoder(nil)
	// Split mid-line: nothing should be emitted until the newline arrives.
	frames := d.Feed("event: tool:st")
	assert.Empty(t, frames)
	frames = d.Feed("art\ndata: {\"toolCallId\"")
	assert.Empty(t, frames)
	frames = d.Feed(":\"t1\"}\n")
	require.Len(t, frames, 1)
	assert.Equal(t, "tool:start", frames[0].Event)
	assert.JSONEq(t, `{"toolCallId":"t1"}`, string(frames[0].Data))
}

func TestFeedMultipleFramesOneChunk(t *testing.T) {
	d := NewDecoder(nil)
	input := "event: a\ndata: {}\n\nevent: b\ndata: {\"n\":1}\n\n"
	frames := d.Feed(input)
	require.Len(t, frames, 2)
	assert.Equal(t, "a", frames[0].Event)
	assert.Equal(t, "b", frames[1].Event)
}

func TestFeedDataWithoutEvent(t *testing.T) {
	d := NewDecoder(nil)
	frames := d.Feed("data: {\"raw\":true}\n")
	require.Len(t, frames, 1)
	assert.Equal(t, "", frames[0].Event)
}

func TestFeedBlankLineResetsPendingEvent(t *testing.T) {
	d := NewDecoder(nil)
	// The blank line ends the event group, so the data line that follows
	// carries no event type.
	frames := d.Feed("event: message:chunk\n\ndata: {\"text\":\"x\"}\n")
	require.Len(t, frames, 1)
	assert.Equal(t, "", frames[0].Event)
}

func TestFeedEventConsumedOnce(t *testing.T) {
	d := NewDecoder(nil)
	frames := d.Feed("event: e\ndata: {}\ndata: {}\n")
	require.Len(t, frames, 2)
	assert.Equal(t, "e", frames[0].Event)
	assert.Equal(t, "", frames[1].Event)
}

func TestFeedDoneSentinel(t *testing.T) {
	d := NewDecoder(nil)
	frames := d.Feed("data: [DONE]\n")
	assert.Empty(t, frames)
}

func TestFeedMalformedPayloadSkipped(t *testing.T) {
	d := NewDecoder(nil)
	frames := d.Feed("event: e\ndata: {not json\ndata: {\"ok\":true}\n")
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"ok":true}`, string(frames[0].Data))
}

func TestFeedCRLF(t *testing.T) {
	d := NewDecoder(nil)
	frames := d.Feed("event: e\r\ndata: {}\r\n\r\n")
	require.Len(t, frames, 1)
	assert.Equal(t, "e", frames[0].Event)
}

func TestStreamReadsToEOF(t *testing.T) {
	d := NewDecoder(nil)
	r := strings.NewReader("event: a\ndata: {}\n\nevent: b\ndata: {}\n\ndata: incomplete")
	var events []string
	err := d.Stream(context.Background(), r, func(frame Frame) error {
		events = append(events, frame.Event)
		return nil
	})
	require.NoError(t, err)
	// The residual unterminated line is discarded.
	assert.Equal(t, []string{"a", "b"}, events)
}

func TestStreamHandlerErrorStops(t *testing.T) {
	d := NewDecoder(nil)
	r := strings.NewReader("data: {}\ndata: {}\n")
	calls := 0
	err := d.Stream(context.Background(), r, func(frame Frame) error {
		calls++
		return io.ErrClosedPipe
	})
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, 1, calls)
}

func TestStreamCancelledContext(t *testing.T) {
	d := NewDecoder(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Stream(ctx, strings.NewReader("data: {}\n"), func(Frame) error {
		t.Fatal("handler should not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
