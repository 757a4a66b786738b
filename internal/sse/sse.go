// Package sse decodes server-sent event streams into discrete frames.
//
// The decoder is incremental: chunks may split lines or whole frames at
// arbitrary byte boundaries and the held-back remainder is carried into the
// next feed. A malformed payload never aborts the stream; the frame is
// logged and skipped.
package sse

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
)

// Frame is one parsed (eventType, payload) unit from the stream. Event is
// empty when no "event:" line preceded the data line.
type Frame struct {
	Event string
	Data  json.RawMessage
}

// doneSentinel marks explicit end of stream without being a JSON event.
const doneSentinel = "[DONE]"

// Decoder accumulates chunks and emits complete frames.
type Decoder struct {
	buffer       string
	pendingEvent string
	logger       *slog.Logger
}

// NewDecoder returns a decoder logging skipped frames to the given logger.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Decoder{logger: logger}
}

// Feed appends a chunk and returns the frames completed by it. The last
// line segment is held back until a newline terminates it.
func (d *Decoder) Feed(chunk string) []Frame {
	d.buffer += chunk
	lines := strings.Split(d.buffer, "\n")
	// The final segment may be an incomplete line; it is never emitted in
	// this pass.
	d.buffer = lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	var frames []Frame
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case line == "":
			// Blank line ends an event group.
			d.pendingEvent = ""
		case strings.HasPrefix(line, "event: "):
			d.pendingEvent = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			payload := strings.TrimPrefix(line, "data: ")
			event := d.pendingEvent
			d.pendingEvent = ""
			if strings.TrimSpace(payload) == doneSentinel {
				continue
			}
			if !json.Valid([]byte(payload)) {
				d.logger.Warn("skipping malformed frame payload", "event", event, "payload", payload)
				continue
			}
			frames = append(frames, Frame{Event: event, Data: json.RawMessage(payload)})
		}
	}
	return frames
}

// Stream reads r to completion, invoking handler for each frame in arrival
// order. A handler error stops the stream and is returned. Residual buffer
// content at EOF cannot be a complete frame and is discarded. Cancellation
// is cooperative: the underlying reader is expected to fail once the
// request context is cancelled, and ctx is also checked between reads.
func (d *Decoder) Stream(ctx context.Context, r io.Reader, handler func(Frame) error) error {
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			for _, frame := range d.Feed(string(buf[:n])) {
				if err := handler(frame); err != nil {
					return err
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
