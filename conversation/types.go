package conversation

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Role of a chat message. System-authored messages are filtered out before
// they reach this layer.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status of the conversation engine.
type Status string

const (
	StatusReady     Status = "ready"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

// Activity describes what the assistant is visibly doing right now.
// The zero value means idle.
type Activity string

const (
	ActivityNone      Activity = ""
	ActivityThinking  Activity = "thinking"
	ActivityStreaming Activity = "streaming"
)

// ToolStatus is the lifecycle state of one tool call.
type ToolStatus string

const (
	ToolStatusPreparing ToolStatus = "preparing"
	ToolStatusRunning   ToolStatus = "running"
	ToolStatusSuccess   ToolStatus = "success"
	ToolStatusError     ToolStatus = "error"
)

// Terminal reports whether the status ends the tool call's lifecycle.
func (s ToolStatus) Terminal() bool {
	return s == ToolStatusSuccess || s == ToolStatusError
}

// MessagePart is the closed union of content carried by a message.
// The two variants are TextPart and ToolCallPart; dispatch sites switch
// exhaustively over them.
type MessagePart interface {
	isMessagePart()
	ClonePart() MessagePart
}

// TextPart holds text that accumulates incrementally during streaming.
type TextPart struct {
	Text string
}

func (TextPart) isMessagePart() {}

// ClonePart returns a copy of the part.
func (p TextPart) ClonePart() MessagePart { return p }

// ToolCallPart records one tool invocation on a message.
type ToolCallPart struct {
	ToolCallID      string
	ToolName        string
	Status          ToolStatus
	Args            json.RawMessage
	Result          string
	Error           string
	ProgressMessage string
	Timestamp       time.Time
}

func (ToolCallPart) isMessagePart() {}

// ClonePart returns a deep copy of the part.
func (p ToolCallPart) ClonePart() MessagePart {
	clone := p
	if p.Args != nil {
		clone.Args = append(json.RawMessage(nil), p.Args...)
	}
	return clone
}

// Parts is an ordered, non-empty sequence of message parts. Order has
// meaning: text generally precedes or follows tool invocations
// chronologically within one assistant turn.
type Parts []MessagePart

const (
	partTypeText     = "text"
	partTypeToolCall = "tool_call"
)

type partEnvelope struct {
	Type            string          `json:"type"`
	Text            string          `json:"text,omitempty"`
	ToolCallID      string          `json:"toolCallId,omitempty"`
	ToolName        string          `json:"toolName,omitempty"`
	Status          ToolStatus      `json:"status,omitempty"`
	Args            json.RawMessage `json:"args,omitempty"`
	Result          string          `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	ProgressMessage string          `json:"progressMessage,omitempty"`
	Timestamp       *time.Time      `json:"timestamp,omitempty"`
}

// MarshalJSON encodes each part with a "type" tag.
func (p Parts) MarshalJSON() ([]byte, error) {
	envelopes := make([]partEnvelope, 0, len(p))
	for _, part := range p {
		switch part := part.(type) {
		case TextPart:
			envelopes = append(envelopes, partEnvelope{Type: partTypeText, Text: part.Text})
		case ToolCallPart:
			envelope := partEnvelope{
				Type:            partTypeToolCall,
				ToolCallID:      part.ToolCallID,
				ToolName:        part.ToolName,
				Status:          part.Status,
				Args:            part.Args,
				Result:          part.Result,
				Error:           part.Error,
				ProgressMessage: part.ProgressMessage,
			}
			if !part.Timestamp.IsZero() {
				timestamp := part.Timestamp
				envelope.Timestamp = &timestamp
			}
			envelopes = append(envelopes, envelope)
		default:
			return nil, errors.Errorf("unknown message part type %T", part)
		}
	}
	return json.Marshal(envelopes)
}

// UnmarshalJSON decodes a tagged part list.
func (p *Parts) UnmarshalJSON(data []byte) error {
	var envelopes []partEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return errors.Wrap(err, "unmarshaling parts")
	}
	parts := make(Parts, 0, len(envelopes))
	for _, envelope := range envelopes {
		switch envelope.Type {
		case partTypeText:
			parts = append(parts, TextPart{Text: envelope.Text})
		case partTypeToolCall:
			part := ToolCallPart{
				ToolCallID:      envelope.ToolCallID,
				ToolName:        envelope.ToolName,
				Status:          envelope.Status,
				Args:            envelope.Args,
				Result:          envelope.Result,
				Error:           envelope.Error,
				ProgressMessage: envelope.ProgressMessage,
			}
			if envelope.Timestamp != nil {
				part.Timestamp = *envelope.Timestamp
			}
			parts = append(parts, part)
		default:
			return errors.Errorf("unknown message part type %q", envelope.Type)
		}
	}
	*p = parts
	return nil
}

// Clone deep-copies the part list.
func (p Parts) Clone() Parts {
	if p == nil {
		return nil
	}
	clone := make(Parts, len(p))
	for i, part := range p {
		clone[i] = part.ClonePart()
	}
	return clone
}

// ChatMessage is one entry of the conversation log.
type ChatMessage struct {
	// ID is stable once assigned by the server; it may start out as a
	// locally generated placeholder id.
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Parts     Parts          `json:"parts"`
	CreatedAt time.Time      `json:"createdAt"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Clone deep-copies the message.
func (m *ChatMessage) Clone() *ChatMessage {
	clone := *m
	clone.Parts = m.Parts.Clone()
	clone.Payload = clonePayload(m.Payload)
	return &clone
}

// textPartIndex returns the index of the first text part, or -1.
func (m *ChatMessage) textPartIndex() int {
	for i, part := range m.Parts {
		if _, ok := part.(TextPart); ok {
			return i
		}
	}
	return -1
}

// toolCallPartIndex returns the index of the tool-call part with the given
// id, or -1.
func (m *ChatMessage) toolCallPartIndex(toolCallID string) int {
	for i, part := range m.Parts {
		if part, ok := part.(ToolCallPart); ok && part.ToolCallID == toolCallID {
			return i
		}
	}
	return -1
}

// hasToolCallParts reports whether any part is a tool call.
func (m *ChatMessage) hasToolCallParts() bool {
	for _, part := range m.Parts {
		if _, ok := part.(ToolCallPart); ok {
			return true
		}
	}
	return false
}

// Text returns the accumulated text of the first text part.
func (m *ChatMessage) Text() string {
	if i := m.textPartIndex(); i >= 0 {
		return m.Parts[i].(TextPart).Text
	}
	return ""
}

func cloneMessages(messages []*ChatMessage) []*ChatMessage {
	if messages == nil {
		return nil
	}
	clones := make([]*ChatMessage, len(messages))
	for i, message := range messages {
		clones[i] = message.Clone()
	}
	return clones
}

// clonePayload copies opaque metadata. The payload arrives off the wire so
// a JSON round trip is lossless; on the off chance it is not marshalable we
// fall back to a top-level copy.
func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err == nil {
		var clone map[string]any
		if err := json.Unmarshal(data, &clone); err == nil {
			return clone
		}
	}
	clone := make(map[string]any, len(payload))
	for key, value := range payload {
		clone[key] = value
	}
	return clone
}
