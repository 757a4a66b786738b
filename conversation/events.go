package conversation

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paulchrisluke/quillsync/internal/sse"
)

// Event types produced by the server.
const (
	eventMessageChunk       = "message:chunk"
	eventMessageComplete    = "message:complete"
	eventToolPreparing      = "tool:preparing"
	eventToolStart          = "tool:start"
	eventToolProgress       = "tool:progress"
	eventToolComplete       = "tool:complete"
	eventConversationUpdate = "conversation:update"
	eventConversationFinal  = "conversation:final"
	eventMessagesComplete   = "messages:complete"
	eventError              = "error"
	eventPing               = "ping"
	eventDone               = "done"
	eventLogEntry           = "log:entry"
	eventLogsComplete       = "logs:complete"
	eventAgentContext       = "agentContext:update"
)

type messageChunkEvent struct {
	MessageID string `json:"messageId"`
	Chunk     string `json:"chunk"`
}

type messageCompleteEvent struct {
	MessageID string  `json:"messageId"`
	Message   *string `json:"message"`
}

type toolEvent struct {
	ToolCallID      string          `json:"toolCallId"`
	ToolName        string          `json:"toolName"`
	MessageID       string          `json:"messageId"`
	Args            json.RawMessage `json:"args"`
	ProgressMessage string          `json:"progressMessage"`
	Success         *bool           `json:"success"`
	Result          json.RawMessage `json:"result"`
	Error           string          `json:"error"`
}

type conversationUpdateEvent struct {
	ConversationID string `json:"conversationId"`
}

type messagesCompleteEvent struct {
	Messages []wireMessage `json:"messages"`
}

type errorEvent struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type agentContextUpdateEvent struct {
	Intent string `json:"intent"`
}

// handleFrame dispatches one parsed frame. Dispatch is exhaustive: unknown
// event types are logged and ignored so new server events never crash an
// older client. Frames of a superseded turn are dropped.
func (c *Conversation) handleFrame(t *turn, frame sse.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeTurn != t {
		return
	}
	c.logger.Debug("frame", "event", frame.Event)

	switch frame.Event {
	case eventMessageChunk:
		c.handleMessageChunk(t, frame.Data)
	case eventMessageComplete:
		c.handleMessageComplete(t, frame.Data)
	case eventToolPreparing:
		c.handleToolPreparing(t, frame.Data)
	case eventToolStart:
		c.handleToolStart(t, frame.Data)
	case eventToolProgress:
		c.handleToolProgress(t, frame.Data)
	case eventToolComplete:
		c.handleToolComplete(t, frame.Data)
	case eventConversationUpdate, eventConversationFinal:
		c.handleConversationUpdate(frame.Data)
	case eventMessagesComplete:
		c.handleMessagesComplete(t, frame.Data)
	case eventError:
		c.handleError(frame.Data)
	case eventAgentContext:
		c.handleAgentContext(frame.Data)
	case eventPing, eventDone, eventLogEntry, eventLogsComplete:
		// Observability and keep-alive only.
	case "":
		c.logger.Info("frame without event type", "payload", string(frame.Data))
	default:
		c.logger.Info("unrecognized event", "event", frame.Event, "payload", string(frame.Data))
	}
}

// decodeEvent parses one frame payload. Parse failures are frame-local:
// log and skip, never abort the stream.
func decodeEvent[T any](c *Conversation, event string, data json.RawMessage) (T, bool) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn("skipping undecodable event payload", "event", event, "error", err)
		return payload, false
	}
	return payload, true
}

func (c *Conversation) handleMessageChunk(t *turn, data json.RawMessage) {
	event, ok := decodeEvent[messageChunkEvent](c, eventMessageChunk, data)
	if !ok {
		return
	}
	if event.MessageID == "" {
		c.logger.Warn("message:chunk without messageId")
		return
	}

	if c.activities.Size() > 0 {
		c.currentActivity = ActivityThinking
	} else {
		c.currentActivity = ActivityStreaming
	}

	message := c.adoptAssistantMessage(t, event.MessageID)

	// Empty chunks are valid no-op appends.
	t.text.WriteString(event.Chunk)
	c.setMessageText(message, t.text.String())
}

// adoptAssistantMessage returns the assistant message the stream writes
// to, reconciling the locally tracked id against the server-assigned one.
// A differing id renames the existing message in place rather than
// creating a duplicate.
func (c *Conversation) adoptAssistantMessage(t *turn, messageID string) *ChatMessage {
	if t.assistantID != "" && t.assistantID != messageID {
		if existing := c.findMessage(t.assistantID); existing != nil && c.findMessage(messageID) == nil {
			existing.ID = messageID
			c.activities.Retarget(t.assistantID, messageID)
			t.assistantID = messageID
			return existing
		}
		t.assistantID = ""
	}
	t.assistantID = messageID
	if message := c.findMessage(messageID); message != nil {
		return message
	}
	message := &ChatMessage{
		ID:        messageID,
		Role:      RoleAssistant,
		Parts:     Parts{TextPart{}},
		CreatedAt: c.now(),
	}
	c.messages = append(c.messages, message)
	return message
}

func (c *Conversation) setMessageText(message *ChatMessage, text string) {
	if i := message.textPartIndex(); i >= 0 {
		message.Parts[i] = TextPart{Text: text}
		return
	}
	message.Parts = append(message.Parts, TextPart{Text: text})
}

func (c *Conversation) handleMessageComplete(t *turn, data json.RawMessage) {
	event, ok := decodeEvent[messageCompleteEvent](c, eventMessageComplete, data)
	if !ok {
		return
	}
	if event.MessageID != "" && event.Message != nil {
		if message := c.findMessage(event.MessageID); message != nil {
			c.setMessageText(message, *event.Message)
		}
	}
	t.text.Reset()
	// Tools may still be running; only the streaming indicator drops.
	if c.currentActivity == ActivityStreaming {
		c.currentActivity = ActivityNone
	}
}

// resolveOwningMessage finds or synthesizes the assistant message a tool
// event belongs to.
func (c *Conversation) resolveOwningMessage(t *turn, messageID string) *ChatMessage {
	if messageID != "" {
		if message := c.findMessage(messageID); message != nil {
			return message
		}
		message := &ChatMessage{
			ID:        messageID,
			Role:      RoleAssistant,
			Parts:     Parts{TextPart{}},
			CreatedAt: c.now(),
		}
		c.messages = append(c.messages, message)
		return message
	}
	if message := c.findMessage(t.assistantID); message != nil {
		return message
	}
	message := &ChatMessage{
		ID:        "assistant-" + uuid.New().String(),
		Role:      RoleAssistant,
		Parts:     Parts{TextPart{}},
		CreatedAt: c.now(),
	}
	c.messages = append(c.messages, message)
	t.assistantID = message.ID
	return message
}

func (c *Conversation) handleToolPreparing(t *turn, data json.RawMessage) {
	event, ok := decodeEvent[toolEvent](c, eventToolPreparing, data)
	if !ok {
		return
	}
	if event.ToolCallID == "" {
		c.logger.Warn("tool:preparing without toolCallId", "tool", event.ToolName)
		return
	}

	c.currentActivity = ActivityThinking
	if event.ToolName != "" {
		c.currentToolName = event.ToolName
	}

	message := c.resolveOwningMessage(t, event.MessageID)
	c.activities.Upsert(event.ToolCallID, ToolActivity{
		MessageID: message.ID,
		ToolName:  event.ToolName,
		Status:    ToolStatusPreparing,
		Args:      event.Args,
	})

	// Idempotent: a later tool:start performs the preparing→running
	// upgrade in place, never duplicating the part.
	if message.toolCallPartIndex(event.ToolCallID) >= 0 {
		return
	}
	message.Parts = append(message.Parts, ToolCallPart{
		ToolCallID: event.ToolCallID,
		ToolName:   event.ToolName,
		Status:     ToolStatusPreparing,
		Args:       event.Args,
		Timestamp:  c.now(),
	})
}

func (c *Conversation) handleToolStart(t *turn, data json.RawMessage) {
	event, ok := decodeEvent[toolEvent](c, eventToolStart, data)
	if !ok {
		return
	}
	if event.ToolCallID == "" {
		c.logger.Warn("tool:start without toolCallId", "tool", event.ToolName)
		return
	}

	c.currentActivity = ActivityThinking
	if event.ToolName != "" {
		c.currentToolName = event.ToolName
	}

	var message *ChatMessage
	if event.MessageID != "" {
		message = c.adoptAssistantMessage(t, event.MessageID)
	} else {
		message = c.resolveOwningMessage(t, "")
	}
	c.activities.Upsert(event.ToolCallID, ToolActivity{
		MessageID: message.ID,
		ToolName:  event.ToolName,
		Status:    ToolStatusRunning,
		Args:      event.Args,
	})

	if i := message.toolCallPartIndex(event.ToolCallID); i >= 0 {
		// Upgrade in place, preserving id and position.
		part := message.Parts[i].(ToolCallPart)
		part.Status = ToolStatusRunning
		if event.ToolName != "" {
			part.ToolName = event.ToolName
		}
		if event.Args != nil {
			part.Args = event.Args
		}
		message.Parts[i] = part
		return
	}
	message.Parts = append(message.Parts, ToolCallPart{
		ToolCallID: event.ToolCallID,
		ToolName:   event.ToolName,
		Status:     ToolStatusRunning,
		Args:       event.Args,
		Timestamp:  c.now(),
	})
}

func (c *Conversation) handleToolProgress(t *turn, data json.RawMessage) {
	event, ok := decodeEvent[toolEvent](c, eventToolProgress, data)
	if !ok {
		return
	}
	if event.ToolCallID == "" {
		c.logger.Warn("tool:progress without toolCallId")
		return
	}

	// Owning message: existing activity first, then the event's own id,
	// then the tracked assistant, then a synthesized one.
	messageID := event.MessageID
	if activity := c.activities.Get(event.ToolCallID); activity != nil {
		messageID = activity.MessageID
	}
	message := c.resolveOwningMessage(t, messageID)

	c.activities.Upsert(event.ToolCallID, ToolActivity{
		MessageID:       message.ID,
		ProgressMessage: event.ProgressMessage,
	})
	if i := message.toolCallPartIndex(event.ToolCallID); i >= 0 {
		// Progress only; status and result stay untouched.
		part := message.Parts[i].(ToolCallPart)
		part.ProgressMessage = event.ProgressMessage
		message.Parts[i] = part
	}
	c.emitProgress(event.ProgressMessage)
}

func (c *Conversation) handleToolComplete(t *turn, data json.RawMessage) {
	event, ok := decodeEvent[toolEvent](c, eventToolComplete, data)
	if !ok {
		return
	}
	if event.ToolCallID == "" {
		c.logger.Warn("tool:complete without toolCallId")
		return
	}

	c.currentToolName = ""
	removed, remaining := c.activities.Remove(event.ToolCallID)

	messageID := event.MessageID
	if removed != nil && removed.MessageID != "" {
		messageID = removed.MessageID
	}
	message := c.resolveOwningMessage(t, messageID)

	status := ToolStatusSuccess
	if event.Error != "" || (event.Success != nil && !*event.Success) {
		status = ToolStatusError
	}
	part := ToolCallPart{
		ToolCallID: event.ToolCallID,
		Status:     status,
		Result:     rawToString(event.Result),
		Error:      event.Error,
		Timestamp:  c.now(),
	}
	if removed != nil {
		part.ToolName = removed.ToolName
		part.Args = removed.Args
	}
	if event.ToolName != "" {
		part.ToolName = event.ToolName
	}

	if i := message.toolCallPartIndex(event.ToolCallID); i >= 0 {
		existing := message.Parts[i].(ToolCallPart)
		existing.Status = part.Status
		existing.Result = part.Result
		existing.Error = part.Error
		existing.Timestamp = part.Timestamp
		if part.ToolName != "" {
			existing.ToolName = part.ToolName
		}
		message.Parts[i] = existing
	} else {
		message.Parts = append(message.Parts, part)
	}

	if remaining == 0 && t.text.Len() > 0 {
		c.currentActivity = ActivityStreaming
	}
}

func (c *Conversation) handleConversationUpdate(data json.RawMessage) {
	event, ok := decodeEvent[conversationUpdateEvent](c, eventConversationUpdate, data)
	if !ok {
		return
	}
	// Never overwrite with an empty value.
	if event.ConversationID != "" {
		c.conversationID = event.ConversationID
	}
}

// handleMessagesComplete applies the authoritative snapshot. This is the
// only frame allowed to reconcile optimistic ids.
func (c *Conversation) handleMessagesComplete(t *turn, data json.RawMessage) {
	event, ok := decodeEvent[messagesCompleteEvent](c, eventMessagesComplete, data)
	if !ok {
		return
	}
	incoming := make([]*ChatMessage, 0, len(event.Messages))
	for _, wire := range event.Messages {
		if message := c.normalizeWireMessage(wire); message != nil {
			incoming = append(incoming, message)
		}
	}
	c.messages, t.optimistic = mergeMessages(c.messages, incoming, t.optimistic)
	t.text.Reset()
	t.assistantID = ""
}

func (c *Conversation) handleError(data json.RawMessage) {
	event, ok := decodeEvent[errorEvent](c, eventError, data)
	if !ok {
		return
	}
	switch {
	case event.Message != "":
		c.errorMessage = event.Message
	case event.Error != "":
		c.errorMessage = event.Error
	default:
		c.errorMessage = "something went wrong, please try again"
	}
	// The stream is not terminated here; the server may still send done.
}

func (c *Conversation) handleAgentContext(data json.RawMessage) {
	event, ok := decodeEvent[agentContextUpdateEvent](c, eventAgentContext, data)
	if !ok {
		return
	}
	if event.Intent != "" {
		c.agentContext = event.Intent
	}
}

// rawToString renders a JSON value for display: strings are unquoted,
// anything else keeps its JSON text.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// wireTime accepts RFC 3339 strings or epoch milliseconds; the producer is
// a JS service and emits both across endpoints.
type wireTime struct {
	time.Time
}

func (t *wireTime) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" || text == `""` {
		return nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	millis, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return err
	}
	t.Time = time.UnixMilli(int64(millis)).UTC()
	return nil
}

// wireMessage is a server-shaped message from an authoritative snapshot.
type wireMessage struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Parts     []json.RawMessage `json:"parts"`
	Content   string            `json:"content"`
	CreatedAt wireTime          `json:"createdAt"`
	Payload   map[string]any    `json:"payload"`
}

// normalizeWireMessage converts a wire message into the internal model.
// System-authored entries and messages without ids are dropped; parts are
// decoded leniently so an unknown part variant skips the part, not the
// snapshot.
func (c *Conversation) normalizeWireMessage(wire wireMessage) *ChatMessage {
	role := Role(wire.Role)
	if role != RoleUser && role != RoleAssistant {
		return nil
	}
	if wire.ID == "" {
		c.logger.Warn("dropping snapshot message without id", "role", wire.Role)
		return nil
	}

	parts := make(Parts, 0, len(wire.Parts))
	for _, raw := range wire.Parts {
		var single Parts
		if err := single.UnmarshalJSON([]byte("[" + string(raw) + "]")); err != nil {
			c.logger.Warn("skipping unknown snapshot part", "messageId", wire.ID, "error", err)
			continue
		}
		parts = append(parts, single...)
	}
	if len(parts) == 0 && wire.Content != "" {
		parts = Parts{TextPart{Text: wire.Content}}
	}
	if len(parts) == 0 {
		// Every message carries at least one part.
		parts = Parts{TextPart{}}
	}

	createdAt := wire.CreatedAt.Time
	if createdAt.IsZero() {
		createdAt = c.now()
	}
	return &ChatMessage{
		ID:        wire.ID,
		Role:      role,
		Parts:     parts,
		CreatedAt: createdAt,
		Payload:   wire.Payload,
	}
}
