// Package conversation implements the client-side synchronization engine
// for a streamed chat turn: it consumes the server's event-tagged SSE
// stream and maintains a consistent, orderable message log under
// concurrent mutation, cancellation, and eventual authoritative correction.
package conversation

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/paulchrisluke/quillsync/internal/debug"
	"github.com/paulchrisluke/quillsync/internal/sse"
)

// Transport opens one streaming chat request and returns the response body.
// A non-2xx response must surface as an error carrying the best available
// message from the response body.
type Transport interface {
	OpenStream(ctx context.Context, request *ChatRequest) (io.ReadCloser, error)
}

// ChatRequest is the JSON body of a chat turn.
type ChatRequest struct {
	Message        string `json:"message"`
	Mode           string `json:"mode"`
	ConversationID string `json:"conversationId,omitempty"`
	ContentID      string `json:"contentId,omitempty"`
}

// ProgressFunc receives human-readable progress strings. It is
// fire-and-forget: panics are recovered and logged, and it must not call
// back into the Conversation.
type ProgressFunc func(message string)

// Options configure a Conversation.
type Options struct {
	Transport  Transport
	Cache      *MessageCache
	OnProgress ProgressFunc
	Logger     *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Conversation owns one conversation's message log, status, and tool
// activity. It is an explicitly constructed engine: multiple independent
// instances can coexist. All state is guarded by a single mutex and every
// frame applies atomically under it.
type Conversation struct {
	transport  Transport
	cache      *MessageCache
	onProgress ProgressFunc
	logger     *slog.Logger
	now        func() time.Time

	mu              sync.Mutex
	messages        []*ChatMessage
	status          Status
	errorMessage    string
	conversationID  string
	currentActivity Activity
	currentToolName string
	agentContext    string
	activities      *activityTracker
	activeTurn      *turn
}

// turn holds the per-turn accumulators and the cancellation handle of one
// in-flight request.
type turn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	optimistic OptimisticIDs
	// assistantID tracks the message the stream is currently writing to;
	// it starts as the optimistic placeholder id and is renamed in place
	// once the server assigns a real one.
	assistantID string
	text        strings.Builder
}

// New returns a ready Conversation.
func New(options Options) *Conversation {
	logger := options.Logger
	if logger == nil {
		logger = debug.GetLogger()
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	cache := options.Cache
	if cache == nil {
		cache = NewMessageCache()
	}
	return &Conversation{
		transport:  options.Transport,
		cache:      cache,
		onProgress: options.OnProgress,
		logger:     logger,
		now:        now,
		status:     StatusReady,
		activities: newActivityTracker(now),
	}
}

// SendOptions tune one turn.
type SendOptions struct {
	Mode      string
	ContentID string
}

// SendMessage appends an optimistic user message and assistant placeholder,
// then runs the full turn against the transport, blocking until the stream
// ends, errors, or is aborted. Blank input is a no-op. The returned error
// mirrors the error surfaced on the conversation; aborts return nil.
func (c *Conversation) SendMessage(ctx context.Context, text string, options SendOptions) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if c.transport == nil {
		return errors.New("conversation has no transport")
	}

	createdAt := c.now()
	userMessage := &ChatMessage{
		ID:        "optimistic-user-" + uuid.New().String(),
		Role:      RoleUser,
		Parts:     Parts{TextPart{Text: text}},
		CreatedAt: createdAt,
	}
	// The +1ms guarantees stable sort order before the server assigns real
	// timestamps.
	assistantMessage := &ChatMessage{
		ID:        "optimistic-assistant-" + uuid.New().String(),
		Role:      RoleAssistant,
		Parts:     Parts{TextPart{}},
		CreatedAt: createdAt.Add(time.Millisecond),
	}

	c.mu.Lock()
	c.messages = append(c.messages, userMessage, assistantMessage)
	conversationID := c.conversationID
	c.mu.Unlock()

	request := &ChatRequest{
		Message:        text,
		Mode:           options.Mode,
		ConversationID: conversationID,
		ContentID:      options.ContentID,
	}
	return c.callChatEndpoint(ctx, request, OptimisticIDs{
		UserID:      userMessage.ID,
		AssistantID: assistantMessage.ID,
	})
}

// callChatEndpoint owns one full turn: controller swap, status
// transitions, stream consumption, and rollback on abort or error.
func (c *Conversation) callChatEndpoint(ctx context.Context, request *ChatRequest, optimistic OptimisticIDs) error {
	turnCtx, cancel := context.WithCancel(ctx)
	t := &turn{
		ctx:         turnCtx,
		cancel:      cancel,
		optimistic:  optimistic,
		assistantID: optimistic.AssistantID,
	}

	c.mu.Lock()
	// At most one in-flight turn: last write wins.
	if c.activeTurn != nil {
		c.activeTurn.cancel()
	}
	c.activeTurn = t
	c.status = StatusSubmitted
	c.currentActivity = ActivityThinking
	c.errorMessage = ""
	c.mu.Unlock()

	defer func() {
		cancel()
		// Runs on every exit path: clear per-turn accumulators and tool
		// activity, and release the controller unless a newer turn has
		// already replaced it.
		c.mu.Lock()
		t.text.Reset()
		t.assistantID = ""
		if c.activeTurn == t || c.activeTurn == nil {
			c.activities.Clear()
		}
		if c.activeTurn == t {
			c.activeTurn = nil
		}
		c.mu.Unlock()
	}()

	body, err := c.transport.OpenStream(turnCtx, request)
	if err != nil {
		return c.finishTurn(t, err)
	}
	defer body.Close()

	c.mu.Lock()
	c.status = StatusStreaming
	c.mu.Unlock()

	decoder := sse.NewDecoder(c.logger)
	err = decoder.Stream(turnCtx, body, func(frame sse.Frame) error {
		c.handleFrame(t, frame)
		return nil
	})
	return c.finishTurn(t, err)
}

// finishTurn applies the terminal transition for a turn. A cancelled
// context is a graceful, silent return to ready; anything else is surfaced
// as an error state. Cancellation carries a structured reason here, so no
// error-message sniffing is needed.
func (c *Conversation) finishTurn(t *turn, err error) error {
	aborted := t.ctx.Err() != nil && errors.Is(context.Cause(t.ctx), context.Canceled)
	if err != nil && !aborted {
		aborted = errors.Is(err, context.Canceled)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A newer turn may have replaced this one already; its rollback still
	// applies but the status surface belongs to the newer turn.
	isActive := c.activeTurn == t
	switch {
	case err == nil, aborted:
		if aborted {
			// The user's own message may already be committed server-side;
			// only the assistant placeholder is rolled back.
			c.removeMessage(t.optimistic.AssistantID)
		}
		if isActive {
			c.status = StatusReady
			c.currentActivity = ActivityNone
			c.currentToolName = ""
		}
		return nil
	default:
		c.removeMessage(t.optimistic.AssistantID)
		c.removeMessage(t.optimistic.UserID)
		if isActive {
			c.status = StatusError
			c.errorMessage = errorText(err)
			c.currentActivity = ActivityNone
			c.currentToolName = ""
		}
		return err
	}
}

func errorText(err error) string {
	if err == nil || strings.TrimSpace(err.Error()) == "" {
		return "something went wrong, please try again"
	}
	return err.Error()
}

// StopResponse aborts the in-flight turn, if any. Returns whether an abort
// was actually issued.
func (c *Conversation) StopResponse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeTurn == nil {
		return false
	}
	c.activeTurn.cancel()
	return true
}

// ResetConversation replaces all state wholesale and aborts any in-flight
// turn.
func (c *Conversation) ResetConversation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeTurn != nil {
		c.activeTurn.cancel()
		c.activeTurn = nil
	}
	c.messages = nil
	c.status = StatusReady
	c.errorMessage = ""
	c.conversationID = ""
	c.currentActivity = ActivityNone
	c.currentToolName = ""
	c.agentContext = ""
	c.activities.Clear()
}

// HydrateConversation replaces the state with a known conversation's
// messages, e.g. after navigation. The snapshot is written to the cache
// unless skipCache is set.
func (c *Conversation) HydrateConversation(conversationID string, messages []*ChatMessage, skipCache bool) {
	hydrated := cloneMessages(messages)
	sort.SliceStable(hydrated, func(i, j int) bool {
		return hydrated[i].CreatedAt.Before(hydrated[j].CreatedAt)
	})

	c.mu.Lock()
	if c.activeTurn != nil {
		c.activeTurn.cancel()
		c.activeTurn = nil
	}
	c.messages = hydrated
	c.status = StatusReady
	c.errorMessage = ""
	c.conversationID = conversationID
	c.currentActivity = ActivityNone
	c.currentToolName = ""
	c.activities.Clear()
	c.mu.Unlock()

	if !skipCache {
		c.cache.Set(conversationID, hydrated)
	}
}

// Cache returns the conversation's message cache.
func (c *Conversation) Cache() *MessageCache {
	return c.cache
}

// Messages returns a deep copy of the log, sorted by CreatedAt ascending.
func (c *Conversation) Messages() []*ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneMessages(c.messages)
}

// Status returns the engine status.
func (c *Conversation) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ErrorMessage returns the last surfaced error, empty when none.
func (c *Conversation) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorMessage
}

// IsBusy reports whether a turn is submitted or streaming.
func (c *Conversation) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusSubmitted || c.status == StatusStreaming
}

// ConversationID returns the server-assigned conversation id, if known.
func (c *Conversation) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// CurrentActivity returns the visible activity indicator.
func (c *Conversation) CurrentActivity() Activity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentActivity
}

// CurrentToolName returns the name of the tool most recently announced.
func (c *Conversation) CurrentToolName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentToolName
}

// ActiveToolActivities returns a list view over the live tool activities,
// ordered by start time.
func (c *Conversation) ActiveToolActivities() []*ToolActivity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activities.List()
}

// AgentContext returns the latest intent snapshot streamed by the agent.
func (c *Conversation) AgentContext() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentContext
}

// findMessage returns the message with the given id, or nil.
func (c *Conversation) findMessage(id string) *ChatMessage {
	if id == "" {
		return nil
	}
	for _, message := range c.messages {
		if message.ID == id {
			return message
		}
	}
	return nil
}

// removeMessage drops the message with the given id, matching by the
// original id only.
func (c *Conversation) removeMessage(id string) {
	if id == "" {
		return
	}
	for i, message := range c.messages {
		if message.ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}

// emitProgress forwards a progress string to the sink. Sink failures must
// never affect the state machine.
func (c *Conversation) emitProgress(message string) {
	if c.onProgress == nil || message == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("progress sink panicked", "panic", r)
		}
	}()
	c.onProgress(message)
}
