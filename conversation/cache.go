package conversation

import (
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long a cached snapshot may be reused across
// navigations.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	messages  []*ChatMessage
	timestamp time.Time
}

// MessageCache holds deep-cloned message snapshots keyed by conversation
// id, evicted lazily when read after their TTL has elapsed. Set is only
// called from explicit hydration, not from every streaming mutation, which
// bounds churn to once per conversation view.
type MessageCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMessageCache returns a cache with the default 5 minute TTL.
func NewMessageCache() *MessageCache {
	return &MessageCache{
		entries: make(map[string]cacheEntry),
		ttl:     DefaultCacheTTL,
		now:     time.Now,
	}
}

// Get returns a deep-cloned copy of the cached messages, never the live
// slice. A stale entry is evicted and nil returned.
func (c *MessageCache) Get(conversationID string) []*ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[conversationID]
	if !ok {
		return nil
	}
	if c.now().Sub(entry.timestamp) > c.ttl {
		delete(c.entries, conversationID)
		return nil
	}
	return cloneMessages(entry.messages)
}

// Set stores a deep-cloned snapshot for the conversation.
func (c *MessageCache) Set(conversationID string, messages []*ChatMessage) {
	if conversationID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[conversationID] = cacheEntry{
		messages:  cloneMessages(messages),
		timestamp: c.now(),
	}
}

// Delete drops the cached snapshot for the conversation.
func (c *MessageCache) Delete(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, conversationID)
}

// Len returns the number of live entries (stale entries included until
// read).
func (c *MessageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
