package domain

import (
	"sync"
)

// Conversation is the ordered, mutable message list of one chat. Insertion order
// is causal order. All methods are safe for concurrent use.
type Conversation struct {
	mu        sync.Mutex
	messages  []Message
	finalized map[string]struct{}
	epoch     uint64
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{finalized: make(map[string]struct{})}
}

// Append adds msg at the tail and returns the conversation epoch it was added in.
func (c *Conversation) Append(msg Message) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg.Clone())
	return c.epoch
}

// AppendSnapshot adds msg and, atomically with it, returns the epoch and a
// deep copy of the resulting message list.
func (c *Conversation) AppendSnapshot(msg Message) (uint64, []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg.Clone())
	return c.epoch, CloneMessages(c.messages)
}

// AppendIfEpoch adds msg only when no Clear happened since epoch was observed.
func (c *Conversation) AppendIfEpoch(epoch uint64, msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.messages = append(c.messages, msg.Clone())
	return true
}

// AppendDelta appends text to the message identified by id. It is a no-op
// returning false unless that message is the current tail and not finalized.
func (c *Conversation) AppendDelta(id, delta string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return false
	}
	if _, done := c.finalized[id]; done {
		return false
	}
	last := &c.messages[len(c.messages)-1]
	if last.ID != id {
		return false
	}
	last.Content += delta
	return true
}

// Finalize freezes the message with the given id.
func (c *Conversation) Finalize(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized == nil {
		c.finalized = make(map[string]struct{})
	}
	c.finalized[id] = struct{}{}
}

// Snapshot returns a deep copy of the current messages.
func (c *Conversation) Snapshot() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CloneMessages(c.messages)
}

// Len reports the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Epoch reports how many times the conversation has been cleared.
func (c *Conversation) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Clear removes every message. Pending generations against the previous epoch
// can no longer write into the conversation.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.finalized = make(map[string]struct{})
	c.epoch++
}
