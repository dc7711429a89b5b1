// Package domain contains the core types of the chat-to-ledger pipeline.
package domain

import (
	"time"
)

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// OperationRecord is the structured trace of an operation attached to a
// chat message, so later turns can refer back to it.
type OperationRecord struct {
	Kind      IntentKind        `json:"kind"`
	Params    map[string]string `json:"params,omitempty"`
	Status    string            `json:"status"`
	Result    string            `json:"result,omitempty"`
	TxID      string            `json:"txId,omitempty"`
	Cost      string            `json:"cost,omitempty"`
	Error     string            `json:"error,omitempty"`
	ErrorKind ErrorKind         `json:"errorKind,omitempty"`
}

// ChatMessage is a single entry in the conversation history.
type ChatMessage struct {
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	Operation *OperationRecord `json:"operation,omitempty"`
}

// Context is the conversational state of a session.
type Context struct {
	History []ChatMessage `json:"history"`

	// The last-referenced fields outlive history eviction.
	LastEntityName string           `json:"lastEntityName,omitempty"`
	LastAddress    string           `json:"lastAddress,omitempty"`
	LastOperation  IntentKind       `json:"lastOperation,omitempty"`
	LastResult     *OperationRecord `json:"lastResult,omitempty"`
}

// Append adds a message and evicts the oldest entries beyond window.
func (c *Context) Append(msg ChatMessage, window int) {
	c.History = append(c.History, msg)
	if window > 0 && len(c.History) > window {
		drop := len(c.History) - window
		trimmed := make([]ChatMessage, window)
		copy(trimmed, c.History[drop:])
		c.History = trimmed
	}
}

// Recent returns the last n messages.
func (c *Context) Recent(n int) []ChatMessage {
	if n >= len(c.History) {
		return c.History
	}
	return c.History[len(c.History)-n:]
}

// Snapshot is the read-only view of a session handed to pure components
// such as the intent recognizer.
type Snapshot struct {
	Owner          string
	LastEntityName string
	LastAddress    string
	LastOperation  IntentKind
	HistoryLength  int
}

// Session is the conversational and transactional state for one key.
type Session struct {
	Key string `json:"key"`
	// Owner is the wallet address bound to the session, empty for
	// anonymous sessions.
	Owner     string         `json:"owner,omitempty"`
	Context   Context        `json:"context"`
	Pending   *PendingAction `json:"pending,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// NewSession creates an empty session for key.
func NewSession(key, owner string, now time.Time) *Session {
	return &Session{
		Key:       key,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Snapshot copies the fields recognizers are allowed to see.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Owner:          s.Owner,
		LastEntityName: s.Context.LastEntityName,
		LastAddress:    s.Context.LastAddress,
		LastOperation:  s.Context.LastOperation,
		HistoryLength:  len(s.Context.History),
	}
}

// Reset discards the conversation and any pending action.
func (s *Session) Reset(now time.Time) {
	s.Context = Context{}
	s.Pending = nil
	s.UpdatedAt = now
}
