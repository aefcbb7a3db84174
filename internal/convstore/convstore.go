// Package convstore owns conversation persistence for the context
// engine: append-only messages whose insertion order is chronological
// order, conversation lifecycle (create, archive, delete), and the
// per-conversation cached composed context. Two implementations share
// the Store contract: an in-memory store for tests and ephemeral use,
// and a SQLite store for durable history.
package convstore

import (
	"errors"
	"time"
)

// Conversation states.
const (
	StateActive   = "active"
	StateArchived = "archived"
)

// ErrNotFound reports an unknown conversation ID. Callers treat this
// as fatal: assembling a prompt for a conversation that does not exist
// is a programming error, not a degradable condition.
var ErrNotFound = errors.New("conversation not found")

// Conversation is the per-conversation record. Messages are loaded
// separately via Store.Messages.
type Conversation struct {
	ID        string
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
	// ComposedContext is the cached static system block, nil when
	// never composed.
	ComposedContext *ComposedContext
}

// ComposedContext is the cached concatenation of base instructions and
// static fragments, stamped with its composition time for refresh
// decisions.
type ComposedContext struct {
	Text       string
	ComposedAt time.Time
}

// Message is one conversation message. Immutable once appended.
type Message struct {
	ID        string
	Role      string // system, user, assistant
	Content   string
	CreatedAt time.Time
}

// Store is the conversation persistence contract.
type Store interface {
	// GetOrCreate returns the conversation, creating it when absent.
	GetOrCreate(id string) (*Conversation, error)
	// Get returns the conversation or ErrNotFound.
	Get(id string) (*Conversation, error)
	// AppendMessage appends to an existing conversation, returning the
	// stored message. Unknown conversations yield ErrNotFound.
	AppendMessage(conversationID, role, content string) (Message, error)
	// Messages returns the conversation's messages in insertion order.
	Messages(conversationID string) ([]Message, error)
	// SetComposedContext replaces the cached composed context.
	SetComposedContext(conversationID string, cc ComposedContext) error
	// Archive marks the conversation archived; it stays readable.
	Archive(conversationID string) error
	// Delete removes the conversation and its messages.
	Delete(conversationID string) error
	Close() error
}

// validRole reports whether role is one of the roles the engine emits.
func validRole(role string) bool {
	switch role {
	case "system", "user", "assistant":
		return true
	}
	return false
}
