package convstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore keeps conversations in memory. Safe for concurrent use.
type MemStore struct {
	mu            sync.RWMutex
	conversations map[string]*memConversation

	nowFunc func() time.Time
}

type memConversation struct {
	conv     Conversation
	messages []Message
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		conversations: make(map[string]*memConversation),
		nowFunc:       time.Now,
	}
}

func (s *MemStore) GetOrCreate(id string) (*Conversation, error) {
	if id == "" {
		return nil, fmt.Errorf("conversation id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.conversations[id]
	if !ok {
		now := s.nowFunc().UTC()
		mc = &memConversation{
			conv: Conversation{
				ID:        id,
				State:     StateActive,
				CreatedAt: now,
				UpdatedAt: now,
			},
		}
		s.conversations[id] = mc
	}

	conv := mc.copy()
	return &conv, nil
}

func (s *MemStore) Get(id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mc, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", id, ErrNotFound)
	}

	conv := mc.copy()
	return &conv, nil
}

func (s *MemStore) AppendMessage(conversationID, role, content string) (Message, error) {
	if !validRole(role) {
		return Message{}, fmt.Errorf("invalid message role %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.conversations[conversationID]
	if !ok {
		return Message{}, fmt.Errorf("append to %q: %w", conversationID, ErrNotFound)
	}

	id, _ := uuid.NewV7()
	msg := Message{
		ID:        id.String(),
		Role:      role,
		Content:   content,
		CreatedAt: s.nowFunc().UTC(),
	}
	mc.messages = append(mc.messages, msg)
	mc.conv.UpdatedAt = msg.CreatedAt

	return msg, nil
}

func (s *MemStore) Messages(conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mc, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("messages of %q: %w", conversationID, ErrNotFound)
	}

	out := make([]Message, len(mc.messages))
	copy(out, mc.messages)
	return out, nil
}

func (s *MemStore) SetComposedContext(conversationID string, cc ComposedContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("set composed context of %q: %w", conversationID, ErrNotFound)
	}

	mc.conv.ComposedContext = &ComposedContext{
		Text:       cc.Text,
		ComposedAt: cc.ComposedAt.UTC(),
	}
	mc.conv.UpdatedAt = s.nowFunc().UTC()
	return nil
}

func (s *MemStore) Archive(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("archive %q: %w", conversationID, ErrNotFound)
	}

	mc.conv.State = StateArchived
	mc.conv.UpdatedAt = s.nowFunc().UTC()
	return nil
}

func (s *MemStore) Delete(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return fmt.Errorf("delete %q: %w", conversationID, ErrNotFound)
	}

	delete(s.conversations, conversationID)
	return nil
}

func (s *MemStore) Close() error { return nil }

// copy returns a detached copy so callers cannot mutate store state.
func (mc *memConversation) copy() Conversation {
	conv := mc.conv
	if mc.conv.ComposedContext != nil {
		cc := *mc.conv.ComposedContext
		conv.ComposedContext = &cc
	}
	return conv
}
