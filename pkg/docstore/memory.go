package docstore

import (
	"context"
	"sync"

	"github.com/kadirpekel/conductor/pkg/protocol"
)

// MemoryStore is an in-process MessageStore used by tests and zero-config
// mode. It enforces the same message-id uniqueness as the Mongo store.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]struct{}
	byConv   map[string][]protocol.Message
	insertFn func(protocol.Message) error // test hook, may be nil
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]struct{}),
		byConv: make(map[string][]protocol.Message),
	}
}

// SetInsertHook installs a function invoked before each insert; returning
// an error makes the insert fail. Used to simulate store outages in tests.
func (s *MemoryStore) SetInsertHook(fn func(protocol.Message) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertFn = fn
}

func (s *MemoryStore) EnsureIndexes(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Insert(ctx context.Context, msg protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertFn != nil {
		if err := s.insertFn(msg); err != nil {
			return err
		}
	}

	if _, exists := s.byID[msg.ID]; exists {
		return ErrDuplicateID
	}

	s.byID[msg.ID] = struct{}{}
	s.byConv[msg.ConversationID] = append(s.byConv[msg.ConversationID], msg)
	return nil
}

func (s *MemoryStore) ListByConversation(ctx context.Context, conversationID string) ([]protocol.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.byConv[conversationID]
	out := make([]protocol.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
