package docstore

import (
	"context"
	"testing"

	"github.com/kadirpekel/conductor/pkg/protocol"
)

func TestMemoryStore_InsertAndList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	m1 := protocol.NewMessage("conv_1", protocol.RoleUser, "hello")
	m2 := protocol.NewMessage("conv_1", protocol.RoleAssistant, "hi there")

	if err := s.Insert(ctx, m1); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := s.Insert(ctx, m2); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	msgs, err := s.ListByConversation(ctx, "conv_1")
	if err != nil {
		t.Fatalf("ListByConversation() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].ID != m1.ID || msgs[1].ID != m2.ID {
		t.Error("messages should be returned in append order")
	}
}

func TestMemoryStore_DuplicateID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	msg := protocol.NewMessage("conv_1", protocol.RoleUser, "hello")
	if err := s.Insert(ctx, msg); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := s.Insert(ctx, msg); err != ErrDuplicateID {
		t.Errorf("second Insert() error = %v, want ErrDuplicateID", err)
	}

	msgs, _ := s.ListByConversation(ctx, "conv_1")
	if len(msgs) != 1 {
		t.Errorf("len(msgs) = %d, want 1 after duplicate rejection", len(msgs))
	}
}

func TestMemoryStore_EmptyConversation(t *testing.T) {
	s := NewMemoryStore()
	msgs, err := s.ListByConversation(context.Background(), "nope")
	if err != nil {
		t.Fatalf("ListByConversation() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("len(msgs) = %d, want 0", len(msgs))
	}
}
