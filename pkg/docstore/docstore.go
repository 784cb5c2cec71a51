// Package docstore defines the document store capability port for
// persistent conversation messages.
package docstore

import (
	"context"
	"errors"

	"github.com/kadirpekel/conductor/pkg/protocol"
)

// ErrDuplicateID is returned by Insert when a message with the same id
// already exists. The unique index on message_id enforces this.
var ErrDuplicateID = errors.New("duplicate message id")

// MessageStore is the persistent message capability port.
type MessageStore interface {
	// EnsureIndexes creates the sparse unique index on message_id.
	EnsureIndexes(ctx context.Context) error

	// Insert persists a message. Returns ErrDuplicateID if a message with
	// the same id is already stored.
	Insert(ctx context.Context, msg protocol.Message) error

	// ListByConversation returns all messages of a conversation in append
	// order.
	ListByConversation(ctx context.Context, conversationID string) ([]protocol.Message, error)

	// Close releases resources held by the store.
	Close(ctx context.Context) error
}
