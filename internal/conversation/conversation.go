// Package conversation manages the two-member pairings that hold messages. Conversations are created only by accepting
// a friend request and destroyed only by explicit removal, which cascades to messages and both friendship entries.
package conversation

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the addressed conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrNoPermission is returned when the requester is not a member of the conversation.
	ErrNoPermission = errors.New("not a member of this conversation")
)

// Repository provides access to conversation rows.
type Repository interface {
	// GetMembers returns the two member identities of the conversation. Returns ErrNotFound if it does not exist.
	GetMembers(ctx context.Context, conversationID uuid.UUID) ([]string, error)

	// Remove deletes the conversation, its messages, and the friendship entries it backs on both member rows, all in
	// one transaction. The requester must be a member. Returns ErrNotFound or ErrNoPermission.
	Remove(ctx context.Context, conversationID uuid.UUID, requester string) error
}
