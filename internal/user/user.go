// Package user manages user rows: the account key, the friendship blob, and phonetic search. Accounts are minted by
// the external auth service; this server only ever creates empty rows on first sight of an identity.
package user

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the addressed user row does not exist.
var ErrNotFound = errors.New("user not found")

// Friend is one entry of a user's friendship list, joined with conversation activity.
type Friend struct {
	Username       string    `json:"username"`
	ConversationID uuid.UUID `json:"conversationId"`
	LastMessage    *string   `json:"lastMessage"`
	UnreadMessages int       `json:"unreadMessages"`
}

// friendEntry is the on-disk shape of one element of the friends blob. The capitalised keys are the legacy schema's.
type friendEntry struct {
	Username string    `json:"Username"`
	ID       uuid.UUID `json:"Id"`
}

// Repository provides access to user rows.
type Repository interface {
	// CreateIfMissing inserts an empty user row for the account if one does not exist. Idempotent.
	CreateIfMissing(ctx context.Context, account string) error

	// GetFriends returns the account's friendship list with per-conversation unread counts and last-message previews.
	// A missing user row is created on the fly and yields an empty list.
	GetFriends(ctx context.Context, account string) ([]Friend, error)

	// FriendUsernames returns just the usernames of the account's friends. Used for presence fan-out, where unread
	// counts and previews would be wasted work.
	FriendUsernames(ctx context.Context, account string) ([]string, error)

	// UnreadCount returns the total number of unread messages across all of the account's conversations. Returns
	// ErrNotFound if the user row does not exist.
	UnreadCount(ctx context.Context, account string) (int, error)

	// Search returns accounts whose name is phonetically similar to the query.
	Search(ctx context.Context, query string) ([]string, error)
}
