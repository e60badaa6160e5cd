// Package friendrequest manages pending friend requests and the accept path that turns one into a friendship with its
// backing conversation.
package friendrequest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRecipientNotFound is returned when the request targets an account that does not exist.
	ErrRecipientNotFound = errors.New("recipient account not found")

	// ErrAlreadyRequested is returned when a pending request from the sender to the recipient already exists.
	ErrAlreadyRequested = errors.New("friend request already outgoing")

	// ErrNotFound is returned when the addressed request does not exist.
	ErrNotFound = errors.New("friend request not found")

	// ErrNoPermission is returned when the caller is not the recipient of the request.
	ErrNoPermission = errors.New("not the recipient of this request")
)

// Request is one pending friend request.
type Request struct {
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient"`
	RequestID  uuid.UUID `json:"requestId"`
	CreateTime time.Time `json:"createTime"`
	Message    *string   `json:"message"`
}

// AcceptResult carries the outcome of accepting a request: the new conversation and who originally asked.
type AcceptResult struct {
	ConversationID uuid.UUID
	Sender         string
}

// Repository provides access to friend request rows.
type Repository interface {
	// ListIncoming returns pending requests addressed to the account.
	ListIncoming(ctx context.Context, account string) ([]Request, error)

	// ListOutgoing returns pending requests sent by the account.
	ListOutgoing(ctx context.Context, account string) ([]Request, error)

	// Create inserts a pending request from sender to recipient. Returns ErrRecipientNotFound when the recipient has
	// no account and ErrAlreadyRequested when a pending (sender, recipient) row exists.
	Create(ctx context.Context, sender, recipient string, message *string) (uuid.UUID, error)

	// Accept atomically verifies the acceptor is the recipient, creates the conversation, appends friendship entries
	// to both user rows, and deletes the request. Returns ErrNotFound or ErrNoPermission.
	Accept(ctx context.Context, requestID uuid.UUID, acceptor string) (*AcceptResult, error)

	// Deny deletes a pending request addressed to the denier. Returns ErrNotFound or ErrNoPermission.
	Deny(ctx context.Context, requestID uuid.UUID, denier string) error
}
