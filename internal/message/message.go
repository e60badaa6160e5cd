// Package message manages message rows: persistence, viewed-state propagation, and the self-destruct bookkeeping the
// background sweep runs on.
package message

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the addressed message does not exist.
	ErrNotFound = errors.New("message not found")

	// ErrConversationNotFound is returned when a message targets a conversation that does not exist.
	ErrConversationNotFound = errors.New("conversation not found")
)

// TypeGIF is the only accepted non-default message type. A GIF message carries the provider URL in GifURL.
const TypeGIF = "GIF"

// PageSize is the fixed number of messages returned per history page.
const PageSize = 20

// Message is one persisted message row.
type Message struct {
	Author         string     `json:"author"`
	Content        string     `json:"content"`
	MessageID      uuid.UUID  `json:"messageId"`
	ConversationID uuid.UUID  `json:"conversationId"`
	SelfDestruct   *int       `json:"selfDestruct"`
	Viewed         bool       `json:"viewed"`
	DeleteTime     *time.Time `json:"deleteTime"`
	MessageType    *string    `json:"messageType"`
	GifURL         *string    `json:"gifURL"`
	SendTime       time.Time  `json:"sendTime"`
}

// InsertParams carries the fields for a new message. Membership of the author is the caller's responsibility.
type InsertParams struct {
	Author         string
	ConversationID uuid.UUID
	Content        string
	MessageType    *string
	GifURL         *string
	SelfDestruct   *int
}

// ExpiredRef identifies one message due for destruction.
type ExpiredRef struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID
}

// Repository provides access to message rows.
type Repository interface {
	// Insert stores a new message and returns its id and the server-assigned send time. Returns
	// ErrConversationNotFound when the conversation does not exist.
	Insert(ctx context.Context, params InsertParams) (uuid.UUID, time.Time, error)

	// Page returns up to PageSize messages in reverse chronological order starting at offset, plus the number of
	// messages in the conversation the viewer has not yet read. Returns ErrConversationNotFound.
	Page(ctx context.Context, conversationID uuid.UUID, offset int, viewer string) ([]Message, int, error)

	// Get returns a single message by id. Returns ErrNotFound.
	Get(ctx context.Context, messageID uuid.UUID) (*Message, error)

	// MarkViewed marks one message as viewed. For a self-destructing message viewed for the first time, the delete
	// deadline is set in the same statement. Idempotent; the deadline is never moved once set.
	MarkViewed(ctx context.Context, messageID uuid.UUID) error

	// MarkViewedBulk marks the author's messages within the PageSize window at offset as viewed and stamps delete
	// deadlines on the author's viewed self-destructing messages in the conversation. Idempotent.
	MarkViewedBulk(ctx context.Context, author string, conversationID uuid.UUID, offset int) error

	// Expired returns messages past their delete deadline: viewed, self-destructing, delete_time <= now.
	Expired(ctx context.Context) ([]ExpiredRef, error)

	// DeleteExpired removes every message matching the Expired predicate.
	DeleteExpired(ctx context.Context) error
}
