package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/postgres"
)

const selectColumns = `author, content, message_id, conversation_id, self_destruct, viewed, delete_time,
message_type, gif_url, send_time`

// expiredPredicate matches messages eligible for destruction: viewed, carrying a self-destruct value, and past their
// delete deadline.
const expiredPredicate = "delete_time <= now() AND self_destruct IS NOT NULL AND viewed = true"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed message repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Insert stores a new message after verifying the conversation exists, both inside one transaction so the message
// cannot land in a conversation that is being removed concurrently.
func (r *PGRepository) Insert(ctx context.Context, params InsertParams) (uuid.UUID, time.Time, error) {
	messageID := uuid.New()
	var sendTime time.Time

	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM conversations WHERE conversation_id = $1)", params.ConversationID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check conversation: %w", err)
		}
		if !exists {
			return ErrConversationNotFound
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO messages (author, content, message_id, conversation_id, self_destruct, message_type, gif_url)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING send_time`,
			params.Author, params.Content, messageID, params.ConversationID,
			params.SelfDestruct, params.MessageType, params.GifURL,
		).Scan(&sendTime)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return messageID, sendTime, nil
}

// Page returns one history page in reverse chronological order plus the viewer's unread count for the conversation.
func (r *PGRepository) Page(ctx context.Context, conversationID uuid.UUID, offset int, viewer string) ([]Message, int, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM conversations WHERE conversation_id = $1)", conversationID,
	).Scan(&exists)
	if err != nil {
		return nil, 0, fmt.Errorf("check conversation: %w", err)
	}
	if !exists {
		return nil, 0, ErrConversationNotFound
	}

	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM messages
		 WHERE conversation_id = $1
		 ORDER BY id DESC
		 LIMIT %d OFFSET $2`, selectColumns, PageSize),
		conversationID, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate messages: %w", err)
	}

	var unread int
	err = r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM messages WHERE conversation_id = $1 AND viewed = false AND author != $2",
		conversationID, viewer,
	).Scan(&unread)
	if err != nil {
		return nil, 0, fmt.Errorf("count unread messages: %w", err)
	}

	return messages, unread, nil
}

// Get returns a single message by id.
func (r *PGRepository) Get(ctx context.Context, messageID uuid.UUID) (*Message, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM messages WHERE message_id = $1", selectColumns), messageID,
	)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query message by id: %w", err)
	}
	return msg, nil
}

// MarkViewed marks one message as viewed. The delete deadline is assigned in the same statement the first time a
// self-destructing message is viewed and never touched again.
func (r *PGRepository) MarkViewed(ctx context.Context, messageID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages
		 SET viewed = true,
		     delete_time = CASE
		         WHEN self_destruct IS NOT NULL AND delete_time IS NULL
		         THEN now() + make_interval(mins => self_destruct)
		         ELSE delete_time
		     END
		 WHERE message_id = $1`,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("mark message viewed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkViewedBulk marks the author's messages in the page window as viewed and stamps delete deadlines on the author's
// viewed self-destructing messages, all in one transaction.
func (r *PGRepository) MarkViewedBulk(ctx context.Context, author string, conversationID uuid.UUID, offset int) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE messages
			 SET viewed = true
			 WHERE id IN (
			     SELECT id FROM messages
			     WHERE conversation_id = $1
			     ORDER BY id DESC
			     LIMIT %d OFFSET $2
			 ) AND author = $3`, PageSize),
			conversationID, offset, author,
		)
		if err != nil {
			return fmt.Errorf("mark messages viewed: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE messages
			 SET delete_time = now() + make_interval(mins => self_destruct)
			 WHERE conversation_id = $1
			   AND author = $2
			   AND viewed = true
			   AND self_destruct IS NOT NULL
			   AND delete_time IS NULL`,
			conversationID, author,
		)
		if err != nil {
			return fmt.Errorf("stamp delete deadlines: %w", err)
		}
		return nil
	})
}

// Expired returns messages due for destruction.
func (r *PGRepository) Expired(ctx context.Context) ([]ExpiredRef, error) {
	rows, err := r.db.Query(ctx,
		"SELECT conversation_id, message_id FROM messages WHERE "+expiredPredicate,
	)
	if err != nil {
		return nil, fmt.Errorf("query expired messages: %w", err)
	}
	defer rows.Close()

	var refs []ExpiredRef
	for rows.Next() {
		var ref ExpiredRef
		if err := rows.Scan(&ref.ConversationID, &ref.MessageID); err != nil {
			return nil, fmt.Errorf("scan expired message: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired messages: %w", err)
	}
	return refs, nil
}

// DeleteExpired removes every message matching the expiry predicate.
func (r *PGRepository) DeleteExpired(ctx context.Context) error {
	if _, err := r.db.Exec(ctx,
		"DELETE FROM messages WHERE "+expiredPredicate,
	); err != nil {
		return fmt.Errorf("delete expired messages: %w", err)
	}
	return nil
}

// scanMessage scans a single row into a Message struct.
func scanMessage(row pgx.Row) (*Message, error) {
	var msg Message
	err := row.Scan(
		&msg.Author, &msg.Content, &msg.MessageID, &msg.ConversationID, &msg.SelfDestruct,
		&msg.Viewed, &msg.DeleteTime, &msg.MessageType, &msg.GifURL, &msg.SendTime,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
