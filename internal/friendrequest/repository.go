package friendrequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/postgres"
)

const selectColumns = "sender, recipient, request_id, create_time, message"

// friendEntry mirrors the on-disk shape of one element of a user's friends blob.
type friendEntry struct {
	Username string    `json:"Username"`
	ID       uuid.UUID `json:"Id"`
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed friend request repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// ListIncoming returns pending requests addressed to the account.
func (r *PGRepository) ListIncoming(ctx context.Context, account string) ([]Request, error) {
	return r.list(ctx, "recipient", account)
}

// ListOutgoing returns pending requests sent by the account.
func (r *PGRepository) ListOutgoing(ctx context.Context, account string) ([]Request, error) {
	return r.list(ctx, "sender", account)
}

func (r *PGRepository) list(ctx context.Context, column, account string) ([]Request, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM friend_requests WHERE %s = $1 ORDER BY create_time", selectColumns, column),
		account,
	)
	if err != nil {
		return nil, fmt.Errorf("query friend requests: %w", err)
	}
	defer rows.Close()

	requests := []Request{}
	for rows.Next() {
		var req Request
		if err := rows.Scan(&req.Sender, &req.Recipient, &req.RequestID, &req.CreateTime, &req.Message); err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend requests: %w", err)
	}
	return requests, nil
}

// Create inserts a pending request from sender to recipient.
func (r *PGRepository) Create(ctx context.Context, sender, recipient string, message *string) (uuid.UUID, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE account = $1)", recipient,
	).Scan(&exists)
	if err != nil {
		return uuid.Nil, fmt.Errorf("check recipient account: %w", err)
	}
	if !exists {
		return uuid.Nil, ErrRecipientNotFound
	}

	requestID := uuid.New()
	_, err = r.db.Exec(ctx,
		"INSERT INTO friend_requests (sender, recipient, request_id, message) VALUES ($1, $2, $3, $4)",
		sender, recipient, requestID, message,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return uuid.Nil, ErrAlreadyRequested
		}
		return uuid.Nil, fmt.Errorf("insert friend request: %w", err)
	}
	return requestID, nil
}

// Accept turns a pending request into a friendship: one transaction creates the conversation, appends a friendship
// entry to both user rows, and deletes the request.
func (r *PGRepository) Accept(ctx context.Context, requestID uuid.UUID, acceptor string) (*AcceptResult, error) {
	var result *AcceptResult
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var sender, recipient string
		err := tx.QueryRow(ctx,
			"SELECT sender, recipient FROM friend_requests WHERE request_id = $1 FOR UPDATE", requestID,
		).Scan(&sender, &recipient)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("query friend request: %w", err)
		}

		if recipient != acceptor {
			return ErrNoPermission
		}

		conversationID := uuid.New()

		members, err := json.Marshal([]string{sender, recipient})
		if err != nil {
			return fmt.Errorf("encode members blob: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO conversations (conversation_id, members) VALUES ($1, $2)", conversationID, members,
		); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}

		if err := appendFriendEntry(ctx, tx, sender, friendEntry{Username: recipient, ID: conversationID}); err != nil {
			return err
		}
		if err := appendFriendEntry(ctx, tx, recipient, friendEntry{Username: sender, ID: conversationID}); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			"DELETE FROM friend_requests WHERE request_id = $1", requestID,
		); err != nil {
			return fmt.Errorf("delete friend request: %w", err)
		}

		result = &AcceptResult{ConversationID: conversationID, Sender: sender}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Deny removes a pending request after verifying the denier is its recipient.
func (r *PGRepository) Deny(ctx context.Context, requestID uuid.UUID, denier string) error {
	var recipient string
	err := r.db.QueryRow(ctx,
		"SELECT recipient FROM friend_requests WHERE request_id = $1", requestID,
	).Scan(&recipient)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("query friend request: %w", err)
	}

	if recipient != denier {
		return ErrNoPermission
	}

	if _, err := r.db.Exec(ctx,
		"DELETE FROM friend_requests WHERE request_id = $1", requestID,
	); err != nil {
		return fmt.Errorf("delete friend request: %w", err)
	}
	return nil
}

// appendFriendEntry appends one entry to a user's friends blob, creating the row if the account has never been seen.
func appendFriendEntry(ctx context.Context, tx pgx.Tx, account string, entry friendEntry) error {
	if _, err := tx.Exec(ctx,
		"INSERT INTO users (account) VALUES ($1) ON CONFLICT (account) DO NOTHING", account,
	); err != nil {
		return fmt.Errorf("ensure user row for %s: %w", account, err)
	}

	var raw []byte
	if err := tx.QueryRow(ctx,
		"SELECT friends FROM users WHERE account = $1 FOR UPDATE", account,
	).Scan(&raw); err != nil {
		return fmt.Errorf("query friends blob for %s: %w", account, err)
	}

	var entries []friendEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("decode friends blob for %s: %w", account, err)
	}
	entries = append(entries, entry)

	updated, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode friends blob for %s: %w", account, err)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE users SET friends = $1 WHERE account = $2", updated, account,
	); err != nil {
		return fmt.Errorf("update friends blob for %s: %w", account, err)
	}
	return nil
}
