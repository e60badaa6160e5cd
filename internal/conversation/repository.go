package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/postgres"
)

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

// NewPGRepository creates a new PostgreSQL-backed conversation repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// GetMembers returns the member identities of a conversation.
func (r *PGRepository) GetMembers(ctx context.Context, conversationID uuid.UUID) ([]string, error) {
	var raw []byte
	err := r.db.QueryRow(ctx,
		"SELECT members FROM conversations WHERE conversation_id = $1", conversationID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query conversation members: %w", err)
	}

	var members []string
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, fmt.Errorf("decode members blob: %w", err)
	}
	return members, nil
}

// Remove deletes a conversation with full cascade: the conversation row, its messages, and the matching friendship
// entry on each member's user row.
func (r *PGRepository) Remove(ctx context.Context, conversationID uuid.UUID, requester string) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx,
			"SELECT members FROM conversations WHERE conversation_id = $1 FOR UPDATE", conversationID,
		).Scan(&raw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("query conversation for removal: %w", err)
		}

		var members []string
		if err := json.Unmarshal(raw, &members); err != nil {
			return fmt.Errorf("decode members blob: %w", err)
		}

		if !slices.Contains(members, requester) {
			return ErrNoPermission
		}

		if _, err := tx.Exec(ctx,
			"DELETE FROM conversations WHERE conversation_id = $1", conversationID,
		); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}

		if _, err := tx.Exec(ctx,
			"DELETE FROM messages WHERE conversation_id = $1", conversationID,
		); err != nil {
			return fmt.Errorf("delete conversation messages: %w", err)
		}

		for _, member := range members {
			if err := removeFriendEntry(ctx, tx, member, conversationID); err != nil {
				return err
			}
		}

		return nil
	})
}

// removeFriendEntry strips the friendship entry referencing the conversation from one member's friends blob.
func removeFriendEntry(ctx context.Context, tx pgx.Tx, account string, conversationID uuid.UUID) error {
	var raw []byte
	err := tx.QueryRow(ctx,
		"SELECT friends FROM users WHERE account = $1 FOR UPDATE", account,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A member row can be missing if the account was never materialised; nothing to strip.
			return nil
		}
		return fmt.Errorf("query friends blob for %s: %w", account, err)
	}

	var entries []friendEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("decode friends blob for %s: %w", account, err)
	}

	kept := slices.DeleteFunc(entries, func(e friendEntry) bool { return e.ID == conversationID })

	updated, err := json.Marshal(kept)
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
