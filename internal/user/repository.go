package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed user repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// CreateIfMissing inserts an empty user row for the account if one does not exist.
func (r *PGRepository) CreateIfMissing(ctx context.Context, account string) error {
	_, err := r.db.Exec(ctx,
		"INSERT INTO users (account) VALUES ($1) ON CONFLICT (account) DO NOTHING", account,
	)
	if err != nil {
		return fmt.Errorf("insert user row: %w", err)
	}
	return nil
}

// friendEntries loads and decodes the friends blob for an account. Returns ErrNotFound when the row is absent.
func (r *PGRepository) friendEntries(ctx context.Context, account string) ([]friendEntry, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, "SELECT friends FROM users WHERE account = $1", account).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query friends blob: %w", err)
	}

	var entries []friendEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode friends blob: %w", err)
	}
	return entries, nil
}

// GetFriends returns the account's friendship list with unread counts and the most recent message per conversation.
// Unknown accounts get an empty row created so later operations see them.
func (r *PGRepository) GetFriends(ctx context.Context, account string) ([]Friend, error) {
	entries, err := r.friendEntries(ctx, account)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if createErr := r.CreateIfMissing(ctx, account); createErr != nil {
				return nil, createErr
			}
			return []Friend{}, nil
		}
		return nil, err
	}

	friends := make([]Friend, 0, len(entries))
	for _, entry := range entries {
		var unread int
		err := r.db.QueryRow(ctx,
			"SELECT COUNT(*) FROM messages WHERE conversation_id = $1 AND viewed = false AND author != $2",
			entry.ID, account,
		).Scan(&unread)
		if err != nil {
			return nil, fmt.Errorf("count unread messages: %w", err)
		}

		var last *string
		err = r.db.QueryRow(ctx,
			"SELECT content FROM messages WHERE conversation_id = $1 ORDER BY id DESC LIMIT 1",
			entry.ID,
		).Scan(&last)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("query last message: %w", err)
		}

		friends = append(friends, Friend{
			Username:       entry.Username,
			ConversationID: entry.ID,
			LastMessage:    last,
			UnreadMessages: unread,
		})
	}

	return friends, nil
}

// FriendUsernames returns the usernames of the account's friends without joining message activity.
func (r *PGRepository) FriendUsernames(ctx context.Context, account string) ([]string, error) {
	entries, err := r.friendEntries(ctx, account)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Username
	}
	return names, nil
}

// UnreadCount returns the total unread messages for the account across all its conversations.
func (r *PGRepository) UnreadCount(ctx context.Context, account string) (int, error) {
	entries, err := r.friendEntries(ctx, account)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, len(entries))
	for i, entry := range entries {
		ids[i] = entry.ID
	}

	var count int
	err = r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ANY($1) AND viewed = false AND author != $2",
		ids, account,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return count, nil
}

// Search returns accounts phonetically similar to the query, using soundex from the fuzzystrmatch extension.
func (r *PGRepository) Search(ctx context.Context, query string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		"SELECT account FROM users WHERE soundex(account) = soundex($1)", query,
	)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}
