package pushtoken

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// registrationTTL is how long a device registration stays valid without a refresh.
const registrationTTL = "30 days"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed push token repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Register upserts a device token. A token moving between accounts is reassigned to the new one.
func (r *PGRepository) Register(ctx context.Context, pushToken, account string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO push_notifications (push_token, account, expires)
		 VALUES ($1, $2, now() + interval '`+registrationTTL+`')
		 ON CONFLICT (push_token)
		 DO UPDATE SET account = EXCLUDED.account, expires = EXCLUDED.expires`,
		pushToken, account,
	)
	if err != nil {
		return fmt.Errorf("register push token: %w", err)
	}
	return nil
}

// Unregister removes a device token.
func (r *PGRepository) Unregister(ctx context.Context, pushToken string) error {
	if _, err := r.db.Exec(ctx,
		"DELETE FROM push_notifications WHERE push_token = $1", pushToken,
	); err != nil {
		return fmt.Errorf("unregister push token: %w", err)
	}
	return nil
}

// Tokens returns all unexpired device tokens for the account.
func (r *PGRepository) Tokens(ctx context.Context, account string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		"SELECT push_token FROM push_notifications WHERE account = $1 AND expires > now()", account,
	)
	if err != nil {
		return nil, fmt.Errorf("query push tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan push token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate push tokens: %w", err)
	}
	return tokens, nil
}
