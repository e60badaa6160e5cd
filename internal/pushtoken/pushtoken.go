// Package pushtoken manages the registry of mobile device push tokens. Registrations expire after 30 days unless
// refreshed by re-registering.
package pushtoken

import "context"

// Repository provides access to push token rows.
type Repository interface {
	// Register upserts a device token for the account, refreshing the expiry on re-registration.
	Register(ctx context.Context, pushToken, account string) error

	// Unregister removes a device token. Removing an unknown token is not an error.
	Unregister(ctx context.Context, pushToken string) error

	// Tokens returns all unexpired device tokens registered to the account.
	Tokens(ctx context.Context, account string) ([]string, error)
}
