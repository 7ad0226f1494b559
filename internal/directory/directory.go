// Package directory resolves API keys to user accounts and answers ban
// checks against the account database.
package directory

import (
	"context"
	"errors"
)

// ErrUnknownKey is returned when an API key resolves to no account.
var ErrUnknownKey = errors.New("unknown api key")

// Directory is the account lookup port used at connection accept.
type Directory interface {
	// ResolveKey maps an API key to a stable user id. Returns
	// ErrUnknownKey for keys with no account.
	ResolveKey(ctx context.Context, apiKey string) (string, error)

	// IsBanned reports whether the account is banned from the service.
	IsBanned(ctx context.Context, userID string) (bool, error)
}
