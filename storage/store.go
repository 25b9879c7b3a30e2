// Package storage persists the session credentials and user preferences.
package storage

import (
	"context"
	"errors"
)

// Persisted keys
const (
	KeyAuthToken    = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyUserData     = "user_data"
	KeyUserType     = "user_type"

	KeyDarkMode = "dark_mode"
	KeyLanguage = "language"
)

var credentialKeys = [...]string{KeyAuthToken, KeyRefreshToken, KeyUserData, KeyUserType}

// CredentialKeys returns the exact key set removed by a credential clear.
// Preferences are not part of it.
func CredentialKeys() []string {
	keys := credentialKeys
	return keys[:]
}

var ErrEmptyKey = errors.New("storage: empty key")

// Store is a durable key/value store. Each call is atomic on its own; no
// retries and no validation happen here, failures go straight to the caller.
type Store interface {
	// Get returns ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context, keys ...string) error
}
