package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"food-delivery-client/models"
)

// Record is a snapshot of everything persisted for a session.
type Record struct {
	AccessToken  string
	RefreshToken string
	User         *models.UserProfile
	UserType     string
}

// Credentials is the typed view over a Store used by the transport, the
// session manager and the bootstrapper.
type Credentials struct {
	store Store
}

func NewCredentials(store Store) *Credentials {
	return &Credentials{store: store}
}

func (c *Credentials) get(ctx context.Context, key string) (string, error) {
	v, _, err := c.store.Get(ctx, key)
	return v, err
}

// AccessToken returns "" when no token is stored.
func (c *Credentials) AccessToken(ctx context.Context) (string, error) {
	return c.get(ctx, KeyAuthToken)
}

func (c *Credentials) SetAccessToken(ctx context.Context, token string) error {
	return c.store.Set(ctx, KeyAuthToken, token)
}

func (c *Credentials) RefreshToken(ctx context.Context) (string, error) {
	return c.get(ctx, KeyRefreshToken)
}

func (c *Credentials) SetRefreshToken(ctx context.Context, token string) error {
	return c.store.Set(ctx, KeyRefreshToken, token)
}

// User decodes the cached profile. A fresh copy is returned on every call.
func (c *Credentials) User(ctx context.Context) (*models.UserProfile, error) {
	raw, err := c.get(ctx, KeyUserData)
	if err != nil || raw == "" {
		return nil, err
	}
	var u models.UserProfile
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyUserData, err)
	}
	return &u, nil
}

func (c *Credentials) SetUser(ctx context.Context, u *models.UserProfile) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyUserData, err)
	}
	return c.store.Set(ctx, KeyUserData, string(data))
}

func (c *Credentials) UserType(ctx context.Context) (string, error) {
	return c.get(ctx, KeyUserType)
}

func (c *Credentials) SetUserType(ctx context.Context, userType string) error {
	return c.store.Set(ctx, KeyUserType, userType)
}

// Save writes the whole record, stopping at the first failing key.
func (c *Credentials) Save(ctx context.Context, r Record) error {
	if err := c.SetAccessToken(ctx, r.AccessToken); err != nil {
		return err
	}
	if err := c.SetRefreshToken(ctx, r.RefreshToken); err != nil {
		return err
	}
	if r.User != nil {
		if err := c.SetUser(ctx, r.User); err != nil {
			return err
		}
	}
	return c.SetUserType(ctx, r.UserType)
}

func (c *Credentials) Load(ctx context.Context) (Record, error) {
	var (
		r   Record
		err error
	)
	if r.AccessToken, err = c.AccessToken(ctx); err != nil {
		return Record{}, err
	}
	if r.RefreshToken, err = c.RefreshToken(ctx); err != nil {
		return Record{}, err
	}
	if r.User, err = c.User(ctx); err != nil {
		return Record{}, err
	}
	if r.UserType, err = c.UserType(ctx); err != nil {
		return Record{}, err
	}
	return r, nil
}

// ClearAll removes every credential key. Preferences are kept.
func (c *Credentials) ClearAll(ctx context.Context) error {
	return c.store.Clear(ctx, CredentialKeys()...)
}

func (c *Credentials) DarkMode(ctx context.Context) (bool, error) {
	raw, err := c.get(ctx, KeyDarkMode)
	if err != nil || raw == "" {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", KeyDarkMode, err)
	}
	return v, nil
}

func (c *Credentials) SetDarkMode(ctx context.Context, on bool) error {
	return c.store.Set(ctx, KeyDarkMode, strconv.FormatBool(on))
}

func (c *Credentials) Language(ctx context.Context) (string, error) {
	return c.get(ctx, KeyLanguage)
}

func (c *Credentials) SetLanguage(ctx context.Context, lang string) error {
	return c.store.Set(ctx, KeyLanguage, lang)
}
