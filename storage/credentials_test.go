package storage

import (
	"context"
	"testing"

	"food-delivery-client/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentials_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	creds := NewCredentials(s)

	rec := Record{
		AccessToken:  "t1",
		RefreshToken: "r1",
		User:         &models.UserProfile{ID: "1", Email: "a@b.com", UserType: "CLIENT"},
		UserType:     "CLIENT",
	}
	require.NoError(t, creds.Save(ctx, rec))
	require.NoError(t, creds.SetDarkMode(ctx, true))
	require.NoError(t, creds.SetLanguage(ctx, "fr"))

	got, err := creds.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", got.AccessToken)
	assert.Equal(t, "r1", got.RefreshToken)
	assert.Equal(t, "CLIENT", got.UserType)
	require.NotNil(t, got.User)
	assert.Equal(t, "a@b.com", got.User.Email)

	require.NoError(t, creds.ClearAll(ctx))

	got, err = creds.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Record{}, got)

	// preferences survive a credential clear
	dark, err := creds.DarkMode(ctx)
	require.NoError(t, err)
	assert.True(t, dark)
	lang, err := creds.Language(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fr", lang)
	assert.Equal(t, 2, s.Len())
}

func TestCredentials_UserIsACopy(t *testing.T) {
	ctx := context.Background()
	creds := NewCredentials(NewMemoryStore())
	require.NoError(t, creds.SetUser(ctx, &models.UserProfile{ID: "1", FirstName: "Awa"}))

	u, err := creds.User(ctx)
	require.NoError(t, err)
	u.FirstName = "changed"

	again, err := creds.User(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Awa", again.FirstName)
}

func TestCredentials_CorruptUserData(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, KeyUserData, "{not json"))

	_, err := NewCredentials(s).User(ctx)
	assert.Error(t, err)
}

func TestCredentials_MissingValuesAreEmpty(t *testing.T) {
	ctx := context.Background()
	creds := NewCredentials(NewMemoryStore())

	tok, err := creds.AccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)

	u, err := creds.User(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)

	dark, err := creds.DarkMode(ctx)
	require.NoError(t, err)
	assert.False(t, dark)
}

func TestCredentialKeys_IsACopy(t *testing.T) {
	keys := CredentialKeys()
	assert.Equal(t, []string{KeyAuthToken, KeyRefreshToken, KeyUserData, KeyUserType}, keys)

	keys[0] = KeyLanguage
	_ = append(keys, KeyDarkMode)

	ctx := context.Background()
	s := NewMemoryStore()
	creds := NewCredentials(s)
	require.NoError(t, creds.SetAccessToken(ctx, "t1"))
	require.NoError(t, creds.SetLanguage(ctx, "fr"))
	require.NoError(t, creds.ClearAll(ctx))

	token, err := creds.AccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
	lang, err := creds.Language(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fr", lang)
	assert.Equal(t, []string{KeyAuthToken, KeyRefreshToken, KeyUserData, KeyUserType}, CredentialKeys())
}
