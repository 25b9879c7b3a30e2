package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s, err := NewSQLStore(db)
	require.NoError(t, err)
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sql":    newSQLStore(t),
	}
}

func TestStore_GetSetClear(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, KeyAuthToken)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, KeyAuthToken, "t1"))
			require.NoError(t, s.Set(ctx, KeyAuthToken, "t2"))
			require.NoError(t, s.Set(ctx, KeyLanguage, "fr"))

			v, ok, err := s.Get(ctx, KeyAuthToken)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "t2", v)

			require.NoError(t, s.Clear(ctx, KeyAuthToken, KeyRefreshToken))
			_, ok, err = s.Get(ctx, KeyAuthToken)
			require.NoError(t, err)
			assert.False(t, ok)

			v, ok, err = s.Get(ctx, KeyLanguage)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "fr", v)
		})
	}
}

func TestStore_EmptyKey(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.Set(ctx, "", "x"), ErrEmptyKey)
			_, _, err := s.Get(ctx, "")
			assert.ErrorIs(t, err, ErrEmptyKey)
		})
	}
}

func TestSQLStore_PersistsAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.db")
	open := func() *SQLStore {
		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		require.NoError(t, err)
		s, err := NewSQLStore(db)
		require.NoError(t, err)
		return s
	}

	require.NoError(t, open().Set(ctx, KeyRefreshToken, "r1"))

	v, ok, err := open().Get(ctx, KeyRefreshToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "r1", v)
}

func TestNewSQLStore_NilDB(t *testing.T) {
	_, err := NewSQLStore(nil)
	assert.Error(t, err)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	assert.ErrorIs(t, s.Set(ctx, KeyAuthToken, "t"), context.Canceled)
	assert.Equal(t, 0, s.Len())
}
