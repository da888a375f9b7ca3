package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSQLiteStoreDirectory(t *testing.T) {
	testDirectory(t, newTestSQLiteStore(t))
}

func TestSQLiteStoreMessageLog(t *testing.T) {
	testMessageLog(t, newTestSQLiteStore(t))
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertKey(ctx, "0xAA", "pk1"))
	id, err := s.AppendMessage(ctx, "0xAA", "0xBB", "ciphertext", time.Now())
	require.NoError(t, err)
	s.Close()

	s, err = NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	identity, err := s.LookupKey(ctx, "0xaa")
	require.NoError(t, err)
	assert.Equal(t, "pk1", identity.PublicKey)

	next, err := s.AppendMessage(ctx, "0xAA", "0xBB", "again", time.Now())
	require.NoError(t, err)
	assert.Greater(t, next, id)
}

func TestSQLiteStoreClosedIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	s.Close()

	_, err = s.AppendMessage(ctx, "0xAA", "0xBB", "body", time.Now())
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.LookupKey(ctx, "0xaa")
	assert.ErrorIs(t, err, ErrUnavailable)
}
