package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	t.Run("creates file and directories", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "data", "nested", "history.db")

		db, err := Open(context.Background(), Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
		require.NoError(t, err)
		defer db.Close() //nolint:errcheck // test cleanup

		_, err = os.Stat(dbPath)
		assert.NoError(t, err)
		assert.Equal(t, 1, db.Stats().MaxOpenConnections)
	})

	t.Run("requires path", func(t *testing.T) {
		_, err := Open(context.Background(), Config{})
		assert.ErrorIs(t, err, ErrNoPath)
	})
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.HealthCheck(context.Background()))

	require.NoError(t, db.DB.Close())
	assert.Error(t, db.HealthCheck(context.Background()))
}

func TestClose(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Close())

	db.DB = nil
	assert.NoError(t, db.Close())
}

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(context.Background(), Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	return db
}
