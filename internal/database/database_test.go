package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "jobsync.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
}

func TestNewDB_InMemory(t *testing.T) {
	db, err := NewDB(":memory:", nil)
	require.NoError(t, err)
	defer db.Close()

	count, err := db.CountPendingActions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInit_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Init(ctx))
	require.NoError(t, db.Init(ctx))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- db.Init(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestInit_FailureIsReported(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Close())

	db.initMu.Lock()
	db.ready = false
	db.initMu.Unlock()

	assert.Error(t, db.Init(context.Background()))

	_, err := db.GetJob(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.PingContext(context.Background()))
}
