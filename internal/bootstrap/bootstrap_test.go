package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/voice2soap/internal/config"
	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestInitLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.log")

	log, err := InitLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)
	assert.True(t, log.Enabled(context.Background(), slog.LevelDebug))
	assert.NoError(t, log.Close())
}

func TestInitJobStore_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := &config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "data", "jobs.db")}

	db, err := InitDatabase(cfg, discardLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := InitJobStore(ctx, db, discardLogger)
	require.NoError(t, err)

	// a second migration on the same database is a no-op
	_, err = InitJobStore(ctx, db, discardLogger)
	require.NoError(t, err)

	job, err := domain.NewJob(domain.JobTypeRoot, "", domain.RootPayload{}, time.Now(), time.Hour)
	require.NoError(t, err)
	created, err := store.Create(ctx, job)
	require.NoError(t, err)
	assert.True(t, created)

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobTypeRoot, got.JobType)
}

func TestInitDatabase_UnknownDriver(t *testing.T) {
	_, err := InitDatabase(&config.DatabaseConfig{Driver: "mysql"}, discardLogger)
	assert.ErrorContains(t, err, "unsupported database driver")
}
