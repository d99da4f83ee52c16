package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/voice2soap/internal/bootstrap"
	"github.com/cuongbtq/voice2soap/internal/config"
	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/cuongbtq/voice2soap/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSQLiteConfig writes a config whose database is a file under dir
func writeSQLiteConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "jobs.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("database:\n  driver: sqlite\n  path: %s\n", dbPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))
	return cfgPath, dbPath
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func openStore(t *testing.T, dbPath string) *storage.SQLStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := bootstrap.InitDatabase(&config.DatabaseConfig{Driver: "sqlite", Path: dbPath}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := bootstrap.InitJobStore(context.Background(), db, logger)
	require.NoError(t, err)
	return store
}

func seedRoot(t *testing.T, store *storage.SQLStore, created time.Time) (*domain.Job, *domain.Job) {
	t.Helper()
	ctx := context.Background()

	root, err := domain.NewJob(domain.JobTypeRoot, "", domain.RootPayload{}, created, time.Hour)
	require.NoError(t, err)
	root.Status = domain.JobStatusInProgress
	root.TotalChildJobs = 2
	root.CompletedChildJobs = 1
	_, err = store.Create(ctx, root)
	require.NoError(t, err)

	leaf, err := domain.NewJob(domain.JobTypeLeafTranscribe, root.JobID, domain.TranscribePayload{ReferenceID: "upload-a"}, created, time.Hour)
	require.NoError(t, err)
	leaf.Status = domain.JobStatusFailed
	leaf.Error = "provider quota exceeded"
	_, err = store.Create(ctx, leaf)
	require.NoError(t, err)

	return root, leaf
}

func TestMigrate(t *testing.T) {
	cfgPath, dbPath := writeSQLiteConfig(t)

	out, err := runCommand(t, "-c", cfgPath, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")
	assert.FileExists(t, dbPath)
}

func TestGet(t *testing.T) {
	cfgPath, dbPath := writeSQLiteConfig(t)
	root, leaf := seedRoot(t, openStore(t, dbPath), time.Now())

	out, err := runCommand(t, "-c", cfgPath, "get", root.JobID)
	require.NoError(t, err)
	assert.Contains(t, out, root.JobID)
	assert.Contains(t, out, "2 total, 1 completed, 0 failed")
	assert.Contains(t, out, leaf.JobID)
	assert.Contains(t, out, "provider quota exceeded")

	out, err = runCommand(t, "-c", cfgPath, "get", "--json", root.JobID)
	require.NoError(t, err)
	var view jobView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "IN_PROGRESS", view.Status)
	require.Len(t, view.Children, 1)
	assert.Equal(t, root.JobID, view.Children[0].ParentJobID)

	_, err = runCommand(t, "-c", cfgPath, "get", "no-such-job")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestList(t *testing.T) {
	cfgPath, dbPath := writeSQLiteConfig(t)
	root, leaf := seedRoot(t, openStore(t, dbPath), time.Now())

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "roots by default", args: []string{"list"}, want: root.JobID},
		{name: "leaves", args: []string{"list", "-t", "leaf_transcribe"}, want: leaf.JobID},
		{name: "no aggregates yet", args: []string{"list", "-t", "LEAF_AGGREGATE"}, want: "No LEAF_AGGREGATE jobs"},
		{name: "unknown type", args: []string{"list", "-t", "LEAF_SUMMARIZE"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCommand(t, append([]string{"-c", cfgPath}, tt.args...)...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestPurgeExpired(t *testing.T) {
	cfgPath, dbPath := writeSQLiteConfig(t)
	store := openStore(t, dbPath)
	expired, _ := seedRoot(t, store, time.Now().Add(-48*time.Hour))
	live, _ := seedRoot(t, store, time.Now())

	out, err := runCommand(t, "-c", cfgPath, "purge-expired")
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 2 expired jobs")

	_, err = store.Get(context.Background(), expired.JobID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = store.Get(context.Background(), live.JobID)
	assert.NoError(t, err)
}

func TestMissingConfig(t *testing.T) {
	_, err := runCommand(t, "-c", filepath.Join(t.TempDir(), "absent.yaml"), "migrate")
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Job ID", "Status"}, [][]string{{"a", "PENDING"}, {"b"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "Job ID")
	assert.Contains(t, out, "PENDING")
	assert.Empty(t, renderTable(nil, nil, nil))
}
