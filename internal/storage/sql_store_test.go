package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/cuongbtq/voice2soap/shared/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "jobs.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := NewSQLStore(client.GetDB(), logger)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func newRoot(t *testing.T, total, completed int) *domain.Job {
	t.Helper()
	root, err := domain.NewJob(domain.JobTypeRoot, domain.ParentJobIDNone, domain.RootPayload{}, time.Now(), 0)
	require.NoError(t, err)
	root.Status = domain.JobStatusInProgress
	root.TotalChildJobs = total
	root.CompletedChildJobs = completed
	return root
}

func TestSQLStore_PutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payload := domain.TranscribePayload{
		ReferenceID:    "upload-7f0c",
		UploadID:       "upload-7f0c",
		SourceLocation: "voice/uploads/upload-7f0c.m4a",
		ReferenceIndex: 2,
	}
	job, err := domain.NewJob(domain.JobTypeLeafTranscribe, "root-1", payload, time.Now(), time.Hour)
	require.NoError(t, err)
	job.Result = `{"transcript_location":"voice/transcripts/upload-7f0c/x/transcript.json"}`

	require.NoError(t, store.Put(ctx, job))

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)

	assert.Equal(t, job.JobID, got.JobID)
	assert.Equal(t, domain.JobTypeLeafTranscribe, got.JobType)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, "root-1", got.ParentJobID)
	assert.Equal(t, job.Result, got.Result)
	assert.Equal(t, job.TTL.UnixMilli(), got.TTL.UnixMilli())
	assert.Nil(t, got.CompletedAt)

	var decoded domain.TranscribePayload
	require.NoError(t, got.DecodePayload(&decoded))
	assert.Equal(t, payload, decoded)
}

func TestSQLStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestSQLStore_Query(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root := newRoot(t, 2, 0)
	require.NoError(t, store.Put(ctx, root))

	for i := 0; i < 2; i++ {
		leaf, err := domain.NewJob(domain.JobTypeLeafTranscribe, root.JobID, nil, time.Now(), 0)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, leaf))
	}
	agg, err := domain.NewJob(domain.JobTypeLeafAggregate, root.JobID, nil, time.Now(), 0)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, agg))

	children, err := store.Query(ctx, IndexParentJobID, root.JobID)
	require.NoError(t, err)
	assert.Len(t, children, 3)

	roots, err := store.Query(ctx, IndexJobType, string(domain.JobTypeRoot))
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, root.JobID, roots[0].JobID)

	repo := NewRepository(store)
	transcribes, err := repo.FindChildren(ctx, root.JobID, domain.JobTypeLeafTranscribe)
	require.NoError(t, err)
	assert.Len(t, transcribes, 2)

	_, err = store.Query(ctx, Index("status"), "x")
	assert.Error(t, err)
}

func TestSQLStore_Transition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := domain.NewJob(domain.JobTypeLeafAggregate, "root-1", nil, time.Now(), 0)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, job))

	got, applied, err := store.Transition(ctx, job.JobID,
		[]domain.JobStatus{domain.JobStatusPending}, domain.JobStatusInProgress, TransitionUpdate{})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.JobStatusInProgress, got.Status)

	// A second claim from PENDING is refused.
	got, applied, err = store.Transition(ctx, job.JobID,
		[]domain.JobStatus{domain.JobStatusPending}, domain.JobStatusInProgress, TransitionUpdate{})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.JobStatusInProgress, got.Status)

	got, applied, err = store.Transition(ctx, job.JobID,
		[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusInProgress}, domain.JobStatusCompleted,
		TransitionUpdate{Result: `{"plan":"x"}`, Error: "ignored"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, `{"plan":"x"}`, got.Result)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.CompletedAt)

	// Terminal states never move again.
	got, applied, err = store.Transition(ctx, job.JobID,
		[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusInProgress}, domain.JobStatusFailed,
		TransitionUpdate{Error: "late failure"})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, `{"plan":"x"}`, got.Result)
}

func TestSQLStore_TransitionToFailedClearsResult(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := domain.NewJob(domain.JobTypeLeafTranscribe, "root-1", nil, time.Now(), 0)
	require.NoError(t, err)
	job.Status = domain.JobStatusInProgress
	job.Result = `{"partial":true}`
	require.NoError(t, store.Put(ctx, job))

	got, applied, err := store.Transition(ctx, job.JobID,
		[]domain.JobStatus{domain.JobStatusInProgress}, domain.JobStatusFailed, TransitionUpdate{Error: "provider down"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Empty(t, got.Result)
	assert.Equal(t, "provider down", got.Error)
}

func putLeaf(t *testing.T, store *SQLStore, rootID string) *domain.Job {
	t.Helper()
	leaf, err := domain.NewJob(domain.JobTypeLeafTranscribe, rootID, nil, time.Now(), 0)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), leaf))
	return leaf
}

func TestSQLStore_Create(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := domain.NewJob(domain.JobTypeLeafAggregate, "root-1", nil, time.Now(), 0)
	require.NoError(t, err)

	created, err := store.Create(ctx, job)
	require.NoError(t, err)
	assert.True(t, created)

	_, _, err = store.Transition(ctx, job.JobID,
		[]domain.JobStatus{domain.JobStatusPending}, domain.JobStatusInProgress, TransitionUpdate{})
	require.NoError(t, err)

	// A second create with the same id leaves the stored job alone.
	created, err = store.Create(ctx, job)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusInProgress, got.Status)
}

func TestSQLStore_SettleChild(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root := newRoot(t, 3, 1)
	require.NoError(t, store.Put(ctx, root))
	first := putLeaf(t, store, root.JobID)
	second := putLeaf(t, store, root.JobID)

	counts, err := store.SettleChild(ctx, first.JobID, root.JobID, domain.ChildCompleted)
	require.NoError(t, err)
	assert.Equal(t, ChildCounts{Total: 3, Completed: 2, Failed: 0, Applied: true}, counts)
	assert.False(t, counts.Done())

	// Redelivery of the same outcome does not count twice.
	counts, err = store.SettleChild(ctx, first.JobID, root.JobID, domain.ChildCompleted)
	require.NoError(t, err)
	assert.False(t, counts.Applied)
	assert.Equal(t, 2, counts.Completed)

	counts, err = store.SettleChild(ctx, second.JobID, root.JobID, domain.ChildFailed)
	require.NoError(t, err)
	assert.True(t, counts.Applied)
	assert.Equal(t, 3, counts.Finished())
	assert.True(t, counts.Done())

	settled, err := store.Get(ctx, second.JobID)
	require.NoError(t, err)
	assert.True(t, settled.Settled)
}

func TestSQLStore_SettleChildBounded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root := newRoot(t, 1, 1)
	require.NoError(t, store.Put(ctx, root))
	extra := putLeaf(t, store, root.JobID)

	counts, err := store.SettleChild(ctx, extra.JobID, root.JobID, domain.ChildCompleted)
	require.NoError(t, err)
	assert.False(t, counts.Applied)
	assert.Equal(t, ChildCounts{Total: 1, Completed: 1}, counts)

	_, err = store.SettleChild(ctx, extra.JobID, "missing-root", domain.ChildCompleted)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestSQLStore_SettleChildConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const siblings = 8
	root := newRoot(t, siblings, 0)
	require.NoError(t, store.Put(ctx, root))

	leaves := make([]*domain.Job, siblings)
	for i := range leaves {
		leaves[i] = putLeaf(t, store, root.JobID)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		crossers int
	)
	// Every leaf is signalled twice to mimic redelivery.
	for i := 0; i < siblings*2; i++ {
		wg.Add(1)
		go func(leaf *domain.Job) {
			defer wg.Done()
			counts, err := store.SettleChild(ctx, leaf.JobID, root.JobID, domain.ChildCompleted)
			assert.NoError(t, err)
			if counts.Applied && counts.Done() {
				mu.Lock()
				crossers++
				mu.Unlock()
			}
		}(leaves[i%siblings])
	}
	wg.Wait()

	got, err := store.Get(ctx, root.JobID)
	require.NoError(t, err)
	assert.Equal(t, siblings, got.CompletedChildJobs)
	assert.Equal(t, 0, got.FailedChildJobs)
	assert.Equal(t, 1, crossers)
}

func TestSQLStore_ClaimFanIn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root := newRoot(t, 1, 1)
	require.NoError(t, store.Put(ctx, root))

	marker, won, err := store.ClaimFanIn(ctx, root.JobID, "agg-1")
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, "agg-1", marker)

	marker, won, err = store.ClaimFanIn(ctx, root.JobID, "agg-2")
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, "agg-1", marker)
}

func TestSQLStore_PurgeExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	expired, err := domain.NewJob(domain.JobTypeRoot, "", nil, now.Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)
	fresh, err := domain.NewJob(domain.JobTypeRoot, "", nil, now, time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, expired))
	require.NoError(t, store.Put(ctx, fresh))

	n, err := store.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, expired.JobID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = store.Get(ctx, fresh.JobID)
	assert.NoError(t, err)
}
