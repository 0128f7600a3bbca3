package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spesalog/spesalog/internal/jobs"
)

func TestQueueDeliversJobs(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()
	q := NewQueue(10, 2, store)
	defer q.Close()

	var handled atomic.Int64
	done := make(chan string, 3)
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.ProcessUploadJob) error {
		handled.Add(1)
		done <- job.UploadID
		return nil
	}))

	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, q.PublishProcessUpload(ctx, &jobs.ProcessUploadJob{UploadID: id}))
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case id := <-done:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}
	assert.Len(t, seen, 3)
	assert.EqualValues(t, 3, handled.Load())
}

func TestQueueRetriesFailedJob(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	var calls atomic.Int64
	done := make(chan struct{}, 1)
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.ProcessUploadJob) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		done <- struct{}{}
		return nil
	}))

	require.NoError(t, q.PublishProcessUpload(ctx, &jobs.ProcessUploadJob{UploadID: "u1", MaxRetries: 2}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not retried")
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestQueueRejectsAfterClose(t *testing.T) {
	q := NewQueue(1, 1, nil)
	require.NoError(t, q.Close())
	err := q.PublishProcessUpload(context.Background(), &jobs.ProcessUploadJob{UploadID: "u1"})
	assert.Error(t, err)
}

func TestJobStoreFilter(t *testing.T) {
	ctx := context.Background()
	s := NewJobStore()
	require.NoError(t, s.SaveJob(ctx, &jobs.ProcessUploadJob{JobID: "j1", UploadID: "u1", Status: jobs.JobStatusFailed, CreatedAt: time.Now()}))
	require.NoError(t, s.SaveJob(ctx, &jobs.ProcessUploadJob{JobID: "j2", UploadID: "u2", Status: jobs.JobStatusCompleted, CreatedAt: time.Now()}))

	failed, err := s.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "u1", failed[0].UploadID)
}
