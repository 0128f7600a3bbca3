package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/spesalog/spesalog/internal/jobs"
	"github.com/spesalog/spesalog/internal/store"
)

// JobStore keeps job state in memory.
type JobStore struct {
	mu   sync.RWMutex
	byID map[string]*jobs.ProcessUploadJob
}

// NewJobStore builds an empty store.
func NewJobStore() *JobStore {
	return &JobStore{byID: make(map[string]*jobs.ProcessUploadJob)}
}

func (s *JobStore) SaveJob(ctx context.Context, job *jobs.ProcessUploadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *job
	s.byID[job.JobID] = &c
	return nil
}

func (s *JobStore) GetJob(ctx context.Context, jobID string) (*jobs.ProcessUploadJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.byID[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *j
	return &c, nil
}

func (s *JobStore) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ProcessUploadJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*jobs.ProcessUploadJob
	for _, j := range s.byID {
		if filter.UploadID != "" && j.UploadID != filter.UploadID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		c := *j
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

var _ jobs.JobStore = (*JobStore)(nil)
