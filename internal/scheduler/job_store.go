package scheduler

import (
	"sync"
	"time"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
)

// JobStore is the in-memory record of every job this process has seen.
// Completed and failed records stay available for polling until the
// process restarts; persistence across restarts is out of scope for now.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.JobRecord
}

// NewJobStore creates an empty store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*domain.JobRecord)}
}

// Create registers a new pending job.
func (s *JobStore) Create(jobID string) *domain.JobRecord {
	record := &domain.JobRecord{
		JobID:       jobID,
		Status:      domain.JobPending,
		SubmittedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.jobs[jobID] = record
	s.mu.Unlock()
	return record
}

// Get returns a copy of a job's record.
func (s *JobStore) Get(jobID string) (domain.JobRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.jobs[jobID]
	if !ok {
		return domain.JobRecord{}, false
	}
	return *record, true
}

// Update applies fn to a job's record under the lock.
func (s *JobStore) Update(jobID string, fn func(*domain.JobRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[jobID]
	if !ok {
		return false
	}
	fn(record)
	return true
}

// Delete removes a job's record entirely.
func (s *JobStore) Delete(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}

// Counts returns how many jobs sit in each non-terminal state plus the
// total record count, for the status endpoint.
func (s *JobStore) Counts() (pending, running, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, record := range s.jobs {
		switch record.Status {
		case domain.JobPending:
			pending++
		case domain.JobRunning:
			running++
		}
	}
	return pending, running, len(s.jobs)
}
