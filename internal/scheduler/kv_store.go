package scheduler

import (
	"context"
	"sync"
)

// KVStore maps dispatched job IDs to their cancellation handles. Entries
// exist only while a job is running; they are evicted the moment the job
// reaches a terminal state, so the store's size tracks live work, not
// history. Nothing fires these handles per-job in v1 (running jobs are not
// cancellable); they exist so shutdown and a future cancel capability have
// one place to look.
type KVStore struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewKVStore creates an empty store.
func NewKVStore() *KVStore {
	return &KVStore{cancels: make(map[string]context.CancelFunc)}
}

// Put registers a job's cancel handle.
func (s *KVStore) Put(jobID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[jobID] = cancel
}

// Evict drops a job's handle without firing it.
func (s *KVStore) Evict(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, jobID)
}

// Len reports how many live handles are held.
func (s *KVStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancels)
}
