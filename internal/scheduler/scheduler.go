package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/domain"
	"github.com/Husky-Quantitative-Group/hqg-backtester/internal/orchestrator"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrJobNotPending is returned when cancelling a job past the pending
// state. Running jobs are not cancellable; they finish or fail on their own.
var ErrJobNotPending = errors.New("job is no longer pending")

// Scheduler accepts jobs, dispatches them FIFO, and tracks their state.
// Concurrency is governed downstream by the orchestrator's semaphore; the
// scheduler dispatches every dequeued job immediately so queued work starts
// the instant capacity frees up.
type Scheduler struct {
	queue *Queue
	jobs  *JobStore
	kv    *KVStore
	orch  *orchestrator.Orchestrator
	log   zerolog.Logger

	requests sync.Map // jobID -> *domain.BacktestRequest, until dispatch
	wg       sync.WaitGroup
}

// New creates a scheduler.
func New(orch *orchestrator.Orchestrator, queueCapacity int, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		queue: NewQueue(queueCapacity),
		jobs:  NewJobStore(),
		kv:    NewKVStore(),
		orch:  orch,
		log:   log.With().Str("component", "scheduler").Logger(),
	}
}

// Submit registers a job and queues it. The returned ID is immediately
// pollable.
func (s *Scheduler) Submit(req *domain.BacktestRequest) (string, error) {
	jobID := uuid.NewString()
	s.jobs.Create(jobID)
	s.requests.Store(jobID, req)

	if err := s.queue.Enqueue(jobID); err != nil {
		s.jobs.Delete(jobID)
		s.requests.Delete(jobID)
		return "", err
	}

	s.log.Info().Str("job_id", jobID).Str("name", req.DisplayName()).Msg("Job submitted")
	return jobID, nil
}

// Run is the consumer loop. It returns when ctx ends and all dispatched
// jobs have finished.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Msg("Scheduler started")
	for {
		jobID, err := s.queue.Dequeue(ctx)
		if err != nil {
			break
		}
		s.dispatch(ctx, jobID)
	}
	s.wg.Wait()
	s.log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) dispatch(ctx context.Context, jobID string) {
	record, ok := s.jobs.Get(jobID)
	if !ok || record.Status != domain.JobPending {
		// Cancelled while queued; nothing to run.
		s.requests.Delete(jobID)
		return
	}

	value, ok := s.requests.LoadAndDelete(jobID)
	if !ok {
		return
	}
	req := value.(*domain.BacktestRequest)

	jobCtx, cancel := context.WithCancel(ctx)
	s.kv.Put(jobID, cancel)

	now := time.Now().UTC()
	s.jobs.Update(jobID, func(r *domain.JobRecord) {
		r.Status = domain.JobRunning
		r.StartedAt = &now
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.execute(jobCtx, jobID, req)
	}()
}

func (s *Scheduler) execute(ctx context.Context, jobID string, req *domain.BacktestRequest) {
	resp, err := s.orch.Execute(ctx, jobID, req)
	done := time.Now().UTC()
	s.kv.Evict(jobID)

	s.jobs.Update(jobID, func(r *domain.JobRecord) {
		r.CompletedAt = &done
		switch {
		case ctx.Err() != nil:
			// Only shutdown cancels a running job's context.
			r.Status = domain.JobCancelled
		case err != nil:
			r.Status = domain.JobFailed
			r.Error = err.Error()
		default:
			r.Status = domain.JobCompleted
			r.Result = resp
		}
	})

	if err != nil && ctx.Err() == nil {
		s.log.Warn().Str("job_id", jobID).Err(err).Msg("Job failed")
	} else {
		s.log.Info().Str("job_id", jobID).Msg("Job finished")
	}
}

// Get returns a job's current record.
func (s *Scheduler) Get(jobID string) (domain.JobRecord, error) {
	record, ok := s.jobs.Get(jobID)
	if !ok {
		return domain.JobRecord{}, ErrJobNotFound
	}
	return record, nil
}

// Cancel removes a queued job. Only pending jobs are cancellable; anything
// already dispatched or finished is a conflict the caller reports as such.
func (s *Scheduler) Cancel(jobID string) error {
	record, ok := s.jobs.Get(jobID)
	if !ok {
		return ErrJobNotFound
	}
	if record.Status != domain.JobPending {
		return ErrJobNotPending
	}

	// Re-check under the store's lock: dispatch may have won the race.
	now := time.Now().UTC()
	cancelled := false
	s.jobs.Update(jobID, func(r *domain.JobRecord) {
		if r.Status != domain.JobPending {
			return
		}
		r.Status = domain.JobCancelled
		r.CompletedAt = &now
		cancelled = true
	})
	if !cancelled {
		return ErrJobNotPending
	}
	s.requests.Delete(jobID)

	s.log.Info().Str("job_id", jobID).Msg("Job cancelled")
	return nil
}

// Stats reports queue and store gauges for the status endpoint.
func (s *Scheduler) Stats() (queued, pending, running, total int) {
	pending, running, total = s.jobs.Counts()
	return s.queue.Len(), pending, running, total
}
