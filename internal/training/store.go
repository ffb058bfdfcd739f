package training

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// JobStore persists job records. Transition applies the status change only
// when CanTransition allows it, so records never regress.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	// Transition moves the job to status to and lets mutate fill in result
	// fields. mutate may be nil.
	Transition(ctx context.Context, id string, to Status, mutate func(*Job)) (Job, error)
}

// MemoryStore keeps jobs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job), now: time.Now}
}

func (s *MemoryStore) Create(ctx context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.JobID]; ok {
		return fmt.Errorf("job %s already exists", job.JobID)
	}
	s.jobs[job.JobID] = job
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return j, nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, to Status, mutate func(*Job)) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if !CanTransition(j.Status, to) {
		return j, transitionError{id: id, from: j.Status, to: to}
	}
	j.Status = to
	if mutate != nil {
		mutate(&j)
	}
	j.UpdatedAt = s.now()
	s.jobs[id] = j
	return j, nil
}
