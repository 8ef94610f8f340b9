package parsing

import (
	"sync"
	"time"
)

// Store tracks jobs for the lifetime of the process. Implementations must be
// safe for concurrent use by the driver and the query endpoints; Update
// applies its mutator as one atomic unit so a record can never be observed
// half-written.
type Store interface {
	// Put inserts a new job. It returns ErrDuplicateJob if the identifier is
	// already present.
	Put(job *Job) error

	// Get returns a copy of the job, or ErrNotFound.
	Get(id string) (Job, error)

	// Update atomically applies mutate to the stored job, or returns
	// ErrNotFound. The mutator must not retain the *Job beyond the call.
	Update(id string, mutate func(*Job)) error
}

// MemoryStore is the in-process Store used by the server. Jobs do not
// survive a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Put inserts a new job record.
func (s *MemoryStore) Put(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return ErrDuplicateJob
	}
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

// Get returns a copy of the job so callers cannot mutate stored state.
func (s *MemoryStore) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

// Update applies mutate under the write lock and bumps UpdatedAt. UpdatedAt
// never moves backwards even if the clock does.
func (s *MemoryStore) Update(id string, mutate func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	mutate(job)
	if now := time.Now().UTC(); now.After(job.UpdatedAt) {
		job.UpdatedAt = now
	}
	return nil
}
