package scheduler

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process JobStore for tests and single-node runs
// without redis.
type MemoryStore struct {
	mu      sync.Mutex
	cond    *sync.Cond
	waiting map[string][]*Job
	delayed map[string][]*Job
	repeats map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		waiting: make(map[string][]*Job),
		delayed: make(map[string][]*Job),
		repeats: make(map[string]time.Time),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *MemoryStore) Push(_ context.Context, job *Job) error {
	s.mu.Lock()
	s.waiting[job.Queue] = append(s.waiting[job.Queue], job)
	s.mu.Unlock()
	s.cond.Broadcast()
	return nil
}

func (s *MemoryStore) PushDelayed(_ context.Context, job *Job) error {
	s.mu.Lock()
	s.delayed[job.Queue] = append(s.delayed[job.Queue], job)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Pop(ctx context.Context, queue string, timeout time.Duration) (*Job, error) {
	deadline := time.Now().Add(timeout)

	// Wake sleepers periodically so the deadline is honored; Cond has no
	// timed wait.
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.cond.Broadcast()
			}
		}
	}()
	defer close(stop)

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if jobs := s.waiting[queue]; len(jobs) > 0 {
			job := jobs[0]
			s.waiting[queue] = jobs[1:]
			return job, nil
		}
		if ctx.Err() != nil || time.Now().After(deadline) {
			return nil, nil
		}
		s.cond.Wait()
	}
}

func (s *MemoryStore) PromoteDue(_ context.Context, queue string, now time.Time) (int, error) {
	s.mu.Lock()
	var due, later []*Job
	for _, job := range s.delayed[queue] {
		if !job.ReadyAt.After(now) {
			due = append(due, job)
		} else {
			later = append(later, job)
		}
	}
	s.delayed[queue] = later
	s.waiting[queue] = append(s.waiting[queue], due...)
	s.mu.Unlock()
	if len(due) > 0 {
		s.cond.Broadcast()
	}
	return len(due), nil
}

func (s *MemoryStore) Drain(_ context.Context, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waiting, queue)
	delete(s.delayed, queue)
	return nil
}

func (s *MemoryStore) Pending(_ context.Context, queue string) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.waiting[queue])), int64(len(s.delayed[queue])), nil
}

func (s *MemoryStore) AcquireRepeat(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if expires, ok := s.repeats[key]; ok && expires.After(now) {
		return false, nil
	}
	s.repeats[key] = now.Add(ttl)
	return true, nil
}
