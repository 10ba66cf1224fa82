// Package scheduler runs the named job queues behind the dispatch engine:
// persistent delivery queues, delayed jobs, fixed-interval repeat triggers
// and per-queue rate limiting, all backed by a pluggable JobStore.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/chat-dispatch/internal/observability"
)

const (
	popTimeout      = 2 * time.Second
	promoteInterval = time.Second
)

// repeatSpec is one registered fixed-interval trigger.
type repeatSpec struct {
	queue   string
	jobType string
	every   time.Duration
	payload json.RawMessage
}

type queueState struct {
	config  QueueConfig
	handler Handler
	limiter *rateLimiter
	paused  bool
}

// Scheduler owns the worker pools, promoter and repeat tickers for every
// registered queue.
type Scheduler struct {
	store   JobStore
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	queues  map[string]*queueState
	repeats []repeatSpec

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler over the given store.
func New(store JobStore, logger *zap.Logger, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		store:   store,
		logger:  logger,
		metrics: metrics,
		queues:  make(map[string]*queueState),
	}
}

// Process registers a handler for a named queue. Must be called before
// Start; a queue without a handler never drains.
func (s *Scheduler) Process(queue string, config QueueConfig, handler Handler) {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	state := &queueState{config: config, handler: handler}
	if config.RateLimit != nil && config.RateLimit.Max > 0 {
		state.limiter = newRateLimiter(*config.RateLimit)
	}
	s.mu.Lock()
	s.queues[queue] = state
	s.mu.Unlock()
}

// Repeat registers a fixed-interval trigger that enqueues a job every
// period. The dedup key keeps concurrent schedulers from double-firing a
// tick.
func (s *Scheduler) Repeat(queue, jobType string, every time.Duration, payload json.RawMessage) {
	s.mu.Lock()
	s.repeats = append(s.repeats, repeatSpec{
		queue:   queue,
		jobType: jobType,
		every:   every,
		payload: payload,
	})
	s.mu.Unlock()
}

// Enqueue adds a job to a queue, optionally delayed.
func (s *Scheduler) Enqueue(ctx context.Context, queue, jobType string, payload any, opts *Options) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:      uuid.NewString(),
		Queue:   queue,
		Type:    jobType,
		Payload: body,
		ReadyAt: time.Now(),
	}
	if opts != nil && opts.Delay > 0 {
		job.ReadyAt = job.ReadyAt.Add(opts.Delay)
		if err := s.store.PushDelayed(ctx, job); err != nil {
			return nil, err
		}
		return job, nil
	}
	if err := s.store.Push(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Start launches the promoter, repeat tickers and worker pools. It returns
// immediately; Stop blocks until all workers exit.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.mu.RLock()
	for name, state := range s.queues {
		s.wg.Add(1)
		go s.promoteLoop(ctx, name)
		for i := 0; i < state.config.Concurrency; i++ {
			s.wg.Add(1)
			go s.workLoop(ctx, name, state)
		}
	}
	for _, spec := range s.repeats {
		s.wg.Add(1)
		go s.repeatLoop(ctx, spec)
	}
	s.mu.RUnlock()

	s.logger.Info("scheduler started", zap.Int("queues", len(s.queues)))
}

// Stop cancels all loops and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Pause suspends job starts on a queue. Jobs already running finish.
func (s *Scheduler) Pause(queue string) error {
	return s.setPaused(queue, true)
}

// Resume lifts a pause.
func (s *Scheduler) Resume(queue string) error {
	return s.setPaused(queue, false)
}

func (s *Scheduler) setPaused(queue string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.queues[queue]
	if !ok {
		return fmt.Errorf("unknown queue %q", queue)
	}
	state.paused = paused
	return nil
}

// Drain discards all waiting and delayed jobs on a queue.
func (s *Scheduler) Drain(ctx context.Context, queue string) error {
	return s.store.Drain(ctx, queue)
}

// QueueStats is a point-in-time view of one queue.
type QueueStats struct {
	Name    string `json:"name"`
	Waiting int64  `json:"waiting"`
	Delayed int64  `json:"delayed"`
	Paused  bool   `json:"paused"`
}

// Stats reports the state of every registered queue.
func (s *Scheduler) Stats(ctx context.Context) ([]QueueStats, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.queues))
	paused := make(map[string]bool, len(s.queues))
	for name, state := range s.queues {
		names = append(names, name)
		paused[name] = state.paused
	}
	s.mu.RUnlock()

	stats := make([]QueueStats, 0, len(names))
	for _, name := range names {
		waiting, delayed, err := s.store.Pending(ctx, name)
		if err != nil {
			return nil, err
		}
		stats = append(stats, QueueStats{
			Name:    name,
			Waiting: waiting,
			Delayed: delayed,
			Paused:  paused[name],
		})
	}
	return stats, nil
}

func (s *Scheduler) isPaused(queue string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.queues[queue]
	return ok && state.paused
}

func (s *Scheduler) promoteLoop(ctx context.Context, queue string) {
	defer s.wg.Done()
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.store.PromoteDue(ctx, queue, time.Now()); err != nil && ctx.Err() == nil {
				s.logger.Warn("delayed job promotion failed",
					zap.String("queue", queue), zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) repeatLoop(ctx context.Context, spec repeatSpec) {
	defer s.wg.Done()
	ticker := time.NewTicker(spec.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireRepeat(ctx, spec)
		}
	}
}

func (s *Scheduler) fireRepeat(ctx context.Context, spec repeatSpec) {
	// The dedup key spans one interval: among all processes only the
	// first to claim it enqueues this tick.
	key := fmt.Sprintf("%s:%s:%d", spec.queue, spec.jobType, time.Now().Truncate(spec.every).UnixMilli())
	ok, err := s.store.AcquireRepeat(ctx, key, spec.every)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("repeat acquire failed",
				zap.String("queue", spec.queue), zap.Error(err))
		}
		return
	}
	if !ok {
		return
	}
	if _, err := s.Enqueue(ctx, spec.queue, spec.jobType, spec.payload, nil); err != nil && ctx.Err() == nil {
		s.logger.Error("repeat enqueue failed",
			zap.String("queue", spec.queue),
			zap.String("type", spec.jobType),
			zap.Error(err))
	}
}

func (s *Scheduler) workLoop(ctx context.Context, queue string, state *queueState) {
	defer s.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if s.isPaused(queue) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(popTimeout):
			}
			continue
		}
		job, err := s.store.Pop(ctx, queue, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("job pop failed", zap.String("queue", queue), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		if state.limiter != nil {
			state.limiter.Reserve()
		}
		s.runJob(ctx, state.handler, job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, handler Handler, job *Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job handler panicked",
				zap.String("queue", job.Queue),
				zap.String("jobId", job.ID),
				zap.String("type", job.Type),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			s.metrics.RecordJob(job.Queue, job.Type, true)
		}
	}()

	start := time.Now()
	err := handler(ctx, job)
	s.metrics.RecordJob(job.Queue, job.Type, err != nil)
	if err != nil {
		s.logger.Error("job failed",
			zap.String("queue", job.Queue),
			zap.String("jobId", job.ID),
			zap.String("type", job.Type),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	s.logger.Debug("job done",
		zap.String("queue", job.Queue),
		zap.String("jobId", job.ID),
		zap.String("type", job.Type),
		zap.Duration("elapsed", time.Since(start)))
}
