package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// JobStore persists queued jobs. The production implementation is redis;
// tests substitute an in-memory store.
type JobStore interface {
	// Push appends a job to the queue's wait list.
	Push(ctx context.Context, job *Job) error
	// PushDelayed parks a job until its ReadyAt passes.
	PushDelayed(ctx context.Context, job *Job) error
	// Pop blocks up to timeout for the next waiting job; returns nil when
	// none arrived.
	Pop(ctx context.Context, queue string, timeout time.Duration) (*Job, error)
	// PromoteDue moves delayed jobs whose ReadyAt has passed onto the wait
	// list, returning how many were promoted.
	PromoteDue(ctx context.Context, queue string, now time.Time) (int, error)
	// Drain removes all waiting and delayed jobs from the queue.
	Drain(ctx context.Context, queue string) error
	// Pending reports waiting and delayed job counts.
	Pending(ctx context.Context, queue string) (waiting, delayed int64, err error)
	// AcquireRepeat claims a repeat dedup key for ttl; false means another
	// process already holds the tick.
	AcquireRepeat(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

const (
	waitKeyFmt    = "queue:%s:wait"
	delayedKeyFmt = "queue:%s:delayed"
	repeatKeyFmt  = "queue:repeat:%s"
)

// promoteScript atomically moves due members from the delayed zset to the
// wait list so two promoters never double-deliver a job.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for i, member in ipairs(due) do
  redis.call('ZREM', KEYS[1], member)
  redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

type redisStore struct {
	client *redis.Client
}

// NewRedisStore creates the redis-backed job store.
func NewRedisStore(client *redis.Client) JobStore {
	return &redisStore{client: client}
}

func (s *redisStore) Push(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return s.client.LPush(ctx, fmt.Sprintf(waitKeyFmt, job.Queue), body).Err()
}

func (s *redisStore) PushDelayed(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	member := redis.Z{
		Score:  float64(job.ReadyAt.UnixMilli()),
		Member: body,
	}
	return s.client.ZAdd(ctx, fmt.Sprintf(delayedKeyFmt, job.Queue), member).Err()
}

func (s *redisStore) Pop(ctx context.Context, queue string, timeout time.Duration) (*Job, error) {
	result, err := s.client.BRPop(ctx, timeout, fmt.Sprintf(waitKeyFmt, queue)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP returns [key, value].
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d", len(result))
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *redisStore) PromoteDue(ctx context.Context, queue string, now time.Time) (int, error) {
	keys := []string{
		fmt.Sprintf(delayedKeyFmt, queue),
		fmt.Sprintf(waitKeyFmt, queue),
	}
	promoted, err := promoteScript.Run(ctx, s.client, keys, now.UnixMilli()).Int()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return promoted, nil
}

func (s *redisStore) Drain(ctx context.Context, queue string) error {
	return s.client.Del(ctx,
		fmt.Sprintf(waitKeyFmt, queue),
		fmt.Sprintf(delayedKeyFmt, queue),
	).Err()
}

func (s *redisStore) Pending(ctx context.Context, queue string) (int64, int64, error) {
	waiting, err := s.client.LLen(ctx, fmt.Sprintf(waitKeyFmt, queue)).Result()
	if err != nil {
		return 0, 0, err
	}
	delayed, err := s.client.ZCard(ctx, fmt.Sprintf(delayedKeyFmt, queue)).Result()
	if err != nil {
		return 0, 0, err
	}
	return waiting, delayed, nil
}

func (s *redisStore) AcquireRepeat(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, fmt.Sprintf(repeatKeyFmt, key), time.Now().UnixMilli(), ttl).Result()
}
