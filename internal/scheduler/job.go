package scheduler

import (
	"context"
	"encoding/json"
	"time"
)

// Queue names used by the dispatch engine. They are part of the
// operational contract: external tooling inspects them by name.
const (
	QueueMessageSend     = "message-send"
	QueueScheduleMonitor = "schedule-monitor"
	QueueSendScheduled   = "send-scheduled-messages"
	QueueCampaign        = "campaign-queue"
	QueueUserMonitor     = "user-monitor"
	QueueQueueMonitor    = "queue-monitor"
)

// Job is one unit of work drawn from a named queue.
type Job struct {
	ID      string          `json:"id"`
	Queue   string          `json:"queue"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	ReadyAt time.Time       `json:"readyAt"`
}

// Handler processes one job. A returned error marks the job failed; it is
// not retried automatically.
type Handler func(ctx context.Context, job *Job) error

// Options tune a single enqueue.
type Options struct {
	// Delay holds the job back for at least this long before it becomes
	// eligible to run.
	Delay time.Duration
}

// RateLimit caps how many jobs a queue may start per window.
type RateLimit struct {
	Max      int
	Duration time.Duration
}

// QueueConfig declares a named queue's worker behavior.
type QueueConfig struct {
	Concurrency int
	RateLimit   *RateLimit
}
