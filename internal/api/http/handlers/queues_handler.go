package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/chat-dispatch/internal/observability"
	"github.com/spec-kit/chat-dispatch/internal/scheduler"
	apperrors "github.com/spec-kit/chat-dispatch/pkg/util"
)

// QueuesHandler exposes the scheduler's operational controls: queue
// inspection and manual pause/resume.
type QueuesHandler struct {
	scheduler *scheduler.Scheduler
	metrics   *observability.Metrics
}

// NewQueuesHandler returns a new handler instance.
func NewQueuesHandler(sched *scheduler.Scheduler, metrics *observability.Metrics) *QueuesHandler {
	return &QueuesHandler{scheduler: sched, metrics: metrics}
}

// List reports per-queue backlog and pause state plus job counters.
func (h *QueuesHandler) List(c *fiber.Ctx) error {
	stats, err := h.scheduler.Stats(c.UserContext())
	if err != nil {
		return apperrors.MapError(err)
	}
	processed, failed := h.metrics.JobCounts()
	return c.JSON(fiber.Map{
		"queues":    stats,
		"processed": processed,
		"failed":    failed,
	})
}

// Pause suspends job starts on the named queue.
func (h *QueuesHandler) Pause(c *fiber.Ctx) error {
	name := c.Params("name")
	if err := h.scheduler.Pause(name); err != nil {
		return apperrors.NewNotFound("queue", map[string]any{"name": name})
	}
	return c.JSON(fiber.Map{"queue": name, "paused": true})
}

// Resume lifts a pause on the named queue.
func (h *QueuesHandler) Resume(c *fiber.Ctx) error {
	name := c.Params("name")
	if err := h.scheduler.Resume(name); err != nil {
		return apperrors.NewNotFound("queue", map[string]any{"name": name})
	}
	return c.JSON(fiber.Map{"queue": name, "paused": false})
}
