package domain

import "time"

// TicketTracking records milestone timestamps for one ticket. A single
// record is active per open ticket; milestones are stamped exclusively by
// the ticket state machine.
type TicketTracking struct {
	ID         int64
	TicketID   int64
	CompanyID  int64
	ChannelID  *int64
	UserID     *int64
	QueueID    *int64
	QueuedAt   *time.Time
	StartedAt  *time.Time
	RatingAt   *time.Time
	Rated      bool
	ChatbotAt  *time.Time
	ClosedAt   *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
