package domain

import "time"

// TicketLogType captures what happened to a ticket at a point in time.
type TicketLogType string

const (
	LogTypeCreate           TicketLogType = "create"
	LogTypeQueue            TicketLogType = "queue"
	LogTypeOpen             TicketLogType = "open"
	LogTypeReopen           TicketLogType = "reopen"
	LogTypePending          TicketLogType = "pending"
	LogTypeClosed           TicketLogType = "closed"
	LogTypeNPS              TicketLogType = "nps"
	LogTypeTransfered       TicketLogType = "transfered"
	LogTypeReceivedTransfer TicketLogType = "receivedTransfer"
	LogTypeRedirect         TicketLogType = "redirect"
	LogTypeChatbot          TicketLogType = "chatbot"
)

// TicketLog is an immutable audit entry keyed by the agent/queue in effect
// when the event happened.
type TicketLog struct {
	ID        int64
	TicketID  int64
	CompanyID int64
	UserID    *int64
	QueueID   *int64
	Type      TicketLogType
	CreatedAt time.Time
}
