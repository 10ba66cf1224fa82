package domain

import "time"

// TicketStatus enumerates lifecycle states for conversation tickets.
type TicketStatus string

const (
	TicketStatusPending TicketStatus = "pending"
	TicketStatusOpen    TicketStatus = "open"
	TicketStatusClosed  TicketStatus = "closed"
	TicketStatusNPS     TicketStatus = "nps"
	TicketStatusGroup   TicketStatus = "group"
)

// ActiveTicketStatuses are the states in which a (contact, channel) pair
// may hold at most one ticket.
var ActiveTicketStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusPending,
	TicketStatusGroup,
}

// IsActive reports whether the status counts against the single active
// ticket invariant.
func (s TicketStatus) IsActive() bool {
	for _, candidate := range ActiveTicketStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// Ticket is the aggregate for one conversation thread between a contact
// and the tenant.
type Ticket struct {
	ID                  int64
	CompanyID           int64
	ContactID           int64
	ChannelID           int64
	QueueID             *int64
	UserID              *int64
	Status              TicketStatus
	IsBot               bool
	IsGroup             bool
	IntegrationID       *int64
	UseIntegration      bool
	AmountUsedBotQueues int
	LastMessage         string
	UnreadMessages      int
	TypebotSessionID    *string
	TypebotStatus       bool
	LastFlowID          *string
	DataWebhook         *string
	HashFlowID          *string
	ImportedAt          *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
