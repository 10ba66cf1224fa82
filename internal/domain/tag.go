package domain

// Tag is a kanban lane marker. Tickets idle in a lane past TimeLane hours
// are moved to NextLaneID by the lane monitor.
type Tag struct {
	ID                  int64
	CompanyID           int64
	Name                string
	TimeLane            int // hours
	NextLaneID          *int64
	GreetingMessageLane string
}

// TicketTag links a ticket to its current lane.
type TicketTag struct {
	TicketID int64
	TagID    int64
}
