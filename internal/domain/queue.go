package domain

// Queue is a business routing bucket for tickets, distinct from the job
// scheduler's work queues.
type Queue struct {
	ID              int64
	CompanyID       int64
	Name            string
	GreetingMessage string
	CloseTicket     bool
}
