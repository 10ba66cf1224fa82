package domain

// CompanySettings holds per-tenant toggles consumed by the ticket state
// machine and the dialog engine.
type CompanySettings struct {
	CompanyID                   int64
	UserRating                  bool   // send satisfaction rating on close
	SendFarewellWaitingTicket   bool   // farewell also for pending tickets
	CloseTicketOnTransfer       bool   // transfer closes the old ticket and opens a new one
	SendTransferMessage         bool   // notify the contact on queue change
	TransferMessage             string // template, ${queue.name} placeholder
	SendGreetingMessageOneQueue bool
	ChatBotType                 string // "text", "button" or "list"
}

// DefaultCompanySettings are applied when the tenant has no settings row.
func DefaultCompanySettings(companyID int64) CompanySettings {
	return CompanySettings{
		CompanyID:   companyID,
		ChatBotType: "text",
	}
}
