package domain

import "time"

// CampaignStatus enumerates bulk-send lifecycle states. The values are a
// persisted contract shared with reporting tooling.
type CampaignStatus string

const (
	CampaignStatusScheduled  CampaignStatus = "PROGRAMADA"
	CampaignStatusInProgress CampaignStatus = "EM_ANDAMENTO"
	CampaignStatusFinished   CampaignStatus = "FINALIZADA"
	CampaignStatusCancelled  CampaignStatus = "CANCELADA"
)

// Campaign is a bulk, paced outbound-message operation against a contact
// list. Up to five message variants (and confirmation variants) are
// configured; one is picked at random per contact.
type Campaign struct {
	ID                   int64
	CompanyID            int64
	Name                 string
	Message1             string
	Message2             string
	Message3             string
	Message4             string
	Message5             string
	ConfirmationMessage1 string
	ConfirmationMessage2 string
	ConfirmationMessage3 string
	ConfirmationMessage4 string
	ConfirmationMessage5 string
	Confirmation         bool
	ContactListID        int64
	ChannelID            int64
	ScheduledAt          time.Time
	CompletedAt          *time.Time
	Status               CampaignStatus
	OpenTicket           bool
	QueueID              *int64
	UserID               *int64
	TicketStatus         TicketStatus
	MediaPath            string
	MediaName            string
}

// ValidMessages returns the configured non-empty message variants.
func (c *Campaign) ValidMessages() []string {
	return nonEmpty(c.Message1, c.Message2, c.Message3, c.Message4, c.Message5)
}

// ValidConfirmationMessages returns the configured non-empty confirmation
// variants.
func (c *Campaign) ValidConfirmationMessages() []string {
	return nonEmpty(
		c.ConfirmationMessage1,
		c.ConfirmationMessage2,
		c.ConfirmationMessage3,
		c.ConfirmationMessage4,
		c.ConfirmationMessage5,
	)
}

func nonEmpty(values ...string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			result = append(result, v)
		}
	}
	return result
}

// CampaignShipping tracks one campaign's delivery to one contact. A
// shipping is dispatched at most once: the dispatch job is only scheduled
// while DeliveredAt and ConfirmationRequestedAt are both null.
type CampaignShipping struct {
	ID                      int64
	CampaignID              int64
	ContactID               int64
	Number                  string
	Message                 string
	ConfirmationMessage     string
	Confirmation            *bool
	ConfirmationRequestedAt *time.Time
	ConfirmedAt             *time.Time
	DeliveredAt             *time.Time
	JobID                   *string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Variable is a tenant-defined key/value pair substituted into campaign
// messages.
type Variable struct {
	Key   string
	Value string
}

// CampaignSettings holds per-tenant pacing and send-window configuration.
type CampaignSettings struct {
	CompanyID           int64
	MessageInterval     int // seconds between sends
	LongerIntervalAfter int // contact index after which GreaterInterval applies
	GreaterInterval     int // seconds between sends past the threshold
	Variables           []Variable
	SendSaturday        bool
	SendSunday          bool
	StartHour           string // "HH:MM" inclusive lower bound of the send window
	EndHour             string // "HH:MM" inclusive upper bound of the send window
}

// DefaultCampaignSettings mirror the fallbacks applied when a tenant has
// no settings rows.
func DefaultCampaignSettings(companyID int64) CampaignSettings {
	return CampaignSettings{
		CompanyID:           companyID,
		MessageInterval:     20,
		LongerIntervalAfter: 20,
		GreaterInterval:     60,
		SendSaturday:        true,
		SendSunday:          true,
	}
}
