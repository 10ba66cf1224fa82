package domain

import "time"

// ScheduleStatus enumerates the states of a user-authored future send.
// The values are a persisted contract shared with reporting tooling.
type ScheduleStatus string

const (
	ScheduleStatusPending   ScheduleStatus = "PENDENTE"
	ScheduleStatusScheduled ScheduleStatus = "AGENDADA"
	ScheduleStatusSent      ScheduleStatus = "ENVIADA"
	ScheduleStatusError     ScheduleStatus = "ERRO"
)

// IntervalUnit is the calendar unit for recurring schedules. Stored
// values 1..4 match the persisted contract.
type IntervalUnit int

const (
	IntervalUnitNone    IntervalUnit = 0
	IntervalUnitDays    IntervalUnit = 1
	IntervalUnitWeeks   IntervalUnit = 2
	IntervalUnitMonths  IntervalUnit = 3
	IntervalUnitMinutes IntervalUnit = 4
)

// Valid reports whether the unit maps to a recurrence rule.
func (u IntervalUnit) Valid() bool {
	return u >= IntervalUnitDays && u <= IntervalUnitMinutes
}

// BusinessDayPolicy controls how a recurrence landing on a weekend is
// shifted. Stored values 5 and 6 match the persisted contract.
type BusinessDayPolicy int

const (
	BusinessDayNone         BusinessDayPolicy = 0
	BusinessDayShiftBack    BusinessDayPolicy = 5
	BusinessDayShiftForward BusinessDayPolicy = 6
)

// Schedule is a user-authored future message send, possibly recurring.
type Schedule struct {
	ID                int64
	CompanyID         int64
	ContactID         int64
	ChannelID         *int64
	QueueID           *int64
	UserID            *int64 // signing agent
	TicketUserID      *int64 // agent assigned when a ticket is opened
	Body              string
	MediaPath         string
	MediaName         string
	SendAt            time.Time
	SentAt            *time.Time
	Status            ScheduleStatus
	IntervalValue     int
	IntervalUnit      IntervalUnit
	RepeatCount       int
	SendCounter       int
	BusinessDayPolicy BusinessDayPolicy
	Signed            bool
	OpenTicket        bool
	TicketStatus      TicketStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
