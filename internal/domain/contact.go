package domain

import "time"

// Contact is a person (or group chat) reachable through a channel
// connection.
type Contact struct {
	ID         int64
	CompanyID  int64
	Name       string
	Number     string
	Email      string
	IsGroup    bool
	DisableBot bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ContactList groups contacts for bulk campaigns.
type ContactList struct {
	ID        int64
	CompanyID int64
	Name      string
}

// ContactListItem is one campaign recipient. Only items with a validated
// channel address (IsValid) are eligible for dispatch.
type ContactListItem struct {
	ID            int64
	ContactListID int64
	CompanyID     int64
	Name          string
	Number        string
	Email         string
	IsValid       bool
	IsGroup       bool
}
