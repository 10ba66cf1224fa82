package domain

import "time"

// User is a tenant agent. Online is maintained by heartbeats and swept by
// the user monitor.
type User struct {
	ID              int64
	CompanyID       int64
	Name            string
	Profile         string
	Online          bool
	FarewellMessage string
	UpdatedAt       time.Time
}
