package domain

import "time"

// ChannelStatus mirrors the connection state reported by the transport.
type ChannelStatus string

const (
	ChannelStatusConnected    ChannelStatus = "CONNECTED"
	ChannelStatusDisconnected ChannelStatus = "DISCONNECTED"
)

// Channel is one chat-channel connection owned by a tenant. Per-connection
// messages and thresholds drive ticket side effects: farewell and rating
// on close, pending-queue redirect, inactivity expiry.
type Channel struct {
	ID               int64
	CompanyID        int64
	Name             string
	Status           ChannelStatus
	IsDefault        bool
	GreetingMessage  string
	FarewellMessage  string
	RatingMessage    string
	TimeSendQueue    int    // minutes a queueless pending ticket may wait
	MoveQueueID      *int64 // fallback queue for the queue monitor
	ExpiresTicket    int    // minutes of inactivity before auto-close, 0 disables
	ExpiresMessage   string // inactivity notice sent on auto-close
	GroupAsTicket    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
