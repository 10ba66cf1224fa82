package domain

import "time"

// NodeKind is the closed set of chatbot leaf actions.
type NodeKind string

const (
	NodeKindQueue       NodeKind = "queue"
	NodeKindAttendant   NodeKind = "attendant"
	NodeKindIntegration NodeKind = "integration"
	NodeKindFile        NodeKind = "file"
)

// ChatbotNode is one entry in a queue's menu tree. A node with Options is
// a submenu; target fields are interpreted according to Kind.
type ChatbotNode struct {
	ID              int64
	CompanyID       int64
	QueueID         int64
	ParentID        *int64
	Name            string
	Kind            NodeKind
	GreetingMessage string
	TargetQueueID   *int64
	TargetUserID    *int64
	IntegrationID   *int64
	FileListID      *int64
	CloseTicket     bool
	Options         []ChatbotNode
}

// DialogStage is a contact's current position inside a chatbot menu tree.
// At most one live record exists per contact.
type DialogStage struct {
	ID        int64
	CompanyID int64
	ContactID int64
	ChatbotID int64
	QueueID   int64
	Awaiting  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FileItem is one pre-configured media attachment referenced by a file
// leaf.
type FileItem struct {
	ID         int64
	FileListID int64
	Name       string
	Path       string
	MediaType  string
}
