package models

import "time"

// ConnectionStatus captures the lifecycle of a connection request edge.
type ConnectionStatus string

const (
	ConnectionStatusPending  ConnectionStatus = "pending"
	ConnectionStatusAccepted ConnectionStatus = "accepted"
	ConnectionStatusRejected ConnectionStatus = "rejected"
)

// ConnectionRequest represents a friend-request style edge between two
// members. A rejection resolves the edge but does not block a later
// re-request.
type ConnectionRequest struct {
	ID          string           `db:"id" json:"id"`
	RequesterID string           `db:"requester_id" json:"requester_id"`
	ReceiverID  string           `db:"receiver_id" json:"receiver_id"`
	Status      ConnectionStatus `db:"status" json:"status"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	RespondedAt *time.Time       `db:"responded_at" json:"responded_at,omitempty"`
}

// ConnectionFilter constrains connection listing queries. Direction is
// "incoming", "outgoing", or empty for both sides.
type ConnectionFilter struct {
	Status    *ConnectionStatus
	Direction string
	Page      int
	PageSize  int
}
