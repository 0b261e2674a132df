package dto

// CreateConnectionRequest targets the member to connect with.
type CreateConnectionRequest struct {
	ReceiverID string `json:"receiverId" validate:"required"`
}

// ConnectionQuery mirrors supported listing filters. Direction is
// "incoming", "outgoing", or empty for both.
type ConnectionQuery struct {
	Status    string
	Direction string
	Page      int
	PageSize  int
}
