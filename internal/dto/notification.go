package dto

// BroadcastRequest is the admin payload for a bulk notification.
type BroadcastRequest struct {
	Title           string `json:"title" validate:"required"`
	Message         string `json:"message" validate:"required"`
	TargetType      string `json:"targetType" validate:"required"`
	TargetValue     string `json:"targetValue"`
	Priority        string `json:"priority"`
	IncludeInactive bool   `json:"includeInactive"`
}

// BroadcastResult reports the fan-out outcome. Only the aggregate count is
// exposed; per-recipient failures are logged, not returned.
type BroadcastResult struct {
	SentToCount int `json:"sentToCount"`
	FailedCount int `json:"failedCount"`
}

// UnreadCountResponse wraps the unread notification counter.
type UnreadCountResponse struct {
	Unread int `json:"unread"`
}
