package models

import "time"

// NotificationType enumerates the semantic events that produce
// notifications.
type NotificationType string

const (
	NotificationTypeLike               NotificationType = "like"
	NotificationTypeComment            NotificationType = "comment"
	NotificationTypeConnectionRequest  NotificationType = "connection_request"
	NotificationTypeConnectionAccepted NotificationType = "connection_accepted"
	NotificationTypeMessage            NotificationType = "message"
	NotificationTypePostMention        NotificationType = "post_mention"
	NotificationTypeCommentMention     NotificationType = "comment_mention"

	NotificationTypeApplicationApproved NotificationType = "application_approved"
	NotificationTypeApplicationRejected NotificationType = "application_rejected"
	NotificationTypeDocumentsRequested  NotificationType = "documents_requested"
	NotificationTypePlanChangeApproved  NotificationType = "plan_change_approved"
	NotificationTypePlanChangeRejected  NotificationType = "plan_change_rejected"
	NotificationTypeWelcome             NotificationType = "welcome"

	NotificationTypeAdminBroadcast NotificationType = "admin_broadcast"
)

// Social reports whether the type is actor-triggered; self-notifications
// are suppressed for these kinds.
func (t NotificationType) Social() bool {
	switch t {
	case NotificationTypeLike, NotificationTypeComment,
		NotificationTypeConnectionRequest, NotificationTypeConnectionAccepted,
		NotificationTypeMessage, NotificationTypePostMention,
		NotificationTypeCommentMention:
		return true
	}
	return false
}

// Notification priorities.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Notification represents a persisted per-user notification row. Rows are
// only ever mutated to record the read timestamp.
type Notification struct {
	ID                string           `db:"id" json:"id"`
	UserID            string           `db:"user_id" json:"user_id"`
	Type              NotificationType `db:"type" json:"type"`
	Title             string           `db:"title" json:"title"`
	Message           string           `db:"message" json:"message"`
	ActionURL         string           `db:"action_url" json:"action_url,omitempty"`
	RelatedEntityID   *string          `db:"related_entity_id" json:"related_entity_id,omitempty"`
	RelatedEntityType string           `db:"related_entity_type" json:"related_entity_type,omitempty"`
	ActorID           *string          `db:"actor_id" json:"actor_id,omitempty"`
	Priority          string           `db:"priority" json:"priority,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	ReadAt            *time.Time       `db:"read_at" json:"read_at,omitempty"`
}

// BroadcastTargetType selects the recipient resolution strategy for admin
// broadcasts.
type BroadcastTargetType string

const (
	BroadcastAllMembers      BroadcastTargetType = "all_members"
	BroadcastGroupMembers    BroadcastTargetType = "group_members"
	BroadcastPlanMembers     BroadcastTargetType = "plan_members"
	BroadcastApprovedMembers BroadcastTargetType = "approved_members"
)

// BroadcastTarget is the tagged union describing who a broadcast reaches.
// GroupID is required for group_members, PlanID for plan_members.
type BroadcastTarget struct {
	Type            BroadcastTargetType
	GroupID         string
	PlanID          string
	IncludeInactive bool
}
