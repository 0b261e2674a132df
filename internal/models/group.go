package models

import "time"

// Group represents a member-created group with its own moderated sub-feed.
type Group struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedBy   string    `db:"created_by" json:"created_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// GroupMemberRole is the member's standing within a group.
type GroupMemberRole string

const (
	GroupRoleMember    GroupMemberRole = "member"
	GroupRoleModerator GroupMemberRole = "moderator"
)

// GroupMember links a user to a group.
type GroupMember struct {
	GroupID  string          `db:"group_id" json:"group_id"`
	UserID   string          `db:"user_id" json:"user_id"`
	Role     GroupMemberRole `db:"role" json:"role"`
	JoinedAt time.Time       `db:"joined_at" json:"joined_at"`
}
