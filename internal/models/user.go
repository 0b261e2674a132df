package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin  UserRole = "ADMIN"
	RoleMember UserRole = "MEMBER"
)

// UserStatus tracks where a user stands in the membership workflow.
// It mirrors the user's latest application outcome.
type UserStatus string

const (
	UserStatusPending   UserStatus = "PENDING"
	UserStatusApproved  UserStatus = "APPROVED"
	UserStatusRejected  UserStatus = "REJECTED"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User represents an association member stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Status       UserStatus `db:"status" json:"status"`
	PlanID       *string    `db:"plan_id" json:"plan_id,omitempty"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// IsAdmin reports whether the user holds the administrative role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Status    *UserStatus
	PlanID    string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
