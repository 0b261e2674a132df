package models

import "time"

// PlanChangeStatus captures plan-change request workflow states. Unlike
// applications there is no documents_requested intermediate: rejection is
// terminal for the request and the member must submit a new one.
type PlanChangeStatus string

const (
	PlanChangeStatusPending  PlanChangeStatus = "pending"
	PlanChangeStatusApproved PlanChangeStatus = "approved"
	PlanChangeStatusRejected PlanChangeStatus = "rejected"
)

// PlanChangeRequest represents an approved member's request to move to a
// different membership tier.
type PlanChangeRequest struct {
	ID              string           `db:"id" json:"id"`
	UserID          string           `db:"user_id" json:"user_id"`
	CurrentPlanID   *string          `db:"current_plan_id" json:"current_plan_id,omitempty"`
	RequestedPlanID string           `db:"requested_plan_id" json:"requested_plan_id"`
	Status          PlanChangeStatus `db:"status" json:"status"`
	Documents       DocumentList     `db:"documents" json:"documents"`
	AdminNotes      string           `db:"admin_notes" json:"admin_notes"`
	ReviewedBy      *string          `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time       `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
}

// PlanChangeFilter constrains listing queries.
type PlanChangeFilter struct {
	UserID   string
	Status   []PlanChangeStatus
	Page     int
	PageSize int
}
