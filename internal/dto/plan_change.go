package dto

import "github.com/aneti-platform/aneti-api/internal/models"

// SubmitPlanChangeRequest is the payload for requesting a plan change.
type SubmitPlanChangeRequest struct {
	RequestedPlanID string              `json:"requestedPlanId" validate:"required"`
	Documents       models.DocumentList `json:"documents"`
}

// ReviewPlanChangeRequest carries the admin decision.
type ReviewPlanChangeRequest struct {
	AdminNotes string `json:"adminNotes"`
}

// PlanChangeQuery mirrors supported listing filters.
type PlanChangeQuery struct {
	Status   string
	UserID   string
	Page     int
	PageSize int
}
