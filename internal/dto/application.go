package dto

import "github.com/aneti-platform/aneti-api/internal/models"

// SubmitApplicationRequest is the payload for a new membership application.
type SubmitApplicationRequest struct {
	PlanID    string               `json:"planId" validate:"required"`
	Documents models.DocumentList  `json:"documents"`
	Payment   models.PaymentStatus `json:"paymentStatus"`
}

// RejectApplicationRequest carries the admin decision for a rejection or a
// documents request.
type RejectApplicationRequest struct {
	Reason           string `json:"reason" validate:"required"`
	RequestDocuments bool   `json:"requestDocuments"`
}

// AppealApplicationRequest reopens a rejected application for re-review.
type AppealApplicationRequest struct {
	Message   string              `json:"message" validate:"required"`
	Documents models.DocumentList `json:"documents"`
}

// ProvideDocumentsRequest answers an admin document request.
type ProvideDocumentsRequest struct {
	Documents models.DocumentList `json:"documents" validate:"required"`
}

// ApplicationQuery mirrors supported listing filters.
type ApplicationQuery struct {
	Status   string
	UserID   string
	PlanID   string
	Page     int
	PageSize int
}
