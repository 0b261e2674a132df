package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ApplicationStatus captures the membership application workflow states.
type ApplicationStatus string

const (
	ApplicationStatusPending            ApplicationStatus = "pending"
	ApplicationStatusDocumentsRequested ApplicationStatus = "documents_requested"
	ApplicationStatusRejected           ApplicationStatus = "rejected"
	ApplicationStatusApproved           ApplicationStatus = "approved"
)

// Valid reports whether the status is one of the enumerated values.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationStatusPending, ApplicationStatusDocumentsRequested,
		ApplicationStatusRejected, ApplicationStatusApproved:
		return true
	}
	return false
}

// PaymentStatus tracks the payment side of an application, independent of
// the review status.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
	PaymentStatusFree    PaymentStatus = "free"
)

// Document describes an uploaded supporting document attached to an
// application. The file itself lives in external object storage.
type Document struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

// DocumentList is a JSONB-backed ordered list of documents.
type DocumentList []Document

// Value implements driver.Valuer for JSONB storage.
func (d DocumentList) Value() (driver.Value, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner.
func (d *DocumentList) Scan(src interface{}) error {
	if src == nil {
		*d = nil
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported document list source type %T", src)
	}
	return json.Unmarshal(raw, d)
}

// Application represents a user's request to join the association.
// One non-terminal application may exist per user at a time.
type Application struct {
	ID            string            `db:"id" json:"id"`
	UserID        string            `db:"user_id" json:"user_id"`
	PlanID        string            `db:"plan_id" json:"plan_id"`
	Status        ApplicationStatus `db:"status" json:"status"`
	PaymentStatus PaymentStatus     `db:"payment_status" json:"payment_status"`
	Documents     DocumentList      `db:"documents" json:"documents"`
	AdminNotes    string            `db:"admin_notes" json:"admin_notes"`
	ReviewedBy    *string           `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time        `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// ApplicationFilter constrains application listing queries.
type ApplicationFilter struct {
	UserID   string
	Status   []ApplicationStatus
	PlanID   string
	Page     int
	PageSize int
}
