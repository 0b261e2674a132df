package models

import "time"

// ReviewAction enumerates entries in the append-only review history.
type ReviewAction string

const (
	ReviewActionSubmitted          ReviewAction = "submitted"
	ReviewActionApproved           ReviewAction = "approved"
	ReviewActionRejected           ReviewAction = "rejected"
	ReviewActionDocumentsRequested ReviewAction = "documents_requested"
	ReviewActionAppealed           ReviewAction = "appealed"
)

// ReviewSubjectKind distinguishes which lifecycle a review event belongs to.
type ReviewSubjectKind string

const (
	ReviewSubjectApplication ReviewSubjectKind = "application"
	ReviewSubjectPlanChange  ReviewSubjectKind = "plan_change_request"
)

// ReviewEvent is one entry in the append-only review log. The owning
// record's adminNotes field is a projection of the latest event's notes;
// the log itself is never rewritten.
type ReviewEvent struct {
	ID          string            `db:"id" json:"id"`
	SubjectKind ReviewSubjectKind `db:"subject_kind" json:"subject_kind"`
	SubjectID   string            `db:"subject_id" json:"subject_id"`
	Action      ReviewAction      `db:"action" json:"action"`
	ActorID     *string           `db:"actor_id" json:"actor_id,omitempty"`
	Notes       string            `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
}
