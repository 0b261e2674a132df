package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aneti-platform/aneti-api/internal/models"
)

// ReviewEventRepository persists the append-only review history. Events are
// never updated or deleted; the owning record's adminNotes is a projection
// of the latest event.
type ReviewEventRepository struct {
	db *sqlx.DB
}

// NewReviewEventRepository constructs the repository.
func NewReviewEventRepository(db *sqlx.DB) *ReviewEventRepository {
	return &ReviewEventRepository{db: db}
}

// Create appends an event using the repository's own connection.
func (r *ReviewEventRepository) Create(ctx context.Context, event *models.ReviewEvent) error {
	return r.CreateIn(ctx, r.db, event)
}

// CreateIn appends an event through the given executor so the write can
// join the transition's transaction.
func (r *ReviewEventRepository) CreateIn(ctx context.Context, ext sqlx.ExtContext, event *models.ReviewEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO review_events
	(id, subject_kind, subject_id, action, actor_id, notes, created_at)
	VALUES (:id, :subject_kind, :subject_id, :action, :actor_id, :notes, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, event); err != nil {
		return fmt.Errorf("create review event: %w", err)
	}
	return nil
}

// ListBySubject returns the full history for one application or
// plan-change request, oldest first.
func (r *ReviewEventRepository) ListBySubject(ctx context.Context, kind models.ReviewSubjectKind, subjectID string) ([]models.ReviewEvent, error) {
	const query = `SELECT id, subject_kind, subject_id, action, actor_id, notes, created_at
	FROM review_events WHERE subject_kind = $1 AND subject_id = $2 ORDER BY created_at ASC`
	var events []models.ReviewEvent
	if err := r.db.SelectContext(ctx, &events, query, kind, subjectID); err != nil {
		return nil, fmt.Errorf("list review events: %w", err)
	}
	return events, nil
}
