package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aneti-platform/aneti-api/internal/models"
)

const planChangeColumns = `id, user_id, current_plan_id, requested_plan_id, status, documents, admin_notes, reviewed_by, reviewed_at, created_at`

// PlanChangeRepository persists plan-change requests.
type PlanChangeRepository struct {
	db *sqlx.DB
}

// NewPlanChangeRepository constructs the repository.
func NewPlanChangeRepository(db *sqlx.DB) *PlanChangeRepository {
	return &PlanChangeRepository{db: db}
}

// Create inserts a new plan-change request.
func (r *PlanChangeRepository) Create(ctx context.Context, req *models.PlanChangeRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.PlanChangeStatusPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO plan_change_requests
	(id, user_id, current_plan_id, requested_plan_id, status, documents, admin_notes, reviewed_by, reviewed_at, created_at)
	VALUES (:id, :user_id, :current_plan_id, :requested_plan_id, :status, :documents, :admin_notes, :reviewed_by, :reviewed_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create plan change request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *PlanChangeRepository) GetByID(ctx context.Context, id string) (*models.PlanChangeRequest, error) {
	query := `SELECT ` + planChangeColumns + ` FROM plan_change_requests WHERE id = $1`
	var req models.PlanChangeRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// FindPendingByUser returns the user's pending request, if any.
func (r *PlanChangeRepository) FindPendingByUser(ctx context.Context, userID string) (*models.PlanChangeRequest, error) {
	query := `SELECT ` + planChangeColumns + ` FROM plan_change_requests WHERE user_id = $1 AND status = $2 LIMIT 1`
	var req models.PlanChangeRequest
	if err := r.db.GetContext(ctx, &req, query, userID, models.PlanChangeStatusPending); err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests matching the filter with a total count.
func (r *PlanChangeRepository) List(ctx context.Context, filter models.PlanChangeFilter) ([]models.PlanChangeRequest, int, error) {
	conditions := make([]string, 0, 2)
	args := make([]interface{}, 0, 3)

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM plan_change_requests"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count plan change requests: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	query := fmt.Sprintf("SELECT %s FROM plan_change_requests%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		planChangeColumns, where, pageSize, (page-1)*pageSize)

	var reqs []models.PlanChangeRequest
	if err := r.db.SelectContext(ctx, &reqs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list plan change requests: %w", err)
	}
	return reqs, total, nil
}

// UpdatePlanChangeParams groups mutable columns for review.
type UpdatePlanChangeParams struct {
	ID         string
	ToStatus   models.PlanChangeStatus
	AdminNotes string
	ReviewedBy string
	ReviewedAt time.Time
}

// UpdateStatus persists the review decision; only pending requests can be
// resolved, enforced by the guarded update.
func (r *PlanChangeRepository) UpdateStatus(ctx context.Context, ext sqlx.ExtContext, params UpdatePlanChangeParams) error {
	const query = `UPDATE plan_change_requests
	SET status = $1, admin_notes = $2, reviewed_by = $3, reviewed_at = $4
	WHERE id = $5 AND status = $6`
	result, err := ext.ExecContext(ctx, query,
		params.ToStatus, params.AdminNotes, params.ReviewedBy, params.ReviewedAt,
		params.ID, models.PlanChangeStatusPending,
	)
	if err != nil {
		return fmt.Errorf("update plan change status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check plan change update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
