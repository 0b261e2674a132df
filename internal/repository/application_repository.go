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

const applicationColumns = `id, user_id, plan_id, status, payment_status, documents, admin_notes, reviewed_by, reviewed_at, created_at, updated_at`

// ApplicationRepository persists membership applications.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// Create inserts a new application row.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.Status == "" {
		app.Status = models.ApplicationStatusPending
	}
	if app.PaymentStatus == "" {
		app.PaymentStatus = models.PaymentStatusPending
	}
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now
	const query = `INSERT INTO applications
	(id, user_id, plan_id, status, payment_status, documents, admin_notes, reviewed_by, reviewed_at, created_at, updated_at)
	VALUES (:id, :user_id, :plan_id, :status, :payment_status, :documents, :admin_notes, :reviewed_by, :reviewed_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, app); err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

// GetByID fetches an application by identifier.
func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`
	var app models.Application
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		return nil, err
	}
	return &app, nil
}

// FindByUser returns the user's application, if any. Applications are 1:1
// per user.
func (r *ApplicationRepository) FindByUser(ctx context.Context, userID string) (*models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`
	var app models.Application
	if err := r.db.GetContext(ctx, &app, query, userID); err != nil {
		return nil, err
	}
	return &app, nil
}

// List returns applications matching the filter with a total count.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, int, error) {
	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)

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
	if filter.PlanID != "" {
		args = append(args, filter.PlanID)
		conditions = append(conditions, fmt.Sprintf("plan_id = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM applications"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	query := fmt.Sprintf("SELECT %s FROM applications%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		applicationColumns, where, pageSize, (page-1)*pageSize)

	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}
	return apps, total, nil
}

// UpdateApplicationParams groups mutable columns for review transitions.
type UpdateApplicationParams struct {
	ID         string
	FromStatus models.ApplicationStatus
	ToStatus   models.ApplicationStatus
	AdminNotes string
	ReviewedBy string
	ReviewedAt time.Time
}

// UpdateStatus persists a review outcome. The update is guarded on the
// expected current status; sql.ErrNoRows signals a lost race or an illegal
// transition that slipped past the service check.
func (r *ApplicationRepository) UpdateStatus(ctx context.Context, ext sqlx.ExtContext, params UpdateApplicationParams) error {
	const query = `UPDATE applications
	SET status = $1, admin_notes = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $5
	WHERE id = $6 AND status = $7`
	result, err := ext.ExecContext(ctx, query,
		params.ToStatus, params.AdminNotes, params.ReviewedBy, params.ReviewedAt, time.Now().UTC(),
		params.ID, params.FromStatus,
	)
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check application update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AppealParams groups columns touched when the owner reopens review.
type AppealParams struct {
	ID         string
	FromStatus models.ApplicationStatus
	Documents  models.DocumentList
	AdminNotes string
}

// Appeal moves an application back to pending, replacing its document list
// with the grown one. Guarded on the expected current status.
func (r *ApplicationRepository) Appeal(ctx context.Context, ext sqlx.ExtContext, params AppealParams) error {
	const query = `UPDATE applications
	SET status = $1, documents = $2, admin_notes = $3, updated_at = $4
	WHERE id = $5 AND status = $6`
	result, err := ext.ExecContext(ctx, query,
		models.ApplicationStatusPending, params.Documents, params.AdminNotes, time.Now().UTC(),
		params.ID, params.FromStatus,
	)
	if err != nil {
		return fmt.Errorf("appeal application: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check appeal rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
