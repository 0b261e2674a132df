package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aneti-platform/aneti-api/internal/models"
)

const planColumns = `id, name, description, price_cents, active, created_at, updated_at`

// PlanRepository provides database access for membership plans.
type PlanRepository struct {
	db *sqlx.DB
}

// NewPlanRepository creates a new instance of PlanRepository.
func NewPlanRepository(db *sqlx.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// Create inserts a new plan.
func (r *PlanRepository) Create(ctx context.Context, plan *models.Plan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now
	const query = `INSERT INTO plans (id, name, description, price_cents, active, created_at, updated_at)
	VALUES (:id, :name, :description, :price_cents, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, plan); err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// GetByID returns a plan by identifier.
func (r *PlanRepository) GetByID(ctx context.Context, id string) (*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1 LIMIT 1`
	var plan models.Plan
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return &plan, nil
}

// List returns plans, optionally restricted to active ones.
func (r *PlanRepository) List(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY price_cents ASC`
	var plans []models.Plan
	if err := r.db.SelectContext(ctx, &plans, query); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// Update updates the mutable fields of a plan.
func (r *PlanRepository) Update(ctx context.Context, plan *models.Plan) error {
	plan.UpdatedAt = time.Now().UTC()
	const query = `UPDATE plans SET name = :name, description = :description, price_cents = :price_cents, active = :active, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, plan)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update plan rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
