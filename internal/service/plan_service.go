package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/aneti-platform/aneti-api/internal/models"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
)

type planAdminStore interface {
	planStore
	Create(ctx context.Context, plan *models.Plan) error
	List(ctx context.Context, activeOnly bool) ([]models.Plan, error)
	Update(ctx context.Context, plan *models.Plan) error
}

// PlanService exposes the membership plan catalog. Members see active
// plans; admins manage the full catalog.
type PlanService struct {
	repo   planAdminStore
	logger *zap.Logger
}

// NewPlanService constructs the service.
func NewPlanService(repo planAdminStore, logger *zap.Logger) *PlanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanService{repo: repo, logger: logger}
}

// List returns plans. Non-admin callers only see active plans.
func (s *PlanService) List(ctx context.Context, actor *models.JWTClaims) ([]models.Plan, error) {
	activeOnly := actor == nil || actor.Role != models.RoleAdmin
	plans, err := s.repo.List(ctx, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list plans")
	}
	return plans, nil
}

// Get returns a single plan.
func (s *PlanService) Get(ctx context.Context, id string) (*models.Plan, error) {
	plan, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	return plan, nil
}

// Create adds a plan to the catalog.
func (s *PlanService) Create(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	if strings.TrimSpace(plan.Name) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "plan name is required")
	}
	if plan.PriceCents < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "plan price cannot be negative")
	}
	if err := s.repo.Create(ctx, plan); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create plan")
	}
	return plan, nil
}

// Update edits an existing plan. Deactivating a plan hides it from new
// applications but leaves existing members on it.
func (s *PlanService) Update(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	if strings.TrimSpace(plan.Name) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "plan name is required")
	}
	if plan.PriceCents < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "plan price cannot be negative")
	}
	if err := s.repo.Update(ctx, plan); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update plan")
	}
	return plan, nil
}
