package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aneti-platform/aneti-api/internal/models"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
)

type planCatalogStub struct {
	plans map[string]*models.Plan
	seq   int
}

func newPlanCatalogStub(plans ...*models.Plan) *planCatalogStub {
	stub := &planCatalogStub{plans: make(map[string]*models.Plan)}
	for _, plan := range plans {
		stub.plans[plan.ID] = plan
	}
	return stub
}

func (s *planCatalogStub) GetByID(ctx context.Context, id string) (*models.Plan, error) {
	if plan, ok := s.plans[id]; ok {
		copied := *plan
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *planCatalogStub) Create(ctx context.Context, plan *models.Plan) error {
	s.seq++
	plan.ID = fmt.Sprintf("plan-%d", s.seq)
	copied := *plan
	s.plans[plan.ID] = &copied
	return nil
}

func (s *planCatalogStub) List(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	var out []models.Plan
	for _, plan := range s.plans {
		if activeOnly && !plan.Active {
			continue
		}
		out = append(out, *plan)
	}
	return out, nil
}

func (s *planCatalogStub) Update(ctx context.Context, plan *models.Plan) error {
	if _, ok := s.plans[plan.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *plan
	s.plans[plan.ID] = &copied
	return nil
}

func newPlanCatalogFixture() *planCatalogStub {
	return newPlanCatalogStub(
		&models.Plan{ID: "plan-basic", Name: "Basic", PriceCents: 0, Active: true},
		&models.Plan{ID: "plan-pro", Name: "Pro", PriceCents: 4900, Active: true},
		&models.Plan{ID: "plan-legacy", Name: "Legacy", PriceCents: 1900, Active: false},
	)
}

func TestPlanServiceListHidesInactiveFromMembers(t *testing.T) {
	svc := NewPlanService(newPlanCatalogFixture(), zap.NewNop())

	plans, err := svc.List(context.Background(), &models.JWTClaims{UserID: "user-1", Role: models.RoleMember})
	require.NoError(t, err)
	assert.Len(t, plans, 2)
	for _, plan := range plans {
		assert.True(t, plan.Active)
	}
}

func TestPlanServiceListShowsFullCatalogToAdmins(t *testing.T) {
	svc := NewPlanService(newPlanCatalogFixture(), zap.NewNop())

	plans, err := svc.List(context.Background(), &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Len(t, plans, 3)
}

func TestPlanServiceGetNotFound(t *testing.T) {
	svc := NewPlanService(newPlanCatalogFixture(), zap.NewNop())

	_, err := svc.Get(context.Background(), "plan-ghost")
	require.Error(t, err)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestPlanServiceCreateValidates(t *testing.T) {
	svc := NewPlanService(newPlanCatalogFixture(), zap.NewNop())

	_, err := svc.Create(context.Background(), &models.Plan{Name: "  ", PriceCents: 100})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Create(context.Background(), &models.Plan{Name: "Discount", PriceCents: -1})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	plan, err := svc.Create(context.Background(), &models.Plan{Name: "Premium", PriceCents: 9900, Active: true})
	require.NoError(t, err)
	assert.NotEmpty(t, plan.ID)
}

func TestPlanServiceUpdateUnknownPlan(t *testing.T) {
	svc := NewPlanService(newPlanCatalogFixture(), zap.NewNop())

	_, err := svc.Update(context.Background(), &models.Plan{ID: "plan-ghost", Name: "Ghost", PriceCents: 100})
	require.Error(t, err)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestPlanServiceUpdateDeactivates(t *testing.T) {
	repo := newPlanCatalogFixture()
	svc := NewPlanService(repo, zap.NewNop())

	plan, err := svc.Update(context.Background(), &models.Plan{ID: "plan-pro", Name: "Pro", PriceCents: 4900, Active: false})
	require.NoError(t, err)
	assert.False(t, plan.Active)
	assert.False(t, repo.plans["plan-pro"].Active)
}
