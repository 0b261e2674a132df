package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aneti-platform/aneti-api/internal/models"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
	"github.com/aneti-platform/aneti-api/pkg/response"
)

type planService interface {
	List(ctx context.Context, actor *models.JWTClaims) ([]models.Plan, error)
	Get(ctx context.Context, id string) (*models.Plan, error)
	Create(ctx context.Context, plan *models.Plan) (*models.Plan, error)
	Update(ctx context.Context, plan *models.Plan) (*models.Plan, error)
}

// PlanHandler exposes the membership plan catalog.
type PlanHandler struct {
	service planService
}

// NewPlanHandler constructs the handler.
func NewPlanHandler(service planService) *PlanHandler {
	return &PlanHandler{service: service}
}

type planPayload struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	Active      *bool  `json:"active"`
}

// List godoc
// @Summary List membership plans
// @Tags Plans
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /plans [get]
func (h *PlanHandler) List(c *gin.Context) {
	plans, err := h.service.List(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plans, nil)
}

// Get godoc
// @Summary Fetch a membership plan
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /plans/{id} [get]
func (h *PlanHandler) Get(c *gin.Context) {
	plan, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// Create godoc
// @Summary Create a membership plan
// @Tags Plans
// @Accept json
// @Produce json
// @Param payload body planPayload true "Plan payload"
// @Success 201 {object} response.Envelope
// @Router /admin/plans [post]
func (h *PlanHandler) Create(c *gin.Context) {
	var req planPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid plan payload"))
		return
	}
	plan := &models.Plan{
		Name:        req.Name,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Active:      true,
	}
	if req.Active != nil {
		plan.Active = *req.Active
	}
	created, err := h.service.Create(c.Request.Context(), plan)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// Update godoc
// @Summary Update a membership plan
// @Tags Plans
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param payload body planPayload true "Plan payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/plans/{id} [put]
func (h *PlanHandler) Update(c *gin.Context) {
	var req planPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid plan payload"))
		return
	}
	plan := &models.Plan{
		ID:          c.Param("id"),
		Name:        req.Name,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Active:      true,
	}
	if req.Active != nil {
		plan.Active = *req.Active
	}
	updated, err := h.service.Update(c.Request.Context(), plan)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}
