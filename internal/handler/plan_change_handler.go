package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aneti-platform/aneti-api/internal/dto"
	"github.com/aneti-platform/aneti-api/internal/models"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
	"github.com/aneti-platform/aneti-api/pkg/response"
)

type planChangeService interface {
	Submit(ctx context.Context, req dto.SubmitPlanChangeRequest, userID string) (*models.PlanChangeRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.PlanChangeRequest, error)
	List(ctx context.Context, query dto.PlanChangeQuery, actor *models.JWTClaims) ([]models.PlanChangeRequest, int, error)
	Approve(ctx context.Context, id string, req dto.ReviewPlanChangeRequest, adminID string) (*models.PlanChangeRequest, error)
	Reject(ctx context.Context, id string, req dto.ReviewPlanChangeRequest, adminID string) (*models.PlanChangeRequest, error)
}

// PlanChangeHandler exposes REST endpoints for plan change requests.
type PlanChangeHandler struct {
	service planChangeService
}

// NewPlanChangeHandler constructs the handler.
func NewPlanChangeHandler(service planChangeService) *PlanChangeHandler {
	return &PlanChangeHandler{service: service}
}

// Submit godoc
// @Summary Request a plan change
// @Tags PlanChanges
// @Accept json
// @Produce json
// @Param payload body dto.SubmitPlanChangeRequest true "Plan change payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /plan-change-requests [post]
func (h *PlanChangeHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SubmitPlanChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid plan change payload"))
		return
	}
	change, err := h.service.Submit(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, change, nil)
}

// Get godoc
// @Summary Get plan change request detail
// @Tags PlanChanges
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /plan-change-requests/{id} [get]
func (h *PlanChangeHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	change, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, change, nil)
}

// List godoc
// @Summary List plan change requests
// @Tags PlanChanges
// @Produce json
// @Param status query string false "Request status"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /plan-change-requests [get]
func (h *PlanChangeHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.PlanChangeQuery{
		Status: strings.TrimSpace(c.Query("status")),
		UserID: strings.TrimSpace(c.Query("userId")),
	}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	changes, total, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, changes, &models.Pagination{
		Page:       query.Page,
		PageSize:   query.PageSize,
		TotalCount: total,
	})
}

// Approve godoc
// @Summary Approve a plan change request
// @Tags PlanChanges
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ReviewPlanChangeRequest false "Review notes"
// @Success 200 {object} response.Envelope
// @Router /admin/plan-change-requests/{id}/approve [post]
func (h *PlanChangeHandler) Approve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ReviewPlanChangeRequest
	_ = c.ShouldBindJSON(&req)

	change, err := h.service.Approve(c.Request.Context(), c.Param("id"), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, change, nil)
}

// Reject godoc
// @Summary Reject a plan change request
// @Tags PlanChanges
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ReviewPlanChangeRequest false "Review notes"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/plan-change-requests/{id}/reject [post]
func (h *PlanChangeHandler) Reject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ReviewPlanChangeRequest
	_ = c.ShouldBindJSON(&req)

	change, err := h.service.Reject(c.Request.Context(), c.Param("id"), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, change, nil)
}
