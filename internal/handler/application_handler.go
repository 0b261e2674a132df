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

type applicationService interface {
	Submit(ctx context.Context, req dto.SubmitApplicationRequest, userID string) (*models.Application, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Application, error)
	GetMine(ctx context.Context, userID string) (*models.Application, error)
	List(ctx context.Context, query dto.ApplicationQuery) ([]models.Application, int, error)
	Approve(ctx context.Context, id, adminID string) (*models.Application, error)
	Reject(ctx context.Context, id string, req dto.RejectApplicationRequest, adminID string) (*models.Application, error)
	ProvideDocuments(ctx context.Context, id, userID string, docs models.DocumentList) (*models.Application, error)
	Appeal(ctx context.Context, id, userID string, req dto.AppealApplicationRequest) (*models.Application, error)
	History(ctx context.Context, id string, actor *models.JWTClaims) ([]models.ReviewEvent, error)
}

// ApplicationHandler exposes REST endpoints for the membership application
// lifecycle.
type ApplicationHandler struct {
	service applicationService
}

// NewApplicationHandler constructs the handler.
func NewApplicationHandler(service applicationService) *ApplicationHandler {
	return &ApplicationHandler{service: service}
}

// Submit godoc
// @Summary Submit a membership application
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body dto.SubmitApplicationRequest true "Application payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications [post]
func (h *ApplicationHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SubmitApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid application payload"))
		return
	}
	app, err := h.service.Submit(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, app, nil)
}

// Mine godoc
// @Summary Get the caller's application
// @Tags Applications
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /applications/me [get]
func (h *ApplicationHandler) Mine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	app, err := h.service.GetMine(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// Get godoc
// @Summary Get application detail
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	app, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// List godoc
// @Summary List applications
// @Tags Applications
// @Produce json
// @Param status query string false "Application status"
// @Param planId query string false "Plan ID"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	query := dto.ApplicationQuery{
		Status: strings.TrimSpace(c.Query("status")),
		UserID: strings.TrimSpace(c.Query("userId")),
		PlanID: strings.TrimSpace(c.Query("planId")),
	}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	apps, total, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, apps, &models.Pagination{
		Page:       query.Page,
		PageSize:   query.PageSize,
		TotalCount: total,
	})
}

// Approve godoc
// @Summary Approve a pending application
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/applications/{id}/approve [post]
func (h *ApplicationHandler) Approve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	app, err := h.service.Approve(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// Reject godoc
// @Summary Reject a pending application or request documents
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.RejectApplicationRequest true "Review decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/applications/{id}/reject [post]
func (h *ApplicationHandler) Reject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RejectApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
		return
	}
	app, err := h.service.Reject(c.Request.Context(), c.Param("id"), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// ProvideDocuments godoc
// @Summary Supply requested documents
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.ProvideDocumentsRequest true "Documents"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/documents [post]
func (h *ApplicationHandler) ProvideDocuments(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ProvideDocumentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid documents payload"))
		return
	}
	app, err := h.service.ProvideDocuments(c.Request.Context(), c.Param("id"), claims.UserID, req.Documents)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// Appeal godoc
// @Summary Appeal a rejected application
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.AppealApplicationRequest true "Appeal payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/appeal [post]
func (h *ApplicationHandler) Appeal(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.AppealApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid appeal payload"))
		return
	}
	app, err := h.service.Appeal(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// History godoc
// @Summary Get the review history of an application
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/history [get]
func (h *ApplicationHandler) History(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	events, err := h.service.History(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, nil)
}
