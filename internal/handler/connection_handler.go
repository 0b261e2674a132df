package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aneti-platform/aneti-api/internal/dto"
	"github.com/aneti-platform/aneti-api/internal/models"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
	"github.com/aneti-platform/aneti-api/pkg/response"
)

type connectionService interface {
	Request(ctx context.Context, req dto.CreateConnectionRequest, requesterID string) (*models.ConnectionRequest, error)
	Accept(ctx context.Context, id, receiverID string) (*models.ConnectionRequest, error)
	Reject(ctx context.Context, id, receiverID string) (*models.ConnectionRequest, error)
	List(ctx context.Context, userID string, query dto.ConnectionQuery) ([]models.ConnectionRequest, int, error)
}

// ConnectionHandler exposes member-to-member connection endpoints.
type ConnectionHandler struct {
	service connectionService
}

// NewConnectionHandler constructs the handler.
func NewConnectionHandler(service connectionService) *ConnectionHandler {
	return &ConnectionHandler{service: service}
}

// Request godoc
// @Summary Send a connection request
// @Tags Connections
// @Accept json
// @Produce json
// @Param payload body dto.CreateConnectionRequest true "Connection payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /connections [post]
func (h *ConnectionHandler) Request(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid connection payload"))
		return
	}
	conn, err := h.service.Request(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, conn)
}

// Accept godoc
// @Summary Accept a pending connection request
// @Tags Connections
// @Produce json
// @Param id path string true "Connection ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /connections/{id}/accept [post]
func (h *ConnectionHandler) Accept(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	conn, err := h.service.Accept(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, conn, nil)
}

// Reject godoc
// @Summary Reject a pending connection request
// @Tags Connections
// @Produce json
// @Param id path string true "Connection ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /connections/{id}/reject [post]
func (h *ConnectionHandler) Reject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	conn, err := h.service.Reject(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, conn, nil)
}

// List godoc
// @Summary List the caller's connections
// @Tags Connections
// @Produce json
// @Param status query string false "Filter by status"
// @Param direction query string false "incoming or outgoing"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /connections [get]
func (h *ConnectionHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.ConnectionQuery{
		Status:    c.Query("status"),
		Direction: c.Query("direction"),
	}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	items, total, err := h.service.List(c.Request.Context(), claims.UserID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, &models.Pagination{
		Page:       query.Page,
		PageSize:   query.PageSize,
		TotalCount: total,
	})
}
