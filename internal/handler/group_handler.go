package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aneti-platform/aneti-api/internal/models"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
	"github.com/aneti-platform/aneti-api/pkg/response"
)

type groupService interface {
	Create(ctx context.Context, name, description, createdBy string) (*models.Group, error)
	Get(ctx context.Context, id string) (*models.Group, error)
	List(ctx context.Context) ([]models.Group, error)
	ListMembers(ctx context.Context, groupID string) ([]models.GroupMember, error)
	Join(ctx context.Context, groupID, userID string) error
	Leave(ctx context.Context, groupID, userID string) error
}

// GroupHandler exposes member group endpoints.
type GroupHandler struct {
	service groupService
}

// NewGroupHandler constructs the handler.
func NewGroupHandler(service groupService) *GroupHandler {
	return &GroupHandler{service: service}
}

type createGroupRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// Create godoc
// @Summary Create a group
// @Tags Groups
// @Accept json
// @Produce json
// @Param payload body createGroupRequest true "Group payload"
// @Success 201 {object} response.Envelope
// @Router /groups [post]
func (h *GroupHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid group payload"))
		return
	}
	group, err := h.service.Create(c.Request.Context(), req.Name, req.Description, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, group)
}

// Get godoc
// @Summary Fetch a group
// @Tags Groups
// @Produce json
// @Param id path string true "Group ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /groups/{id} [get]
func (h *GroupHandler) Get(c *gin.Context) {
	group, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, group, nil)
}

// List godoc
// @Summary List groups
// @Tags Groups
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /groups [get]
func (h *GroupHandler) List(c *gin.Context) {
	groups, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, groups, nil)
}

// ListMembers godoc
// @Summary List a group's members
// @Tags Groups
// @Produce json
// @Param id path string true "Group ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /groups/{id}/members [get]
func (h *GroupHandler) ListMembers(c *gin.Context) {
	members, err := h.service.ListMembers(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, members, nil)
}

// Join godoc
// @Summary Join a group
// @Tags Groups
// @Produce json
// @Param id path string true "Group ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /groups/{id}/join [post]
func (h *GroupHandler) Join(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Join(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Leave godoc
// @Summary Leave a group
// @Tags Groups
// @Produce json
// @Param id path string true "Group ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /groups/{id}/leave [post]
func (h *GroupHandler) Leave(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Leave(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
