package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aneti-platform/aneti-api/internal/models"
	"github.com/aneti-platform/aneti-api/pkg/response"
)

type userService interface {
	Get(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	ExportRoster(ctx context.Context, filter models.UserFilter, format string) ([]byte, string, error)
}

// UserHandler exposes member profiles and the admin roster.
type UserHandler struct {
	service userService
}

// NewUserHandler constructs the handler.
func NewUserHandler(service userService) *UserHandler {
	return &UserHandler{service: service}
}

// Get godoc
// @Summary Fetch a user profile
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// List godoc
// @Summary List users
// @Tags Users
// @Produce json
// @Param role query string false "Filter by role"
// @Param status query string false "Filter by status"
// @Param planId query string false "Filter by plan"
// @Param active query bool false "Filter by active flag"
// @Param search query string false "Search name or email"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/users [get]
func (h *UserHandler) List(c *gin.Context) {
	filter := userFilterFromQuery(c)
	users, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Export godoc
// @Summary Export the member roster
// @Tags Users
// @Produce text/csv
// @Produce application/pdf
// @Param format query string true "csv or pdf"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /admin/members/export [get]
func (h *UserHandler) Export(c *gin.Context) {
	filter := userFilterFromQuery(c)
	format := c.DefaultQuery("format", "csv")

	out, contentType, err := h.service.ExportRoster(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("member-roster-%s.%s", time.Now().Format("2006-01-02"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, out)
}

func userFilterFromQuery(c *gin.Context) models.UserFilter {
	filter := models.UserFilter{
		PlanID:    c.Query("planId"),
		Search:    c.Query("search"),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
	if raw := c.Query("role"); raw != "" {
		role := models.UserRole(raw)
		filter.Role = &role
	}
	if raw := c.Query("status"); raw != "" {
		status := models.UserStatus(raw)
		filter.Status = &status
	}
	if raw := c.Query("active"); raw != "" {
		if active, err := strconv.ParseBool(raw); err == nil {
			filter.Active = &active
		}
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	return filter
}
