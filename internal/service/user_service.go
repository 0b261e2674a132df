package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aneti-platform/aneti-api/internal/models"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
	"github.com/aneti-platform/aneti-api/pkg/export"
)

type userAdminStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

// ExportConfig bounds roster exports.
type ExportConfig struct {
	Enabled bool
	MaxRows int
}

// UserService exposes member directory and admin roster operations.
type UserService struct {
	repo   userAdminStore
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
	cfg    ExportConfig
	logger *zap.Logger
}

// NewUserService constructs the service.
func NewUserService(repo userAdminStore, csv *export.CSVExporter, pdf *export.PDFExporter, cfg ExportConfig, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 10000
	}
	return &UserService{repo: repo, csv: csv, pdf: pdf, cfg: cfg, logger: logger}
}

// Get returns a user profile.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// List returns members matching the filter for the admin directory.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, total, nil
}

// ExportRoster renders the member roster as csv or pdf.
func (s *UserService) ExportRoster(ctx context.Context, filter models.UserFilter, format string) ([]byte, string, error) {
	if !s.cfg.Enabled {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "exports are disabled")
	}
	filter.Page = 1
	filter.PageSize = s.cfg.MaxRows
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	if total > s.cfg.MaxRows {
		s.logger.Warn("roster export truncated", zap.Int("total", total), zap.Int("maxRows", s.cfg.MaxRows))
	}

	data := export.Dataset{
		Headers: []string{"Email", "Full Name", "Role", "Status", "Plan", "Active", "Joined"},
	}
	for _, u := range users {
		plan := ""
		if u.PlanID != nil {
			plan = *u.PlanID
		}
		data.Rows = append(data.Rows, map[string]string{
			"Email":     u.Email,
			"Full Name": u.FullName,
			"Role":      string(u.Role),
			"Status":    string(u.Status),
			"Plan":      plan,
			"Active":    fmt.Sprintf("%t", u.Active),
			"Joined":    u.CreatedAt.Format(time.RFC3339),
		})
	}

	switch strings.ToLower(format) {
	case "csv", "":
		out, err := s.csv.Render(data)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return out, "text/csv", nil
	case "pdf":
		out, err := s.pdf.Render(data, "Member Roster")
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return out, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}
