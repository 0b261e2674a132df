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

type groupStore interface {
	Create(ctx context.Context, group *models.Group) error
	GetByID(ctx context.Context, id string) (*models.Group, error)
	List(ctx context.Context) ([]models.Group, error)
	AddMember(ctx context.Context, member *models.GroupMember) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	ListMembers(ctx context.Context, groupID string) ([]models.GroupMember, error)
}

// GroupService manages member groups and their membership rosters.
type GroupService struct {
	repo   groupStore
	logger *zap.Logger
}

// NewGroupService constructs the service.
func NewGroupService(repo groupStore, logger *zap.Logger) *GroupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupService{repo: repo, logger: logger}
}

// Create adds a group with the creator as its first moderator.
func (s *GroupService) Create(ctx context.Context, name, description, createdBy string) (*models.Group, error) {
	if strings.TrimSpace(name) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "group name is required")
	}
	group := &models.Group{
		Name:        strings.TrimSpace(name),
		Description: description,
		CreatedBy:   createdBy,
	}
	if err := s.repo.Create(ctx, group); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create group")
	}
	return group, nil
}

// Get returns a group by id.
func (s *GroupService) Get(ctx context.Context, id string) (*models.Group, error) {
	group, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	return group, nil
}

// List returns all groups.
func (s *GroupService) List(ctx context.Context) ([]models.Group, error) {
	groups, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list groups")
	}
	return groups, nil
}

// ListMembers returns the group's roster.
func (s *GroupService) ListMembers(ctx context.Context, groupID string) ([]models.GroupMember, error) {
	if _, err := s.Get(ctx, groupID); err != nil {
		return nil, err
	}
	members, err := s.repo.ListMembers(ctx, groupID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list group members")
	}
	return members, nil
}

// Join adds the caller to a group.
func (s *GroupService) Join(ctx context.Context, groupID, userID string) error {
	if _, err := s.Get(ctx, groupID); err != nil {
		return err
	}
	member, err := s.repo.IsMember(ctx, groupID, userID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check membership")
	}
	if member {
		return appErrors.Clone(appErrors.ErrConflict, "already a member of this group")
	}
	if err := s.repo.AddMember(ctx, &models.GroupMember{GroupID: groupID, UserID: userID}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to join group")
	}
	return nil
}

// Leave removes the caller from a group.
func (s *GroupService) Leave(ctx context.Context, groupID, userID string) error {
	if err := s.repo.RemoveMember(ctx, groupID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "not a member of this group")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to leave group")
	}
	return nil
}
