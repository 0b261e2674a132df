package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aneti-platform/aneti-api/internal/models"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
)

type groupRepoStub struct {
	groups  map[string]*models.Group
	members map[string][]string
	seq     int
}

func newGroupRepoStub() *groupRepoStub {
	return &groupRepoStub{
		groups:  make(map[string]*models.Group),
		members: make(map[string][]string),
	}
}

func (s *groupRepoStub) Create(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		s.seq++
		group.ID = fmt.Sprintf("group-%d", s.seq)
	}
	stored := *group
	s.groups[group.ID] = &stored
	s.members[group.ID] = []string{group.CreatedBy}
	return nil
}

func (s *groupRepoStub) GetByID(ctx context.Context, id string) (*models.Group, error) {
	if group, ok := s.groups[id]; ok {
		copied := *group
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *groupRepoStub) List(ctx context.Context) ([]models.Group, error) {
	result := make([]models.Group, 0, len(s.groups))
	for _, group := range s.groups {
		result = append(result, *group)
	}
	return result, nil
}

func (s *groupRepoStub) AddMember(ctx context.Context, member *models.GroupMember) error {
	s.members[member.GroupID] = append(s.members[member.GroupID], member.UserID)
	return nil
}

func (s *groupRepoStub) RemoveMember(ctx context.Context, groupID, userID string) error {
	ids := s.members[groupID]
	for i, id := range ids {
		if id == userID {
			s.members[groupID] = append(ids[:i], ids[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *groupRepoStub) ListMembers(ctx context.Context, groupID string) ([]models.GroupMember, error) {
	var members []models.GroupMember
	for _, id := range s.members[groupID] {
		members = append(members, models.GroupMember{GroupID: groupID, UserID: id})
	}
	return members, nil
}

func (s *groupRepoStub) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	for _, id := range s.members[groupID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func TestGroupServiceCreateMakesCreatorModerator(t *testing.T) {
	repo := newGroupRepoStub()
	svc := NewGroupService(repo, nil)

	group, err := svc.Create(context.Background(), "Cycling", "weekend rides", "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, group.ID)

	member, err := repo.IsMember(context.Background(), group.ID, "user-1")
	require.NoError(t, err)
	require.True(t, member)
}

func TestGroupServiceCreateRequiresName(t *testing.T) {
	svc := NewGroupService(newGroupRepoStub(), nil)

	_, err := svc.Create(context.Background(), "  ", "", "user-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestGroupServiceJoinOnce(t *testing.T) {
	repo := newGroupRepoStub()
	svc := NewGroupService(repo, nil)
	group, err := svc.Create(context.Background(), "Cycling", "", "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Join(context.Background(), group.ID, "user-2"))

	err = svc.Join(context.Background(), group.ID, "user-2")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestGroupServiceJoinUnknownGroup(t *testing.T) {
	svc := NewGroupService(newGroupRepoStub(), nil)

	err := svc.Join(context.Background(), "ghost", "user-1")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestGroupServiceLeave(t *testing.T) {
	repo := newGroupRepoStub()
	svc := NewGroupService(repo, nil)
	group, err := svc.Create(context.Background(), "Cycling", "", "user-1")
	require.NoError(t, err)
	require.NoError(t, svc.Join(context.Background(), group.ID, "user-2"))

	require.NoError(t, svc.Leave(context.Background(), group.ID, "user-2"))

	err = svc.Leave(context.Background(), group.ID, "user-2")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestGroupServiceListMembers(t *testing.T) {
	repo := newGroupRepoStub()
	svc := NewGroupService(repo, nil)
	group, err := svc.Create(context.Background(), "Cycling", "", "user-1")
	require.NoError(t, err)
	require.NoError(t, svc.Join(context.Background(), group.ID, "user-2"))

	members, err := svc.ListMembers(context.Background(), group.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	_, err = svc.ListMembers(context.Background(), "ghost")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}
