package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aneti-platform/aneti-api/internal/models"
)

const groupColumns = `id, name, description, created_by, created_at`

// GroupRepository provides database access for member groups.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository creates a new instance of GroupRepository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create inserts a new group and adds the creator as moderator.
func (r *GroupRepository) Create(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create group: %w", err)
	}
	defer tx.Rollback()

	const insertGroup = `INSERT INTO groups (id, name, description, created_by, created_at)
	VALUES (:id, :name, :description, :created_by, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insertGroup, group); err != nil {
		return fmt.Errorf("create group: %w", err)
	}

	const insertMember = `INSERT INTO group_members (group_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, insertMember, group.ID, group.CreatedBy, models.GroupRoleModerator, group.CreatedAt); err != nil {
		return fmt.Errorf("add group creator: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create group: %w", err)
	}
	return nil
}

// GetByID returns a group by identifier.
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE id = $1 LIMIT 1`
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &group, nil
}

// List returns all groups ordered by name.
func (r *GroupRepository) List(ctx context.Context) ([]models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups ORDER BY name ASC`
	var groups []models.Group
	if err := r.db.SelectContext(ctx, &groups, query); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// AddMember adds a user to a group.
func (r *GroupRepository) AddMember(ctx context.Context, member *models.GroupMember) error {
	if member.Role == "" {
		member.Role = models.GroupRoleMember
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}
	const query = `INSERT INTO group_members (group_id, user_id, role, joined_at)
	VALUES (:group_id, :user_id, :role, :joined_at)`
	if _, err := r.db.NamedExecContext(ctx, query, member); err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a group. Returns sql.ErrNoRows when
// the user was not a member.
func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	const query = `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove member rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsMember reports whether a user belongs to a group.
func (r *GroupRepository) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, groupID, userID); err != nil {
		return false, fmt.Errorf("check group membership: %w", err)
	}
	return exists, nil
}

// ListMembers returns the group's membership roster, oldest joiner first.
func (r *GroupRepository) ListMembers(ctx context.Context, groupID string) ([]models.GroupMember, error) {
	const query = `SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id = $1 ORDER BY joined_at ASC`
	var members []models.GroupMember
	if err := r.db.SelectContext(ctx, &members, query, groupID); err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	return members, nil
}

// MemberIDs resolves the user ids of a group's members for broadcast
// targeting.
func (r *GroupRepository) MemberIDs(ctx context.Context, groupID string, includeInactive bool) ([]string, error) {
	query := `SELECT gm.user_id FROM group_members gm JOIN users u ON u.id = gm.user_id WHERE gm.group_id = $1`
	if !includeInactive {
		query += ` AND u.active = TRUE`
	}
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, groupID); err != nil {
		return nil, fmt.Errorf("resolve group members: %w", err)
	}
	return ids, nil
}
