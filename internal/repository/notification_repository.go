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

const notificationColumns = `id, user_id, type, title, message, action_url, related_entity_id, related_entity_type, actor_id, priority, created_at, read_at`

// NotificationRepository persists per-user notification rows.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification using the repository's own connection.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	return r.CreateIn(ctx, r.db, n)
}

// CreateIn inserts a notification through the given executor, allowing the
// write to join a caller-owned transaction.
func (r *NotificationRepository) CreateIn(ctx context.Context, ext sqlx.ExtContext, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications
	(id, user_id, type, title, message, action_url, related_entity_id, related_entity_type, actor_id, priority, created_at, read_at)
	VALUES (:id, :user_id, :type, :title, :message, :action_url, :related_entity_id, :related_entity_type, :actor_id, :priority, :created_at, :read_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListByUser returns the user's notifications, newest first, with a total
// count for pagination.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]models.Notification, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications WHERE user_id = $1`, userID); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	query := fmt.Sprintf("SELECT %s FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT %d OFFSET %d",
		notificationColumns, pageSize, (page-1)*pageSize)

	var list []models.Notification
	if err := r.db.SelectContext(ctx, &list, query, userID); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	return list, total, nil
}

// CountUnread returns the number of unread notifications for a user.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`, userID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead stamps a single notification as read. Scoped to the owner so a
// user cannot mark another member's rows.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string, readAt time.Time) error {
	const query = `UPDATE notifications SET read_at = $3 WHERE id = $1 AND user_id = $2 AND read_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, userID, readAt)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check mark read rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkAllRead stamps every unread notification for the user.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string, readAt time.Time) error {
	const query = `UPDATE notifications SET read_at = $2 WHERE user_id = $1 AND read_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, userID, readAt); err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}
