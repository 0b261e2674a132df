package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aneti-platform/aneti-api/internal/models"
)

const connectionColumns = `id, requester_id, receiver_id, status, created_at, responded_at`

// ConnectionRepository provides database access for connection requests
// between members.
type ConnectionRepository struct {
	db *sqlx.DB
}

// NewConnectionRepository creates a new instance of ConnectionRepository.
func NewConnectionRepository(db *sqlx.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// Create inserts a new pending connection request.
func (r *ConnectionRepository) Create(ctx context.Context, conn *models.ConnectionRequest) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.Status == "" {
		conn.Status = models.ConnectionStatusPending
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO connection_requests (id, requester_id, receiver_id, status, created_at, responded_at)
	VALUES (:id, :requester_id, :receiver_id, :status, :created_at, :responded_at)`
	if _, err := r.db.NamedExecContext(ctx, query, conn); err != nil {
		return fmt.Errorf("create connection request: %w", err)
	}
	return nil
}

// GetByID returns a connection request by identifier.
func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*models.ConnectionRequest, error) {
	query := `SELECT ` + connectionColumns + ` FROM connection_requests WHERE id = $1 LIMIT 1`
	var conn models.ConnectionRequest
	if err := r.db.GetContext(ctx, &conn, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get connection request: %w", err)
	}
	return &conn, nil
}

// FindBetween returns an existing request between two users in either
// direction, regardless of status.
func (r *ConnectionRepository) FindBetween(ctx context.Context, userA, userB string) (*models.ConnectionRequest, error) {
	query := `SELECT ` + connectionColumns + ` FROM connection_requests
	WHERE (requester_id = $1 AND receiver_id = $2) OR (requester_id = $2 AND receiver_id = $1)
	ORDER BY created_at DESC LIMIT 1`
	var conn models.ConnectionRequest
	if err := r.db.GetContext(ctx, &conn, query, userA, userB); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find connection between users: %w", err)
	}
	return &conn, nil
}

// List returns connection requests involving a user with total count.
func (r *ConnectionRepository) List(ctx context.Context, userID string, filter models.ConnectionFilter) ([]models.ConnectionRequest, int, error) {
	baseQuery := `FROM connection_requests WHERE (requester_id = $1 OR receiver_id = $1)`
	args := []interface{}{userID}
	var conditions []string

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Direction == "incoming" {
		conditions = append(conditions, "receiver_id = $1")
	} else if filter.Direction == "outgoing" {
		conditions = append(conditions, "requester_id = $1")
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count connection requests: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		connectionColumns, baseQuery, pageSize, (page-1)*pageSize)

	var conns []models.ConnectionRequest
	if err := r.db.SelectContext(ctx, &conns, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list connection requests: %w", err)
	}
	return conns, total, nil
}

// Respond moves a pending request to accepted or rejected. Only the
// receiver can respond and only while the request is still pending;
// otherwise sql.ErrNoRows is returned.
func (r *ConnectionRepository) Respond(ctx context.Context, id, receiverID string, status models.ConnectionStatus, respondedAt time.Time) error {
	const query = `UPDATE connection_requests SET status = $3, responded_at = $4
	WHERE id = $1 AND receiver_id = $2 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, id, receiverID, status, respondedAt, models.ConnectionStatusPending)
	if err != nil {
		return fmt.Errorf("respond to connection request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("respond rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
