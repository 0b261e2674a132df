package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aneti-platform/aneti-api/internal/dto"
	"github.com/aneti-platform/aneti-api/internal/models"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
)

type connectionStore interface {
	Create(ctx context.Context, conn *models.ConnectionRequest) error
	GetByID(ctx context.Context, id string) (*models.ConnectionRequest, error)
	FindBetween(ctx context.Context, userA, userB string) (*models.ConnectionRequest, error)
	List(ctx context.Context, userID string, filter models.ConnectionFilter) ([]models.ConnectionRequest, int, error)
	Respond(ctx context.Context, id, receiverID string, status models.ConnectionStatus, respondedAt time.Time) error
}

type socialNotifier interface {
	NotifyConnectionRequest(ctx context.Context, actorID, receiverID, requestID string)
	NotifyConnectionAccepted(ctx context.Context, actorID, requesterID, requestID string)
}

// ConnectionService handles member-to-member connection requests.
type ConnectionService struct {
	repo     connectionStore
	users    memberLookup
	notifier socialNotifier
	logger   *zap.Logger
}

// NewConnectionService constructs the service.
func NewConnectionService(repo connectionStore, users memberLookup, notifier socialNotifier, logger *zap.Logger) *ConnectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionService{repo: repo, users: users, notifier: notifier, logger: logger}
}

// Request sends a connection request. Self-connections and duplicates in
// either direction are rejected.
func (s *ConnectionService) Request(ctx context.Context, req dto.CreateConnectionRequest, requesterID string) (*models.ConnectionRequest, error) {
	if req.ReceiverID == requesterID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot connect with yourself")
	}
	receiver, err := s.users.FindByID(ctx, req.ReceiverID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "receiver not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load receiver")
	}
	if !receiver.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "receiver account is inactive")
	}

	existing, err := s.repo.FindBetween(ctx, requesterID, req.ReceiverID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing connection")
	}
	if existing != nil && existing.Status != models.ConnectionStatusRejected {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a connection already exists between these members")
	}

	conn := &models.ConnectionRequest{
		RequesterID: requesterID,
		ReceiverID:  req.ReceiverID,
		Status:      models.ConnectionStatusPending,
	}
	if err := s.repo.Create(ctx, conn); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create connection request")
	}
	s.notifier.NotifyConnectionRequest(ctx, requesterID, conn.ReceiverID, conn.ID)
	return conn, nil
}

// Accept moves a pending request to accepted and notifies the requester.
func (s *ConnectionService) Accept(ctx context.Context, id, receiverID string) (*models.ConnectionRequest, error) {
	return s.respond(ctx, id, receiverID, models.ConnectionStatusAccepted)
}

// Reject declines a pending request. No notification is sent.
func (s *ConnectionService) Reject(ctx context.Context, id, receiverID string) (*models.ConnectionRequest, error) {
	return s.respond(ctx, id, receiverID, models.ConnectionStatusRejected)
}

// List returns connection requests involving the caller.
func (s *ConnectionService) List(ctx context.Context, userID string, query dto.ConnectionQuery) ([]models.ConnectionRequest, int, error) {
	filter := models.ConnectionFilter{
		Direction: query.Direction,
		Page:      query.Page,
		PageSize:  query.PageSize,
	}
	if query.Status != "" {
		status := models.ConnectionStatus(query.Status)
		filter.Status = &status
	}
	conns, total, err := s.repo.List(ctx, userID, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list connection requests")
	}
	return conns, total, nil
}

func (s *ConnectionService) respond(ctx context.Context, id, receiverID string, status models.ConnectionStatus) (*models.ConnectionRequest, error) {
	conn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load connection request")
	}
	if conn.ReceiverID != receiverID {
		return nil, appErrors.ErrForbidden
	}
	if conn.Status != models.ConnectionStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "connection request was already answered")
	}

	now := time.Now().UTC()
	if err := s.repo.Respond(ctx, id, receiverID, status, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "connection request was already answered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to answer connection request")
	}
	conn.Status = status
	conn.RespondedAt = &now

	if status == models.ConnectionStatusAccepted {
		s.notifier.NotifyConnectionAccepted(ctx, receiverID, conn.RequesterID, conn.ID)
	}
	return conn, nil
}
