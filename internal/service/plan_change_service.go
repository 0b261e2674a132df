package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/aneti-platform/aneti-api/internal/dto"
	"github.com/aneti-platform/aneti-api/internal/models"
	"github.com/aneti-platform/aneti-api/internal/repository"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
)

type planChangeStore interface {
	Create(ctx context.Context, req *models.PlanChangeRequest) error
	GetByID(ctx context.Context, id string) (*models.PlanChangeRequest, error)
	FindPendingByUser(ctx context.Context, userID string) (*models.PlanChangeRequest, error)
	List(ctx context.Context, filter models.PlanChangeFilter) ([]models.PlanChangeRequest, int, error)
	UpdateStatus(ctx context.Context, ext sqlx.ExtContext, params repository.UpdatePlanChangeParams) error
}

type memberLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type planChangeNotifier interface {
	NotifyPlanChangeApproved(ctx context.Context, ext sqlx.ExtContext, userID, requestID string) error
	NotifyPlanChangeRejected(ctx context.Context, ext sqlx.ExtContext, userID, requestID, reason string) error
}

// PlanChangeService handles requests by approved members to move to a
// different plan. Unlike applications, a rejected plan change is final;
// the member simply files a new request.
type PlanChangeService struct {
	repo     planChangeStore
	plans    planStore
	users    memberLookup
	members  memberStatusStore
	events   reviewEventStore
	notifier planChangeNotifier
	tx       transactor
	audit    auditLogger
	logger   *zap.Logger
}

// NewPlanChangeService constructs the service.
func NewPlanChangeService(
	repo planChangeStore,
	plans planStore,
	users memberLookup,
	members memberStatusStore,
	events reviewEventStore,
	notifier planChangeNotifier,
	tx transactor,
	audit auditLogger,
	logger *zap.Logger,
) *PlanChangeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanChangeService{
		repo:     repo,
		plans:    plans,
		users:    users,
		members:  members,
		events:   events,
		notifier: notifier,
		tx:       tx,
		audit:    audit,
		logger:   logger,
	}
}

// Submit files a plan change request for an approved member. Only one
// pending request per member is allowed at a time.
func (s *PlanChangeService) Submit(ctx context.Context, req dto.SubmitPlanChangeRequest, userID string) (*models.PlanChangeRequest, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load member")
	}
	if user.Status != models.UserStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only approved members can request a plan change")
	}
	if user.PlanID != nil && *user.PlanID == req.RequestedPlanID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "requested plan matches the current plan")
	}

	plan, err := s.plans.GetByID(ctx, req.RequestedPlanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "requested plan does not exist")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if !plan.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "requested plan is not available")
	}

	pending, err := s.repo.FindPendingByUser(ctx, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending requests")
	}
	if pending != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a pending plan change request already exists")
	}

	change := &models.PlanChangeRequest{
		UserID:          userID,
		CurrentPlanID:   user.PlanID,
		RequestedPlanID: req.RequestedPlanID,
		Status:          models.PlanChangeStatusPending,
		Documents:       req.Documents,
	}
	if err := s.repo.Create(ctx, change); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create plan change request")
	}
	if err := s.events.Create(ctx, &models.ReviewEvent{
		SubjectKind: models.ReviewSubjectPlanChange,
		SubjectID:   change.ID,
		Action:      models.ReviewActionSubmitted,
		ActorID:     &userID,
	}); err != nil {
		s.logger.Warn("failed to record review event", zap.Error(err), zap.String("subjectId", change.ID))
	}
	return change, nil
}

// Get returns a request enforcing ownership for non-admin actors.
func (s *PlanChangeService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.PlanChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	change, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan change request")
	}
	if actor.Role != models.RoleAdmin && change.UserID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return change, nil
}

// List returns requests for the admin queue, or the actor's own requests
// for members.
func (s *PlanChangeService) List(ctx context.Context, query dto.PlanChangeQuery, actor *models.JWTClaims) ([]models.PlanChangeRequest, int, error) {
	if actor == nil {
		return nil, 0, appErrors.ErrUnauthorized
	}
	filter := models.PlanChangeFilter{
		UserID:   query.UserID,
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	if actor.Role != models.RoleAdmin {
		filter.UserID = actor.UserID
	}
	if query.Status != "" {
		filter.Status = []models.PlanChangeStatus{models.PlanChangeStatus(query.Status)}
	}
	changes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list plan change requests")
	}
	return changes, total, nil
}

// Approve grants the plan change and reassigns the member's plan. Approving
// an already-approved request is a no-op returning the stored request, so
// retried admin calls stay safe.
func (s *PlanChangeService) Approve(ctx context.Context, id string, req dto.ReviewPlanChangeRequest, adminID string) (*models.PlanChangeRequest, error) {
	change, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if change.Status == models.PlanChangeStatusApproved {
		return change, nil
	}
	if change.Status != models.PlanChangeStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "a rejected plan change request cannot be approved")
	}
	now := time.Now().UTC()
	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		params := repository.UpdatePlanChangeParams{
			ID:         change.ID,
			ToStatus:   models.PlanChangeStatusApproved,
			AdminNotes: req.AdminNotes,
			ReviewedBy: adminID,
			ReviewedAt: now,
		}
		if err := s.repo.UpdateStatus(ctx, tx, params); err != nil {
			return err
		}
		if err := s.members.AssignPlan(ctx, tx, change.UserID, change.RequestedPlanID, models.UserStatusApproved); err != nil {
			return err
		}
		if err := s.events.CreateIn(ctx, tx, &models.ReviewEvent{
			SubjectKind: models.ReviewSubjectPlanChange,
			SubjectID:   change.ID,
			Action:      models.ReviewActionApproved,
			ActorID:     &adminID,
			Notes:       req.AdminNotes,
		}); err != nil {
			return err
		}
		return s.notifier.NotifyPlanChangeApproved(ctx, tx, change.UserID, change.ID)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// lost the race; reload so a repeated approval stays idempotent
			return s.reloadAfterRace(ctx, id)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve plan change")
	}
	change.Status = models.PlanChangeStatusApproved
	change.AdminNotes = req.AdminNotes
	change.ReviewedBy = &adminID
	change.ReviewedAt = &now
	s.emitAudit(ctx, adminID, change.ID)
	return change, nil
}

// Reject declines the plan change. Rejection is terminal.
func (s *PlanChangeService) Reject(ctx context.Context, id string, req dto.ReviewPlanChangeRequest, adminID string) (*models.PlanChangeRequest, error) {
	change, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if change.Status != models.PlanChangeStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "plan change request was already reviewed")
	}
	now := time.Now().UTC()
	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		params := repository.UpdatePlanChangeParams{
			ID:         change.ID,
			ToStatus:   models.PlanChangeStatusRejected,
			AdminNotes: req.AdminNotes,
			ReviewedBy: adminID,
			ReviewedAt: now,
		}
		if err := s.repo.UpdateStatus(ctx, tx, params); err != nil {
			return err
		}
		if err := s.events.CreateIn(ctx, tx, &models.ReviewEvent{
			SubjectKind: models.ReviewSubjectPlanChange,
			SubjectID:   change.ID,
			Action:      models.ReviewActionRejected,
			ActorID:     &adminID,
			Notes:       req.AdminNotes,
		}); err != nil {
			return err
		}
		return s.notifier.NotifyPlanChangeRejected(ctx, tx, change.UserID, change.ID, req.AdminNotes)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "plan change request was already processed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject plan change")
	}
	change.Status = models.PlanChangeStatusRejected
	change.AdminNotes = req.AdminNotes
	change.ReviewedBy = &adminID
	change.ReviewedAt = &now
	s.emitAudit(ctx, adminID, change.ID)
	return change, nil
}

func (s *PlanChangeService) load(ctx context.Context, id string) (*models.PlanChangeRequest, error) {
	change, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan change request")
	}
	return change, nil
}

func (s *PlanChangeService) reloadAfterRace(ctx context.Context, id string) (*models.PlanChangeRequest, error) {
	change, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if change.Status == models.PlanChangeStatusApproved {
		return change, nil
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "plan change request was already processed")
}

func (s *PlanChangeService) emitAudit(ctx context.Context, adminID, requestID string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionPlanChangeReview,
		Resource:   "plan_change_request",
		ResourceID: &requestID,
		IPAddress:  "system",
		UserAgent:  "plan-change-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
