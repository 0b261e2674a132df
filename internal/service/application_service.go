package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/aneti-platform/aneti-api/internal/dto"
	"github.com/aneti-platform/aneti-api/internal/models"
	"github.com/aneti-platform/aneti-api/internal/repository"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
)

type applicationStore interface {
	Create(ctx context.Context, app *models.Application) error
	GetByID(ctx context.Context, id string) (*models.Application, error)
	FindByUser(ctx context.Context, userID string) (*models.Application, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, int, error)
	UpdateStatus(ctx context.Context, ext sqlx.ExtContext, params repository.UpdateApplicationParams) error
	Appeal(ctx context.Context, ext sqlx.ExtContext, params repository.AppealParams) error
}

type planStore interface {
	GetByID(ctx context.Context, id string) (*models.Plan, error)
}

type memberStatusStore interface {
	AssignPlan(ctx context.Context, ext sqlx.ExtContext, userID, planID string, status models.UserStatus) error
	SetStatus(ctx context.Context, ext sqlx.ExtContext, userID string, status models.UserStatus) error
}

type reviewEventStore interface {
	Create(ctx context.Context, event *models.ReviewEvent) error
	CreateIn(ctx context.Context, ext sqlx.ExtContext, event *models.ReviewEvent) error
	ListBySubject(ctx context.Context, kind models.ReviewSubjectKind, subjectID string) ([]models.ReviewEvent, error)
}

type lifecycleNotifier interface {
	NotifyApplicationApproved(ctx context.Context, ext sqlx.ExtContext, userID, applicationID, planName string) error
	NotifyApplicationRejected(ctx context.Context, ext sqlx.ExtContext, userID, applicationID, reason string) error
	NotifyDocumentsRequested(ctx context.Context, ext sqlx.ExtContext, userID, applicationID, notes string) error
}

type transactor interface {
	WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ApplicationService orchestrates the membership application lifecycle:
// submission, admin review, document requests, and appeals. Every status
// transition, its review event, and its outcome notification commit in a
// single transaction.
type ApplicationService struct {
	repo     applicationStore
	plans    planStore
	members  memberStatusStore
	events   reviewEventStore
	notifier lifecycleNotifier
	tx       transactor
	audit    auditLogger
	logger   *zap.Logger
}

// NewApplicationService constructs the service.
func NewApplicationService(
	repo applicationStore,
	plans planStore,
	members memberStatusStore,
	events reviewEventStore,
	notifier lifecycleNotifier,
	tx transactor,
	audit auditLogger,
	logger *zap.Logger,
) *ApplicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplicationService{
		repo:     repo,
		plans:    plans,
		members:  members,
		events:   events,
		notifier: notifier,
		tx:       tx,
		audit:    audit,
		logger:   logger,
	}
}

// Submit stores a new membership application. A user can hold at most one
// application; resubmission goes through ProvideDocuments or Appeal.
func (s *ApplicationService) Submit(ctx context.Context, req dto.SubmitApplicationRequest, userID string) (*models.Application, error) {
	plan, err := s.plans.GetByID(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "requested plan does not exist")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if !plan.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "requested plan is not open for applications")
	}

	existing, err := s.repo.FindByUser(ctx, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing application")
	}
	if existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an application already exists for this account")
	}

	payment := models.PaymentStatusPending
	if plan.PriceCents == 0 {
		payment = models.PaymentStatusFree
	} else if req.Payment != "" {
		payment = models.PaymentStatus(req.Payment)
	}

	app := &models.Application{
		UserID:        userID,
		PlanID:        req.PlanID,
		Status:        models.ApplicationStatusPending,
		PaymentStatus: payment,
		Documents:     req.Documents,
	}
	if err := s.repo.Create(ctx, app); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create application")
	}
	s.recordEvent(ctx, app.ID, models.ReviewActionSubmitted, &userID, "")
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionApplicationSubmit,
		Resource:   "application",
		ResourceID: &app.ID,
	})
	return app, nil
}

// Get returns an application enforcing ownership for non-admin actors.
func (s *ApplicationService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Application, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	app, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if actor.Role != models.RoleAdmin && app.UserID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return app, nil
}

// GetMine returns the caller's own application.
func (s *ApplicationService) GetMine(ctx context.Context, userID string) (*models.Application, error) {
	app, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return app, nil
}

// List returns applications for admin review queues.
func (s *ApplicationService) List(ctx context.Context, query dto.ApplicationQuery) ([]models.Application, int, error) {
	filter := models.ApplicationFilter{
		UserID:   query.UserID,
		PlanID:   query.PlanID,
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	if query.Status != "" {
		status := models.ApplicationStatus(query.Status)
		if !status.Valid() {
			return nil, 0, appErrors.Clone(appErrors.ErrValidation, "unsupported application status")
		}
		filter.Status = []models.ApplicationStatus{status}
	}
	apps, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	return apps, total, nil
}

// Approve moves a pending application to approved, assigns the plan to the
// member, and notifies them. Approval is terminal.
func (s *ApplicationService) Approve(ctx context.Context, id, adminID string) (*models.Application, error) {
	app, err := s.loadForReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only pending applications can be approved")
	}
	plan, err := s.plans.GetByID(ctx, app.PlanID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	now := time.Now().UTC()
	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		params := repository.UpdateApplicationParams{
			ID:         app.ID,
			FromStatus: models.ApplicationStatusPending,
			ToStatus:   models.ApplicationStatusApproved,
			ReviewedBy: adminID,
			ReviewedAt: now,
		}
		if err := s.repo.UpdateStatus(ctx, tx, params); err != nil {
			return err
		}
		if err := s.members.AssignPlan(ctx, tx, app.UserID, app.PlanID, models.UserStatusApproved); err != nil {
			return err
		}
		if err := s.events.CreateIn(ctx, tx, &models.ReviewEvent{
			SubjectKind: models.ReviewSubjectApplication,
			SubjectID:   app.ID,
			Action:      models.ReviewActionApproved,
			ActorID:     &adminID,
		}); err != nil {
			return err
		}
		return s.notifier.NotifyApplicationApproved(ctx, tx, app.UserID, app.ID, plan.Name)
	})
	if err != nil {
		return nil, s.reviewTxError(err, "failed to approve application")
	}
	app.Status = models.ApplicationStatusApproved
	app.ReviewedBy = &adminID
	app.ReviewedAt = &now
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionApplicationReview,
		Resource:   "application",
		ResourceID: &app.ID,
	})
	return app, nil
}

// Reject moves a pending application to rejected, or to documents_requested
// when the reviewer asks for additional documents instead of a final
// decision. A rejection leaves the application open to appeal.
func (s *ApplicationService) Reject(ctx context.Context, id string, req dto.RejectApplicationRequest, adminID string) (*models.Application, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a reason is required")
	}
	app, err := s.loadForReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only pending applications can be reviewed")
	}

	toStatus := models.ApplicationStatusRejected
	action := models.ReviewActionRejected
	if req.RequestDocuments {
		toStatus = models.ApplicationStatusDocumentsRequested
		action = models.ReviewActionDocumentsRequested
	}
	now := time.Now().UTC()
	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		params := repository.UpdateApplicationParams{
			ID:         app.ID,
			FromStatus: models.ApplicationStatusPending,
			ToStatus:   toStatus,
			AdminNotes: req.Reason,
			ReviewedBy: adminID,
			ReviewedAt: now,
		}
		if err := s.repo.UpdateStatus(ctx, tx, params); err != nil {
			return err
		}
		if err := s.events.CreateIn(ctx, tx, &models.ReviewEvent{
			SubjectKind: models.ReviewSubjectApplication,
			SubjectID:   app.ID,
			Action:      action,
			ActorID:     &adminID,
			Notes:       req.Reason,
		}); err != nil {
			return err
		}
		if req.RequestDocuments {
			return s.notifier.NotifyDocumentsRequested(ctx, tx, app.UserID, app.ID, req.Reason)
		}
		if err := s.members.SetStatus(ctx, tx, app.UserID, models.UserStatusRejected); err != nil {
			return err
		}
		return s.notifier.NotifyApplicationRejected(ctx, tx, app.UserID, app.ID, req.Reason)
	})
	if err != nil {
		return nil, s.reviewTxError(err, "failed to review application")
	}
	app.Status = toStatus
	app.AdminNotes = req.Reason
	app.ReviewedBy = &adminID
	app.ReviewedAt = &now
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionApplicationReview,
		Resource:   "application",
		ResourceID: &app.ID,
	})
	return app, nil
}

// ProvideDocuments lets the applicant answer a document request, moving the
// application back into the review queue.
func (s *ApplicationService) ProvideDocuments(ctx context.Context, id, userID string, docs models.DocumentList) (*models.Application, error) {
	if len(docs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one document is required")
	}
	app, err := s.loadOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationStatusDocumentsRequested {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "no documents were requested for this application")
	}
	merged := append(models.DocumentList{}, app.Documents...)
	merged = append(merged, docs...)
	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.Appeal(ctx, tx, repository.AppealParams{
			ID:         app.ID,
			FromStatus: models.ApplicationStatusDocumentsRequested,
			Documents:  merged,
		}); err != nil {
			return err
		}
		return s.events.CreateIn(ctx, tx, &models.ReviewEvent{
			SubjectKind: models.ReviewSubjectApplication,
			SubjectID:   app.ID,
			Action:      models.ReviewActionSubmitted,
			ActorID:     &userID,
		})
	})
	if err != nil {
		return nil, s.reviewTxError(err, "failed to submit documents")
	}
	app.Status = models.ApplicationStatusPending
	app.Documents = merged
	return app, nil
}

// Appeal reopens a rejected application. The appeal message and any new
// documents are attached and the application returns to pending.
func (s *ApplicationService) Appeal(ctx context.Context, id, userID string, req dto.AppealApplicationRequest) (*models.Application, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "an appeal message is required")
	}
	app, err := s.loadOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationStatusRejected {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only rejected applications can be appealed")
	}
	merged := append(models.DocumentList{}, app.Documents...)
	merged = append(merged, req.Documents...)
	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.Appeal(ctx, tx, repository.AppealParams{
			ID:         app.ID,
			FromStatus: models.ApplicationStatusRejected,
			Documents:  merged,
			AdminNotes: req.Message,
		}); err != nil {
			return err
		}
		if err := s.members.SetStatus(ctx, tx, app.UserID, models.UserStatusPending); err != nil {
			return err
		}
		return s.events.CreateIn(ctx, tx, &models.ReviewEvent{
			SubjectKind: models.ReviewSubjectApplication,
			SubjectID:   app.ID,
			Action:      models.ReviewActionAppealed,
			ActorID:     &userID,
			Notes:       req.Message,
		})
	})
	if err != nil {
		return nil, s.reviewTxError(err, "failed to appeal application")
	}
	app.Status = models.ApplicationStatusPending
	app.Documents = merged
	app.AdminNotes = req.Message
	return app, nil
}

// History returns the review event trail, oldest first.
func (s *ApplicationService) History(ctx context.Context, id string, actor *models.JWTClaims) ([]models.ReviewEvent, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	events, err := s.events.ListBySubject(ctx, models.ReviewSubjectApplication, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load review history")
	}
	return events, nil
}

func (s *ApplicationService) loadForReview(ctx context.Context, id string) (*models.Application, error) {
	app, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return app, nil
}

func (s *ApplicationService) loadOwned(ctx context.Context, id, userID string) (*models.Application, error) {
	app, err := s.loadForReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.UserID != userID {
		return nil, appErrors.ErrForbidden
	}
	return app, nil
}

// reviewTxError maps a lost guarded update to a conflict: another reviewer
// already moved the application.
func (s *ApplicationService) reviewTxError(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrConflict, "application was already processed")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
}

func (s *ApplicationService) recordEvent(ctx context.Context, subjectID string, action models.ReviewAction, actorID *string, notes string) {
	event := &models.ReviewEvent{
		SubjectKind: models.ReviewSubjectApplication,
		SubjectID:   subjectID,
		Action:      action,
		ActorID:     actorID,
		Notes:       notes,
	}
	if err := s.events.Create(ctx, event); err != nil {
		s.logger.Warn("failed to record review event", zap.Error(err), zap.String("subjectId", subjectID))
	}
}

func (s *ApplicationService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "application-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
