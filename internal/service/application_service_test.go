package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/aneti-platform/aneti-api/internal/dto"
	"github.com/aneti-platform/aneti-api/internal/models"
	"github.com/aneti-platform/aneti-api/internal/repository"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
)

type applicationRepoStub struct {
	apps   map[string]*models.Application
	seq    int
	filter models.ApplicationFilter
}

func newApplicationRepoStub() *applicationRepoStub {
	return &applicationRepoStub{apps: make(map[string]*models.Application)}
}

func (s *applicationRepoStub) Create(ctx context.Context, app *models.Application) error {
	if app.ID == "" {
		s.seq++
		app.ID = fmt.Sprintf("app-%d", s.seq)
	}
	stored := *app
	s.apps[app.ID] = &stored
	return nil
}

func (s *applicationRepoStub) GetByID(ctx context.Context, id string) (*models.Application, error) {
	if app, ok := s.apps[id]; ok {
		copied := *app
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *applicationRepoStub) FindByUser(ctx context.Context, userID string) (*models.Application, error) {
	for _, app := range s.apps {
		if app.UserID == userID {
			copied := *app
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *applicationRepoStub) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, int, error) {
	s.filter = filter
	result := make([]models.Application, 0, len(s.apps))
	for _, app := range s.apps {
		result = append(result, *app)
	}
	return result, len(result), nil
}

func (s *applicationRepoStub) UpdateStatus(ctx context.Context, ext sqlx.ExtContext, params repository.UpdateApplicationParams) error {
	app, ok := s.apps[params.ID]
	if !ok || app.Status != params.FromStatus {
		return sql.ErrNoRows
	}
	app.Status = params.ToStatus
	app.AdminNotes = params.AdminNotes
	app.ReviewedBy = &params.ReviewedBy
	app.ReviewedAt = &params.ReviewedAt
	return nil
}

func (s *applicationRepoStub) Appeal(ctx context.Context, ext sqlx.ExtContext, params repository.AppealParams) error {
	app, ok := s.apps[params.ID]
	if !ok || app.Status != params.FromStatus {
		return sql.ErrNoRows
	}
	app.Status = models.ApplicationStatusPending
	app.Documents = params.Documents
	if params.AdminNotes != "" {
		app.AdminNotes = params.AdminNotes
	}
	return nil
}

type planRepoStub struct {
	plans map[string]*models.Plan
}

func newPlanRepoStub(plans ...*models.Plan) *planRepoStub {
	stub := &planRepoStub{plans: make(map[string]*models.Plan)}
	for _, plan := range plans {
		stub.plans[plan.ID] = plan
	}
	return stub
}

func (s *planRepoStub) GetByID(ctx context.Context, id string) (*models.Plan, error) {
	if plan, ok := s.plans[id]; ok {
		copied := *plan
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

type memberStoreStub struct {
	assignedPlan   string
	assignedStatus models.UserStatus
	setStatus      models.UserStatus
	assignCalls    int
	setCalls       int
}

func (s *memberStoreStub) AssignPlan(ctx context.Context, ext sqlx.ExtContext, userID, planID string, status models.UserStatus) error {
	s.assignCalls++
	s.assignedPlan = planID
	s.assignedStatus = status
	return nil
}

func (s *memberStoreStub) SetStatus(ctx context.Context, ext sqlx.ExtContext, userID string, status models.UserStatus) error {
	s.setCalls++
	s.setStatus = status
	return nil
}

type reviewEventsStub struct {
	events []*models.ReviewEvent
}

func (s *reviewEventsStub) Create(ctx context.Context, event *models.ReviewEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *reviewEventsStub) CreateIn(ctx context.Context, ext sqlx.ExtContext, event *models.ReviewEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *reviewEventsStub) ListBySubject(ctx context.Context, kind models.ReviewSubjectKind, subjectID string) ([]models.ReviewEvent, error) {
	result := make([]models.ReviewEvent, 0, len(s.events))
	for _, event := range s.events {
		if event.SubjectKind == kind && event.SubjectID == subjectID {
			result = append(result, *event)
		}
	}
	return result, nil
}

type lifecycleNotifierStub struct {
	approved  []string
	planNames []string
	rejected  []string
	docsAsked []string
}

func (s *lifecycleNotifierStub) NotifyApplicationApproved(ctx context.Context, ext sqlx.ExtContext, userID, applicationID, planName string) error {
	s.approved = append(s.approved, applicationID)
	s.planNames = append(s.planNames, planName)
	return nil
}

func (s *lifecycleNotifierStub) NotifyApplicationRejected(ctx context.Context, ext sqlx.ExtContext, userID, applicationID, reason string) error {
	s.rejected = append(s.rejected, applicationID)
	return nil
}

func (s *lifecycleNotifierStub) NotifyDocumentsRequested(ctx context.Context, ext sqlx.ExtContext, userID, applicationID, notes string) error {
	s.docsAsked = append(s.docsAsked, applicationID)
	return nil
}

type txStub struct{}

func (txStub) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newApplicationFixture() (*ApplicationService, *applicationRepoStub, *memberStoreStub, *reviewEventsStub, *lifecycleNotifierStub, *auditStub) {
	repo := newApplicationRepoStub()
	plans := newPlanRepoStub(
		&models.Plan{ID: "plan-basic", Name: "Basic", PriceCents: 0, Active: true},
		&models.Plan{ID: "plan-pro", Name: "Pro", PriceCents: 4900, Active: true},
		&models.Plan{ID: "plan-legacy", Name: "Legacy", PriceCents: 1900, Active: false},
	)
	members := &memberStoreStub{}
	events := &reviewEventsStub{}
	notifier := &lifecycleNotifierStub{}
	audit := &auditStub{}
	svc := NewApplicationService(repo, plans, members, events, notifier, txStub{}, audit, nil)
	return svc, repo, members, events, notifier, audit
}

func TestApplicationServiceSubmit(t *testing.T) {
	svc, _, _, events, _, audit := newApplicationFixture()

	app, err := svc.Submit(context.Background(), dto.SubmitApplicationRequest{PlanID: "plan-basic"}, "user-1")
	require.NoError(t, err)
	require.Equal(t, models.ApplicationStatusPending, app.Status)
	require.Equal(t, models.PaymentStatusFree, app.PaymentStatus)
	require.Len(t, events.events, 1)
	require.Equal(t, models.ReviewActionSubmitted, events.events[0].Action)
	require.Len(t, audit.logs, 1)
}

func TestApplicationServiceSubmitPaidPlanStartsPaymentPending(t *testing.T) {
	svc, _, _, _, _, _ := newApplicationFixture()

	app, err := svc.Submit(context.Background(), dto.SubmitApplicationRequest{PlanID: "plan-pro"}, "user-1")
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusPending, app.PaymentStatus)
}

func TestApplicationServiceSubmitRejectsInactivePlan(t *testing.T) {
	svc, _, _, _, _, _ := newApplicationFixture()

	_, err := svc.Submit(context.Background(), dto.SubmitApplicationRequest{PlanID: "plan-legacy"}, "user-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestApplicationServiceSubmitConflictsOnExisting(t *testing.T) {
	svc, _, _, _, _, _ := newApplicationFixture()

	_, err := svc.Submit(context.Background(), dto.SubmitApplicationRequest{PlanID: "plan-basic"}, "user-1")
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), dto.SubmitApplicationRequest{PlanID: "plan-pro"}, "user-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestApplicationServiceApprove(t *testing.T) {
	svc, repo, members, events, notifier, _ := newApplicationFixture()
	repo.apps["app-1"] = &models.Application{
		ID: "app-1", UserID: "user-1", PlanID: "plan-pro",
		Status: models.ApplicationStatusPending,
	}

	app, err := svc.Approve(context.Background(), "app-1", "admin-1")
	require.NoError(t, err)
	require.Equal(t, models.ApplicationStatusApproved, app.Status)
	require.Equal(t, "plan-pro", members.assignedPlan)
	require.Equal(t, models.UserStatusApproved, members.assignedStatus)
	require.Equal(t, []string{"app-1"}, notifier.approved)
	require.Equal(t, []string{"Pro"}, notifier.planNames, "approval notification names the granted plan")
	require.Len(t, events.events, 1)
	require.Equal(t, models.ReviewActionApproved, events.events[0].Action)
}

func TestApplicationServiceApproveRequiresPending(t *testing.T) {
	svc, repo, _, _, _, _ := newApplicationFixture()
	repo.apps["app-1"] = &models.Application{
		ID: "app-1", UserID: "user-1", PlanID: "plan-pro",
		Status: models.ApplicationStatusApproved,
	}

	_, err := svc.Approve(context.Background(), "app-1", "admin-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
}

// racyApplicationRepo reports pending on read but loses the guarded update,
// as happens when another reviewer commits between load and update.
type racyApplicationRepo struct {
	*applicationRepoStub
}

func (r racyApplicationRepo) UpdateStatus(ctx context.Context, ext sqlx.ExtContext, params repository.UpdateApplicationParams) error {
	return sql.ErrNoRows
}

func TestApplicationServiceApproveLostRaceConflicts(t *testing.T) {
	repo := newApplicationRepoStub()
	repo.apps["app-1"] = &models.Application{
		ID: "app-1", UserID: "user-1", PlanID: "plan-pro",
		Status: models.ApplicationStatusPending,
	}
	svc := NewApplicationService(racyApplicationRepo{repo}, newPlanRepoStub(), &memberStoreStub{},
		&reviewEventsStub{}, &lifecycleNotifierStub{}, txStub{}, &auditStub{}, nil)

	_, err := svc.Approve(context.Background(), "app-1", "admin-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestApplicationServiceRejectFinal(t *testing.T) {
	svc, repo, members, _, notifier, _ := newApplicationFixture()
	repo.apps["app-1"] = &models.Application{
		ID: "app-1", UserID: "user-1", PlanID: "plan-pro",
		Status: models.ApplicationStatusPending,
	}

	app, err := svc.Reject(context.Background(), "app-1", dto.RejectApplicationRequest{Reason: "incomplete"}, "admin-1")
	require.NoError(t, err)
	require.Equal(t, models.ApplicationStatusRejected, app.Status)
	require.Equal(t, models.UserStatusRejected, members.setStatus)
	require.Equal(t, []string{"app-1"}, notifier.rejected)
}

func TestApplicationServiceRejectRequiresReason(t *testing.T) {
	svc, _, _, _, _, _ := newApplicationFixture()

	_, err := svc.Reject(context.Background(), "app-1", dto.RejectApplicationRequest{}, "admin-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestApplicationServiceRequestDocuments(t *testing.T) {
	svc, repo, members, events, notifier, _ := newApplicationFixture()
	repo.apps["app-1"] = &models.Application{
		ID: "app-1", UserID: "user-1", PlanID: "plan-pro",
		Status: models.ApplicationStatusPending,
	}

	app, err := svc.Reject(context.Background(), "app-1",
		dto.RejectApplicationRequest{Reason: "need proof of address", RequestDocuments: true}, "admin-1")
	require.NoError(t, err)
	require.Equal(t, models.ApplicationStatusDocumentsRequested, app.Status)
	require.Zero(t, members.setCalls, "document requests must not touch the member status")
	require.Empty(t, notifier.rejected)
	require.Equal(t, []string{"app-1"}, notifier.docsAsked)
	require.Equal(t, models.ReviewActionDocumentsRequested, events.events[0].Action)
}

func TestApplicationServiceProvideDocuments(t *testing.T) {
	svc, repo, _, _, _, _ := newApplicationFixture()
	repo.apps["app-1"] = &models.Application{
		ID: "app-1", UserID: "user-1", PlanID: "plan-pro",
		Status:    models.ApplicationStatusDocumentsRequested,
		Documents: models.DocumentList{{Name: "id-card.pdf"}},
	}

	app, err := svc.ProvideDocuments(context.Background(), "app-1", "user-1",
		models.DocumentList{{Name: "utility-bill.pdf"}})
	require.NoError(t, err)
	require.Equal(t, models.ApplicationStatusPending, app.Status)
	require.Len(t, app.Documents, 2)
}

func TestApplicationServiceProvideDocumentsOwnerOnly(t *testing.T) {
	svc, repo, _, _, _, _ := newApplicationFixture()
	repo.apps["app-1"] = &models.Application{
		ID: "app-1", UserID: "user-1", PlanID: "plan-pro",
		Status: models.ApplicationStatusDocumentsRequested,
	}

	_, err := svc.ProvideDocuments(context.Background(), "app-1", "user-2",
		models.DocumentList{{Name: "doc.pdf"}})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestApplicationServiceAppeal(t *testing.T) {
	svc, repo, members, events, _, _ := newApplicationFixture()
	repo.apps["app-1"] = &models.Application{
		ID: "app-1", UserID: "user-1", PlanID: "plan-pro",
		Status: models.ApplicationStatusRejected,
	}

	app, err := svc.Appeal(context.Background(), "app-1", "user-1",
		dto.AppealApplicationRequest{Message: "documents were attached after all"})
	require.NoError(t, err)
	require.Equal(t, models.ApplicationStatusPending, app.Status)
	require.Equal(t, models.UserStatusPending, members.setStatus)
	require.Equal(t, models.ReviewActionAppealed, events.events[0].Action)
}

func TestApplicationServiceAppealOnlyFromRejected(t *testing.T) {
	svc, repo, _, _, _, _ := newApplicationFixture()
	repo.apps["app-1"] = &models.Application{
		ID: "app-1", UserID: "user-1", PlanID: "plan-pro",
		Status: models.ApplicationStatusApproved,
	}

	_, err := svc.Appeal(context.Background(), "app-1", "user-1",
		dto.AppealApplicationRequest{Message: "please reconsider"})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
}

func TestApplicationServiceGetEnforcesOwnership(t *testing.T) {
	svc, repo, _, _, _, _ := newApplicationFixture()
	repo.apps["app-1"] = &models.Application{ID: "app-1", UserID: "user-1", PlanID: "plan-pro"}

	_, err := svc.Get(context.Background(), "app-1", &models.JWTClaims{UserID: "user-2", Role: models.RoleMember})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	app, err := svc.Get(context.Background(), "app-1", &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, "app-1", app.ID)
}

func TestApplicationServiceListValidatesStatus(t *testing.T) {
	svc, repo, _, _, _, _ := newApplicationFixture()

	_, _, err := svc.List(context.Background(), dto.ApplicationQuery{Status: "bogus"})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	_, _, err = svc.List(context.Background(), dto.ApplicationQuery{Status: "pending"})
	require.NoError(t, err)
	require.Equal(t, []models.ApplicationStatus{models.ApplicationStatusPending}, repo.filter.Status)
}

func TestApplicationServiceHistory(t *testing.T) {
	svc, repo, _, events, _, _ := newApplicationFixture()
	repo.apps["app-1"] = &models.Application{ID: "app-1", UserID: "user-1", PlanID: "plan-pro"}
	actor := "user-1"
	events.events = append(events.events,
		&models.ReviewEvent{SubjectKind: models.ReviewSubjectApplication, SubjectID: "app-1", Action: models.ReviewActionSubmitted, ActorID: &actor},
		&models.ReviewEvent{SubjectKind: models.ReviewSubjectPlanChange, SubjectID: "app-1", Action: models.ReviewActionApproved},
	)

	trail, err := svc.History(context.Background(), "app-1", &models.JWTClaims{UserID: "user-1", Role: models.RoleMember})
	require.NoError(t, err)
	require.Len(t, trail, 1)
	require.Equal(t, models.ReviewActionSubmitted, trail[0].Action)
}

func TestReviewTxErrorMapsLostRaceToConflict(t *testing.T) {
	svc, _, _, _, _, _ := newApplicationFixture()

	err := svc.reviewTxError(sql.ErrNoRows, "failed")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)

	err = svc.reviewTxError(errors.New("boom"), "failed")
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrInternal.Code, appErr.Code)
}
