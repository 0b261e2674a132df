package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/aneti-platform/aneti-api/internal/dto"
	"github.com/aneti-platform/aneti-api/internal/models"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
	"github.com/aneti-platform/aneti-api/pkg/jobs"
)

const socialJobType = "notification.social"

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	CreateIn(ctx context.Context, ext sqlx.ExtContext, n *models.Notification) error
	ListByUser(ctx context.Context, userID string, page, pageSize int) ([]models.Notification, int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string, readAt time.Time) error
	MarkAllRead(ctx context.Context, userID string, readAt time.Time) error
}

type broadcastRecipients interface {
	MemberIDs(ctx context.Context, target models.BroadcastTarget) ([]string, error)
}

type groupRecipients interface {
	MemberIDs(ctx context.Context, groupID string, includeInactive bool) ([]string, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

type dispatchMetrics interface {
	NotificationDispatched(kind string)
	NotificationFailed(kind string)
}

// NotificationService is the single dispatch point for in-app
// notifications. Social kinds are written asynchronously through the job
// queue; lifecycle outcome kinds join the caller's transaction so a
// notification never exists for a decision that rolled back.
type NotificationService struct {
	repo    notificationStore
	users   broadcastRecipients
	groups  groupRecipients
	queue   jobEnqueuer
	metrics dispatchMetrics
	audit   auditLogger
	logger  *zap.Logger
}

// NewNotificationService constructs the dispatcher. The queue is attached
// after construction because its handler is this service.
func NewNotificationService(repo notificationStore, users broadcastRecipients, groups groupRecipients, audit auditLogger, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		repo:   repo,
		users:  users,
		groups: groups,
		audit:  audit,
		logger: logger,
	}
}

// AttachQueue wires the background queue used for social kinds.
func (s *NotificationService) AttachQueue(queue jobEnqueuer) {
	s.queue = queue
}

// AttachMetrics wires dispatch counters.
func (s *NotificationService) AttachMetrics(metrics dispatchMetrics) {
	s.metrics = metrics
}

// HandleSocialJob is the queue handler persisting a social notification.
func (s *NotificationService) HandleSocialJob(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(*models.Notification)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for job %s", job.Payload, job.ID)
	}
	if err := s.repo.Create(ctx, n); err != nil {
		s.observe(string(n.Type), false)
		return err
	}
	s.observe(string(n.Type), true)
	return nil
}

// NotifyLike informs a content owner about a like on their content.
func (s *NotificationService) NotifyLike(ctx context.Context, actorID, ownerID, entityID, entityType string) {
	s.dispatchSocial(ctx, &models.Notification{
		UserID:            ownerID,
		Type:              models.NotificationTypeLike,
		Title:             "New like",
		Message:           "Someone liked your " + entityType,
		RelatedEntityID:   &entityID,
		RelatedEntityType: entityType,
		ActorID:           &actorID,
	})
}

// NotifyComment informs a content owner about a new comment.
func (s *NotificationService) NotifyComment(ctx context.Context, actorID, ownerID, entityID, entityType string) {
	s.dispatchSocial(ctx, &models.Notification{
		UserID:            ownerID,
		Type:              models.NotificationTypeComment,
		Title:             "New comment",
		Message:           "Someone commented on your " + entityType,
		RelatedEntityID:   &entityID,
		RelatedEntityType: entityType,
		ActorID:           &actorID,
	})
}

// NotifyConnectionRequest informs a member about an incoming connection
// request.
func (s *NotificationService) NotifyConnectionRequest(ctx context.Context, actorID, receiverID, requestID string) {
	s.dispatchSocial(ctx, &models.Notification{
		UserID:            receiverID,
		Type:              models.NotificationTypeConnectionRequest,
		Title:             "New connection request",
		Message:           "A member wants to connect with you",
		ActionURL:         "/connections/" + requestID,
		RelatedEntityID:   &requestID,
		RelatedEntityType: "connection_request",
		ActorID:           &actorID,
	})
}

// NotifyConnectionAccepted informs the requester their request was accepted.
func (s *NotificationService) NotifyConnectionAccepted(ctx context.Context, actorID, requesterID, requestID string) {
	s.dispatchSocial(ctx, &models.Notification{
		UserID:            requesterID,
		Type:              models.NotificationTypeConnectionAccepted,
		Title:             "Connection accepted",
		Message:           "Your connection request was accepted",
		ActionURL:         "/connections/" + requestID,
		RelatedEntityID:   &requestID,
		RelatedEntityType: "connection_request",
		ActorID:           &actorID,
	})
}

// NotifyMessage informs a member about a new direct message.
func (s *NotificationService) NotifyMessage(ctx context.Context, actorID, receiverID, messageID string) {
	s.dispatchSocial(ctx, &models.Notification{
		UserID:            receiverID,
		Type:              models.NotificationTypeMessage,
		Title:             "New message",
		Message:           "You received a new message",
		ActionURL:         "/messages/" + messageID,
		RelatedEntityID:   &messageID,
		RelatedEntityType: "message",
		ActorID:           &actorID,
	})
}

// NotifyPostMention informs a member they were mentioned in a post.
func (s *NotificationService) NotifyPostMention(ctx context.Context, actorID, mentionedID, postID string) {
	s.dispatchSocial(ctx, &models.Notification{
		UserID:            mentionedID,
		Type:              models.NotificationTypePostMention,
		Title:             "You were mentioned",
		Message:           "Someone mentioned you in a post",
		ActionURL:         "/posts/" + postID,
		RelatedEntityID:   &postID,
		RelatedEntityType: "post",
		ActorID:           &actorID,
	})
}

// NotifyCommentMention informs a member they were mentioned in a comment.
func (s *NotificationService) NotifyCommentMention(ctx context.Context, actorID, mentionedID, commentID string) {
	s.dispatchSocial(ctx, &models.Notification{
		UserID:            mentionedID,
		Type:              models.NotificationTypeCommentMention,
		Title:             "You were mentioned",
		Message:           "Someone mentioned you in a comment",
		ActionURL:         "/comments/" + commentID,
		RelatedEntityID:   &commentID,
		RelatedEntityType: "comment",
		ActorID:           &actorID,
	})
}

// NotifyWelcome greets a freshly registered account.
func (s *NotificationService) NotifyWelcome(ctx context.Context, userID string) {
	n := &models.Notification{
		UserID:  userID,
		Type:    models.NotificationTypeWelcome,
		Title:   "Welcome to ANETI",
		Message: "Your account was created. Submit a membership application to get started.",
	}
	if err := s.repo.Create(ctx, n); err != nil {
		s.observe(string(n.Type), false)
		s.logger.Warn("failed to create welcome notification", zap.Error(err), zap.String("userId", userID))
		return
	}
	s.observe(string(n.Type), true)
}

// NotifyApplicationApproved writes the approval outcome inside the review
// transaction. The message names the plan the member was admitted to.
func (s *NotificationService) NotifyApplicationApproved(ctx context.Context, ext sqlx.ExtContext, userID, applicationID, planName string) error {
	return s.createIn(ctx, ext, &models.Notification{
		UserID:            userID,
		Type:              models.NotificationTypeApplicationApproved,
		Title:             "Application approved",
		Message:           fmt.Sprintf("Congratulations, your membership application for the %s plan was approved.", planName),
		ActionURL:         "/applications/" + applicationID,
		RelatedEntityID:   &applicationID,
		RelatedEntityType: "application",
		Priority:          models.PriorityHigh,
	})
}

// NotifyApplicationRejected writes the rejection outcome inside the review
// transaction.
func (s *NotificationService) NotifyApplicationRejected(ctx context.Context, ext sqlx.ExtContext, userID, applicationID, reason string) error {
	return s.createIn(ctx, ext, &models.Notification{
		UserID:            userID,
		Type:              models.NotificationTypeApplicationRejected,
		Title:             "Application rejected",
		Message:           "Your membership application was rejected: " + reason,
		ActionURL:         "/applications/" + applicationID,
		RelatedEntityID:   &applicationID,
		RelatedEntityType: "application",
		Priority:          models.PriorityHigh,
	})
}

// NotifyDocumentsRequested asks the applicant for additional documents.
func (s *NotificationService) NotifyDocumentsRequested(ctx context.Context, ext sqlx.ExtContext, userID, applicationID, notes string) error {
	return s.createIn(ctx, ext, &models.Notification{
		UserID:            userID,
		Type:              models.NotificationTypeDocumentsRequested,
		Title:             "Additional documents requested",
		Message:           "A reviewer asked for more documents: " + notes,
		ActionURL:         "/applications/" + applicationID,
		RelatedEntityID:   &applicationID,
		RelatedEntityType: "application",
		Priority:          models.PriorityHigh,
	})
}

// NotifyPlanChangeApproved writes the plan change approval inside the
// review transaction.
func (s *NotificationService) NotifyPlanChangeApproved(ctx context.Context, ext sqlx.ExtContext, userID, requestID string) error {
	return s.createIn(ctx, ext, &models.Notification{
		UserID:            userID,
		Type:              models.NotificationTypePlanChangeApproved,
		Title:             "Plan change approved",
		Message:           "Your plan change request was approved.",
		ActionURL:         "/plan-change-requests/" + requestID,
		RelatedEntityID:   &requestID,
		RelatedEntityType: "plan_change_request",
		Priority:          models.PriorityHigh,
	})
}

// NotifyPlanChangeRejected writes the plan change rejection inside the
// review transaction.
func (s *NotificationService) NotifyPlanChangeRejected(ctx context.Context, ext sqlx.ExtContext, userID, requestID, reason string) error {
	return s.createIn(ctx, ext, &models.Notification{
		UserID:            userID,
		Type:              models.NotificationTypePlanChangeRejected,
		Title:             "Plan change rejected",
		Message:           "Your plan change request was rejected: " + reason,
		ActionURL:         "/plan-change-requests/" + requestID,
		RelatedEntityID:   &requestID,
		RelatedEntityType: "plan_change_request",
		Priority:          models.PriorityHigh,
	})
}

// Broadcast sends an announcement to every member matched by the target.
// Delivery is fail-soft per recipient; the result carries both counts.
func (s *NotificationService) Broadcast(ctx context.Context, req dto.BroadcastRequest, adminID string) (*dto.BroadcastResult, error) {
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Message) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "title and message are required")
	}
	target, err := buildTarget(req)
	if err != nil {
		return nil, err
	}

	var ids []string
	switch target.Type {
	case models.BroadcastGroupMembers:
		ids, err = s.groups.MemberIDs(ctx, target.GroupID, target.IncludeInactive)
	case models.BroadcastAllMembers, models.BroadcastApprovedMembers, models.BroadcastPlanMembers:
		ids, err = s.users.MemberIDs(ctx, target)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported broadcast target")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve broadcast recipients")
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	result := &dto.BroadcastResult{}
	for _, id := range ids {
		n := &models.Notification{
			UserID:   id,
			Type:     models.NotificationTypeAdminBroadcast,
			Title:    req.Title,
			Message:  req.Message,
			ActorID:  &adminID,
			Priority: priority,
		}
		if err := s.repo.Create(ctx, n); err != nil {
			result.FailedCount++
			s.observe(string(models.NotificationTypeAdminBroadcast), false)
			s.logger.Warn("broadcast delivery failed", zap.Error(err), zap.String("userId", id))
			continue
		}
		result.SentToCount++
		s.observe(string(models.NotificationTypeAdminBroadcast), true)
	}
	if result.SentToCount == 0 && result.FailedCount > 0 {
		return result, appErrors.Clone(appErrors.ErrDispatchFailed, "broadcast failed for every recipient")
	}
	s.emitAudit(ctx, adminID, string(target.Type))
	return result, nil
}

// List returns a member's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, page, pageSize int) ([]models.Notification, int, error) {
	items, total, err := s.repo.ListByUser(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return items, total, nil
}

// UnreadCount returns the number of unread notifications.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unread notifications")
	}
	return count, nil
}

// MarkRead marks a single owned notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) error {
	if err := s.repo.MarkRead(ctx, id, userID, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

// MarkAllRead marks every unread notification of a member as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) error {
	if err := s.repo.MarkAllRead(ctx, userID, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return nil
}

// dispatchSocial queues a social notification, suppressing self-notifies.
// When the queue is unavailable it falls back to a synchronous write.
func (s *NotificationService) dispatchSocial(ctx context.Context, n *models.Notification) {
	if n.ActorID != nil && *n.ActorID == n.UserID {
		return
	}
	if n.Priority == "" {
		n.Priority = models.PriorityNormal
	}
	if s.queue != nil {
		job := jobs.Job{
			ID:      uuid.NewString(),
			Type:    socialJobType,
			Payload: n,
		}
		err := s.queue.Enqueue(job)
		if err == nil {
			return
		}
		s.logger.Warn("failed to enqueue notification, writing synchronously", zap.Error(err))
	}
	if err := s.repo.Create(ctx, n); err != nil {
		s.observe(string(n.Type), false)
		s.logger.Warn("failed to create notification", zap.Error(err), zap.String("type", string(n.Type)))
		return
	}
	s.observe(string(n.Type), true)
}

func (s *NotificationService) createIn(ctx context.Context, ext sqlx.ExtContext, n *models.Notification) error {
	if n.Priority == "" {
		n.Priority = models.PriorityNormal
	}
	if err := s.repo.CreateIn(ctx, ext, n); err != nil {
		s.observe(string(n.Type), false)
		return err
	}
	s.observe(string(n.Type), true)
	return nil
}

func (s *NotificationService) observe(kind string, ok bool) {
	if s.metrics == nil {
		return
	}
	if ok {
		s.metrics.NotificationDispatched(kind)
	} else {
		s.metrics.NotificationFailed(kind)
	}
}

func (s *NotificationService) emitAudit(ctx context.Context, adminID, target string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionBroadcast,
		Resource:   "notification",
		ResourceID: &target,
		IPAddress:  "system",
		UserAgent:  "notification-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func buildTarget(req dto.BroadcastRequest) (models.BroadcastTarget, error) {
	target := models.BroadcastTarget{
		Type:            models.BroadcastTargetType(req.TargetType),
		IncludeInactive: req.IncludeInactive,
	}
	switch target.Type {
	case models.BroadcastAllMembers, models.BroadcastApprovedMembers:
	case models.BroadcastGroupMembers:
		if req.TargetValue == "" {
			return target, appErrors.Clone(appErrors.ErrValidation, "targetValue must name a group")
		}
		target.GroupID = req.TargetValue
	case models.BroadcastPlanMembers:
		if req.TargetValue == "" {
			return target, appErrors.Clone(appErrors.ErrValidation, "targetValue must name a plan")
		}
		target.PlanID = req.TargetValue
	default:
		return target, appErrors.Clone(appErrors.ErrValidation, "unsupported broadcast target")
	}
	return target, nil
}
