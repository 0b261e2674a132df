package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/aneti-platform/aneti-api/internal/dto"
	"github.com/aneti-platform/aneti-api/internal/models"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
	"github.com/aneti-platform/aneti-api/pkg/jobs"
)

type notificationRepoStub struct {
	created  []*models.Notification
	inTx     []*models.Notification
	failFor  map[string]bool
	markedID string
}

func newNotificationRepoStub() *notificationRepoStub {
	return &notificationRepoStub{failFor: make(map[string]bool)}
}

func (s *notificationRepoStub) Create(ctx context.Context, n *models.Notification) error {
	if s.failFor[n.UserID] {
		return errors.New("insert failed")
	}
	s.created = append(s.created, n)
	return nil
}

func (s *notificationRepoStub) CreateIn(ctx context.Context, ext sqlx.ExtContext, n *models.Notification) error {
	s.inTx = append(s.inTx, n)
	return nil
}

func (s *notificationRepoStub) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]models.Notification, int, error) {
	result := make([]models.Notification, 0, len(s.created))
	for _, n := range s.created {
		if n.UserID == userID {
			result = append(result, *n)
		}
	}
	return result, len(result), nil
}

func (s *notificationRepoStub) CountUnread(ctx context.Context, userID string) (int, error) {
	count := 0
	for _, n := range s.created {
		if n.UserID == userID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (s *notificationRepoStub) MarkRead(ctx context.Context, id, userID string, readAt time.Time) error {
	for _, n := range s.created {
		if n.ID == id && n.UserID == userID {
			n.ReadAt = &readAt
			s.markedID = id
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *notificationRepoStub) MarkAllRead(ctx context.Context, userID string, readAt time.Time) error {
	for _, n := range s.created {
		if n.UserID == userID && n.ReadAt == nil {
			n.ReadAt = &readAt
		}
	}
	return nil
}

type recipientsStub struct {
	ids    []string
	target models.BroadcastTarget
}

func (s *recipientsStub) MemberIDs(ctx context.Context, target models.BroadcastTarget) ([]string, error) {
	s.target = target
	return s.ids, nil
}

type groupRecipientsStub struct {
	ids     []string
	groupID string
}

func (s *groupRecipientsStub) MemberIDs(ctx context.Context, groupID string, includeInactive bool) ([]string, error) {
	s.groupID = groupID
	return s.ids, nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (s *queueStub) Enqueue(job jobs.Job) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func newNotificationFixture() (*NotificationService, *notificationRepoStub, *recipientsStub, *groupRecipientsStub) {
	repo := newNotificationRepoStub()
	users := &recipientsStub{}
	groups := &groupRecipientsStub{}
	svc := NewNotificationService(repo, users, groups, &auditStub{}, nil)
	return svc, repo, users, groups
}

func TestNotifyLikeSuppressesSelfNotification(t *testing.T) {
	svc, repo, _, _ := newNotificationFixture()
	queue := &queueStub{}
	svc.AttachQueue(queue)

	svc.NotifyLike(context.Background(), "user-1", "user-1", "post-1", "post")
	require.Empty(t, queue.jobs)
	require.Empty(t, repo.created)

	svc.NotifyLike(context.Background(), "user-2", "user-1", "post-1", "post")
	require.Len(t, queue.jobs, 1)
}

func TestNotifySocialGoesThroughQueue(t *testing.T) {
	svc, repo, _, _ := newNotificationFixture()
	queue := &queueStub{}
	svc.AttachQueue(queue)

	svc.NotifyConnectionRequest(context.Background(), "user-2", "user-1", "conn-1")
	require.Len(t, queue.jobs, 1)
	require.Empty(t, repo.created, "queued notifications are written by the worker, not inline")

	n, ok := queue.jobs[0].Payload.(*models.Notification)
	require.True(t, ok)
	require.Equal(t, models.NotificationTypeConnectionRequest, n.Type)
	require.Equal(t, models.PriorityNormal, n.Priority)
}

func TestNotifySocialFallsBackWhenQueueFails(t *testing.T) {
	svc, repo, _, _ := newNotificationFixture()
	svc.AttachQueue(&queueStub{err: errors.New("queue stopped")})

	svc.NotifyComment(context.Background(), "user-2", "user-1", "post-1", "post")
	require.Len(t, repo.created, 1)
	require.Equal(t, models.NotificationTypeComment, repo.created[0].Type)
}

func TestNotifyMessageAndMentions(t *testing.T) {
	svc, repo, _, _ := newNotificationFixture()
	queue := &queueStub{}
	svc.AttachQueue(queue)

	svc.NotifyMessage(context.Background(), "user-2", "user-1", "msg-1")
	svc.NotifyPostMention(context.Background(), "user-2", "user-1", "post-1")
	svc.NotifyCommentMention(context.Background(), "user-2", "user-1", "comment-1")
	require.Len(t, queue.jobs, 3)

	kinds := make([]models.NotificationType, 0, len(queue.jobs))
	for _, job := range queue.jobs {
		n, ok := job.Payload.(*models.Notification)
		require.True(t, ok)
		kinds = append(kinds, n.Type)
	}
	require.Equal(t, []models.NotificationType{
		models.NotificationTypeMessage,
		models.NotificationTypePostMention,
		models.NotificationTypeCommentMention,
	}, kinds)

	// mentioning yourself produces nothing
	svc.NotifyPostMention(context.Background(), "user-1", "user-1", "post-2")
	require.Len(t, queue.jobs, 3)
	require.Empty(t, repo.created)
}

func TestHandleSocialJob(t *testing.T) {
	svc, repo, _, _ := newNotificationFixture()

	err := svc.HandleSocialJob(context.Background(), jobs.Job{
		ID:      "job-1",
		Type:    socialJobType,
		Payload: &models.Notification{UserID: "user-1", Type: models.NotificationTypeLike},
	})
	require.NoError(t, err)
	require.Len(t, repo.created, 1)

	err = svc.HandleSocialJob(context.Background(), jobs.Job{ID: "job-2", Payload: "bogus"})
	require.Error(t, err)
}

func TestLifecycleNotificationsWriteInTransaction(t *testing.T) {
	svc, repo, _, _ := newNotificationFixture()

	err := svc.NotifyApplicationApproved(context.Background(), nil, "user-1", "app-1", "Pro")
	require.NoError(t, err)
	err = svc.NotifyDocumentsRequested(context.Background(), nil, "user-1", "app-1", "need id")
	require.NoError(t, err)

	require.Len(t, repo.inTx, 2)
	require.Empty(t, repo.created)
	require.Equal(t, models.PriorityHigh, repo.inTx[0].Priority)
	require.Contains(t, repo.inTx[0].Message, "Pro plan")
	require.Equal(t, models.NotificationTypeDocumentsRequested, repo.inTx[1].Type)
}

func TestPlanChangeOutcomesUseDistinctKinds(t *testing.T) {
	svc, repo, _, _ := newNotificationFixture()

	require.NoError(t, svc.NotifyPlanChangeApproved(context.Background(), nil, "user-1", "pcr-1"))
	require.NoError(t, svc.NotifyPlanChangeRejected(context.Background(), nil, "user-1", "pcr-2", "tier full"))

	require.Len(t, repo.inTx, 2)
	require.Equal(t, models.NotificationTypePlanChangeApproved, repo.inTx[0].Type)
	require.Equal(t, models.NotificationTypePlanChangeRejected, repo.inTx[1].Type)
	require.Equal(t, "plan_change_request", repo.inTx[0].RelatedEntityType)
}

func TestBroadcastAllMembers(t *testing.T) {
	svc, repo, users, _ := newNotificationFixture()
	users.ids = []string{"user-1", "user-2", "user-3"}

	result, err := svc.Broadcast(context.Background(), dto.BroadcastRequest{
		Title:      "Maintenance window",
		Message:    "The platform will be down Sunday 02:00-03:00 UTC.",
		TargetType: string(models.BroadcastAllMembers),
	}, "admin-1")
	require.NoError(t, err)
	require.Equal(t, 3, result.SentToCount)
	require.Zero(t, result.FailedCount)
	require.Len(t, repo.created, 3)
	require.Equal(t, models.NotificationTypeAdminBroadcast, repo.created[0].Type)
}

func TestBroadcastIsFailSoftPerRecipient(t *testing.T) {
	svc, repo, users, _ := newNotificationFixture()
	users.ids = []string{"user-1", "user-2", "user-3"}
	repo.failFor["user-2"] = true

	result, err := svc.Broadcast(context.Background(), dto.BroadcastRequest{
		Title:      "Hello",
		Message:    "World",
		TargetType: string(models.BroadcastAllMembers),
	}, "admin-1")
	require.NoError(t, err)
	require.Equal(t, 2, result.SentToCount)
	require.Equal(t, 1, result.FailedCount)
}

func TestBroadcastFailsWhenNothingDelivered(t *testing.T) {
	svc, repo, users, _ := newNotificationFixture()
	users.ids = []string{"user-1"}
	repo.failFor["user-1"] = true

	result, err := svc.Broadcast(context.Background(), dto.BroadcastRequest{
		Title:      "Hello",
		Message:    "World",
		TargetType: string(models.BroadcastAllMembers),
	}, "admin-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrDispatchFailed.Code, appErr.Code)
	require.Equal(t, 1, result.FailedCount)
}

func TestBroadcastGroupTarget(t *testing.T) {
	svc, _, _, groups := newNotificationFixture()
	groups.ids = []string{"user-1"}

	result, err := svc.Broadcast(context.Background(), dto.BroadcastRequest{
		Title:       "Group news",
		Message:     "Meetup next week.",
		TargetType:  string(models.BroadcastGroupMembers),
		TargetValue: "group-1",
	}, "admin-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.SentToCount)
	require.Equal(t, "group-1", groups.groupID)
}

func TestBroadcastValidation(t *testing.T) {
	svc, _, _, _ := newNotificationFixture()

	cases := []dto.BroadcastRequest{
		{Message: "no title", TargetType: string(models.BroadcastAllMembers)},
		{Title: "no message", TargetType: string(models.BroadcastAllMembers)},
		{Title: "t", Message: "m", TargetType: "everyone"},
		{Title: "t", Message: "m", TargetType: string(models.BroadcastGroupMembers)},
		{Title: "t", Message: "m", TargetType: string(models.BroadcastPlanMembers)},
	}
	for _, req := range cases {
		_, err := svc.Broadcast(context.Background(), req, "admin-1")
		var appErr *appErrors.Error
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	}
}

func TestMarkReadNotFound(t *testing.T) {
	svc, repo, _, _ := newNotificationFixture()
	repo.created = append(repo.created, &models.Notification{ID: "n-1", UserID: "user-1"})

	require.NoError(t, svc.MarkRead(context.Background(), "n-1", "user-1"))
	require.Equal(t, "n-1", repo.markedID)

	err := svc.MarkRead(context.Background(), "n-1", "user-2")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestUnreadCount(t *testing.T) {
	svc, repo, _, _ := newNotificationFixture()
	read := time.Now().UTC()
	repo.created = append(repo.created,
		&models.Notification{ID: "n-1", UserID: "user-1"},
		&models.Notification{ID: "n-2", UserID: "user-1", ReadAt: &read},
		&models.Notification{ID: "n-3", UserID: "user-2"},
	)

	count, err := svc.UnreadCount(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, svc.MarkAllRead(context.Background(), "user-1"))
	count, err = svc.UnreadCount(context.Background(), "user-1")
	require.NoError(t, err)
	require.Zero(t, count)
}
