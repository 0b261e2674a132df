package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aneti-platform/aneti-api/internal/dto"
	"github.com/aneti-platform/aneti-api/internal/models"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
)

type notificationServiceMock struct {
	listResp      []models.Notification
	listTotal     int
	unreadCount   int
	markReadErr   error
	broadcastResp *dto.BroadcastResult
	broadcastErr  error
	lastBroadcast dto.BroadcastRequest

	markReadID      string
	markAllCalled   bool
	broadcastCalled bool
}

func (m *notificationServiceMock) List(ctx context.Context, userID string, page, pageSize int) ([]models.Notification, int, error) {
	return m.listResp, m.listTotal, nil
}

func (m *notificationServiceMock) UnreadCount(ctx context.Context, userID string) (int, error) {
	return m.unreadCount, nil
}

func (m *notificationServiceMock) MarkRead(ctx context.Context, id, userID string) error {
	m.markReadID = id
	return m.markReadErr
}

func (m *notificationServiceMock) MarkAllRead(ctx context.Context, userID string) error {
	m.markAllCalled = true
	return nil
}

func (m *notificationServiceMock) Broadcast(ctx context.Context, req dto.BroadcastRequest, adminID string) (*dto.BroadcastResult, error) {
	m.broadcastCalled = true
	m.lastBroadcast = req
	return m.broadcastResp, m.broadcastErr
}

func TestNotificationHandlerUnreadCount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewNotificationHandler(&notificationServiceMock{unreadCount: 7})

	w := httptest.NewRecorder()
	c, _ := memberContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/notifications/unread-count", nil)
	c.Request = req

	handler.UnreadCount(c)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data dto.UnreadCountResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 7, body.Data.Unread)
}

func TestNotificationHandlerMarkRead(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &notificationServiceMock{}
	handler := NewNotificationHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := memberContext(w)
	c.Params = gin.Params{{Key: "id", Value: "notif-1"}}
	req, _ := http.NewRequest(http.MethodPost, "/notifications/notif-1/read", nil)
	c.Request = req

	handler.MarkRead(c)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "notif-1", mockSvc.markReadID)
}

func TestNotificationHandlerMarkReadNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewNotificationHandler(&notificationServiceMock{markReadErr: appErrors.ErrNotFound})

	w := httptest.NewRecorder()
	c, _ := memberContext(w)
	c.Params = gin.Params{{Key: "id", Value: "notif-ghost"}}
	req, _ := http.NewRequest(http.MethodPost, "/notifications/notif-ghost/read", nil)
	c.Request = req

	handler.MarkRead(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotificationHandlerListRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewNotificationHandler(&notificationServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/notifications", nil)
	c.Request = req

	handler.List(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNotificationHandlerBroadcast(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &notificationServiceMock{
		broadcastResp: &dto.BroadcastResult{SentToCount: 12, FailedCount: 1},
	}
	handler := NewNotificationHandler(mockSvc)

	payload, _ := json.Marshal(dto.BroadcastRequest{
		Title:      "Assembly",
		Message:    "Annual assembly next Friday",
		TargetType: string(models.BroadcastAllMembers),
	})
	w := httptest.NewRecorder()
	c, _ := memberContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/admin/notifications/broadcast", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Broadcast(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.broadcastCalled)
	assert.Equal(t, "Assembly", mockSvc.lastBroadcast.Title)

	var body struct {
		Data dto.BroadcastResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 12, body.Data.SentToCount)
}

func TestNotificationHandlerBroadcastDispatchFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewNotificationHandler(&notificationServiceMock{broadcastErr: appErrors.ErrDispatchFailed})

	payload, _ := json.Marshal(dto.BroadcastRequest{
		Title:      "Assembly",
		Message:    "Annual assembly next Friday",
		TargetType: string(models.BroadcastAllMembers),
	})
	w := httptest.NewRecorder()
	c, _ := memberContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/admin/notifications/broadcast", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Broadcast(c)
	require.Equal(t, http.StatusBadGateway, w.Code)
}
