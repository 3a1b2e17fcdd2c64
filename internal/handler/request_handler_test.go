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

	"github.com/noah-isme/badge-platform-api/internal/dto"
	"github.com/noah-isme/badge-platform-api/internal/middleware"
	"github.com/noah-isme/badge-platform-api/internal/models"
	appErrors "github.com/noah-isme/badge-platform-api/pkg/errors"
)

type requestServiceMock struct {
	submitResp    *models.BadgeRequest
	submitErr     error
	approveResp   *dto.DecisionResult
	approveErr    error
	rejectResp    *models.BadgeRequest
	rejectErr     error
	submitCalled  bool
	approveCalled bool
	rejectCalled  bool
	lastPayload   dto.SubmitRequestPayload
}

func (m *requestServiceMock) Submit(ctx context.Context, actor *models.JWTClaims, payload dto.SubmitRequestPayload) (*models.BadgeRequest, error) {
	m.submitCalled = true
	m.lastPayload = payload
	return m.submitResp, m.submitErr
}

func (m *requestServiceMock) Get(ctx context.Context, actor *models.JWTClaims, requestID string) (*models.BadgeRequest, error) {
	return nil, appErrors.ErrNotFound
}

func (m *requestServiceMock) List(ctx context.Context, actor *models.JWTClaims, filter models.RequestFilter) ([]models.BadgeRequest, *models.Pagination, error) {
	return nil, &models.Pagination{}, nil
}

func (m *requestServiceMock) ListPending(ctx context.Context, actor *models.JWTClaims, page, pageSize int) ([]models.BadgeRequest, *models.Pagination, error) {
	return nil, &models.Pagination{}, nil
}

func (m *requestServiceMock) Approve(ctx context.Context, actor *models.JWTClaims, requestID string, payload dto.DecideRequestPayload) (*dto.DecisionResult, error) {
	m.approveCalled = true
	return m.approveResp, m.approveErr
}

func (m *requestServiceMock) Reject(ctx context.Context, actor *models.JWTClaims, requestID string, payload dto.DecideRequestPayload) (*models.BadgeRequest, error) {
	m.rejectCalled = true
	return m.rejectResp, m.rejectErr
}

func TestRequestHandlerSubmit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &requestServiceMock{
		submitResp: &models.BadgeRequest{ID: "req-1", Status: models.RequestPending},
	}
	handler := NewRequestHandler(mockSvc)

	payload, _ := json.Marshal(dto.SubmitRequestPayload{MiniBadgeID: "6ba7b810-9dad-41d1-80b4-00c04fd430c8"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/requests", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent})

	handler.Submit(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, mockSvc.submitCalled)
	assert.Equal(t, "6ba7b810-9dad-41d1-80b4-00c04fd430c8", mockSvc.lastPayload.MiniBadgeID)
}

func TestRequestHandlerSubmitInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRequestHandler(&requestServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/requests", bytes.NewBufferString(`{"mini_badge_id":`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Submit(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestHandlerApproveConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &requestServiceMock{
		approveErr: appErrors.Clone(appErrors.ErrInvalidState, "request has already been decided"),
	}
	handler := NewRequestHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/requests/req-1/approve", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "rev-1", Role: models.RoleReviewer})

	handler.Approve(c)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.True(t, mockSvc.approveCalled)
}

func TestRequestHandlerReject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &requestServiceMock{
		rejectResp: &models.BadgeRequest{ID: "req-1", Status: models.RequestRejected},
	}
	handler := NewRequestHandler(mockSvc)

	payload, _ := json.Marshal(dto.DecideRequestPayload{Reason: "insufficient evidence"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/requests/req-1/reject", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "rev-1", Role: models.RoleReviewer})

	handler.Reject(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.rejectCalled)
}
