package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/badge-platform-api/internal/dto"
	"github.com/noah-isme/badge-platform-api/internal/models"
	"github.com/noah-isme/badge-platform-api/internal/repository"
	appErrors "github.com/noah-isme/badge-platform-api/pkg/errors"
)

type stubRequestStore struct {
	mu        sync.Mutex
	requests  map[string]*models.BadgeRequest
	seq       int
	createErr error
}

func newStubRequestStore() *stubRequestStore {
	return &stubRequestStore{requests: map[string]*models.BadgeRequest{}}
}

func (s *stubRequestStore) Create(_ context.Context, req *models.BadgeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.seq++
	req.ID = fmt.Sprintf("req-%d", s.seq)
	req.Status = models.RequestPending
	req.SubmittedAt = time.Now().UTC()
	stored := *req
	s.requests[req.ID] = &stored
	return nil
}

func (s *stubRequestStore) FindByID(_ context.Context, id string) (*models.BadgeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	copied := *req
	return &copied, nil
}

func (s *stubRequestStore) HasPendingForBadge(_ context.Context, userID, miniBadgeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.requests {
		if req.UserID == userID && req.MiniBadgeID == miniBadgeID && req.Status == models.RequestPending {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubRequestStore) List(_ context.Context, filter models.RequestFilter) ([]models.BadgeRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BadgeRequest
	for _, req := range s.requests {
		if filter.UserID != "" && req.UserID != filter.UserID {
			continue
		}
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		out = append(out, *req)
	}
	return out, len(out), nil
}

func (s *stubRequestStore) ListPending(_ context.Context, _, _ int) ([]models.BadgeRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BadgeRequest
	for _, req := range s.requests {
		if req.Status == models.RequestPending {
			out = append(out, *req)
		}
	}
	return out, len(out), nil
}

func (s *stubRequestStore) MarkDecided(_ context.Context, id string, status models.RequestStatus, decidedBy string, reason *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != models.RequestPending {
		return false, nil
	}
	now := time.Now().UTC()
	req.Status = status
	req.DecidedAt = &now
	req.DecidedBy = &decidedBy
	req.DecisionReason = reason
	return true, nil
}

type engineStub struct {
	mu     sync.Mutex
	calls  []string
	err    error
	actors []models.Actor
}

func (e *engineStub) AwardMiniBadge(_ context.Context, userID, miniBadgeID string, actor models.Actor, requestID *string) ([]models.Award, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, userID+":"+miniBadgeID)
	e.actors = append(e.actors, actor)
	if e.err != nil {
		return nil, e.err
	}
	return []models.Award{{ID: "award-1", UserID: userID, Target: models.MiniBadgeTarget(miniBadgeID), RequestID: requestID, Actor: actor}}, nil
}

func newRequestFixture() (*RequestService, *stubRequestStore, *stubCatalog, *stubAwardStore, *engineStub, *auditRecorderStub, *metricsStub) {
	catalog := newStubCatalog()
	awards := newStubAwardStore(catalog)
	repo := newStubRequestStore()
	engine := &engineStub{}
	audit := &auditRecorderStub{}
	metrics := newMetricsStub()
	svc := NewRequestService(repo, catalog, awards, engine, audit, metrics, nil, zap.NewNop())
	return svc, repo, catalog, awards, engine, audit, metrics
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func reviewerClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleReviewer}
}

const testBadgeID = "6ba7b810-9dad-41d1-80b4-00c04fd430c8"

func TestSubmitCreatesPendingRequest(t *testing.T) {
	svc, _, catalog, _, _, audit, _ := newRequestFixture()
	catalog.addBadge(testBadgeID, "skill-1", true)

	req, err := svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, req.Status)
	assert.Equal(t, "user-1", req.UserID)
	assert.Contains(t, audit.actions(), models.AuditActionRequestSubmit)
}

func TestSubmitUnknownBadge(t *testing.T) {
	svc, _, _, _, _, _, _ := newRequestFixture()

	_, err := svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSubmitInactiveBadge(t *testing.T) {
	svc, _, catalog, _, _, _, _ := newRequestFixture()
	catalog.addBadge(testBadgeID, "skill-1", false)

	_, err := svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactive.Code, appErrors.FromError(err).Code)
}

func TestSubmitDuplicatePending(t *testing.T) {
	svc, _, catalog, _, _, _, _ := newRequestFixture()
	catalog.addBadge(testBadgeID, "skill-1", true)

	_, err := svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestSubmitDuplicatePendingLostRace(t *testing.T) {
	svc, repo, catalog, _, _, _, _ := newRequestFixture()
	catalog.addBadge(testBadgeID, "skill-1", true)

	// A concurrent submission can slip in between the pending check and the
	// insert; the unique index rejects the second row and the caller sees the
	// same conflict as the checked path.
	repo.createErr = repository.ErrDuplicateRequest

	_, err := svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestSubmitAlreadyEarned(t *testing.T) {
	svc, _, catalog, awards, _, _, _ := newRequestFixture()
	catalog.addBadge(testBadgeID, "skill-1", true)
	require.NoError(t, awards.Insert(context.Background(), &models.Award{
		UserID: "user-1",
		Target: models.MiniBadgeTarget(testBadgeID),
	}))

	_, err := svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestApproveGrantsThroughEngine(t *testing.T) {
	svc, _, catalog, _, engine, audit, metrics := newRequestFixture()
	catalog.addBadge(testBadgeID, "skill-1", true)

	req, err := svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.NoError(t, err)

	decided, err := svc.Approve(context.Background(), reviewerClaims("rev-1"), req.ID, dto.DecideRequestPayload{})
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, decided.Request.Status)
	require.NotNil(t, decided.Request.DecidedBy)
	assert.Equal(t, "rev-1", *decided.Request.DecidedBy)
	require.Len(t, decided.Awards, 1)
	assert.Equal(t, models.AwardMiniBadge, decided.Awards[0].Target.Kind)

	require.Len(t, engine.calls, 1)
	assert.Equal(t, "user-1:"+testBadgeID, engine.calls[0])
	grantor, ok := engine.actors[0].UserID()
	require.True(t, ok)
	assert.Equal(t, "rev-1", grantor)

	assert.Contains(t, audit.actions(), models.AuditActionRequestApprove)
	assert.Equal(t, 1, metrics.decisions[models.RequestApproved])
}

func TestApproveForbiddenForStudents(t *testing.T) {
	svc, _, catalog, _, _, _, _ := newRequestFixture()
	catalog.addBadge(testBadgeID, "skill-1", true)

	req, err := svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), studentClaims("user-1"), req.ID, dto.DecideRequestPayload{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestApproveAlreadyDecided(t *testing.T) {
	svc, _, catalog, _, _, _, _ := newRequestFixture()
	catalog.addBadge(testBadgeID, "skill-1", true)

	req, err := svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), reviewerClaims("rev-1"), req.ID, dto.DecideRequestPayload{})
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), reviewerClaims("rev-2"), req.ID, dto.DecideRequestPayload{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestApproveSurvivesEngineFailure(t *testing.T) {
	svc, repo, catalog, _, engine, _, _ := newRequestFixture()
	catalog.addBadge(testBadgeID, "skill-1", true)
	engine.err = fmt.Errorf("database gone")

	req, err := svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.NoError(t, err)

	decided, err := svc.Approve(context.Background(), reviewerClaims("rev-1"), req.ID, dto.DecideRequestPayload{})
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, decided.Request.Status)
	assert.Empty(t, decided.Awards)

	// The stored decision stands even though the grant failed.
	stored, err := repo.FindByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, stored.Status)
}

func TestApproveTreatsDuplicateAwardAsSuccess(t *testing.T) {
	svc, _, catalog, _, engine, _, _ := newRequestFixture()
	catalog.addBadge(testBadgeID, "skill-1", true)
	engine.err = appErrors.Clone(appErrors.ErrDuplicateAward, "already earned")

	req, err := svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.NoError(t, err)

	decided, err := svc.Approve(context.Background(), reviewerClaims("rev-1"), req.ID, dto.DecideRequestPayload{})
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, decided.Request.Status)
	assert.Empty(t, decided.Awards)
}

func TestRejectRequiresReason(t *testing.T) {
	svc, _, catalog, _, _, _, _ := newRequestFixture()
	catalog.addBadge(testBadgeID, "skill-1", true)

	req, err := svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.NoError(t, err)

	_, err = svc.Reject(context.Background(), reviewerClaims("rev-1"), req.ID, dto.DecideRequestPayload{Reason: "  "})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRejectStoresReason(t *testing.T) {
	svc, repo, catalog, _, engine, _, _ := newRequestFixture()
	catalog.addBadge(testBadgeID, "skill-1", true)

	req, err := svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.NoError(t, err)

	decided, err := svc.Reject(context.Background(), reviewerClaims("rev-1"), req.ID, dto.DecideRequestPayload{Reason: "insufficient evidence"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, decided.Status)
	require.NotNil(t, decided.DecisionReason)
	assert.Equal(t, "insufficient evidence", *decided.DecisionReason)

	// Rejection never reaches the engine.
	assert.Empty(t, engine.calls)

	stored, err := repo.FindByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, stored.Status)
}

func TestListScopesStudentsToOwnRequests(t *testing.T) {
	svc, _, catalog, _, _, _, _ := newRequestFixture()
	catalog.addBadge(testBadgeID, "skill-1", true)

	_, err := svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), studentClaims("user-2"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.NoError(t, err)

	requests, pagination, err := svc.List(context.Background(), studentClaims("user-1"), models.RequestFilter{UserID: "user-2"})
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "user-1", requests[0].UserID)
	assert.Equal(t, 1, pagination.TotalCount)
}

func TestListPendingForbiddenForStudents(t *testing.T) {
	svc, _, _, _, _, _, _ := newRequestFixture()

	_, _, err := svc.ListPending(context.Background(), studentClaims("user-1"), 1, 20)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestGetForbiddenForOtherStudents(t *testing.T) {
	svc, _, catalog, _, _, _, _ := newRequestFixture()
	catalog.addBadge(testBadgeID, "skill-1", true)

	req, err := svc.Submit(context.Background(), studentClaims("user-1"), dto.SubmitRequestPayload{MiniBadgeID: testBadgeID})
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), studentClaims("user-2"), req.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
