package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/badge-platform-api/internal/dto"
	"github.com/noah-isme/badge-platform-api/internal/models"
	"github.com/noah-isme/badge-platform-api/internal/repository"
	appErrors "github.com/noah-isme/badge-platform-api/pkg/errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type requestStore interface {
	Create(ctx context.Context, req *models.BadgeRequest) error
	FindByID(ctx context.Context, id string) (*models.BadgeRequest, error)
	HasPendingForBadge(ctx context.Context, userID, miniBadgeID string) (bool, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.BadgeRequest, int, error)
	ListPending(ctx context.Context, page, pageSize int) ([]models.BadgeRequest, int, error)
	MarkDecided(ctx context.Context, id string, status models.RequestStatus, decidedBy string, reason *string) (bool, error)
}

type requestBadgeReader interface {
	GetMiniBadge(ctx context.Context, id string) (*models.MiniBadge, error)
}

type awardChecker interface {
	HasAward(ctx context.Context, userID string, target models.AwardTarget) (bool, error)
}

type miniBadgeAwarder interface {
	AwardMiniBadge(ctx context.Context, userID, miniBadgeID string, actor models.Actor, requestID *string) ([]models.Award, error)
}

type decisionObserver interface {
	ObserveRequestDecision(status models.RequestStatus)
}

// RequestService runs the badge request workflow from submission to decision.
type RequestService struct {
	repo      requestStore
	catalog   requestBadgeReader
	awards    awardChecker
	engine    miniBadgeAwarder
	audit     auditLogger
	metrics   decisionObserver
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRequestService builds a RequestService with sane defaults.
func NewRequestService(
	repo requestStore,
	catalog requestBadgeReader,
	awards awardChecker,
	engine miniBadgeAwarder,
	audit auditLogger,
	metrics decisionObserver,
	validate *validator.Validate,
	logger *zap.Logger,
) *RequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{
		repo:      repo,
		catalog:   catalog,
		awards:    awards,
		engine:    engine,
		audit:     audit,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Submit creates a pending request for a mini-badge on behalf of the caller.
func (s *RequestService) Submit(ctx context.Context, actor *models.JWTClaims, payload dto.SubmitRequestPayload) (*models.BadgeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}

	badge, err := s.catalog.GetMiniBadge(ctx, payload.MiniBadgeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mini-badge")
	}
	if badge == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "mini-badge not found")
	}
	if !badge.Active {
		return nil, appErrors.Clone(appErrors.ErrInactive, "mini-badge is deactivated")
	}

	earned, err := s.awards.HasAward(ctx, actor.UserID, models.MiniBadgeTarget(payload.MiniBadgeID))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing awards")
	}
	if earned {
		return nil, appErrors.Clone(appErrors.ErrConflict, "mini-badge already earned")
	}

	pending, err := s.repo.HasPendingForBadge(ctx, actor.UserID, payload.MiniBadgeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending requests")
	}
	if pending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a request for this mini-badge is already pending")
	}

	req := &models.BadgeRequest{UserID: actor.UserID, MiniBadgeID: payload.MiniBadgeID}
	if err := s.repo.Create(ctx, req); err != nil {
		// Catches the submission that loses the race past the pending check.
		if errors.Is(err, repository.ErrDuplicateRequest) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a request for this mini-badge is already pending")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	s.emitAudit(ctx, &actor.UserID, models.AuditActionRequestSubmit, req.ID, map[string]interface{}{
		"miniBadgeId": payload.MiniBadgeID,
	})
	return req, nil
}

// Approve decides a pending request in the student's favor and hands the
// grant to the progression engine.
//
// The decision and the grant are separate steps on purpose: once the request
// is approved, an engine failure must not undo the reviewer's decision. Such
// failures are logged and absorbed, and a duplicate award simply means the
// student earned the badge through another path first.
func (s *RequestService) Approve(ctx context.Context, actor *models.JWTClaims, requestID string, payload dto.DecideRequestPayload) (*dto.DecisionResult, error) {
	req, err := s.decide(ctx, actor, requestID, models.RequestApproved, payload.Reason)
	if err != nil {
		return nil, err
	}

	awards, err := s.engine.AwardMiniBadge(ctx, req.UserID, req.MiniBadgeID, models.PersonActor(actor.UserID), &req.ID)
	if err != nil {
		awards = nil
		if appErrors.FromError(err).Code == appErrors.ErrDuplicateAward.Code {
			s.logger.Info("approved badge already awarded",
				zap.String("request_id", req.ID),
				zap.String("user_id", req.UserID))
		} else {
			s.logger.Error("award grant failed after approval",
				zap.String("request_id", req.ID),
				zap.String("user_id", req.UserID),
				zap.String("mini_badge_id", req.MiniBadgeID),
				zap.Error(err))
		}
	}

	s.emitAudit(ctx, &actor.UserID, models.AuditActionRequestApprove, req.ID, map[string]interface{}{
		"userId":      req.UserID,
		"miniBadgeId": req.MiniBadgeID,
		"awards":      len(awards),
	})
	return &dto.DecisionResult{Request: req, Awards: awards}, nil
}

// Reject decides a pending request against the student. A reason is
// mandatory so the student always learns why.
func (s *RequestService) Reject(ctx context.Context, actor *models.JWTClaims, requestID string, payload dto.DecideRequestPayload) (*models.BadgeRequest, error) {
	if strings.TrimSpace(payload.Reason) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a rejection reason is required")
	}

	req, err := s.decide(ctx, actor, requestID, models.RequestRejected, payload.Reason)
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, &actor.UserID, models.AuditActionRequestReject, req.ID, map[string]interface{}{
		"userId":      req.UserID,
		"miniBadgeId": req.MiniBadgeID,
		"reason":      payload.Reason,
	})
	return req, nil
}

// decide performs the shared guards and the atomic pending-to-terminal
// transition. Of two concurrent reviewers exactly one succeeds; the other
// gets an invalid-state error.
func (s *RequestService) decide(ctx context.Context, actor *models.JWTClaims, requestID string, status models.RequestStatus, reason string) (*models.BadgeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.CanDecideRequests() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only reviewers may decide requests")
	}

	req, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if req == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
	}
	if req.IsDecided() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "request has already been decided")
	}

	var reasonPtr *string
	if strings.TrimSpace(reason) != "" {
		trimmed := strings.TrimSpace(reason)
		reasonPtr = &trimmed
	}

	decided, err := s.repo.MarkDecided(ctx, requestID, status, actor.UserID, reasonPtr)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decide request")
	}
	if !decided {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "request was decided by another reviewer")
	}

	if s.metrics != nil {
		s.metrics.ObserveRequestDecision(status)
	}

	req.Status = status
	req.DecidedBy = &actor.UserID
	req.DecisionReason = reasonPtr
	return req, nil
}

// Get returns one request. Students may only see their own.
func (s *RequestService) Get(ctx context.Context, actor *models.JWTClaims, requestID string) (*models.BadgeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	req, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if req == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
	}
	if actor.Role == models.RoleStudent && req.UserID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own requests")
	}
	return req, nil
}

// List returns requests matching the filter. Students are always scoped to
// their own submissions regardless of the filter they pass.
func (s *RequestService) List(ctx context.Context, actor *models.JWTClaims, filter models.RequestFilter) ([]models.BadgeRequest, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleStudent {
		filter.UserID = actor.UserID
	}
	normalizePaging(&filter.Page, &filter.PageSize)

	requests, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return requests, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// ListPending returns the review queue, oldest first. Reviewers only.
func (s *RequestService) ListPending(ctx context.Context, actor *models.JWTClaims, page, pageSize int) ([]models.BadgeRequest, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if !actor.Role.CanDecideRequests() {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "only reviewers may view the queue")
	}
	normalizePaging(&page, &pageSize)

	requests, total, err := s.repo.ListPending(ctx, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending requests")
	}
	return requests, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

func normalizePaging(page, pageSize *int) {
	if *page < 1 {
		*page = 1
	}
	if *pageSize < 1 {
		*pageSize = defaultPageSize
	}
	if *pageSize > maxPageSize {
		*pageSize = maxPageSize
	}
}

func (s *RequestService) emitAudit(ctx context.Context, actorID *string, action, entityID string, payload map[string]interface{}) {
	if s.audit == nil {
		return
	}
	contextJSON, _ := json.Marshal(payload)
	log := &models.AuditLog{
		ActorID:   actorID,
		Action:    action,
		Entity:    models.AuditEntityRequest,
		EntityID:  entityID,
		Context:   contextJSON,
		IPAddress: "system",
		UserAgent: "request-service",
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("failed to record request audit", zap.String("action", action), zap.Error(err))
	}
}
