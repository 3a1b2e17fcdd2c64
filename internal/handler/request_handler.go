package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/badge-platform-api/internal/dto"
	"github.com/noah-isme/badge-platform-api/internal/models"
	appErrors "github.com/noah-isme/badge-platform-api/pkg/errors"
	"github.com/noah-isme/badge-platform-api/pkg/response"
)

type badgeRequestService interface {
	Submit(ctx context.Context, actor *models.JWTClaims, payload dto.SubmitRequestPayload) (*models.BadgeRequest, error)
	Get(ctx context.Context, actor *models.JWTClaims, requestID string) (*models.BadgeRequest, error)
	List(ctx context.Context, actor *models.JWTClaims, filter models.RequestFilter) ([]models.BadgeRequest, *models.Pagination, error)
	ListPending(ctx context.Context, actor *models.JWTClaims, page, pageSize int) ([]models.BadgeRequest, *models.Pagination, error)
	Approve(ctx context.Context, actor *models.JWTClaims, requestID string, payload dto.DecideRequestPayload) (*dto.DecisionResult, error)
	Reject(ctx context.Context, actor *models.JWTClaims, requestID string, payload dto.DecideRequestPayload) (*models.BadgeRequest, error)
}

// RequestHandler exposes the badge request workflow endpoints.
type RequestHandler struct {
	service badgeRequestService
}

// NewRequestHandler builds a new handler.
func NewRequestHandler(service badgeRequestService) *RequestHandler {
	return &RequestHandler{service: service}
}

// Submit godoc
// @Summary Submit a badge request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.SubmitRequestPayload true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Submit(c *gin.Context) {
	var payload dto.SubmitRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload"))
		return
	}
	req, err := h.service.Submit(c.Request.Context(), claimsFromContext(c), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, req)
}

// Get godoc
// @Summary Get one badge request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	req, err := h.service.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// List godoc
// @Summary List badge requests
// @Tags Requests
// @Produce json
// @Param status query string false "Status filter (PENDING, APPROVED, REJECTED)"
// @Param userId query string false "User filter (reviewers only)"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	filter := models.RequestFilter{
		UserID:   c.Query("userId"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "pageSize", 0),
	}
	if raw := c.Query("status"); raw != "" {
		status := models.RequestStatus(raw)
		filter.Status = &status
	}
	requests, pagination, err := h.service.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, pagination)
}

// ListPending godoc
// @Summary List the review queue, oldest first
// @Tags Requests
// @Produce json
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /requests/pending [get]
func (h *RequestHandler) ListPending(c *gin.Context) {
	requests, pagination, err := h.service.ListPending(c.Request.Context(), claimsFromContext(c), queryInt(c, "page", 1), queryInt(c, "pageSize", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, pagination)
}

// Approve godoc
// @Summary Approve a pending badge request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecideRequestPayload false "Decision context"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/approve [post]
func (h *RequestHandler) Approve(c *gin.Context) {
	var payload dto.DecideRequestPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
			return
		}
	}
	result, err := h.service.Approve(c.Request.Context(), claimsFromContext(c), c.Param("id"), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Reject godoc
// @Summary Reject a pending badge request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecideRequestPayload true "Decision context with reason"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/reject [post]
func (h *RequestHandler) Reject(c *gin.Context) {
	var payload dto.DecideRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}
	req, err := h.service.Reject(c.Request.Context(), claimsFromContext(c), c.Param("id"), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
