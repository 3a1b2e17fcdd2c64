package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/badge-platform-api/internal/dto"
	"github.com/noah-isme/badge-platform-api/internal/models"
	appErrors "github.com/noah-isme/badge-platform-api/pkg/errors"
	"github.com/noah-isme/badge-platform-api/pkg/response"
)

type progressService interface {
	ListPrograms(ctx context.Context) ([]models.Program, error)
	GetSkillProgress(ctx context.Context, userID, skillID string) (*dto.SkillProgress, error)
	GetProgramProgress(ctx context.Context, userID, programID string) (*dto.ProgramProgress, error)
	GetSummary(ctx context.Context, userID string) (*dto.ProgressSummary, error)
}

// ProgressHandler exposes catalog browsing and progress dashboards.
type ProgressHandler struct {
	service progressService
}

// NewProgressHandler builds a new handler.
func NewProgressHandler(service progressService) *ProgressHandler {
	return &ProgressHandler{service: service}
}

// ListPrograms godoc
// @Summary List the badge program catalog
// @Tags Progress
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /programs [get]
func (h *ProgressHandler) ListPrograms(c *gin.Context) {
	programs, err := h.service.ListPrograms(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, programs, nil)
}

// SkillProgress godoc
// @Summary Show the caller's progress within a skill
// @Tags Progress
// @Produce json
// @Param skillId path string true "Skill ID"
// @Success 200 {object} response.Envelope
// @Router /skills/{skillId}/progress [get]
func (h *ProgressHandler) SkillProgress(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	progress, err := h.service.GetSkillProgress(c.Request.Context(), claims.UserID, c.Param("skillId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progress, nil)
}

// ProgramProgress godoc
// @Summary Show the caller's progress within a program
// @Tags Progress
// @Produce json
// @Param programId path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Router /programs/{programId}/progress [get]
func (h *ProgressHandler) ProgramProgress(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	progress, err := h.service.GetProgramProgress(c.Request.Context(), claims.UserID, c.Param("programId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progress, nil)
}

// Summary godoc
// @Summary Summarise the caller's earned awards by tier
// @Tags Progress
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /progress/summary [get]
func (h *ProgressHandler) Summary(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	summary, err := h.service.GetSummary(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
