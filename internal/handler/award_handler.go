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

type awardService interface {
	GetUserAwards(ctx context.Context, userID string, kind *models.AwardKind) ([]models.Award, error)
	AwardSkillManually(ctx context.Context, actor *models.JWTClaims, userID, skillID, reason string) (*models.Award, error)
	AwardProgramManually(ctx context.Context, actor *models.JWTClaims, userID, programID, reason string) (*models.Award, error)
}

// AwardHandler exposes earned awards and manual grant endpoints.
type AwardHandler struct {
	service awardService
}

// NewAwardHandler builds a new handler.
func NewAwardHandler(service awardService) *AwardHandler {
	return &AwardHandler{service: service}
}

// ListMine godoc
// @Summary List the caller's earned awards
// @Tags Awards
// @Produce json
// @Param kind query string false "Tier filter (MINI_BADGE, SKILL, PROGRAM)"
// @Success 200 {object} response.Envelope
// @Router /awards [get]
func (h *AwardHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	awards, err := h.service.GetUserAwards(c.Request.Context(), claims.UserID, kindFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, awards, nil)
}

// ListForUser godoc
// @Summary List another user's earned awards
// @Tags Awards
// @Produce json
// @Param userId path string true "User ID"
// @Param kind query string false "Tier filter (MINI_BADGE, SKILL, PROGRAM)"
// @Success 200 {object} response.Envelope
// @Router /users/{userId}/awards [get]
func (h *AwardHandler) ListForUser(c *gin.Context) {
	awards, err := h.service.GetUserAwards(c.Request.Context(), c.Param("userId"), kindFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, awards, nil)
}

// GrantSkill godoc
// @Summary Manually grant a skill award
// @Tags Awards
// @Accept json
// @Produce json
// @Param skillId path string true "Skill ID"
// @Param payload body dto.ManualAwardPayload true "Grant payload"
// @Success 201 {object} response.Envelope
// @Router /skills/{skillId}/awards [post]
func (h *AwardHandler) GrantSkill(c *gin.Context) {
	var payload dto.ManualAwardPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid grant payload"))
		return
	}
	award, err := h.service.AwardSkillManually(c.Request.Context(), claimsFromContext(c), payload.UserID, c.Param("skillId"), payload.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, award)
}

// GrantProgram godoc
// @Summary Manually grant a program award
// @Tags Awards
// @Accept json
// @Produce json
// @Param programId path string true "Program ID"
// @Param payload body dto.ManualAwardPayload true "Grant payload"
// @Success 201 {object} response.Envelope
// @Router /programs/{programId}/awards [post]
func (h *AwardHandler) GrantProgram(c *gin.Context) {
	var payload dto.ManualAwardPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid grant payload"))
		return
	}
	award, err := h.service.AwardProgramManually(c.Request.Context(), claimsFromContext(c), payload.UserID, c.Param("programId"), payload.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, award)
}

func kindFilter(c *gin.Context) *models.AwardKind {
	raw := c.Query("kind")
	if raw == "" {
		return nil
	}
	kind := models.AwardKind(raw)
	return &kind
}
