package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/badge-platform-api/internal/dto"
	"github.com/noah-isme/badge-platform-api/internal/models"
	appErrors "github.com/noah-isme/badge-platform-api/pkg/errors"
	"github.com/noah-isme/badge-platform-api/pkg/response"
)

type transcriptService interface {
	Request(ctx context.Context, actor *models.JWTClaims, payload dto.RequestTranscriptPayload) (*dto.TranscriptJob, error)
	GetJob(ctx context.Context, actor *models.JWTClaims, jobID string) (*dto.TranscriptJob, error)
	Download(ctx context.Context, token string) (*os.File, string, error)
}

// TranscriptHandler exposes transcript export endpoints.
type TranscriptHandler struct {
	service transcriptService
}

// NewTranscriptHandler builds a new handler.
func NewTranscriptHandler(service transcriptService) *TranscriptHandler {
	return &TranscriptHandler{service: service}
}

// Request godoc
// @Summary Queue a transcript export
// @Tags Transcripts
// @Accept json
// @Produce json
// @Param payload body dto.RequestTranscriptPayload true "Export format"
// @Success 202 {object} response.Envelope
// @Router /transcripts [post]
func (h *TranscriptHandler) Request(c *gin.Context) {
	var payload dto.RequestTranscriptPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transcript payload"))
		return
	}
	job, err := h.service.Request(c.Request.Context(), claimsFromContext(c), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// GetJob godoc
// @Summary Poll a transcript export job
// @Tags Transcripts
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /transcripts/{id} [get]
func (h *TranscriptHandler) GetJob(c *gin.Context) {
	job, err := h.service.GetJob(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Download godoc
// @Summary Download a finished transcript via a signed token
// @Tags Transcripts
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /transcripts/download [get]
func (h *TranscriptHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "download token is required"))
		return
	}
	file, relPath, err := h.service.Download(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	contentType := "text/csv"
	if filepath.Ext(relPath) == ".pdf" {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", "attachment; filename="+filepath.Base(relPath))
	c.Header("Content-Type", contentType)
	http.ServeContent(c.Writer, c.Request, filepath.Base(relPath), fileModTime(file), file)
}

func fileModTime(file *os.File) time.Time {
	info, err := file.Stat()
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
