package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/badge-platform-api/internal/dto"
	"github.com/noah-isme/badge-platform-api/internal/models"
	appErrors "github.com/noah-isme/badge-platform-api/pkg/errors"
	"github.com/noah-isme/badge-platform-api/pkg/export"
	"github.com/noah-isme/badge-platform-api/pkg/jobs"
)

const transcriptJobType = "transcript.generate"

type transcriptAwardLister interface {
	ListByUser(ctx context.Context, userID string, kind *models.AwardKind) ([]models.Award, error)
}

type transcriptCatalog interface {
	GetMiniBadge(ctx context.Context, id string) (*models.MiniBadge, error)
	GetSkill(ctx context.Context, id string) (*models.Skill, error)
	GetProgram(ctx context.Context, id string) (*models.Program, error)
}

type transcriptStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type transcriptSigner interface {
	Generate(jobID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error)
}

// TranscriptServiceConfig carries tunables for transcript generation.
type TranscriptServiceConfig struct {
	Enabled           bool
	WorkerConcurrency int
	WorkerRetries     int
}

type transcriptJobPayload struct {
	JobID  string
	UserID string
	Format dto.TranscriptFormat
}

// TranscriptService renders a user's award history into downloadable CSV or
// PDF artifacts. Generation runs on a background queue; the caller polls the
// job until it completes and then follows the signed download link.
type TranscriptService struct {
	awards    transcriptAwardLister
	catalog   transcriptCatalog
	storage   transcriptStorage
	signer    transcriptSigner
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	queue     *jobs.Queue
	validator *validator.Validate
	logger    *zap.Logger
	config    TranscriptServiceConfig

	mu      sync.RWMutex
	jobsMap map[string]*dto.TranscriptJob
}

// NewTranscriptService builds a TranscriptService with sane defaults.
func NewTranscriptService(
	awards transcriptAwardLister,
	catalog transcriptCatalog,
	storage transcriptStorage,
	signer transcriptSigner,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg TranscriptServiceConfig,
) *TranscriptService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TranscriptService{
		awards:    awards,
		catalog:   catalog,
		storage:   storage,
		signer:    signer,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		validator: validate,
		logger:    logger,
		config:    cfg,
		jobsMap:   make(map[string]*dto.TranscriptJob),
	}
	s.queue = jobs.NewQueue("transcripts", s.process, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		MaxRetries: cfg.WorkerRetries,
		Logger:     logger,
	})
	return s
}

// Start launches the background workers.
func (s *TranscriptService) Start(ctx context.Context) {
	if !s.config.Enabled {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains the background workers.
func (s *TranscriptService) Stop() {
	if !s.config.Enabled {
		return
	}
	s.queue.Stop()
}

// Request queues transcript generation for the caller.
func (s *TranscriptService) Request(ctx context.Context, actor *models.JWTClaims, payload dto.RequestTranscriptPayload) (*dto.TranscriptJob, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !s.config.Enabled {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "transcript export is disabled")
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transcript payload")
	}

	job := &dto.TranscriptJob{
		ID:          uuid.NewString(),
		UserID:      actor.UserID,
		Format:      payload.Format,
		Status:      dto.TranscriptQueued,
		RequestedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.jobsMap[job.ID] = job
	s.mu.Unlock()

	if err := s.queue.Enqueue(jobs.Job{
		ID:      job.ID,
		Type:    transcriptJobType,
		Payload: transcriptJobPayload{JobID: job.ID, UserID: actor.UserID, Format: payload.Format},
	}); err != nil {
		s.failJob(job.ID, "transcript queue unavailable")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue transcript")
	}

	return s.snapshot(job.ID), nil
}

// GetJob returns the state of a transcript job. Owners and admins only.
func (s *TranscriptService) GetJob(ctx context.Context, actor *models.JWTClaims, jobID string) (*dto.TranscriptJob, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	job := s.snapshot(jobID)
	if job == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "transcript job not found")
	}
	if job.UserID != actor.UserID && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "transcript belongs to another user")
	}
	return job, nil
}

// Download resolves a signed token to the stored artifact.
func (s *TranscriptService) Download(ctx context.Context, token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "transcript artifact not found")
	}
	return file, relPath, nil
}

// process is the queue handler that renders and stores one transcript.
func (s *TranscriptService) process(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(transcriptJobPayload)
	if !ok {
		s.logger.Error("transcript job carries unexpected payload", zap.String("job_id", job.ID))
		return nil
	}

	dataset, err := s.buildDataset(ctx, payload.UserID)
	if err != nil {
		s.failJob(payload.JobID, "failed to collect award history")
		return fmt.Errorf("build transcript dataset: %w", err)
	}

	var rendered []byte
	var ext string
	switch payload.Format {
	case dto.TranscriptPDF:
		rendered, err = s.pdf.Render(dataset, "Badge Transcript")
		ext = "pdf"
	default:
		rendered, err = s.csv.Render(dataset)
		ext = "csv"
	}
	if err != nil {
		s.failJob(payload.JobID, "failed to render transcript")
		return fmt.Errorf("render transcript: %w", err)
	}

	filename := fmt.Sprintf("%s/%s.%s", payload.UserID, payload.JobID, ext)
	relPath, err := s.storage.Save(filename, rendered)
	if err != nil {
		s.failJob(payload.JobID, "failed to store transcript")
		return fmt.Errorf("store transcript: %w", err)
	}

	token, expiresAt, err := s.signer.Generate(payload.JobID, relPath)
	if err != nil {
		s.failJob(payload.JobID, "failed to sign download link")
		return fmt.Errorf("sign transcript link: %w", err)
	}

	now := time.Now().UTC()
	s.mu.Lock()
	if job, ok := s.jobsMap[payload.JobID]; ok {
		job.Status = dto.TranscriptCompleted
		job.DownloadURL = token
		job.ExpiresAt = &expiresAt
		job.CompletedAt = &now
	}
	s.mu.Unlock()

	s.logger.Info("transcript generated",
		zap.String("job_id", payload.JobID),
		zap.String("user_id", payload.UserID),
		zap.String("format", string(payload.Format)))
	return nil
}

// buildDataset flattens the user's award history into export rows, newest
// first, with catalog titles resolved per tier.
func (s *TranscriptService) buildDataset(ctx context.Context, userID string) (export.Dataset, error) {
	awards, err := s.awards.ListByUser(ctx, userID, nil)
	if err != nil {
		return export.Dataset{}, err
	}

	dataset := export.Dataset{
		Headers: []string{"Tier", "Title", "Awarded At", "Granted By"},
		Rows:    make([]map[string]string, 0, len(awards)),
	}
	for _, award := range awards {
		title, err := s.resolveTitle(ctx, award.Target)
		if err != nil {
			return export.Dataset{}, err
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Tier":       string(award.Target.Kind),
			"Title":      title,
			"Awarded At": award.AwardedAt.Format("2006-01-02"),
			"Granted By": award.Actor.String(),
		})
	}
	return dataset, nil
}

func (s *TranscriptService) resolveTitle(ctx context.Context, target models.AwardTarget) (string, error) {
	switch target.Kind {
	case models.AwardMiniBadge:
		badge, err := s.catalog.GetMiniBadge(ctx, target.ID)
		if err != nil || badge == nil {
			return target.ID, err
		}
		return badge.Title, nil
	case models.AwardSkill:
		skill, err := s.catalog.GetSkill(ctx, target.ID)
		if err != nil || skill == nil {
			return target.ID, err
		}
		return skill.Title, nil
	case models.AwardProgram:
		program, err := s.catalog.GetProgram(ctx, target.ID)
		if err != nil || program == nil {
			return target.ID, err
		}
		return program.Title, nil
	}
	return target.ID, nil
}

func (s *TranscriptService) failJob(jobID, reason string) {
	now := time.Now().UTC()
	s.mu.Lock()
	if job, ok := s.jobsMap[jobID]; ok {
		job.Status = dto.TranscriptFailed
		job.Error = reason
		job.CompletedAt = &now
	}
	s.mu.Unlock()
}

func (s *TranscriptService) snapshot(jobID string) *dto.TranscriptJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobsMap[jobID]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}
