package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/badge-platform-api/internal/dto"
	"github.com/noah-isme/badge-platform-api/internal/models"
	"github.com/noah-isme/badge-platform-api/internal/repository"
	appErrors "github.com/noah-isme/badge-platform-api/pkg/errors"
)

type awardStore interface {
	Insert(ctx context.Context, award *models.Award) error
	ListByUser(ctx context.Context, userID string, kind *models.AwardKind) ([]models.Award, error)
	CountEarnedMiniBadges(ctx context.Context, userID, skillID string) (int, error)
	CountEarnedSkills(ctx context.Context, userID, programID string) (int, error)
	CountCapstoneCompletions(ctx context.Context, userID string, capstoneIDs []string) (int, error)
	ListEarnedMiniBadgeIDs(ctx context.Context, userID, skillID string) ([]string, error)
	ListEarnedSkillIDs(ctx context.Context, userID, programID string) ([]string, error)
}

type catalogReader interface {
	ListPrograms(ctx context.Context) ([]models.Program, error)
	GetMiniBadge(ctx context.Context, id string) (*models.MiniBadge, error)
	GetSkill(ctx context.Context, id string) (*models.Skill, error)
	GetProgram(ctx context.Context, id string) (*models.Program, error)
	CountActiveMiniBadges(ctx context.Context, skillID string) (int, error)
	CountActiveSkills(ctx context.Context, programID string) (int, error)
	ListActiveMiniBadges(ctx context.Context, skillID string) ([]models.MiniBadge, error)
	ListActiveSkills(ctx context.Context, programID string) ([]models.Skill, error)
	ListRequiredActiveCapstones(ctx context.Context, programID string) ([]models.Capstone, error)
}

type progressCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type auditLogger interface {
	Record(ctx context.Context, log *models.AuditLog) error
}

type awardObserver interface {
	ObserveAward(kind models.AwardKind, automatic bool)
	ObserveCascadeFailure()
}

// ProgressServiceConfig carries tunables for the progression engine.
type ProgressServiceConfig struct {
	CacheTTL time.Duration
}

// ProgressService is the progression engine. It grants awards, walks the
// hierarchy upward after each grant, and serves progress views.
//
// The engine never holds locks across tiers: every award leg is a single
// insert whose unique index decides the winner under concurrency, so at most
// one award per (user, target) can ever exist.
type ProgressService struct {
	awards  awardStore
	catalog catalogReader
	cache   progressCache
	audit   auditLogger
	metrics awardObserver
	logger  *zap.Logger
	config  ProgressServiceConfig
}

// NewProgressService builds a ProgressService with sane defaults.
func NewProgressService(
	awards awardStore,
	catalog catalogReader,
	cache progressCache,
	audit auditLogger,
	metrics awardObserver,
	logger *zap.Logger,
	cfg ProgressServiceConfig,
) *ProgressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &ProgressService{
		awards:  awards,
		catalog: catalog,
		cache:   cache,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
	}
}

// AwardMiniBadge grants a mini-badge and cascades completion checks upward.
// It returns every award the call created, mini-badge leg first, then any
// auto-granted skill and program awards.
//
// Only the mini-badge leg reports errors to the caller: once that award is
// committed it is never rolled back, so a failure anywhere in the cascade is
// logged and absorbed rather than surfaced. Missed auto-awards are repaired
// the next time any badge in the same skill is granted.
func (s *ProgressService) AwardMiniBadge(ctx context.Context, userID, miniBadgeID string, actor models.Actor, requestID *string) ([]models.Award, error) {
	badge, err := s.catalog.GetMiniBadge(ctx, miniBadgeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mini-badge")
	}
	if badge == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "mini-badge not found")
	}
	if !badge.Active {
		return nil, appErrors.Clone(appErrors.ErrInactive, "mini-badge is deactivated")
	}

	award := &models.Award{
		UserID:    userID,
		Target:    models.MiniBadgeTarget(miniBadgeID),
		RequestID: requestID,
		Actor:     actor,
	}
	if err := s.awards.Insert(ctx, award); err != nil {
		if errors.Is(err, repository.ErrDuplicateAward) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateAward, "user already holds this mini-badge")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store mini-badge award")
	}

	s.observeAward(models.AwardMiniBadge, actor.IsSystem())
	s.emitAudit(ctx, actor, models.AuditActionAwardMiniBadge, award.ID, map[string]interface{}{
		"userId":      userID,
		"miniBadgeId": miniBadgeID,
		"requestId":   requestID,
	})

	created := []models.Award{*award}
	cascaded, err := s.cascadeFromSkill(ctx, userID, badge.SkillID)
	created = append(created, cascaded...)
	if err != nil {
		s.logger.Error("progression cascade failed after mini-badge award",
			zap.String("user_id", userID),
			zap.String("mini_badge_id", miniBadgeID),
			zap.String("skill_id", badge.SkillID),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.ObserveCascadeFailure()
		}
	}

	// Flush cached progress views only once the cascade has settled. A flush
	// before the auto-award legs would let a concurrent read re-cache a view
	// that misses them for the full TTL.
	s.invalidateProgress(ctx, userID)

	return created, nil
}

// cascadeFromSkill checks skill completion and, when the skill is earned,
// continues to the program tier. Awards created before a failure are still
// returned alongside the error.
func (s *ProgressService) cascadeFromSkill(ctx context.Context, userID, skillID string) ([]models.Award, error) {
	skill, err := s.catalog.GetSkill(ctx, skillID)
	if err != nil {
		return nil, fmt.Errorf("load skill %s: %w", skillID, err)
	}
	if skill == nil || !skill.Active {
		return nil, nil
	}

	complete, err := s.IsSkillComplete(ctx, userID, skillID)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, nil
	}

	award := &models.Award{
		UserID: userID,
		Target: models.SkillTarget(skillID),
		Actor:  models.SystemActor(),
	}
	if err := s.awards.Insert(ctx, award); err != nil {
		if errors.Is(err, repository.ErrDuplicateAward) {
			// Another badge in this skill already triggered the auto-award,
			// so the program tier was checked then. Nothing left to do.
			return nil, nil
		}
		return nil, fmt.Errorf("store skill award %s: %w", skillID, err)
	}

	s.observeAward(models.AwardSkill, true)
	s.emitAudit(ctx, models.SystemActor(), models.AuditActionAwardSkillAuto, award.ID, map[string]interface{}{
		"userId":  userID,
		"skillId": skillID,
	})
	s.logger.Info("skill auto-awarded",
		zap.String("user_id", userID),
		zap.String("skill_id", skillID))

	created := []models.Award{*award}
	cascaded, err := s.cascadeFromProgram(ctx, userID, skill.ProgramID)
	return append(created, cascaded...), err
}

// cascadeFromProgram checks program completion, including the capstone gate,
// and grants the program award when everything is in place.
func (s *ProgressService) cascadeFromProgram(ctx context.Context, userID, programID string) ([]models.Award, error) {
	program, err := s.catalog.GetProgram(ctx, programID)
	if err != nil {
		return nil, fmt.Errorf("load program %s: %w", programID, err)
	}
	if program == nil || !program.Active {
		return nil, nil
	}

	complete, err := s.IsProgramComplete(ctx, userID, programID)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, nil
	}

	award := &models.Award{
		UserID: userID,
		Target: models.ProgramTarget(programID),
		Actor:  models.SystemActor(),
	}
	if err := s.awards.Insert(ctx, award); err != nil {
		if errors.Is(err, repository.ErrDuplicateAward) {
			return nil, nil
		}
		return nil, fmt.Errorf("store program award %s: %w", programID, err)
	}

	s.observeAward(models.AwardProgram, true)
	s.emitAudit(ctx, models.SystemActor(), models.AuditActionAwardProgramAuto, award.ID, map[string]interface{}{
		"userId":    userID,
		"programId": programID,
	})
	s.logger.Info("program auto-awarded",
		zap.String("user_id", userID),
		zap.String("program_id", programID))

	return []models.Award{*award}, nil
}

// IsSkillComplete reports whether the user holds every active mini-badge of
// the skill. A skill with no active mini-badges is never complete.
func (s *ProgressService) IsSkillComplete(ctx context.Context, userID, skillID string) (bool, error) {
	total, err := s.catalog.CountActiveMiniBadges(ctx, skillID)
	if err != nil {
		return false, fmt.Errorf("count active mini-badges for skill %s: %w", skillID, err)
	}
	if total == 0 {
		return false, nil
	}
	earned, err := s.awards.CountEarnedMiniBadges(ctx, userID, skillID)
	if err != nil {
		return false, fmt.Errorf("count earned mini-badges for skill %s: %w", skillID, err)
	}
	return earned >= total, nil
}

// IsProgramComplete reports whether the user holds every active skill of the
// program and has passed the capstone gate.
func (s *ProgressService) IsProgramComplete(ctx context.Context, userID, programID string) (bool, error) {
	total, err := s.catalog.CountActiveSkills(ctx, programID)
	if err != nil {
		return false, fmt.Errorf("count active skills for program %s: %w", programID, err)
	}
	if total == 0 {
		return false, nil
	}
	earned, err := s.awards.CountEarnedSkills(ctx, userID, programID)
	if err != nil {
		return false, fmt.Errorf("count earned skills for program %s: %w", programID, err)
	}
	if earned < total {
		return false, nil
	}
	return s.capstonesSatisfied(ctx, userID, programID)
}

// capstonesSatisfied evaluates the capstone gate. A capstone counts as
// complete when the user holds a mini-badge award whose target id matches the
// capstone id. When a program names several required capstones, earning any
// one of them opens the gate; only a program with required capstones and none
// of them earned stays closed.
func (s *ProgressService) capstonesSatisfied(ctx context.Context, userID, programID string) (bool, error) {
	capstones, err := s.catalog.ListRequiredActiveCapstones(ctx, programID)
	if err != nil {
		return false, fmt.Errorf("list capstones for program %s: %w", programID, err)
	}
	if len(capstones) == 0 {
		return true, nil
	}
	ids := make([]string, 0, len(capstones))
	for _, c := range capstones {
		ids = append(ids, c.ID)
	}
	done, err := s.awards.CountCapstoneCompletions(ctx, userID, ids)
	if err != nil {
		return false, fmt.Errorf("count capstone completions for program %s: %w", programID, err)
	}
	return done >= 1, nil
}

// AwardSkillManually grants a skill award outside the automatic cascade.
// Admin only. A successful grant still triggers the program-tier check.
func (s *ProgressService) AwardSkillManually(ctx context.Context, actor *models.JWTClaims, userID, skillID, reason string) (*models.Award, error) {
	if actor == nil || !actor.Role.CanAwardManually() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may grant awards manually")
	}
	skill, err := s.catalog.GetSkill(ctx, skillID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load skill")
	}
	if skill == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "skill not found")
	}
	if !skill.Active {
		return nil, appErrors.Clone(appErrors.ErrInactive, "skill is deactivated")
	}

	award := &models.Award{
		UserID: userID,
		Target: models.SkillTarget(skillID),
		Actor:  models.PersonActor(actor.UserID),
		Note:   &reason,
	}
	if err := s.awards.Insert(ctx, award); err != nil {
		if errors.Is(err, repository.ErrDuplicateAward) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateAward, "user already holds this skill")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store skill award")
	}

	s.observeAward(models.AwardSkill, false)
	s.emitAudit(ctx, award.Actor, models.AuditActionAwardSkillManual, award.ID, map[string]interface{}{
		"userId":  userID,
		"skillId": skillID,
		"reason":  reason,
	})

	if _, err := s.cascadeFromProgram(ctx, userID, skill.ProgramID); err != nil {
		s.logger.Error("progression cascade failed after manual skill award",
			zap.String("user_id", userID),
			zap.String("skill_id", skillID),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.ObserveCascadeFailure()
		}
	}
	s.invalidateProgress(ctx, userID)

	return award, nil
}

// AwardProgramManually grants a program award outside the automatic cascade.
// Admin only.
func (s *ProgressService) AwardProgramManually(ctx context.Context, actor *models.JWTClaims, userID, programID, reason string) (*models.Award, error) {
	if actor == nil || !actor.Role.CanAwardManually() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may grant awards manually")
	}
	program, err := s.catalog.GetProgram(ctx, programID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}
	if program == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
	}
	if !program.Active {
		return nil, appErrors.Clone(appErrors.ErrInactive, "program is deactivated")
	}

	award := &models.Award{
		UserID: userID,
		Target: models.ProgramTarget(programID),
		Actor:  models.PersonActor(actor.UserID),
		Note:   &reason,
	}
	if err := s.awards.Insert(ctx, award); err != nil {
		if errors.Is(err, repository.ErrDuplicateAward) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateAward, "user already holds this program")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store program award")
	}

	s.observeAward(models.AwardProgram, false)
	s.emitAudit(ctx, award.Actor, models.AuditActionAwardProgramManual, award.ID, map[string]interface{}{
		"userId":    userID,
		"programId": programID,
		"reason":    reason,
	})
	s.invalidateProgress(ctx, userID)

	return award, nil
}

// ListPrograms returns the program catalog for browsing.
func (s *ProgressService) ListPrograms(ctx context.Context) ([]models.Program, error) {
	programs, err := s.catalog.ListPrograms(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list programs")
	}
	return programs, nil
}

// GetUserAwards returns a user's awards, optionally filtered by tier.
func (s *ProgressService) GetUserAwards(ctx context.Context, userID string, kind *models.AwardKind) ([]models.Award, error) {
	awards, err := s.awards.ListByUser(ctx, userID, kind)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list awards")
	}
	return awards, nil
}

// GetSkillProgress renders a user's standing within one skill.
func (s *ProgressService) GetSkillProgress(ctx context.Context, userID, skillID string) (*dto.SkillProgress, error) {
	cacheKey := progressCacheKey(userID, "skill", skillID)
	if s.cache != nil {
		var cached dto.SkillProgress
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	skill, err := s.catalog.GetSkill(ctx, skillID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load skill")
	}
	if skill == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "skill not found")
	}

	badges, err := s.catalog.ListActiveMiniBadges(ctx, skillID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list mini-badges")
	}
	earnedIDs, err := s.awards.ListEarnedMiniBadgeIDs(ctx, userID, skillID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list earned mini-badges")
	}
	earned := make(map[string]bool, len(earnedIDs))
	for _, id := range earnedIDs {
		earned[id] = true
	}

	progress := &dto.SkillProgress{
		SkillID:    skill.ID,
		SkillTitle: skill.Title,
		TotalCount: len(badges),
		MiniBadges: make([]dto.MiniBadgeProgress, 0, len(badges)),
	}
	for _, badge := range badges {
		row := dto.MiniBadgeProgress{
			ID:          badge.ID,
			Title:       badge.Title,
			Description: badge.Description,
			Earned:      earned[badge.ID],
		}
		if row.Earned {
			progress.EarnedCount++
		}
		progress.MiniBadges = append(progress.MiniBadges, row)
	}
	if progress.TotalCount > 0 {
		progress.Percentage = progress.EarnedCount * 100 / progress.TotalCount
		progress.Complete = progress.EarnedCount == progress.TotalCount
	}

	s.cacheSet(ctx, cacheKey, progress)
	return progress, nil
}

// GetProgramProgress renders a user's standing within one program.
func (s *ProgressService) GetProgramProgress(ctx context.Context, userID, programID string) (*dto.ProgramProgress, error) {
	cacheKey := progressCacheKey(userID, "program", programID)
	if s.cache != nil {
		var cached dto.ProgramProgress
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	program, err := s.catalog.GetProgram(ctx, programID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}
	if program == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
	}

	skills, err := s.catalog.ListActiveSkills(ctx, programID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list skills")
	}
	earnedIDs, err := s.awards.ListEarnedSkillIDs(ctx, userID, programID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list earned skills")
	}
	earned := make(map[string]bool, len(earnedIDs))
	for _, id := range earnedIDs {
		earned[id] = true
	}

	progress := &dto.ProgramProgress{
		ProgramID:    program.ID,
		ProgramTitle: program.Title,
		TotalSkills:  len(skills),
		Skills:       make([]dto.SkillSummary, 0, len(skills)),
	}
	for _, skill := range skills {
		row := dto.SkillSummary{ID: skill.ID, Title: skill.Title, Earned: earned[skill.ID]}
		if row.Earned {
			progress.EarnedSkills++
		}
		progress.Skills = append(progress.Skills, row)
	}
	if progress.TotalSkills > 0 {
		progress.Percentage = progress.EarnedSkills * 100 / progress.TotalSkills
	}

	capstones, err := s.catalog.ListRequiredActiveCapstones(ctx, programID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list capstones")
	}
	progress.HasCapstone = len(capstones) > 0
	if progress.HasCapstone {
		satisfied, err := s.capstonesSatisfied(ctx, userID, programID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to evaluate capstones")
		}
		progress.CapstoneEarned = satisfied
	}
	progress.Complete = progress.TotalSkills > 0 &&
		progress.EarnedSkills == progress.TotalSkills &&
		(!progress.HasCapstone || progress.CapstoneEarned)

	s.cacheSet(ctx, cacheKey, progress)
	return progress, nil
}

// GetSummary aggregates a user's earned awards by tier.
func (s *ProgressService) GetSummary(ctx context.Context, userID string) (*dto.ProgressSummary, error) {
	cacheKey := progressCacheKey(userID, "summary", "all")
	if s.cache != nil {
		var cached dto.ProgressSummary
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	awards, err := s.awards.ListByUser(ctx, userID, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list awards")
	}

	summary := &dto.ProgressSummary{TotalEarned: len(awards), GeneratedAt: time.Now().UTC()}
	for _, award := range awards {
		switch award.Target.Kind {
		case models.AwardMiniBadge:
			summary.MiniBadgeCount++
		case models.AwardSkill:
			summary.SkillCount++
		case models.AwardProgram:
			summary.ProgramCount++
		}
	}

	s.cacheSet(ctx, cacheKey, summary)
	return summary, nil
}

func progressCacheKey(userID, tier, id string) string {
	return fmt.Sprintf("progress:%s:%s:%s", userID, tier, id)
}

func (s *ProgressService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.config.CacheTTL); err != nil {
		s.logger.Warn("failed to cache progress view", zap.String("key", key), zap.Error(err))
	}
}

func (s *ProgressService) invalidateProgress(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("progress:%s:*", userID)); err != nil {
		s.logger.Warn("failed to invalidate progress cache", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *ProgressService) observeAward(kind models.AwardKind, automatic bool) {
	if s.metrics != nil {
		s.metrics.ObserveAward(kind, automatic)
	}
}

func (s *ProgressService) emitAudit(ctx context.Context, actor models.Actor, action, entityID string, payload map[string]interface{}) {
	if s.audit == nil {
		return
	}
	contextJSON, _ := json.Marshal(payload)
	var actorID *string
	if id, ok := actor.UserID(); ok {
		actorID = &id
	}
	log := &models.AuditLog{
		ActorID:   actorID,
		Action:    action,
		Entity:    models.AuditEntityAward,
		EntityID:  entityID,
		Context:   contextJSON,
		IPAddress: "system",
		UserAgent: "progress-engine",
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("failed to record award audit", zap.String("action", action), zap.Error(err))
	}
}
