package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/badge-platform-api/internal/models"
)

// ErrDuplicateAward is returned when an insert collides with an existing
// award for the same (user, target) pair. The unique indexes make the
// uniqueness check and the insert a single atomic operation, so concurrent
// callers can never produce two rows.
var ErrDuplicateAward = errors.New("award already exists for user and target")

const pqUniqueViolation = "23505"

// AwardRepository provides append-only access to earned-badge facts.
type AwardRepository struct {
	db *sqlx.DB
}

// NewAwardRepository creates a new instance of AwardRepository.
func NewAwardRepository(db *sqlx.DB) *AwardRepository {
	return &AwardRepository{db: db}
}

// awardRow is the storage shape: the tagged target is flattened into one
// nullable column per tier plus a kind discriminator.
type awardRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	Kind        string    `db:"kind"`
	MiniBadgeID *string   `db:"mini_badge_id"`
	SkillID     *string   `db:"skill_id"`
	ProgramID   *string   `db:"program_id"`
	RequestID   *string   `db:"request_id"`
	AwardedBy   *string   `db:"awarded_by"`
	AwardedAt   time.Time `db:"awarded_at"`
	Note        *string   `db:"note"`
	CreatedAt   time.Time `db:"created_at"`
}

func rowFromAward(a *models.Award) awardRow {
	row := awardRow{
		ID:        a.ID,
		UserID:    a.UserID,
		Kind:      string(a.Target.Kind),
		RequestID: a.RequestID,
		AwardedAt: a.AwardedAt,
		Note:      a.Note,
		CreatedAt: a.CreatedAt,
	}
	switch a.Target.Kind {
	case models.AwardMiniBadge:
		id := a.Target.ID
		row.MiniBadgeID = &id
	case models.AwardSkill:
		id := a.Target.ID
		row.SkillID = &id
	case models.AwardProgram:
		id := a.Target.ID
		row.ProgramID = &id
	}
	if userID, ok := a.Actor.UserID(); ok {
		row.AwardedBy = &userID
	}
	return row
}

func (r awardRow) toAward() (*models.Award, error) {
	var target models.AwardTarget
	switch models.AwardKind(r.Kind) {
	case models.AwardMiniBadge:
		if r.MiniBadgeID == nil {
			return nil, fmt.Errorf("award %s: mini_badge_id missing", r.ID)
		}
		target = models.MiniBadgeTarget(*r.MiniBadgeID)
	case models.AwardSkill:
		if r.SkillID == nil {
			return nil, fmt.Errorf("award %s: skill_id missing", r.ID)
		}
		target = models.SkillTarget(*r.SkillID)
	case models.AwardProgram:
		if r.ProgramID == nil {
			return nil, fmt.Errorf("award %s: program_id missing", r.ID)
		}
		target = models.ProgramTarget(*r.ProgramID)
	default:
		return nil, fmt.Errorf("award %s: unknown kind %q", r.ID, r.Kind)
	}

	actor := models.SystemActor()
	if r.AwardedBy != nil {
		actor = models.PersonActor(*r.AwardedBy)
	}

	return &models.Award{
		ID:        r.ID,
		UserID:    r.UserID,
		Target:    target,
		RequestID: r.RequestID,
		Actor:     actor,
		AwardedAt: r.AwardedAt,
		Note:      r.Note,
		CreatedAt: r.CreatedAt,
	}, nil
}

// Insert persists a new award. Returns ErrDuplicateAward when the per-tier
// unique index rejects the row. Awards are never updated or deleted.
func (r *AwardRepository) Insert(ctx context.Context, award *models.Award) error {
	if !award.Target.Valid() {
		return fmt.Errorf("insert award: invalid target")
	}
	if award.ID == "" {
		award.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if award.AwardedAt.IsZero() {
		award.AwardedAt = now
	}
	if award.CreatedAt.IsZero() {
		award.CreatedAt = now
	}

	row := rowFromAward(award)
	const query = `INSERT INTO awards (id, user_id, kind, mini_badge_id, skill_id, program_id, request_id, awarded_by, awarded_at, note, created_at)
VALUES (:id, :user_id, :kind, :mini_badge_id, :skill_id, :program_id, :request_id, :awarded_by, :awarded_at, :note, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateAward
		}
		return fmt.Errorf("insert award: %w", err)
	}
	return nil
}

// ListByUser returns a user's awards, newest first, optionally filtered by tier.
func (r *AwardRepository) ListByUser(ctx context.Context, userID string, kind *models.AwardKind) ([]models.Award, error) {
	query := `SELECT id, user_id, kind, mini_badge_id, skill_id, program_id, request_id, awarded_by, awarded_at, note, created_at FROM awards WHERE user_id = $1`
	args := []interface{}{userID}
	if kind != nil {
		query += ` AND kind = $2`
		args = append(args, string(*kind))
	}
	query += ` ORDER BY awarded_at DESC`

	var rows []awardRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list awards: %w", err)
	}

	awards := make([]models.Award, 0, len(rows))
	for _, row := range rows {
		award, err := row.toAward()
		if err != nil {
			return nil, err
		}
		awards = append(awards, *award)
	}
	return awards, nil
}

// HasAward reports whether the user already holds an award for the target.
func (r *AwardRepository) HasAward(ctx context.Context, userID string, target models.AwardTarget) (bool, error) {
	var column string
	switch target.Kind {
	case models.AwardMiniBadge:
		column = "mini_badge_id"
	case models.AwardSkill:
		column = "skill_id"
	case models.AwardProgram:
		column = "program_id"
	default:
		return false, fmt.Errorf("has award: unknown kind %q", target.Kind)
	}

	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM awards WHERE user_id = $1 AND %s = $2)`, column)
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, userID, target.ID); err != nil {
		return false, fmt.Errorf("has award: %w", err)
	}
	return exists, nil
}

// CountEarnedMiniBadges counts the user's mini-badge awards over the active
// mini-badges of one skill. Deactivated badges drop out of the numerator
// immediately, matching the completion denominator.
func (r *AwardRepository) CountEarnedMiniBadges(ctx context.Context, userID, skillID string) (int, error) {
	const query = `SELECT COUNT(a.id)
FROM awards a
JOIN mini_badges mb ON mb.id = a.mini_badge_id
WHERE a.user_id = $1
  AND a.kind = 'MINI_BADGE'
  AND mb.skill_id = $2
  AND mb.active = TRUE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID, skillID); err != nil {
		return 0, fmt.Errorf("count earned mini badges: %w", err)
	}
	return count, nil
}

// CountEarnedSkills counts the user's skill awards over the active skills of
// one program.
func (r *AwardRepository) CountEarnedSkills(ctx context.Context, userID, programID string) (int, error) {
	const query = `SELECT COUNT(a.id)
FROM awards a
JOIN skills s ON s.id = a.skill_id
WHERE a.user_id = $1
  AND a.kind = 'SKILL'
  AND s.program_id = $2
  AND s.active = TRUE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID, programID); err != nil {
		return 0, fmt.Errorf("count earned skills: %w", err)
	}
	return count, nil
}

// CountCapstoneCompletions counts the user's mini-badge awards whose target id
// matches one of the given capstone ids. This is the capstone-completion
// contract the program gate evaluates; see DESIGN.md for the provenance of
// this signal.
func (r *AwardRepository) CountCapstoneCompletions(ctx context.Context, userID string, capstoneIDs []string) (int, error) {
	if len(capstoneIDs) == 0 {
		return 0, nil
	}
	const query = `SELECT COUNT(id) FROM awards WHERE user_id = $1 AND kind = 'MINI_BADGE' AND mini_badge_id = ANY($2)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID, pq.Array(capstoneIDs)); err != nil {
		return 0, fmt.Errorf("count capstone completions: %w", err)
	}
	return count, nil
}

// ListEarnedMiniBadgeIDs returns the ids of active mini-badges of a skill the
// user has earned, for dashboard rendering.
func (r *AwardRepository) ListEarnedMiniBadgeIDs(ctx context.Context, userID, skillID string) ([]string, error) {
	const query = `SELECT a.mini_badge_id
FROM awards a
JOIN mini_badges mb ON mb.id = a.mini_badge_id
WHERE a.user_id = $1
  AND a.kind = 'MINI_BADGE'
  AND mb.skill_id = $2
  AND mb.active = TRUE`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, userID, skillID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("list earned mini badge ids: %w", err)
	}
	return ids, nil
}

// ListEarnedSkillIDs returns the ids of active skills of a program the user
// has earned.
func (r *AwardRepository) ListEarnedSkillIDs(ctx context.Context, userID, programID string) ([]string, error) {
	const query = `SELECT a.skill_id
FROM awards a
JOIN skills s ON s.id = a.skill_id
WHERE a.user_id = $1
  AND a.kind = 'SKILL'
  AND s.program_id = $2
  AND s.active = TRUE`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, userID, programID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("list earned skill ids: %w", err)
	}
	return ids, nil
}
