package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/badge-platform-api/internal/models"
)

// CatalogRepository reads the badge hierarchy. The catalog is administered
// out of band; this API only consumes it.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository creates a new instance of CatalogRepository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetMiniBadge returns one mini-badge, or (nil, nil) when absent.
func (r *CatalogRepository) GetMiniBadge(ctx context.Context, id string) (*models.MiniBadge, error) {
	const query = `SELECT id, skill_id, title, description, active, position, created_at, updated_at FROM mini_badges WHERE id = $1`
	var badge models.MiniBadge
	if err := r.db.GetContext(ctx, &badge, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get mini badge: %w", err)
	}
	return &badge, nil
}

// GetSkill returns one skill, or (nil, nil) when absent.
func (r *CatalogRepository) GetSkill(ctx context.Context, id string) (*models.Skill, error) {
	const query = `SELECT id, program_id, title, description, active, position, created_at, updated_at FROM skills WHERE id = $1`
	var skill models.Skill
	if err := r.db.GetContext(ctx, &skill, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get skill: %w", err)
	}
	return &skill, nil
}

// GetProgram returns one program, or (nil, nil) when absent.
func (r *CatalogRepository) GetProgram(ctx context.Context, id string) (*models.Program, error) {
	const query = `SELECT id, title, description, active, position, created_at, updated_at FROM programs WHERE id = $1`
	var program models.Program
	if err := r.db.GetContext(ctx, &program, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get program: %w", err)
	}
	return &program, nil
}

// CountActiveMiniBadges is the completion denominator for one skill.
func (r *CatalogRepository) CountActiveMiniBadges(ctx context.Context, skillID string) (int, error) {
	const query = `SELECT COUNT(id) FROM mini_badges WHERE skill_id = $1 AND active = TRUE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, skillID); err != nil {
		return 0, fmt.Errorf("count active mini badges: %w", err)
	}
	return count, nil
}

// CountActiveSkills is the completion denominator for one program.
func (r *CatalogRepository) CountActiveSkills(ctx context.Context, programID string) (int, error) {
	const query = `SELECT COUNT(id) FROM skills WHERE program_id = $1 AND active = TRUE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, programID); err != nil {
		return 0, fmt.Errorf("count active skills: %w", err)
	}
	return count, nil
}

// ListActiveMiniBadges returns a skill's active mini-badges in display order.
func (r *CatalogRepository) ListActiveMiniBadges(ctx context.Context, skillID string) ([]models.MiniBadge, error) {
	const query = `SELECT id, skill_id, title, description, active, position, created_at, updated_at
FROM mini_badges WHERE skill_id = $1 AND active = TRUE ORDER BY position ASC`
	var badges []models.MiniBadge
	if err := r.db.SelectContext(ctx, &badges, query, skillID); err != nil {
		return nil, fmt.Errorf("list active mini badges: %w", err)
	}
	return badges, nil
}

// ListActiveSkills returns a program's active skills in display order.
func (r *CatalogRepository) ListActiveSkills(ctx context.Context, programID string) ([]models.Skill, error) {
	const query = `SELECT id, program_id, title, description, active, position, created_at, updated_at
FROM skills WHERE program_id = $1 AND active = TRUE ORDER BY position ASC`
	var skills []models.Skill
	if err := r.db.SelectContext(ctx, &skills, query, programID); err != nil {
		return nil, fmt.Errorf("list active skills: %w", err)
	}
	return skills, nil
}

// ListPrograms returns the full program catalog in display order.
func (r *CatalogRepository) ListPrograms(ctx context.Context) ([]models.Program, error) {
	const query = `SELECT id, title, description, active, position, created_at, updated_at FROM programs ORDER BY position ASC`
	var programs []models.Program
	if err := r.db.SelectContext(ctx, &programs, query); err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	return programs, nil
}

// ListRequiredActiveCapstones returns the capstones that gate program
// completion. Inactive or optional capstones never gate.
func (r *CatalogRepository) ListRequiredActiveCapstones(ctx context.Context, programID string) ([]models.Capstone, error) {
	const query = `SELECT id, program_id, title, description, required, active, created_at, updated_at
FROM capstones WHERE program_id = $1 AND required = TRUE AND active = TRUE`
	var capstones []models.Capstone
	if err := r.db.SelectContext(ctx, &capstones, query, programID); err != nil {
		return nil, fmt.Errorf("list required capstones: %w", err)
	}
	return capstones, nil
}
