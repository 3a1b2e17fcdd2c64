package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/badge-platform-api/internal/models"
)

// AuditRepository stores and queries the append-only audit trail.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new instance of AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record stores an audit log entry.
func (r *AuditRepository) Record(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, actor_id, action, entity, entity_id, context, ip_address, user_agent, created_at)
VALUES (:id, :actor_id, :action, :entity, :entity_id, :context, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// List returns audit entries matching the filter, newest first, with the
// total count before pagination.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	idx := 1
	if filter.Entity != "" {
		where += fmt.Sprintf(` AND entity = $%d`, idx)
		args = append(args, filter.Entity)
		idx++
	}
	if filter.EntityID != "" {
		where += fmt.Sprintf(` AND entity_id = $%d`, idx)
		args = append(args, filter.EntityID)
		idx++
	}
	if filter.ActorID != "" {
		where += fmt.Sprintf(` AND actor_id = $%d`, idx)
		args = append(args, filter.ActorID)
		idx++
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(id) FROM audit_logs`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, actor_id, action, entity, entity_id, context, ip_address, user_agent, created_at FROM audit_logs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, idx, idx+1)
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, total, nil
}
