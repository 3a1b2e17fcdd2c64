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

// ErrDuplicateRequest is returned when an insert collides with an existing
// pending request for the same (user, mini-badge) pair. The partial unique
// index is the arbiter, so two concurrent submissions can never both land.
var ErrDuplicateRequest = errors.New("pending request already exists for user and mini-badge")

const requestColumns = `id, user_id, mini_badge_id, status, submitted_at, decided_at, decided_by, decision_reason, created_at, updated_at`

// RequestRepository handles badge request persistence.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository creates a new instance of RequestRepository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new pending request. Returns ErrDuplicateRequest when the
// user already has an open claim for the mini-badge.
func (r *RequestRepository) Create(ctx context.Context, req *models.BadgeRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = now
	}
	req.Status = models.RequestPending
	req.CreatedAt = now
	req.UpdatedAt = now

	const query = `INSERT INTO badge_requests (id, user_id, mini_badge_id, status, submitted_at, created_at, updated_at)
VALUES (:id, :user_id, :mini_badge_id, :status, :submitted_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// FindByID returns one request, or (nil, nil) when absent.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*models.BadgeRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM badge_requests WHERE id = $1`, requestColumns)
	var req models.BadgeRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find request: %w", err)
	}
	return &req, nil
}

// HasPendingForBadge reports whether the user already has an undecided request
// for the mini-badge. One open claim per badge at a time.
func (r *RequestRepository) HasPendingForBadge(ctx context.Context, userID, miniBadgeID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM badge_requests WHERE user_id = $1 AND mini_badge_id = $2 AND status = 'PENDING')`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, userID, miniBadgeID); err != nil {
		return false, fmt.Errorf("check pending request: %w", err)
	}
	return exists, nil
}

// List returns requests matching the filter, newest first, with the total
// count before pagination.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.BadgeRequest, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	idx := 1
	if filter.UserID != "" {
		where += fmt.Sprintf(` AND user_id = $%d`, idx)
		args = append(args, filter.UserID)
		idx++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, string(*filter.Status))
		idx++
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(id) FROM badge_requests`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM badge_requests%s ORDER BY submitted_at DESC LIMIT $%d OFFSET $%d`, requestColumns, where, idx, idx+1)
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	var requests []models.BadgeRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	return requests, total, nil
}

// ListPending returns the review queue, oldest submission first.
func (r *RequestRepository) ListPending(ctx context.Context, page, pageSize int) ([]models.BadgeRequest, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(id) FROM badge_requests WHERE status = 'PENDING'`); err != nil {
		return nil, 0, fmt.Errorf("count pending requests: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM badge_requests WHERE status = 'PENDING' ORDER BY submitted_at ASC LIMIT $1 OFFSET $2`, requestColumns)
	var requests []models.BadgeRequest
	if err := r.db.SelectContext(ctx, &requests, query, pageSize, (page-1)*pageSize); err != nil {
		return nil, 0, fmt.Errorf("list pending requests: %w", err)
	}
	return requests, total, nil
}

// MarkDecided transitions a pending request to a terminal status. The status
// guard in the predicate makes the transition atomic: of two concurrent
// reviewers exactly one sees a row updated.
func (r *RequestRepository) MarkDecided(ctx context.Context, id string, status models.RequestStatus, decidedBy string, reason *string) (bool, error) {
	const query = `UPDATE badge_requests
SET status = $1, decided_at = $2, decided_by = $3, decision_reason = $4, updated_at = $2
WHERE id = $5 AND status = 'PENDING'`
	result, err := r.db.ExecContext(ctx, query, string(status), time.Now().UTC(), decidedBy, reason, id)
	if err != nil {
		return false, fmt.Errorf("decide request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decide request: %w", err)
	}
	return affected == 1, nil
}

// CountPending returns the size of the review queue, for the metrics gauge.
func (r *RequestRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(id) FROM badge_requests WHERE status = 'PENDING'`); err != nil {
		return 0, fmt.Errorf("count pending requests: %w", err)
	}
	return count, nil
}
