package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/badge-platform-api/internal/models"
)

func newRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func TestRequestRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO badge_requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := &models.BadgeRequest{UserID: "user-1", MiniBadgeID: "badge-1"}
	err := repo.Create(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, models.RequestPending, req.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCreateDuplicatePending(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO badge_requests")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_pending_request"})

	req := &models.BadgeRequest{UserID: "user-1", MiniBadgeID: "badge-1"}
	err := repo.Create(context.Background(), req)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM badge_requests WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req, err := repo.FindByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, req)
}

func TestRequestRepositoryHasPendingForBadge(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("AND mini_badge_id = $2 AND status = 'PENDING'")).
		WithArgs("user-1", "badge-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.HasPendingForBadge(context.Background(), "user-1", "badge-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRequestRepositoryListPendingOldestFirst(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(id) FROM badge_requests WHERE status = 'PENDING'")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	rows := sqlmock.NewRows([]string{"id", "user_id", "mini_badge_id", "status", "submitted_at", "decided_at", "decided_by", "decision_reason", "created_at", "updated_at"}).
		AddRow("req-1", "user-1", "badge-1", "PENDING", now.Add(-2*time.Hour), nil, nil, nil, now.Add(-2*time.Hour), now.Add(-2*time.Hour)).
		AddRow("req-2", "user-2", "badge-2", "PENDING", now.Add(-time.Hour), nil, nil, nil, now.Add(-time.Hour), now.Add(-time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY submitted_at ASC LIMIT $1 OFFSET $2")).
		WithArgs(20, 0).
		WillReturnRows(rows)

	requests, total, err := repo.ListPending(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, requests, 2)
	assert.Equal(t, "req-1", requests[0].ID)
	assert.True(t, requests[0].SubmittedAt.Before(requests[1].SubmittedAt))
}

func TestRequestRepositoryListFiltersByStatus(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(id) FROM badge_requests WHERE 1=1 AND user_id = $1 AND status = $2")).
		WithArgs("user-1", "APPROVED").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	reason := "good work"
	rows := sqlmock.NewRows([]string{"id", "user_id", "mini_badge_id", "status", "submitted_at", "decided_at", "decided_by", "decision_reason", "created_at", "updated_at"}).
		AddRow("req-1", "user-1", "badge-1", "APPROVED", now.Add(-time.Hour), now, "reviewer-1", reason, now.Add(-time.Hour), now)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY submitted_at DESC LIMIT $3 OFFSET $4")).
		WithArgs("user-1", "APPROVED", 10, 0).
		WillReturnRows(rows)

	status := models.RequestApproved
	requests, total, err := repo.List(context.Background(), models.RequestFilter{UserID: "user-1", Status: &status, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, requests, 1)
	require.NotNil(t, requests[0].DecisionReason)
	assert.Equal(t, reason, *requests[0].DecisionReason)
}

func TestRequestRepositoryMarkDecided(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $5 AND status = 'PENDING'")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	decided, err := repo.MarkDecided(context.Background(), "req-1", models.RequestApproved, "reviewer-1", nil)
	require.NoError(t, err)
	assert.True(t, decided)
}

func TestRequestRepositoryMarkDecidedAlreadyTerminal(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $5 AND status = 'PENDING'")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	reason := "insufficient evidence"
	decided, err := repo.MarkDecided(context.Background(), "req-1", models.RequestRejected, "reviewer-1", &reason)
	require.NoError(t, err)
	assert.False(t, decided)
}
