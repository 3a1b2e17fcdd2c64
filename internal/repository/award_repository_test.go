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

func newAwardRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
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

func TestAwardRepositoryInsert(t *testing.T) {
	db, mock, cleanup := newAwardRepoMock(t)
	defer cleanup()
	repo := NewAwardRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO awards")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	award := &models.Award{
		UserID: "user-1",
		Target: models.MiniBadgeTarget("badge-1"),
		Actor:  models.SystemActor(),
	}
	err := repo.Insert(context.Background(), award)
	require.NoError(t, err)
	assert.NotEmpty(t, award.ID)
	assert.False(t, award.AwardedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAwardRepositoryInsertDuplicate(t *testing.T) {
	db, mock, cleanup := newAwardRepoMock(t)
	defer cleanup()
	repo := NewAwardRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO awards")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_user_mini_badge"})

	award := &models.Award{
		UserID: "user-1",
		Target: models.MiniBadgeTarget("badge-1"),
	}
	err := repo.Insert(context.Background(), award)
	assert.ErrorIs(t, err, ErrDuplicateAward)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAwardRepositoryInsertInvalidTarget(t *testing.T) {
	db, _, cleanup := newAwardRepoMock(t)
	defer cleanup()
	repo := NewAwardRepository(db)

	err := repo.Insert(context.Background(), &models.Award{UserID: "user-1"})
	assert.Error(t, err)
}

func TestAwardRepositoryListByUser(t *testing.T) {
	db, mock, cleanup := newAwardRepoMock(t)
	defer cleanup()
	repo := NewAwardRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "user_id", "kind", "mini_badge_id", "skill_id", "program_id", "request_id", "awarded_by", "awarded_at", "note", "created_at"}).
		AddRow("award-2", "user-1", "SKILL", nil, "skill-1", nil, nil, nil, now, nil, now).
		AddRow("award-1", "user-1", "MINI_BADGE", "badge-1", nil, nil, "req-1", "reviewer-1", now.Add(-time.Hour), nil, now.Add(-time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("FROM awards WHERE user_id = $1 ORDER BY awarded_at DESC")).
		WithArgs("user-1").
		WillReturnRows(rows)

	awards, err := repo.ListByUser(context.Background(), "user-1", nil)
	require.NoError(t, err)
	require.Len(t, awards, 2)

	assert.Equal(t, models.SkillTarget("skill-1"), awards[0].Target)
	assert.True(t, awards[0].Automatic())

	assert.Equal(t, models.MiniBadgeTarget("badge-1"), awards[1].Target)
	grantor, ok := awards[1].Actor.UserID()
	require.True(t, ok)
	assert.Equal(t, "reviewer-1", grantor)
	require.NotNil(t, awards[1].RequestID)
	assert.Equal(t, "req-1", *awards[1].RequestID)
}

func TestAwardRepositoryListByUserKindFilter(t *testing.T) {
	db, mock, cleanup := newAwardRepoMock(t)
	defer cleanup()
	repo := NewAwardRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "user_id", "kind", "mini_badge_id", "skill_id", "program_id", "request_id", "awarded_by", "awarded_at", "note", "created_at"}).
		AddRow("award-3", "user-1", "PROGRAM", nil, nil, "program-1", nil, nil, now, nil, now)

	mock.ExpectQuery(regexp.QuoteMeta("AND kind = $2")).
		WithArgs("user-1", "PROGRAM").
		WillReturnRows(rows)

	kind := models.AwardProgram
	awards, err := repo.ListByUser(context.Background(), "user-1", &kind)
	require.NoError(t, err)
	require.Len(t, awards, 1)
	assert.Equal(t, models.ProgramTarget("program-1"), awards[0].Target)
}

func TestAwardRepositoryHasAward(t *testing.T) {
	db, mock, cleanup := newAwardRepoMock(t)
	defer cleanup()
	repo := NewAwardRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM awards WHERE user_id = $1 AND skill_id = $2)")).
		WithArgs("user-1", "skill-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.HasAward(context.Background(), "user-1", models.SkillTarget("skill-1"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAwardRepositoryCountEarnedMiniBadges(t *testing.T) {
	db, mock, cleanup := newAwardRepoMock(t)
	defer cleanup()
	repo := NewAwardRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("JOIN mini_badges mb ON mb.id = a.mini_badge_id")).
		WithArgs("user-1", "skill-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountEarnedMiniBadges(context.Background(), "user-1", "skill-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestAwardRepositoryCountCapstoneCompletions(t *testing.T) {
	db, mock, cleanup := newAwardRepoMock(t)
	defer cleanup()
	repo := NewAwardRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("AND mini_badge_id = ANY($2)")).
		WithArgs("user-1", pq.Array([]string{"cap-1", "cap-2"})).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	count, err := repo.CountCapstoneCompletions(context.Background(), "user-1", []string{"cap-1", "cap-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAwardRepositoryCountCapstoneCompletionsEmpty(t *testing.T) {
	db, _, cleanup := newAwardRepoMock(t)
	defer cleanup()
	repo := NewAwardRepository(db)

	count, err := repo.CountCapstoneCompletions(context.Background(), "user-1", nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}
