package repo

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permitline/internal/db"
	"permitline/internal/domain"
)

func newMock(t *testing.T, dialect db.Dialect) (Repo, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return Repo{DB: conn, Dialect: dialect}, mock
}

func TestDecidePermitPrecondition(t *testing.T) {
	r, mock := newMock(t, db.SQLite)
	update := regexp.QuoteMeta(`UPDATE permits SET state=?`)
	mock.ExpectExec(update).
		WithArgs(domain.PermitApproved, "sup-1", nil, "2024-01-01T08:00:00Z", "2024-01-01T08:00:00Z", "p1", domain.PermitPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, r.DecidePermit(ctx, nil, "p1", domain.PermitApproved, "sup-1", nil, "2024-01-01T08:00:00Z"))
	err := r.DecidePermit(ctx, nil, "p1", domain.PermitRejected, "sup-1", nil, "2024-01-01T08:01:00Z")
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUniqueViolationMapsToConflict(t *testing.T) {
	r, mock := newMock(t, db.SQLite)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO permits`)).
		WillReturnError(errors.New("UNIQUE constraint failed: permits.job_id, permits.permit_type_id"))

	err := r.InsertPermit(context.Background(), nil, domain.Permit{ID: "p2", JobID: "j1", PermitTypeID: "pt", State: domain.PermitPending})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobsRebindsForPostgres(t *testing.T) {
	r, mock := newMock(t, db.Postgres)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE j.area_id=$1 AND j.state=$2 ORDER BY j.started_at ASC`)).
		WithArgs("area-1", domain.JobPendingApproval).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	jobs, err := r.ListJobs(context.Background(), JobFilters{AreaID: "area-1", State: domain.JobPendingApproval, OldestStartFirst: true})
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	r, mock := newMock(t, db.SQLite)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE j.id=?`)).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := r.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHashAPIKey(t *testing.T) {
	assert.Equal(t, HashAPIKey("abc"), HashAPIKey(" abc\n"))
	assert.NotEqual(t, HashAPIKey("abc"), HashAPIKey("abd"))
	assert.Len(t, HashAPIKey("abc"), 64)
}
