package repositories

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/faeln1/membersync/internal/domain/member"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockMemberRepo(t *testing.T) (MemberRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLMemberRepo(db), mock
}

func TestPostgresUpsertMapsForeignKeyViolation(t *testing.T) {
	repo, mock := newMockMemberRepo(t)
	mock.ExpectExec(`INSERT INTO members`).WillReturnError(&pq.Error{Code: "23503"})

	_, err := repo.Upsert(context.Background(), member.UpsertInput{Member: sampleMember("biz_x", "user_1", "mem_1", 1000, baseTime)})
	assert.ErrorIs(t, err, ErrTenantMissing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertMapsUniqueViolation(t *testing.T) {
	repo, mock := newMockMemberRepo(t)
	mock.ExpectExec(`INSERT INTO members`).WillReturnError(&pq.Error{Code: "23505"})

	_, err := repo.Upsert(context.Background(), member.UpsertInput{Member: sampleMember("biz_1", "user_2", "mem_1", 1000, baseTime)})
	assert.ErrorIs(t, err, ErrMemberConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertUsesMembershipConflictTarget(t *testing.T) {
	repo, mock := newMockMemberRepo(t)
	mock.ExpectExec(`ON CONFLICT \(membership_id\)`).WillReturnResult(sqlmock.NewResult(0, 1))

	written, err := repo.Upsert(context.Background(), member.UpsertInput{
		Member: sampleMember("biz_1", "user_1", "mem_1", 1000, baseTime),
		Target: member.ConflictOnMembership,
	})
	require.NoError(t, err)
	assert.True(t, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertReportsSkippedStaleWrite(t *testing.T) {
	repo, mock := newMockMemberRepo(t)
	mock.ExpectExec(`ON CONFLICT \(tenant_id, member_id\)`).WillReturnResult(sqlmock.NewResult(0, 0))

	written, err := repo.Upsert(context.Background(), member.UpsertInput{Member: sampleMember("biz_1", "user_1", "", 1000, baseTime)})
	require.NoError(t, err)
	assert.False(t, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindByMemberNotFound(t *testing.T) {
	repo, mock := newMockMemberRepo(t)
	mock.ExpectQuery(`FROM members WHERE tenant_id = \$1 AND member_id = \$2`).
		WithArgs("biz_1", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))

	_, err := repo.FindByMember(context.Background(), "biz_1", "ghost")
	assert.ErrorIs(t, err, ErrMemberNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeactivateMissingMember(t *testing.T) {
	repo, mock := newMockMemberRepo(t)
	mock.ExpectExec(`UPDATE members`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM members`).
		WithArgs("biz_1", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}))

	_, err := repo.Deactivate(context.Background(), member.DeactivateInput{TenantID: "biz_1", MemberID: "ghost", EventMs: 1000, At: baseTime})
	assert.ErrorIs(t, err, ErrMemberNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeactivateStaleEvent(t *testing.T) {
	repo, mock := newMockMemberRepo(t)
	mock.ExpectExec(`UPDATE members`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM members`).
		WithArgs("biz_1", "user_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))

	flipped, err := repo.Deactivate(context.Background(), member.DeactivateInput{TenantID: "biz_1", MemberID: "user_1", EventMs: 1000, At: baseTime})
	require.NoError(t, err)
	assert.False(t, flipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStats(t *testing.T) {
	repo, mock := newMockMemberRepo(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs("biz_1").
		WillReturnRows(sqlmock.NewRows([]string{"total", "active", "inactive"}).AddRow(3, 2, 1))

	stats, err := repo.Stats(context.Background(), "biz_1")
	require.NoError(t, err)
	assert.Equal(t, member.Stats{TenantID: "biz_1", Total: 3, Active: 2, Inactive: 1}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}
