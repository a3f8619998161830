package user

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock
}

func TestRepository_CreateUserMapsUniqueViolation(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs("alice", "hash", "Alice", "", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	u, err := repo.CreateUser(context.Background(), &User{Username: "alice", Password: "hash", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, 7, u.ID)

	_, err = repo.CreateUser(context.Background(), &User{Username: "alice", Password: "hash"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetUserByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs(3).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetUserByID(context.Background(), 3)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRepository_SearchUsersExcludesCaller(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("ILIKE $1")).
		WithArgs("%al%", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "name", "status", "image"}).
			AddRow(2, "alan", "Alan", "", "").
			AddRow(3, "sally", "Sally", "around", ""))

	users, err := repo.SearchUsers(context.Background(), "al", 1)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "sally", users[1].Username)
}

func TestRepository_BlockAndUnblockReportNoops(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO blocked_users")).
		WithArgs(1, 2).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM blocked_users")).
		WithArgs(1, 2).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs(2, 1).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	assert.ErrorIs(t, repo.Block(context.Background(), 1, 2), ErrAlreadyBlocked)
	assert.ErrorIs(t, repo.Unblock(context.Background(), 1, 2), ErrNotBlocked)

	blocked, err := repo.IsBlocked(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}
