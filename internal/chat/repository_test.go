package chat

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
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

var chatColumns = []string{"id", "name", "is_group", "admin_id", "latest_message_id", "created_at", "updated_at"}

func TestRepository_GetChatNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM chats WHERE id = $1")).
		WithArgs(4).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetChat(context.Background(), 4)
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestRepository_GetChatHydratesParticipantsAndLatest(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM chats WHERE id = $1")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(chatColumns).AddRow(1, "team", true, 2, 30, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM participants p")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "name", "status", "image"}).
			AddRow(2, "alice", "Alice", "", "").
			AddRow(3, "bob", "Bob", "", ""))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE m.id = $1")).
		WithArgs(30).
		WillReturnRows(sqlmock.NewRows([]string{"id", "chat_id", "sender_id", "content", "created_at", "username", "name", "image"}).
			AddRow(30, 1, 3, "hey", now, "bob", "Bob", ""))

	c, err := repo.GetChat(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, c.ParticipantIDs())
	require.NotNil(t, c.LatestMessage)
	assert.Equal(t, "bob", c.LatestMessage.Sender.Username)
	assert.Equal(t, 3, c.LatestMessage.Sender.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteMessageRecomputesLatest(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM messages")).
		WithArgs(9, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE chats SET latest_message_id = (")).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.DeleteMessage(context.Background(), 1, 9))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteMissingMessageRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM messages")).
		WithArgs(9, 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, repo.DeleteMessage(context.Background(), 1, 9), ErrMessageNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_RemoveParticipantNotMember(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM participants")).
		WithArgs(1, 5).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.RemoveParticipant(context.Background(), 1, 5), ErrNotParticipant)
}
