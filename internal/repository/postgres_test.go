package repository

import (
	"context"
	"testing"
	"time"

	"roomchat/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_Block(t *testing.T) {
	s, mock := newMockStore(t)
	a, b := uuid.New(), uuid.New()

	mock.ExpectExec("INSERT INTO relationships").
		WithArgs(sqlmock.AnyArg(), a, b).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO relationships").
		WithArgs(sqlmock.AnyArg(), a, b).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Block(context.Background(), a, b))
	assert.ErrorIs(t, s.Block(context.Background(), a, b), domain.ErrAlreadyBlocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UnblockWithRoomBecomesFriend(t *testing.T) {
	s, mock := newMockStore(t)
	a, b, room := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT relationship_type, room_id").
		WithArgs(a, b).
		WillReturnRows(sqlmock.NewRows([]string{"relationship_type", "room_id"}).AddRow("block", room.String()))
	mock.ExpectExec("UPDATE relationships SET relationship_type = 'friend'").
		WithArgs(a, b).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Unblock(context.Background(), a, b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UnblockWithoutRoomDeletes(t *testing.T) {
	s, mock := newMockStore(t)
	a, b := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT relationship_type, room_id").
		WithArgs(a, b).
		WillReturnRows(sqlmock.NewRows([]string{"relationship_type", "room_id"}).AddRow("block", nil))
	mock.ExpectExec("DELETE FROM relationships").
		WithArgs(a, b).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Unblock(context.Background(), a, b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UnblockNotBlocked(t *testing.T) {
	s, mock := newMockStore(t)
	a, b := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT relationship_type, room_id").
		WithArgs(a, b).
		WillReturnRows(sqlmock.NewRows([]string{"relationship_type", "room_id"}).AddRow("friend", nil))
	mock.ExpectRollback()

	assert.ErrorIs(t, s.Unblock(context.Background(), a, b), domain.ErrNotBlocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteRoomCascade(t *testing.T) {
	s, mock := newMockStore(t)
	room := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM rooms").
		WithArgs(room).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(room.String()))
	for _, stmt := range []string{
		"DELETE FROM message_reactions",
		"DELETE FROM message_receipts",
		"DELETE FROM messages WHERE room_id",
		"DELETE FROM relationships WHERE room_id",
		"UPDATE relationships SET room_id = NULL",
		"DELETE FROM room_members",
		"DELETE FROM rooms",
	} {
		mock.ExpectExec(stmt).WithArgs(room).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	require.NoError(t, s.DeleteRoomCascade(context.Background(), room))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteRoomCascadeMissing(t *testing.T) {
	s, mock := newMockStore(t)
	room := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM rooms").
		WithArgs(room).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	assert.ErrorIs(t, s.DeleteRoomCascade(context.Background(), room), domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AdvanceStatus(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	at := time.Now()

	mock.ExpectExec("UPDATE messages").
		WithArgs(id, "seen", at, sqlmock.AnyArg(), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := s.AdvanceStatus(context.Background(), id, domain.StatusSeen, at)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AdvanceStatusMissingMessage(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE messages").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, room_id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.AdvanceStatus(context.Background(), id, domain.StatusDelivered, time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertUserConflict(t *testing.T) {
	s, mock := newMockStore(t)
	user := &domain.User{ID: uuid.New(), UserName: "taken"}

	mock.ExpectQuery("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})

	assert.ErrorIs(t, s.UpsertUser(context.Background(), user), domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRoom(t *testing.T) {
	s, mock := newMockStore(t)
	room, a, b := uuid.New(), uuid.New(), uuid.New()
	created := time.Now()

	mock.ExpectQuery("SELECT id, name, room_type, created_at FROM rooms").
		WithArgs(room).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "room_type", "created_at"}).
			AddRow(room.String(), "", "direct", created))
	mock.ExpectQuery("SELECT room_id, user_id, nick_name").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"room_id", "user_id", "nick_name"}).
			AddRow(room.String(), a.String(), nil).
			AddRow(room.String(), b.String(), "bee"))

	got, err := s.GetRoom(context.Background(), room)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomTypeDirect, got.RoomType)
	require.Len(t, got.Members, 2)
	assert.Nil(t, got.Members[0].NickName)
	require.NotNil(t, got.Members[1].NickName)
	assert.Equal(t, "bee", *got.Members[1].NickName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkNotificationReadNotReceiver(t *testing.T) {
	s, mock := newMockStore(t)
	id, user := uuid.New(), uuid.New()

	mock.ExpectExec("UPDATE notification_receivers").
		WithArgs(id, user).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.MarkNotificationRead(context.Background(), id, user), domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
