package repository

import (
	"context"
	"testing"
	"time"

	"roomchat/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRoom(t *testing.T, s *MemoryStore, roomType domain.RoomType, members ...uuid.UUID) *domain.Room {
	t.Helper()
	room := &domain.Room{ID: uuid.New(), RoomType: roomType, CreatedAt: time.Now()}
	for _, id := range members {
		room.Members = append(room.Members, domain.Member{UserID: id})
	}
	require.NoError(t, s.CreateRoom(context.Background(), room))
	return room
}

func seedMessage(t *testing.T, s *MemoryStore, roomID, sender uuid.UUID, createdAt time.Time, lifeTime *int) *domain.Message {
	t.Helper()
	msg := &domain.Message{
		ID:        uuid.New(),
		RoomID:    roomID,
		SenderID:  sender,
		Text:      "hi",
		Status:    domain.StatusSent,
		LifeTime:  lifeTime,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, s.CreateMessage(context.Background(), msg))
	return msg
}

func TestMemoryStore_BlockIsDirectional(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, s.Block(ctx, a, b))
	assert.ErrorIs(t, s.Block(ctx, a, b), domain.ErrAlreadyBlocked)

	blocked, err := s.IsBlocked(ctx, b, a)
	require.NoError(t, err)
	assert.True(t, blocked)

	_, err = s.GetRelationship(ctx, b, a)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	blockedBy, err := s.BlockedBy(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b}, blockedBy)

	blockers, err := s.BlockersOf(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a}, blockers)
}

func TestMemoryStore_UnblockKeepsRoomHistory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, b := uuid.New(), uuid.New()
	room := seedRoom(t, s, domain.RoomTypeDirect, a, b)

	require.NoError(t, s.LinkRoom(ctx, a, b, room.ID))
	require.NoError(t, s.Block(ctx, a, b))

	rel, err := s.GetRelationship(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, domain.RelationshipBlock, rel.RelationshipType)
	require.NotNil(t, rel.RoomID)
	assert.Equal(t, room.ID, *rel.RoomID)

	require.NoError(t, s.Unblock(ctx, a, b))
	rel, err = s.GetRelationship(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, domain.RelationshipFriend, rel.RelationshipType)

	assert.ErrorIs(t, s.Unblock(ctx, a, b), domain.ErrNotBlocked)
}

func TestMemoryStore_UnblockWithoutRoomDeletes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, b := uuid.New(), uuid.New()

	assert.ErrorIs(t, s.Unblock(ctx, a, b), domain.ErrNotBlocked)
	require.NoError(t, s.Block(ctx, a, b))
	require.NoError(t, s.Unblock(ctx, a, b))

	_, err := s.GetRelationship(ctx, a, b)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_DeleteRoomCascade(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	room := seedRoom(t, s, domain.RoomTypeDirect, a, b)
	other := seedRoom(t, s, domain.RoomTypeGroup, a, c)

	msg := seedMessage(t, s, room.ID, a, time.Now(), nil)
	kept := seedMessage(t, s, other.ID, a, time.Now(), nil)
	require.NoError(t, s.UpsertReaction(ctx, msg.ID, domain.Reaction{UserID: b, ReactionType: domain.ReactionLike}))
	_, err := s.AdvanceReceipt(ctx, msg.ID, b, domain.StatusDelivered, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.LinkRoom(ctx, a, b, room.ID))
	require.NoError(t, s.LinkRoom(ctx, b, a, room.ID))
	require.NoError(t, s.Block(ctx, b, a))

	require.NoError(t, s.DeleteRoomCascade(ctx, room.ID))

	_, err = s.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	receipts, err := s.Receipts(ctx, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, receipts)

	_, err = s.GetRelationship(ctx, a, b)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rel, err := s.GetRelationship(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, domain.RelationshipBlock, rel.RelationshipType)
	assert.Nil(t, rel.RoomID)

	_, err = s.GetMessage(ctx, kept.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, s.DeleteRoomCascade(ctx, room.ID), domain.ErrNotFound)
}

func TestMemoryStore_ExpiredMessagesAreFiltered(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := uuid.New()
	room := seedRoom(t, s, domain.RoomTypeGroup, a)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ttl := 10

	durable := seedMessage(t, s, room.ID, a, base, nil)
	ephemeral := seedMessage(t, s, room.ID, a, base.Add(time.Second), &ttl)

	msgs, err := s.ListMessages(ctx, room.ID, base.Add(5*time.Second))
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	last, err := s.LastMessage(ctx, room.ID, base.Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, ephemeral.ID, last.ID)

	later := base.Add(11 * time.Second)
	msgs, err = s.ListMessages(ctx, room.ID, later)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, durable.ID, msgs[0].ID)

	last, err = s.LastMessage(ctx, room.ID, later)
	require.NoError(t, err)
	assert.Equal(t, durable.ID, last.ID)

	expired, err := s.ExpiredMessages(ctx, later, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, ephemeral.ID, expired[0].ID)

	deleted, err := s.DeleteMessage(ctx, ephemeral.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteMessage(ctx, ephemeral.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryStore_AdvanceStatusIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := uuid.New()
	room := seedRoom(t, s, domain.RoomTypeDirect, a, uuid.New())
	msg := seedMessage(t, s, room.ID, a, time.Now(), nil)
	at := time.Now()

	changed, err := s.AdvanceStatus(ctx, msg.ID, domain.StatusSeen, at)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.AdvanceStatus(ctx, msg.ID, domain.StatusDelivered, at.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSeen, got.Status)
	require.NotNil(t, got.ReadAt)
	assert.True(t, got.ReadAt.Equal(at))

	_, err = s.AdvanceStatus(ctx, uuid.New(), domain.StatusSeen, at)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_Reactions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, b := uuid.New(), uuid.New()
	room := seedRoom(t, s, domain.RoomTypeDirect, a, b)
	msg := seedMessage(t, s, room.ID, a, time.Now(), nil)

	require.NoError(t, s.UpsertReaction(ctx, msg.ID, domain.Reaction{UserID: b, ReactionType: domain.ReactionLike}))
	require.NoError(t, s.UpsertReaction(ctx, msg.ID, domain.Reaction{UserID: b, ReactionType: domain.ReactionLove}))

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, domain.ReactionLove, got.Reactions[0].ReactionType)

	removed, err := s.RemoveReaction(ctx, msg.ID, b)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveReaction(ctx, msg.ID, b)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMemoryStore_Notifications(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sender, r1, r2 := uuid.New(), uuid.New(), uuid.New()

	first := &domain.Notification{
		ID:               uuid.New(),
		SenderID:         sender,
		Receivers:        []domain.NotificationReceiver{{UserID: r1}},
		NotificationType: domain.NotificationPrivate,
		EventType:        domain.EventTypeMessageCreated,
		CreatedAt:        time.Now(),
	}
	second := &domain.Notification{
		ID:               uuid.New(),
		SenderID:         sender,
		Receivers:        []domain.NotificationReceiver{{UserID: r1}, {UserID: r2}},
		NotificationType: domain.NotificationRoom,
		EventType:        domain.EventTypeMessagePinned,
		CreatedAt:        time.Now(),
	}
	require.NoError(t, s.CreateNotification(ctx, first))
	require.NoError(t, s.CreateNotification(ctx, second))

	list, err := s.NotificationsFor(ctx, r1, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	latest, err := s.LatestNotification(ctx, sender, r1, domain.NotificationPrivate)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)

	require.NoError(t, s.MarkNotificationRead(ctx, first.ID, r1))
	unread, err := s.NotificationsFor(ctx, r1, true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, second.ID, unread[0].ID)

	assert.ErrorIs(t, s.MarkNotificationRead(ctx, first.ID, r2), domain.ErrNotFound)
}

func TestMemoryStore_Users(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	alice := &domain.User{ID: uuid.New(), UserName: "alice"}
	bob := &domain.User{ID: uuid.New(), UserName: "bob"}
	require.NoError(t, s.UpsertUser(ctx, alice))
	require.NoError(t, s.UpsertUser(ctx, bob))

	clash := &domain.User{ID: uuid.New(), UserName: "alice"}
	assert.ErrorIs(t, s.UpsertUser(ctx, clash), domain.ErrConflict)

	users, err := s.ListUsers(ctx, []uuid.UUID{alice.ID})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].UserName)

	_, err = s.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
