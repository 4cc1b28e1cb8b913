package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestMessageStatus_Advances(t *testing.T) {
	assert.True(t, StatusSent.Advances(StatusDelivered))
	assert.True(t, StatusSent.Advances(StatusSeen))
	assert.True(t, StatusDelivered.Advances(StatusSeen))
	assert.False(t, StatusSeen.Advances(StatusDelivered))
	assert.False(t, StatusDelivered.Advances(StatusDelivered))
	assert.False(t, StatusSent.Advances(MessageStatus("read")))
}

func TestRoom_Counterpart(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	direct := &Room{RoomType: RoomTypeDirect, Members: []Member{{UserID: a}, {UserID: b}}}

	other, ok := direct.Counterpart(a)
	assert.True(t, ok)
	assert.Equal(t, b, other)

	group := &Room{RoomType: RoomTypeGroup, Members: direct.Members}
	_, ok = group.Counterpart(a)
	assert.False(t, ok)
	assert.Equal(t, []uuid.UUID{a, b}, group.MemberIDs())
	assert.Nil(t, group.Member(uuid.New()))
}

func TestMessage_Expiry(t *testing.T) {
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	lifetime := 30
	m := &Message{CreatedAt: created, LifeTime: &lifetime}

	at, ok := m.ExpiresAt()
	assert.True(t, ok)
	assert.Equal(t, created.Add(30*time.Second), at)
	assert.False(t, m.Expired(created.Add(29*time.Second)))
	assert.True(t, m.Expired(created.Add(30*time.Second)))

	permanent := &Message{CreatedAt: created}
	assert.False(t, permanent.Expired(created.Add(24*time.Hour)))
}

func TestMessage_Reactions(t *testing.T) {
	u := uuid.New()
	m := &Message{}
	m.UpsertReaction(Reaction{UserID: u, ReactionType: ReactionLike})
	m.UpsertReaction(Reaction{UserID: u, ReactionType: ReactionLove})
	assert.Equal(t, []Reaction{{UserID: u, ReactionType: ReactionLove}}, m.Reactions)

	c := m.Clone()
	c.Reactions[0].ReactionType = ReactionSad
	assert.Equal(t, ReactionLove, m.Reactions[0].ReactionType)

	assert.True(t, m.RemoveReaction(u))
	assert.False(t, m.RemoveReaction(u))
	assert.Empty(t, m.Reactions)
}

func TestIsBusiness(t *testing.T) {
	assert.True(t, IsBusiness(fmt.Errorf("room: %w", ErrForbidden)))
	assert.False(t, IsBusiness(fmt.Errorf("dial tcp: refused")))
	assert.True(t, DurableEventType(EventTypeMessageCreated))
	assert.False(t, NewEvent(EventTypeMessageExpired, uuid.New(), uuid.Nil, nil).Durable())
}
