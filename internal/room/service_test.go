package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"roomchat/internal/domain"
	"roomchat/internal/lockmap"
	"roomchat/internal/relationship"
	"roomchat/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev domain.Event, room *domain.Room) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type env struct {
	store  *repository.MemoryStore
	ledger *relationship.Ledger
	pub    *recordingPublisher
	svc    *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := repository.NewMemoryStore()
	ledger := relationship.NewLedger(store)
	pub := &recordingPublisher{}
	return &env{store: store, ledger: ledger, pub: pub, svc: NewService(store, ledger, pub, lockmap.New())}
}

func (e *env) user(t *testing.T, name string) uuid.UUID {
	t.Helper()
	u := &domain.User{ID: uuid.New(), UserName: name, FullName: name}
	require.NoError(t, e.store.UpsertUser(context.Background(), u))
	return u.ID
}

func (e *env) message(t *testing.T, roomID, sender uuid.UUID, text string, at time.Time) *domain.Message {
	t.Helper()
	m := &domain.Message{ID: uuid.New(), RoomID: roomID, SenderID: sender, Text: text, Status: domain.StatusSent, CreatedAt: at, UpdatedAt: at}
	require.NoError(t, e.store.CreateMessage(context.Background(), m))
	return m
}

func TestOpenDirect_CreatesOnceAndLinksRelationships(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "alice"), e.user(t, "bob")

	r, created, err := e.svc.OpenDirect(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.RoomTypeDirect, r.RoomType)

	again, created, err := e.svc.OpenDirect(ctx, b, a)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, r.ID, again.ID)

	for _, pair := range [][2]uuid.UUID{{a, b}, {b, a}} {
		rel, err := e.store.GetRelationship(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.Equal(t, domain.RelationshipFriend, rel.RelationshipType)
		require.NotNil(t, rel.RoomID)
		assert.Equal(t, r.ID, *rel.RoomID)
	}
}

func TestOpenDirect_Blocked(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "alice"), e.user(t, "bob")
	require.NoError(t, e.ledger.Block(ctx, b, a))

	_, _, err := e.svc.OpenDirect(ctx, a, b)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestRoomsFor_OrderedByLastActivity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b, c := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol")

	ab, _, err := e.svc.OpenDirect(ctx, a, b)
	require.NoError(t, err)
	ac, _, err := e.svc.OpenDirect(ctx, a, c)
	require.NoError(t, err)
	group, err := e.svc.CreateGroup(ctx, a, "trio", []uuid.UUID{b, c})
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	e.message(t, ab.ID, b, "old", base)
	photo := &domain.Message{ID: uuid.New(), RoomID: ac.ID, SenderID: c, Image: "img/cat.png", Status: domain.StatusSent, CreatedAt: base.Add(time.Minute)}
	require.NoError(t, e.store.CreateMessage(ctx, photo))
	e.message(t, group.ID, a, "newest", base.Add(2*time.Minute))

	rooms, err := e.svc.RoomsFor(ctx, a)
	require.NoError(t, err)
	require.Len(t, rooms, 3)
	assert.Equal(t, group.ID, rooms[0].ID)
	assert.Equal(t, ac.ID, rooms[1].ID)
	assert.Equal(t, ab.ID, rooms[2].ID)

	require.NotNil(t, rooms[0].LastMessage)
	assert.Equal(t, "newest", rooms[0].LastMessage.Text)
	assert.Equal(t, "alice", rooms[0].LastMessage.SenderName)
	assert.Equal(t, domain.KindText, rooms[0].LastMessage.Kind)
	assert.Equal(t, domain.KindImage, rooms[1].LastMessage.Kind)
}

func TestGetRoom_MembershipAndBlockedMembers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b, outsider := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "olga")

	r, _, err := e.svc.OpenDirect(ctx, a, b)
	require.NoError(t, err)
	e.message(t, r.ID, b, "first", time.Now().Add(-time.Minute))
	e.message(t, r.ID, a, "second", time.Now())
	require.NoError(t, e.ledger.Block(ctx, a, b))

	detail, err := e.svc.GetRoom(ctx, r.ID, a)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, "first", detail.Messages[0].Text)
	require.Len(t, detail.BlockedMembers, 1)
	assert.Equal(t, b, detail.BlockedMembers[0].ID)

	detail, err = e.svc.GetRoom(ctx, r.ID, b)
	require.NoError(t, err)
	assert.Empty(t, detail.BlockedMembers)

	_, err = e.svc.GetRoom(ctx, r.ID, outsider)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = e.svc.GetRoom(ctx, uuid.New(), a)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetNickname(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b, outsider := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "olga")
	r, _, err := e.svc.OpenDirect(ctx, a, b)
	require.NoError(t, err)

	require.NoError(t, e.svc.SetNickname(ctx, r.ID, b, "bobby", a))
	got, err := e.store.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Member(b).NickName)
	assert.Equal(t, "bobby", *got.Member(b).NickName)

	require.NoError(t, e.svc.ClearNickname(ctx, r.ID, b, a))
	got, err = e.store.GetRoom(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Member(b).NickName)

	assert.ErrorIs(t, e.svc.SetNickname(ctx, r.ID, b, "x", outsider), domain.ErrForbidden)
	assert.ErrorIs(t, e.svc.SetNickname(ctx, r.ID, outsider, "x", a), domain.ErrForbidden)
	assert.ErrorIs(t, e.svc.SetNickname(ctx, uuid.New(), b, "x", a), domain.ErrNotFound)

	assert.Equal(t, []string{domain.EventTypeNicknameUpdated, domain.EventTypeNicknameUpdated}, e.pub.types())
}

func TestDeleteRoom_Cascades(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b, outsider := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "olga")
	r, _, err := e.svc.OpenDirect(ctx, a, b)
	require.NoError(t, err)
	m := e.message(t, r.ID, a, "bye", time.Now())

	assert.ErrorIs(t, e.svc.DeleteRoom(ctx, r.ID, outsider), domain.ErrForbidden)
	require.NoError(t, e.svc.DeleteRoom(ctx, r.ID, a))

	_, err = e.store.GetRoom(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.store.GetMessage(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.store.GetRelationship(ctx, a, b)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, e.svc.DeleteRoom(ctx, r.ID, a), domain.ErrNotFound)
	assert.Equal(t, []string{domain.EventTypeRoomDeleted}, e.pub.types())
}

func TestCreateGroup_RejectsBlockedMember(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b, c := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol")
	require.NoError(t, e.ledger.Block(ctx, c, a))

	_, err := e.svc.CreateGroup(ctx, a, "team", []uuid.UUID{b, c})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = e.svc.CreateGroup(ctx, a, "solo", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	r, err := e.svc.CreateGroup(ctx, a, "duo", []uuid.UUID{b, b, a})
	require.NoError(t, err)
	assert.Len(t, r.Members, 2)
	assert.Equal(t, a, r.Members[0].UserID)
}

// flakyLinks fails every LinkRoom after the first.
type flakyLinks struct {
	*repository.MemoryStore
	calls int
}

func (f *flakyLinks) LinkRoom(ctx context.Context, from, to, roomID uuid.UUID) error {
	f.calls++
	if f.calls > 1 {
		return errors.New("connection reset")
	}
	return f.MemoryStore.LinkRoom(ctx, from, to, roomID)
}

func TestOpenDirect_LinkFailureLeavesNoRoom(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewService(store, relationship.NewLedger(&flakyLinks{MemoryStore: store}), &recordingPublisher{}, lockmap.New())
	e := &env{store: store, svc: svc}
	ctx := context.Background()
	a, b := e.user(t, "alice"), e.user(t, "bob")

	_, _, err := svc.OpenDirect(ctx, a, b)
	require.Error(t, err)
	assert.False(t, domain.IsBusiness(err))

	_, err = store.FindDirectRoom(ctx, a, b)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetRelationship(ctx, a, b)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	rooms, err := svc.RoomsFor(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}
