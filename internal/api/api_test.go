package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"roomchat/internal/directory"
	"roomchat/internal/domain"
	"roomchat/internal/fanout"
	"roomchat/internal/lockmap"
	"roomchat/internal/message"
	"roomchat/internal/presence"
	"roomchat/internal/relationship"
	"roomchat/internal/repository"
	"roomchat/internal/room"
	"roomchat/internal/ws"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	fanout  *fanout.Fanout
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := repository.NewMemoryStore()
	registry := presence.NewMemoryRegistry()
	ledger := relationship.NewLedger(store)
	locks := lockmap.New()

	hub := ws.NewHub(registry, nil, "node-test")
	fan := fanout.New(registry, hub, ledger, store, fanout.Options{QueueSize: 16, SelfEcho: true})
	messages := message.NewService(store, ledger, fan, locks)
	rooms := room.NewService(store, ledger, fan, locks)
	hub.SetHandler(messages)
	t.Cleanup(func() {
		messages.Close()
		fan.Close()
	})

	return &testServer{
		t: t,
		handler: NewRouter(Deps{
			Rooms:     rooms,
			Messages:  messages,
			Ledger:    ledger,
			Directory: directory.NewService(store, ledger),
			Hub:       hub,
		}),
		fanout: fan,
	}
}

func (s *testServer) do(method, path string, user uuid.UUID, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		req.Header.Set(UserHeader, user.String())
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(name string) uuid.UUID {
	s.t.Helper()
	id := uuid.New()
	rec := s.do(http.MethodPut, "/api/users/me", id, registerRequest{UserName: name, FullName: name})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return id
}

func (s *testServer) openDirect(a, b uuid.UUID) uuid.UUID {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/rooms/direct", a, userRequest{UserID: b})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp directResponse
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Room.ID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestScenario_MessageLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	a, b := s.register("alice"), s.register("bob")
	roomID := s.openDirect(a, b)

	rec := s.do(http.MethodPost, "/api/rooms/"+roomID.String()+"/messages", a, sendMessageRequest{Text: "hi"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[domain.Message](t, rec)
	assert.Equal(t, domain.StatusSent, msg.Status)

	rec = s.do(http.MethodPost, "/api/messages/"+msg.ID.String()+"/status", b, statusRequest{Status: domain.StatusDelivered})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode[statusResponse](t, rec)
	assert.True(t, st.Changed)
	assert.Equal(t, domain.StatusDelivered, st.Message.Status)

	rec = s.do(http.MethodPost, "/api/rooms/"+roomID.String()+"/seen", b, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[seenResponse](t, rec).Updated)

	rec = s.do(http.MethodGet, "/api/rooms/"+roomID.String(), a, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[domain.RoomDetail](t, rec)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, domain.StatusSeen, detail.Messages[0].Status)
	assert.NotNil(t, detail.Messages[0].ReadAt)

	rec = s.do(http.MethodGet, "/api/rooms", a, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summaries := decode[[]domain.RoomSummary](t, rec)
	require.Len(t, summaries, 1)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "hi", summaries[0].LastMessage.Text)

	// bob was offline, so the created event became a notification
	s.fanout.Flush()
	rec = s.do(http.MethodGet, "/api/notifications?unread=true", b, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inbox := decode[[]domain.Notification](t, rec)
	require.NotEmpty(t, inbox)
	assert.Equal(t, domain.NotificationPrivate, inbox[len(inbox)-1].NotificationType)

	rec = s.do(http.MethodPost, "/api/notifications/"+inbox[0].ID.String()+"/read", b, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestScenario_BlockOverHTTP(t *testing.T) {
	s := newTestServer(t)
	a, b, c := s.register("alice"), s.register("bob"), s.register("carol")
	roomID := s.openDirect(a, b)

	rec := s.do(http.MethodPost, "/api/relationships/block", a, userRequest{UserID: b})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/relationships/block", a, userRequest{UserID: b})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.ErrAlreadyBlocked.Error(), decode[errorBody](t, rec).Message)

	rec = s.do(http.MethodPost, "/api/rooms/"+roomID.String()+"/messages", b, sendMessageRequest{Text: "hey"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/api/users", a, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode[[]domain.User](t, rec)
	require.Len(t, users, 1)
	assert.Equal(t, c, users[0].ID)

	rec = s.do(http.MethodGet, "/api/relationships/blocked", a, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	blocked := decode[[]domain.User](t, rec)
	require.Len(t, blocked, 1)
	assert.Equal(t, b, blocked[0].ID)

	rec = s.do(http.MethodGet, "/api/rooms/"+roomID.String(), a, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[domain.RoomDetail](t, rec)
	require.Len(t, detail.BlockedMembers, 1)
	assert.Equal(t, b, detail.BlockedMembers[0].ID)

	rec = s.do(http.MethodPost, "/api/relationships/unblock", a, userRequest{UserID: b})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodPost, "/api/relationships/unblock", a, userRequest{UserID: b})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/users/"+b.String(), a, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[domain.Profile](t, rec)
	require.NotNil(t, profile.RelationshipType)
	assert.Equal(t, domain.RelationshipFriend, *profile.RelationshipType)
}

func TestRoomManagementOverHTTP(t *testing.T) {
	s := newTestServer(t)
	a, b, c := s.register("alice"), s.register("bob"), s.register("carol")

	rec := s.do(http.MethodPost, "/api/rooms", a, createGroupRequest{Name: "trio", Members: []uuid.UUID{b, c}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	group := decode[domain.Room](t, rec)
	assert.Len(t, group.Members, 3)

	path := fmt.Sprintf("/api/rooms/%s/nickname/%s", group.ID, b)
	rec = s.do(http.MethodPut, path, a, nicknameRequest{NickName: "bobby"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/rooms/"+group.ID.String(), c, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[domain.RoomDetail](t, rec)
	member := detail.Room.Member(b)
	require.NotNil(t, member)
	require.NotNil(t, member.NickName)
	assert.Equal(t, "bobby", *member.NickName)

	rec = s.do(http.MethodDelete, path, c, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodPost, "/api/rooms/"+group.ID.String()+"/messages", b, sendMessageRequest{Text: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code)
	msg := decode[domain.Message](t, rec)

	rec = s.do(http.MethodPost, "/api/messages/"+msg.ID.String()+"/reactions", c, reactRequest{ReactionType: domain.ReactionLove})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[domain.Message](t, rec).Reactions, 1)

	rec = s.do(http.MethodDelete, "/api/messages/"+msg.ID.String()+"/reactions", c, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[domain.Message](t, rec).Reactions)

	rec = s.do(http.MethodPut, "/api/messages/"+msg.ID.String()+"/pin", a, pinRequest{IsPinned: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[domain.Message](t, rec).IsPinned)

	outsider := s.register("dave")
	rec = s.do(http.MethodGet, "/api/rooms/"+group.ID.String(), outsider, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodDelete, "/api/rooms/"+group.ID.String(), a, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, "/api/rooms/"+group.ID.String(), a, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)
	a := s.register("alice")

	rec := s.do(http.MethodGet, "/api/rooms", uuid.Nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/rooms/not-a-uuid", a, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms/direct", bytes.NewBufferString("{"))
	req.Header.Set(UserHeader, a.String())
	raw := httptest.NewRecorder()
	s.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	rec = s.do(http.MethodPut, "/api/users/me", uuid.New(), registerRequest{UserName: "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	huge := `{"user_name":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	req = httptest.NewRequest(http.MethodPut, "/api/users/me", strings.NewReader(huge))
	req.Header.Set(UserHeader, uuid.NewString())
	raw = httptest.NewRecorder()
	s.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, raw.Code)

	rec = s.do(http.MethodGet, "/api/notifications?unread=maybe", a, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/healthz", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/ws?user_id="+uuid.NewString(), uuid.Nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("room: %w", domain.ErrForbidden), http.StatusForbidden},
		{domain.ErrAlreadyBlocked, http.StatusBadRequest},
		{domain.ErrNotBlocked, http.StatusBadRequest},
		{domain.ErrInvalidPayload, http.StatusBadRequest},
		{domain.ErrConflict, http.StatusConflict},
		{errBodyTooLarge, http.StatusRequestEntityTooLarge},
		{errors.New("pq: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusOf(tc.err), tc.err.Error())
	}

	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: secret detail"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"Internal server error"}`, rec.Body.String())
}
