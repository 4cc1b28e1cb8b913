package api

import (
	"context"
	"net/http"

	"roomchat/internal/directory"
	"roomchat/internal/message"
	"roomchat/internal/relationship"
	"roomchat/internal/room"
	"roomchat/internal/ws"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

const UserHeader = "X-User-ID"

type ctxKey struct{}

type Deps struct {
	Rooms     *room.Service
	Messages  *message.Service
	Ledger    *relationship.Ledger
	Directory *directory.Service
	Hub       *ws.Hub
	// CORSOrigins defaults to every origin.
	CORSOrigins []string
}

type handlers struct {
	Deps
}

// NewRouter wires every route behind CORS.
func NewRouter(deps Deps) http.Handler {
	h := &handlers{Deps: deps}
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if deps.Hub != nil {
		r.HandleFunc("/ws", h.serveWS).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(requireUser)

	api.HandleFunc("/rooms", h.listRooms).Methods(http.MethodGet)
	api.HandleFunc("/rooms", h.createGroup).Methods(http.MethodPost)
	api.HandleFunc("/rooms/direct", h.openDirect).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomId}", h.getRoom).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomId}", h.deleteRoom).Methods(http.MethodDelete)
	api.HandleFunc("/rooms/{roomId}/nickname/{userId}", h.setNickname).Methods(http.MethodPut)
	api.HandleFunc("/rooms/{roomId}/nickname/{userId}", h.clearNickname).Methods(http.MethodDelete)
	api.HandleFunc("/rooms/{roomId}/messages", h.sendMessage).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomId}/seen", h.markSeen).Methods(http.MethodPost)

	api.HandleFunc("/messages/{messageId}/reactions", h.react).Methods(http.MethodPost)
	api.HandleFunc("/messages/{messageId}/reactions", h.unreact).Methods(http.MethodDelete)
	api.HandleFunc("/messages/{messageId}/pin", h.pin).Methods(http.MethodPut)
	api.HandleFunc("/messages/{messageId}/status", h.advanceStatus).Methods(http.MethodPost)

	api.HandleFunc("/relationships/block", h.block).Methods(http.MethodPost)
	api.HandleFunc("/relationships/unblock", h.unblock).Methods(http.MethodPost)
	api.HandleFunc("/relationships/blocked", h.listBlocked).Methods(http.MethodGet)

	api.HandleFunc("/users", h.listUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/me", h.registerMe).Methods(http.MethodPut)
	api.HandleFunc("/users/{userId}", h.getUser).Methods(http.MethodGet)

	api.HandleFunc("/notifications", h.listNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{notificationId}/read", h.markNotificationRead).Methods(http.MethodPost)

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", UserHeader},
	}).Handler(r)
}

// requireUser resolves the caller from the gateway header.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.Header.Get(UserHeader))
		if err != nil || userID == uuid.Nil {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func currentUser(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(ctxKey{}).(uuid.UUID)
	return id
}

// serveWS accepts the identity from the header or, for browsers, the query.
func (h *handlers) serveWS(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get(UserHeader)
	if raw == "" {
		raw = r.URL.Query().Get("user_id")
	}
	userID, err := uuid.Parse(raw)
	if err != nil || userID == uuid.Nil {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if _, err := h.Directory.User(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	h.Hub.ServeWS(w, r, userID)
}
