package api

import (
	"net/http"
	"strconv"

	"roomchat/internal/domain"
)

type registerRequest struct {
	UserName string `json:"user_name"`
	FullName string `json:"full_name"`
	Avatar   string `json:"avatar"`
}

func (h *handlers) block(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Ledger.Block(r.Context(), currentUser(r), req.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) unblock(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Ledger.Unblock(r.Context(), currentUser(r), req.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listBlocked(w http.ResponseWriter, r *http.Request) {
	users, err := h.Ledger.ListBlockedBy(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Directory.ListUsers(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *handlers) registerMe(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user := &domain.User{
		ID:       currentUser(r),
		UserName: req.UserName,
		FullName: req.FullName,
		Avatar:   req.Avatar,
	}
	if err := h.Directory.Register(r.Context(), user); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *handlers) getUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	profile, err := h.Directory.Profile(r.Context(), currentUser(r), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	unreadOnly := false
	if raw := r.URL.Query().Get("unread"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, domain.ErrInvalidPayload)
			return
		}
		unreadOnly = v
	}
	list, err := h.Directory.Notifications(r.Context(), currentUser(r), unreadOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "notificationId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Directory.MarkRead(r.Context(), id, currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
