package api

import (
	"net/http"

	"roomchat/internal/domain"

	"github.com/google/uuid"
)

type createGroupRequest struct {
	Name    string      `json:"name"`
	Members []uuid.UUID `json:"members"`
}

type userRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

type nicknameRequest struct {
	NickName string `json:"nick_name"`
}

type directResponse struct {
	Room    *domain.Room `json:"room"`
	Created bool         `json:"created"`
}

func (h *handlers) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.Rooms.RoomsFor(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *handlers) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	room, err := h.Rooms.CreateGroup(r.Context(), currentUser(r), req.Name, req.Members)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *handlers) openDirect(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	room, created, err := h.Rooms.OpenDirect(r.Context(), currentUser(r), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, directResponse{Room: room, Created: created})
}

func (h *handlers) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "roomId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	detail, err := h.Rooms.GetRoom(r.Context(), roomID, currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *handlers) deleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "roomId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Rooms.DeleteRoom(r.Context(), roomID, currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) setNickname(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "roomId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	target, err := pathID(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req nicknameRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Rooms.SetNickname(r.Context(), roomID, target, req.NickName, currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) clearNickname(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "roomId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	target, err := pathID(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Rooms.ClearNickname(r.Context(), roomID, target, currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
