package api

import (
	"net/http"

	"roomchat/internal/domain"
	"roomchat/internal/message"

	"github.com/google/uuid"
)

type sendMessageRequest struct {
	Text     string     `json:"text"`
	Image    string     `json:"image"`
	ReplyTo  *uuid.UUID `json:"reply_to"`
	LifeTime *int       `json:"life_time"`
}

type reactRequest struct {
	ReactionType domain.ReactionType `json:"reaction_type"`
}

type pinRequest struct {
	IsPinned bool `json:"is_pinned"`
}

type statusRequest struct {
	Status domain.MessageStatus `json:"status"`
}

type statusResponse struct {
	Message *domain.Message `json:"message"`
	Changed bool            `json:"changed"`
}

type seenResponse struct {
	Updated int `json:"updated"`
}

func (h *handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "roomId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req sendMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := h.Messages.Send(r.Context(), message.SendInput{
		RoomID:   roomID,
		SenderID: currentUser(r),
		Text:     req.Text,
		Image:    req.Image,
		ReplyTo:  req.ReplyTo,
		LifeTime: req.LifeTime,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *handlers) markSeen(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "roomId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.Messages.MarkRoomSeen(r.Context(), roomID, currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seenResponse{Updated: n})
}

func (h *handlers) react(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathID(r, "messageId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req reactRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := h.Messages.React(r.Context(), messageID, currentUser(r), req.ReactionType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *handlers) unreact(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathID(r, "messageId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := h.Messages.Unreact(r.Context(), messageID, currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *handlers) pin(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathID(r, "messageId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req pinRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := h.Messages.Pin(r.Context(), messageID, currentUser(r), req.IsPinned)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *handlers) advanceStatus(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathID(r, "messageId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	msg, changed, err := h.Messages.AdvanceStatus(r.Context(), messageID, currentUser(r), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Message: msg, Changed: changed})
}
