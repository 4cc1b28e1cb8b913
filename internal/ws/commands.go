package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"roomchat/internal/domain"
	"roomchat/internal/logger"
	"roomchat/internal/message"

	"github.com/google/uuid"
)

const (
	CommandSendMessage = "send_message"
	CommandReact       = "react"
	CommandUnreact     = "unreact"
	CommandAck         = "ack"
	CommandSeen        = "seen"
	CommandPing        = "ping"

	ReplyResult = "result"
	ReplyError  = "error"
	ReplyPong   = "pong"
)

// CommandHandler executes client commands on behalf of the session user.
type CommandHandler interface {
	Send(ctx context.Context, in message.SendInput) (*domain.Message, error)
	React(ctx context.Context, messageID, userID uuid.UUID, reactionType domain.ReactionType) (*domain.Message, error)
	Unreact(ctx context.Context, messageID, userID uuid.UUID) (*domain.Message, error)
	AdvanceStatus(ctx context.Context, messageID, recipient uuid.UUID, status domain.MessageStatus) (*domain.Message, bool, error)
	MarkRoomSeen(ctx context.Context, roomID, userID uuid.UUID) (int, error)
}

type Command struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type Reply struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Message   string `json:"message,omitempty"`
}

type sendPayload struct {
	RoomID   uuid.UUID  `json:"room_id"`
	Text     string     `json:"text"`
	Image    string     `json:"image"`
	ReplyTo  *uuid.UUID `json:"reply_to"`
	LifeTime *int       `json:"life_time"`
}

type reactPayload struct {
	MessageID    uuid.UUID           `json:"message_id"`
	ReactionType domain.ReactionType `json:"reaction_type"`
}

type ackPayload struct {
	MessageID uuid.UUID            `json:"message_id"`
	Status    domain.MessageStatus `json:"status"`
}

type seenPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

type seenResult struct {
	RoomID  uuid.UUID `json:"room_id"`
	Updated int       `json:"updated"`
}

// dispatch runs one raw command and returns the encoded reply.
func (h *Hub) dispatch(ctx context.Context, userID uuid.UUID, raw []byte) []byte {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return encodeReply(Reply{Type: ReplyError, Message: domain.ErrInvalidPayload.Error()})
	}

	result, err := h.execute(ctx, userID, cmd)
	if err != nil {
		msg := "Internal server error"
		if domain.IsBusiness(err) {
			msg = err.Error()
		} else {
			logger.Error("ws_command_failed", "type", cmd.Type, "user_id", userID, "error", err)
		}
		return encodeReply(Reply{Type: ReplyError, RequestID: cmd.RequestID, Message: msg})
	}
	if cmd.Type == CommandPing {
		return encodeReply(Reply{Type: ReplyPong, RequestID: cmd.RequestID})
	}
	return encodeReply(Reply{Type: ReplyResult, RequestID: cmd.RequestID, Payload: result})
}

func (h *Hub) execute(ctx context.Context, userID uuid.UUID, cmd Command) (any, error) {
	if h.handler == nil && cmd.Type != CommandPing {
		return nil, fmt.Errorf("commands disabled: %w", domain.ErrForbidden)
	}
	switch cmd.Type {
	case CommandPing:
		return nil, nil
	case CommandSendMessage:
		var p sendPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return nil, err
		}
		return h.handler.Send(ctx, message.SendInput{
			RoomID:   p.RoomID,
			SenderID: userID,
			Text:     p.Text,
			Image:    p.Image,
			ReplyTo:  p.ReplyTo,
			LifeTime: p.LifeTime,
		})
	case CommandReact:
		var p reactPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return nil, err
		}
		return h.handler.React(ctx, p.MessageID, userID, p.ReactionType)
	case CommandUnreact:
		var p reactPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return nil, err
		}
		return h.handler.Unreact(ctx, p.MessageID, userID)
	case CommandAck:
		var p ackPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return nil, err
		}
		if p.Status == "" {
			p.Status = domain.StatusDelivered
		}
		msg, _, err := h.handler.AdvanceStatus(ctx, p.MessageID, userID, p.Status)
		return msg, err
	case CommandSeen:
		var p seenPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return nil, err
		}
		n, err := h.handler.MarkRoomSeen(ctx, p.RoomID, userID)
		if err != nil {
			return nil, err
		}
		return seenResult{RoomID: p.RoomID, Updated: n}, nil
	}
	return nil, fmt.Errorf("unknown command %q: %w", cmd.Type, domain.ErrInvalidPayload)
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload: %w", domain.ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("malformed payload: %w", domain.ErrInvalidPayload)
	}
	return nil
}

func encodeReply(r Reply) []byte {
	data, err := json.Marshal(r)
	if err != nil {
		logger.Error("ws_reply_marshal_failed", "error", err)
		return nil
	}
	return data
}
