package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeMessageCreated  = "MESSAGE_CREATED"
	EventTypeMessageStatus   = "MESSAGE_STATUS"
	EventTypeReactionUpdated = "REACTION_UPDATED"
	EventTypeMessagePinned   = "MESSAGE_PINNED"
	EventTypeMessageExpired  = "MESSAGE_EXPIRED"
	EventTypeNicknameUpdated = "NICKNAME_UPDATED"
	EventTypeRoomDeleted     = "ROOM_DELETED"
)

// Event is a room-scoped state change pushed to interested members.
// ActorID is uuid.Nil for system events such as expiry.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	RoomID    uuid.UUID `json:"room_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

func NewEvent(eventType string, roomID, actorID uuid.UUID, payload any) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		RoomID:    roomID,
		ActorID:   actorID,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Durable reports whether offline recipients get a Notification record.
func (e Event) Durable() bool {
	return DurableEventType(e.Type)
}

func DurableEventType(eventType string) bool {
	switch eventType {
	case EventTypeMessageCreated, EventTypeReactionUpdated, EventTypeMessagePinned, EventTypeNicknameUpdated:
		return true
	}
	return false
}

// StatusChange reports a recipient's new status. MessageStatus is the
// message-level status after the change, which differs from Status in group
// rooms until every recipient catches up.
type StatusChange struct {
	MessageID     uuid.UUID     `json:"message_id"`
	UserID        uuid.UUID     `json:"user_id"`
	Status        MessageStatus `json:"status"`
	MessageStatus MessageStatus `json:"message_status"`
	ReadAt        *time.Time    `json:"read_at,omitempty"`
}

type MessageRef struct {
	MessageID uuid.UUID `json:"message_id"`
}

type NicknameChange struct {
	UserID   uuid.UUID `json:"user_id"`
	NickName *string   `json:"nick_name,omitempty"`
}
