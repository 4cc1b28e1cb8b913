package domain

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	UserName  string    `json:"user_name"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type RoomType string

const (
	RoomTypeDirect RoomType = "direct"
	RoomTypeGroup  RoomType = "group"
)

type Member struct {
	UserID   uuid.UUID `json:"user_id"`
	NickName *string   `json:"nick_name,omitempty"`
}

type Room struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name,omitempty"`
	RoomType  RoomType  `json:"room_type"`
	Members   []Member  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Room) HasMember(userID uuid.UUID) bool {
	return r.Member(userID) != nil
}

// Member returns the membership entry for userID, or nil.
func (r *Room) Member(userID uuid.UUID) *Member {
	for i := range r.Members {
		if r.Members[i].UserID == userID {
			return &r.Members[i]
		}
	}
	return nil
}

func (r *Room) MemberIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// Counterpart returns the other member of a direct room.
func (r *Room) Counterpart(userID uuid.UUID) (uuid.UUID, bool) {
	if r.RoomType != RoomTypeDirect {
		return uuid.Nil, false
	}
	for _, m := range r.Members {
		if m.UserID != userID {
			return m.UserID, true
		}
	}
	return uuid.Nil, false
}

type ReactionType string

const (
	ReactionLike  ReactionType = "like"
	ReactionLove  ReactionType = "love"
	ReactionLaugh ReactionType = "laugh"
	ReactionSad   ReactionType = "sad"
	ReactionAngry ReactionType = "angry"
)

func (t ReactionType) Valid() bool {
	switch t {
	case ReactionLike, ReactionLove, ReactionLaugh, ReactionSad, ReactionAngry:
		return true
	}
	return false
}

type Reaction struct {
	UserID       uuid.UUID    `json:"user_id"`
	ReactionType ReactionType `json:"reaction_type"`
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

// Rank orders statuses along the lifecycle. Unknown statuses rank -1.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusSeen:
		return 2
	}
	return -1
}

func (s MessageStatus) Valid() bool { return s.Rank() >= 0 }

// Advances reports whether moving from s to next is a forward transition.
func (s MessageStatus) Advances(next MessageStatus) bool {
	return next.Valid() && next.Rank() > s.Rank()
}

// MaxLifeTime bounds Message.LifeTime in seconds; it fits the storage column.
const MaxLifeTime = math.MaxInt32

type Message struct {
	ID        uuid.UUID     `json:"id"`
	RoomID    uuid.UUID     `json:"room_id"`
	SenderID  uuid.UUID     `json:"sender_id"`
	Text      string        `json:"text,omitempty"`
	Image     string        `json:"image,omitempty"`
	Reactions []Reaction    `json:"reactions"`
	ReplyTo   *uuid.UUID    `json:"reply_to,omitempty"`
	IsPinned  bool          `json:"is_pinned"`
	Status    MessageStatus `json:"status"`
	ReadAt    *time.Time    `json:"read_at,omitempty"`
	LifeTime  *int          `json:"life_time,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// HasPayload reports whether the message carries text or an image.
func (m *Message) HasPayload() bool {
	return strings.TrimSpace(m.Text) != "" || strings.TrimSpace(m.Image) != ""
}

// ExpiresAt returns the moment an ephemeral message disappears.
func (m *Message) ExpiresAt() (time.Time, bool) {
	if m.LifeTime == nil {
		return time.Time{}, false
	}
	return m.CreatedAt.Add(time.Duration(*m.LifeTime) * time.Second), true
}

func (m *Message) Expired(now time.Time) bool {
	at, ok := m.ExpiresAt()
	return ok && !now.Before(at)
}

// UpsertReaction replaces any earlier reaction by the same user.
func (m *Message) UpsertReaction(r Reaction) {
	for i := range m.Reactions {
		if m.Reactions[i].UserID == r.UserID {
			m.Reactions[i].ReactionType = r.ReactionType
			return
		}
	}
	m.Reactions = append(m.Reactions, r)
}

func (m *Message) RemoveReaction(userID uuid.UUID) bool {
	for i := range m.Reactions {
		if m.Reactions[i].UserID == userID {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Message) Clone() *Message {
	c := *m
	c.Reactions = append([]Reaction(nil), m.Reactions...)
	if m.ReplyTo != nil {
		id := *m.ReplyTo
		c.ReplyTo = &id
	}
	if m.ReadAt != nil {
		at := *m.ReadAt
		c.ReadAt = &at
	}
	if m.LifeTime != nil {
		lt := *m.LifeTime
		c.LifeTime = &lt
	}
	return &c
}

// Receipt is the per-recipient delivery state of a message.
type Receipt struct {
	MessageID uuid.UUID     `json:"message_id"`
	UserID    uuid.UUID     `json:"user_id"`
	Status    MessageStatus `json:"status"`
	ReadAt    *time.Time    `json:"read_at,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

type LastMessage struct {
	ID         uuid.UUID   `json:"id"`
	SenderID   uuid.UUID   `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Kind       MessageKind `json:"kind"`
	Text       string      `json:"text,omitempty"`
	Image      string      `json:"image,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

type RoomSummary struct {
	Room
	LastMessage *LastMessage `json:"last_message,omitempty"`
}

type RoomDetail struct {
	Room           Room       `json:"room"`
	BlockedMembers []User     `json:"blocked_members"`
	Messages       []*Message `json:"messages"`
}

type RelationshipType string

const (
	RelationshipBlock  RelationshipType = "block"
	RelationshipFriend RelationshipType = "friend"
)

type Relationship struct {
	ID               uuid.UUID        `json:"id"`
	From             uuid.UUID        `json:"from"`
	To               uuid.UUID        `json:"to"`
	RelationshipType RelationshipType `json:"relationship_type"`
	RoomID           *uuid.UUID       `json:"room_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type NotificationType string

const (
	NotificationPrivate NotificationType = "private"
	NotificationRoom    NotificationType = "room"
)

type NotificationReceiver struct {
	UserID uuid.UUID `json:"user_id"`
	Read   bool      `json:"read"`
}

type Notification struct {
	ID               uuid.UUID              `json:"id"`
	SenderID         uuid.UUID              `json:"sender_id"`
	Receivers        []NotificationReceiver `json:"receivers"`
	NotificationType NotificationType       `json:"notification_type"`
	RoomID           uuid.UUID              `json:"room_id"`
	EventType        string                 `json:"event_type"`
	Payload          json.RawMessage        `json:"payload,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

func (n *Notification) HasReceiver(userID uuid.UUID) bool {
	for _, r := range n.Receivers {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

type Profile struct {
	User
	RelationshipType   *RelationshipType `json:"relationship_type,omitempty"`
	LatestNotification *Notification     `json:"latest_notification,omitempty"`
}
