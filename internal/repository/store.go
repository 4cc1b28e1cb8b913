package repository

import (
	"context"
	"time"

	"roomchat/internal/domain"

	"github.com/google/uuid"
)

type UserRepository interface {
	UpsertUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	UsersByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error)
	ListUsers(ctx context.Context, exclude []uuid.UUID) ([]domain.User, error)
}

type RoomRepository interface {
	CreateRoom(ctx context.Context, room *domain.Room) error
	GetRoom(ctx context.Context, id uuid.UUID) (*domain.Room, error)
	RoomsForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Room, error)
	FindDirectRoom(ctx context.Context, a, b uuid.UUID) (*domain.Room, error)
	SetNickname(ctx context.Context, roomID, userID uuid.UUID, nickName *string) error
	// DeleteRoomCascade removes the room with its messages, reactions,
	// receipts and friend relationships. Block records survive with the
	// room reference cleared.
	DeleteRoomCascade(ctx context.Context, roomID uuid.UUID) error
}

type MessageRepository interface {
	CreateMessage(ctx context.Context, msg *domain.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	// ListMessages returns the non-expired messages of a room, oldest first.
	ListMessages(ctx context.Context, roomID uuid.UUID, now time.Time) ([]*domain.Message, error)
	LastMessage(ctx context.Context, roomID uuid.UUID, now time.Time) (*domain.Message, error)
	UpsertReaction(ctx context.Context, messageID uuid.UUID, reaction domain.Reaction) error
	RemoveReaction(ctx context.Context, messageID, userID uuid.UUID) (bool, error)
	SetPinned(ctx context.Context, messageID uuid.UUID, pinned bool) error
	// AdvanceStatus moves the shared status forward only. It reports
	// whether the stored row changed.
	AdvanceStatus(ctx context.Context, messageID uuid.UUID, status domain.MessageStatus, at time.Time) (bool, error)
	AdvanceReceipt(ctx context.Context, messageID, userID uuid.UUID, status domain.MessageStatus, at time.Time) (bool, error)
	Receipts(ctx context.Context, messageID uuid.UUID) ([]domain.Receipt, error)
	ExpiredMessages(ctx context.Context, now time.Time, limit int) ([]*domain.Message, error)
	// DeleteMessage is delete-if-exists.
	DeleteMessage(ctx context.Context, id uuid.UUID) (bool, error)
}

type RelationshipRepository interface {
	GetRelationship(ctx context.Context, from, to uuid.UUID) (*domain.Relationship, error)
	Block(ctx context.Context, from, to uuid.UUID) error
	Unblock(ctx context.Context, from, to uuid.UUID) error
	LinkRoom(ctx context.Context, from, to, roomID uuid.UUID) error
	IsBlocked(ctx context.Context, a, b uuid.UUID) (bool, error)
	// BlockedBy lists the users userID has blocked.
	BlockedBy(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	// BlockersOf lists the users that have blocked userID.
	BlockersOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	NotificationsFor(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]*domain.Notification, error)
	LatestNotification(ctx context.Context, senderID, receiverID uuid.UUID, notificationType domain.NotificationType) (*domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error
}

type Store interface {
	UserRepository
	RoomRepository
	MessageRepository
	RelationshipRepository
	NotificationRepository
}
