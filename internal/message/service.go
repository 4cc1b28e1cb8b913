package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"roomchat/internal/domain"
	"roomchat/internal/lockmap"
	"roomchat/internal/logger"
	"roomchat/internal/metrics"
	"roomchat/internal/relationship"
	"roomchat/internal/repository"

	"github.com/google/uuid"
)

type Store interface {
	repository.MessageRepository
	GetRoom(ctx context.Context, id uuid.UUID) (*domain.Room, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev domain.Event, room *domain.Room) error
}

// SendInput carries a new message. LifeTime is in seconds.
type SendInput struct {
	RoomID   uuid.UUID
	SenderID uuid.UUID
	Text     string
	Image    string
	ReplyTo  *uuid.UUID
	LifeTime *int
}

type Service struct {
	store     Store
	ledger    *relationship.Ledger
	publisher Publisher
	locks     *lockmap.Map

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) (stop func() bool)

	timersMu sync.Mutex
	timers   map[uuid.UUID]func() bool
}

func NewService(store Store, ledger *relationship.Ledger, publisher Publisher, locks *lockmap.Map) *Service {
	return &Service{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		locks:     locks,
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		timers: make(map[uuid.UUID]func() bool),
	}
}

func (s *Service) lockRoom(roomID uuid.UUID) func() {
	return s.locks.Lock("room:" + roomID.String())
}

func (s *Service) publish(ctx context.Context, ev domain.Event, room *domain.Room) {
	if err := s.publisher.Publish(ctx, ev, room); err != nil {
		logger.Error("publish_failed", "event", ev.Type, "room_id", room.ID, "error", err)
	}
}

// Send stores a new message with status sent and announces it to the room.
func (s *Service) Send(ctx context.Context, in SendInput) (*domain.Message, error) {
	unlock := s.lockRoom(in.RoomID)
	defer unlock()

	room, err := s.store.GetRoom(ctx, in.RoomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(in.SenderID) {
		return nil, fmt.Errorf("user %s is not a member of room %s: %w", in.SenderID, in.RoomID, domain.ErrForbidden)
	}
	if other, ok := room.Counterpart(in.SenderID); ok {
		blocked, err := s.ledger.IsBlocked(ctx, in.SenderID, other)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, fmt.Errorf("direct room %s is blocked: %w", in.RoomID, domain.ErrForbidden)
		}
	}

	now := s.now()
	msg := &domain.Message{
		ID:        uuid.New(),
		RoomID:    in.RoomID,
		SenderID:  in.SenderID,
		Text:      in.Text,
		Image:     in.Image,
		Reactions: []domain.Reaction{},
		Status:    domain.StatusSent,
		LifeTime:  in.LifeTime,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !msg.HasPayload() {
		return nil, fmt.Errorf("message needs text or image: %w", domain.ErrInvalidPayload)
	}
	if in.LifeTime != nil && (*in.LifeTime <= 0 || *in.LifeTime > domain.MaxLifeTime) {
		return nil, fmt.Errorf("life time must be between 1 and %d seconds: %w", domain.MaxLifeTime, domain.ErrInvalidPayload)
	}
	if in.ReplyTo != nil {
		parent, err := s.store.GetMessage(ctx, *in.ReplyTo)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && (parent.RoomID != in.RoomID || parent.Expired(now))) {
			return nil, fmt.Errorf("reply target %s: %w", *in.ReplyTo, domain.ErrInvalidPayload)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load reply target: %w", err)
		}
		replyTo := *in.ReplyTo
		msg.ReplyTo = &replyTo
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	metrics.MessagesSent.Inc()
	s.schedule(msg)

	s.publish(ctx, domain.NewEvent(domain.EventTypeMessageCreated, room.ID, in.SenderID, msg.Clone()), room)
	return msg, nil
}

// loadLocked resolves a live message and its room with the room lock held.
// The caller must call the returned unlock.
func (s *Service) loadLocked(ctx context.Context, messageID uuid.UUID) (*domain.Message, *domain.Room, func(), error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, nil, err
	}
	unlock := s.lockRoom(msg.RoomID)

	// reload under the lock; the message may have expired or been deleted
	msg, err = s.store.GetMessage(ctx, messageID)
	if err == nil && msg.Expired(s.now()) {
		err = fmt.Errorf("message %s expired: %w", messageID, domain.ErrNotFound)
	}
	if err != nil {
		unlock()
		return nil, nil, nil, err
	}
	room, err := s.store.GetRoom(ctx, msg.RoomID)
	if err != nil {
		unlock()
		return nil, nil, nil, err
	}
	return msg, room, unlock, nil
}

// React sets userID's reaction on a message, replacing any earlier one.
func (s *Service) React(ctx context.Context, messageID, userID uuid.UUID, reactionType domain.ReactionType) (*domain.Message, error) {
	if !reactionType.Valid() {
		return nil, fmt.Errorf("reaction type %q: %w", reactionType, domain.ErrInvalidPayload)
	}
	msg, room, unlock, err := s.loadLocked(ctx, messageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !room.HasMember(userID) {
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	reaction := domain.Reaction{UserID: userID, ReactionType: reactionType}
	if err := s.store.UpsertReaction(ctx, messageID, reaction); err != nil {
		return nil, fmt.Errorf("failed to react: %w", err)
	}
	msg.UpsertReaction(reaction)

	s.publish(ctx, domain.NewEvent(domain.EventTypeReactionUpdated, room.ID, userID, msg.Clone()), room)
	return msg, nil
}

// Unreact removes userID's reaction. Removing a missing reaction is a no-op.
func (s *Service) Unreact(ctx context.Context, messageID, userID uuid.UUID) (*domain.Message, error) {
	msg, room, unlock, err := s.loadLocked(ctx, messageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !room.HasMember(userID) {
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	removed, err := s.store.RemoveReaction(ctx, messageID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove reaction: %w", err)
	}
	if !removed {
		return msg, nil
	}
	msg.RemoveReaction(userID)

	s.publish(ctx, domain.NewEvent(domain.EventTypeReactionUpdated, room.ID, userID, msg.Clone()), room)
	return msg, nil
}

func (s *Service) Pin(ctx context.Context, messageID, actor uuid.UUID, pinned bool) (*domain.Message, error) {
	msg, room, unlock, err := s.loadLocked(ctx, messageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !room.HasMember(actor) {
		return nil, fmt.Errorf("user %s cannot pin in room %s: %w", actor, room.ID, domain.ErrForbidden)
	}
	if msg.IsPinned == pinned {
		return msg, nil
	}
	if err := s.store.SetPinned(ctx, messageID, pinned); err != nil {
		return nil, fmt.Errorf("failed to pin message: %w", err)
	}
	msg.IsPinned = pinned

	s.publish(ctx, domain.NewEvent(domain.EventTypeMessagePinned, room.ID, actor, msg.Clone()), room)
	return msg, nil
}

// AdvanceStatus records that recipient reached status for a message. It
// reports whether any stored state changed.
func (s *Service) AdvanceStatus(ctx context.Context, messageID, recipient uuid.UUID, status domain.MessageStatus) (*domain.Message, bool, error) {
	if !status.Valid() {
		return nil, false, fmt.Errorf("status %q: %w", status, domain.ErrInvalidPayload)
	}
	msg, room, unlock, err := s.loadLocked(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	if !room.HasMember(recipient) {
		return nil, false, fmt.Errorf("user %s is not a member of room %s: %w", recipient, room.ID, domain.ErrForbidden)
	}
	if msg.SenderID == recipient {
		return msg, false, nil
	}
	return s.advanceLocked(ctx, room, msg, recipient, status)
}

func (s *Service) advanceLocked(ctx context.Context, room *domain.Room, msg *domain.Message, recipient uuid.UUID, status domain.MessageStatus) (*domain.Message, bool, error) {
	at := s.now()
	changed, err := s.track(ctx, room, msg, recipient, status, at)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return msg, false, nil
	}

	updated, err := s.store.GetMessage(ctx, msg.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload message: %w", err)
	}
	change := domain.StatusChange{
		MessageID:     msg.ID,
		UserID:        recipient,
		Status:        status,
		MessageStatus: updated.Status,
	}
	if status == domain.StatusSeen {
		change.ReadAt = &at
	}
	s.publish(ctx, domain.NewEvent(domain.EventTypeMessageStatus, room.ID, recipient, change), room)
	return updated, true, nil
}

// MarkRoomSeen advances every message from other members to seen for userID.
// It returns how many messages changed.
func (s *Service) MarkRoomSeen(ctx context.Context, roomID, userID uuid.UUID) (int, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if !room.HasMember(userID) {
		return 0, fmt.Errorf("user %s is not a member of room %s: %w", userID, roomID, domain.ErrForbidden)
	}
	msgs, err := s.store.ListMessages(ctx, roomID, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list messages: %w", err)
	}

	count := 0
	for _, msg := range msgs {
		if msg.SenderID == userID {
			continue
		}
		_, changed, err := s.advanceLocked(ctx, room, msg, userID, domain.StatusSeen)
		if err != nil {
			return count, err
		}
		if changed {
			count++
		}
	}
	return count, nil
}

// Close stops every pending expiry timer. The sweeper picks them up after a
// restart.
func (s *Service) Close() {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	for id, stop := range s.timers {
		stop()
		delete(s.timers, id)
	}
}
