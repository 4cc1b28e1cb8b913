package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"roomchat/internal/domain"
	"roomchat/internal/lockmap"
	"roomchat/internal/logger"
	"roomchat/internal/relationship"
	"roomchat/internal/repository"

	"github.com/google/uuid"
)

type Store interface {
	repository.RoomRepository
	repository.UserRepository
	ListMessages(ctx context.Context, roomID uuid.UUID, now time.Time) ([]*domain.Message, error)
	LastMessage(ctx context.Context, roomID uuid.UUID, now time.Time) (*domain.Message, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev domain.Event, room *domain.Room) error
}

type Service struct {
	store     Store
	ledger    *relationship.Ledger
	publisher Publisher
	locks     *lockmap.Map
	now       func() time.Time
}

// NewService builds the room service. locks must be the same map the message
// service uses so room-scoped operations serialize together.
func NewService(store Store, ledger *relationship.Ledger, publisher Publisher, locks *lockmap.Map) *Service {
	return &Service{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		locks:     locks,
		now:       time.Now,
	}
}

func (s *Service) lockRoom(roomID uuid.UUID) func() {
	return s.locks.Lock("room:" + roomID.String())
}

// RoomsFor lists the rooms userID belongs to, most recently active first.
func (s *Service) RoomsFor(ctx context.Context, userID uuid.UUID) ([]domain.RoomSummary, error) {
	rooms, err := s.store.RoomsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	now := s.now()
	names := make(map[uuid.UUID]string)
	summaries := make([]domain.RoomSummary, 0, len(rooms))
	activity := make(map[uuid.UUID]time.Time, len(rooms))
	for _, r := range rooms {
		summary := domain.RoomSummary{Room: *r}
		activity[r.ID] = r.CreatedAt

		last, err := s.store.LastMessage(ctx, r.ID, now)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("failed to load last message: %w", err)
		default:
			summary.LastMessage = s.lastMessage(ctx, last, names)
			activity[r.ID] = last.CreatedAt
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		ai, aj := activity[summaries[i].ID], activity[summaries[j].ID]
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return summaries[i].ID.String() < summaries[j].ID.String()
	})
	return summaries, nil
}

func (s *Service) lastMessage(ctx context.Context, m *domain.Message, names map[uuid.UUID]string) *domain.LastMessage {
	name, ok := names[m.SenderID]
	if !ok {
		if u, err := s.store.GetUser(ctx, m.SenderID); err == nil {
			name = u.FullName
		}
		names[m.SenderID] = name
	}
	kind := domain.KindText
	if strings.TrimSpace(m.Text) == "" {
		kind = domain.KindImage
	}
	return &domain.LastMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		SenderName: name,
		Kind:       kind,
		Text:       m.Text,
		Image:      m.Image,
		CreatedAt:  m.CreatedAt,
	}
}

// GetRoom returns the room with its live messages and the members the
// requester has blocked.
func (s *Service) GetRoom(ctx context.Context, roomID, requester uuid.UUID) (*domain.RoomDetail, error) {
	r, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !r.HasMember(requester) {
		return nil, fmt.Errorf("user %s is not a member of room %s: %w", requester, roomID, domain.ErrForbidden)
	}

	blocked, err := s.ledger.ListBlockedBy(ctx, requester)
	if err != nil {
		return nil, err
	}
	blockedMembers := make([]domain.User, 0)
	for _, u := range blocked {
		if r.HasMember(u.ID) {
			blockedMembers = append(blockedMembers, u)
		}
	}

	msgs, err := s.store.ListMessages(ctx, roomID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	return &domain.RoomDetail{Room: *r, BlockedMembers: blockedMembers, Messages: msgs}, nil
}

// SetNickname sets target's nickname in the room. An empty nickname clears it.
func (s *Service) SetNickname(ctx context.Context, roomID, target uuid.UUID, nickName string, actor uuid.UUID) error {
	nickName = strings.TrimSpace(nickName)
	if nickName == "" {
		return s.updateNickname(ctx, roomID, target, nil, actor)
	}
	return s.updateNickname(ctx, roomID, target, &nickName, actor)
}

func (s *Service) ClearNickname(ctx context.Context, roomID, target, actor uuid.UUID) error {
	return s.updateNickname(ctx, roomID, target, nil, actor)
}

func (s *Service) updateNickname(ctx context.Context, roomID, target uuid.UUID, nickName *string, actor uuid.UUID) error {
	unlock := s.lockRoom(roomID)
	defer unlock()

	r, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !r.HasMember(actor) || !r.HasMember(target) {
		return fmt.Errorf("nickname change in room %s: %w", roomID, domain.ErrForbidden)
	}
	if err := s.store.SetNickname(ctx, roomID, target, nickName); err != nil {
		return fmt.Errorf("failed to set nickname: %w", err)
	}
	r.Member(target).NickName = nickName

	ev := domain.NewEvent(domain.EventTypeNicknameUpdated, roomID, actor, domain.NicknameChange{UserID: target, NickName: nickName})
	if err := s.publisher.Publish(ctx, ev, r); err != nil {
		logger.Error("publish_failed", "event", ev.Type, "room_id", roomID, "error", err)
	}
	return nil
}

// DeleteRoom removes the room and everything that references it.
func (s *Service) DeleteRoom(ctx context.Context, roomID, actor uuid.UUID) error {
	unlock := s.lockRoom(roomID)
	defer unlock()

	r, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !r.HasMember(actor) {
		return fmt.Errorf("user %s cannot delete room %s: %w", actor, roomID, domain.ErrForbidden)
	}
	if err := s.store.DeleteRoomCascade(ctx, roomID); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	logger.Info("room_deleted", "room_id", roomID, "actor", actor)

	ev := domain.NewEvent(domain.EventTypeRoomDeleted, roomID, actor, nil)
	if err := s.publisher.Publish(ctx, ev, r); err != nil {
		logger.Error("publish_failed", "event", ev.Type, "room_id", roomID, "error", err)
	}
	return nil
}

// CreateGroup creates a group room. The creator is always a member and no
// member may be blocked with the creator in either direction.
func (s *Service) CreateGroup(ctx context.Context, creator uuid.UUID, name string, members []uuid.UUID) (*domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("group name required: %w", domain.ErrInvalidPayload)
	}

	seen := map[uuid.UUID]struct{}{creator: {}}
	r := &domain.Room{
		ID:        uuid.New(),
		Name:      name,
		RoomType:  domain.RoomTypeGroup,
		Members:   []domain.Member{{UserID: creator}},
		CreatedAt: s.now(),
	}
	for _, id := range members {
		if id == uuid.Nil {
			return nil, fmt.Errorf("invalid member id: %w", domain.ErrInvalidPayload)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		blocked, err := s.ledger.IsBlocked(ctx, creator, id)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, fmt.Errorf("member %s is blocked: %w", id, domain.ErrForbidden)
		}
		r.Members = append(r.Members, domain.Member{UserID: id})
	}
	if len(r.Members) < 2 {
		return nil, fmt.Errorf("group needs another member: %w", domain.ErrInvalidPayload)
	}

	if err := s.store.CreateRoom(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	logger.Info("group_created", "room_id", r.ID, "creator", creator, "members", len(r.Members))
	return r, nil
}

// OpenDirect returns the direct room between a and b, creating it on first
// contact.
func (s *Service) OpenDirect(ctx context.Context, a, b uuid.UUID) (*domain.Room, bool, error) {
	if a == b || b == uuid.Nil {
		return nil, false, fmt.Errorf("invalid counterpart: %w", domain.ErrInvalidPayload)
	}
	blocked, err := s.ledger.IsBlocked(ctx, a, b)
	if err != nil {
		return nil, false, err
	}
	if blocked {
		return nil, false, fmt.Errorf("direct room with %s: %w", b, domain.ErrForbidden)
	}

	// one creator at a time per pair
	unlock := s.locks.Lock("direct:" + directKey(a, b))
	defer unlock()

	existing, err := s.store.FindDirectRoom(ctx, a, b)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to find direct room: %w", err)
	}

	if _, err := s.store.GetUser(ctx, b); err != nil {
		return nil, false, err
	}

	r := &domain.Room{
		ID:        uuid.New(),
		RoomType:  domain.RoomTypeDirect,
		Members:   []domain.Member{{UserID: a}, {UserID: b}},
		CreatedAt: s.now(),
	}
	if err := s.store.CreateRoom(ctx, r); err != nil {
		return nil, false, fmt.Errorf("failed to create room: %w", err)
	}
	if err := s.ledger.LinkRoom(ctx, a, b, r.ID); err != nil {
		// drop the room and any half-written link
		if derr := s.store.DeleteRoomCascade(context.WithoutCancel(ctx), r.ID); derr != nil {
			logger.Error("direct_room_rollback_failed", "room_id", r.ID, "error", derr)
		}
		return nil, false, err
	}
	logger.Info("direct_room_created", "room_id", r.ID, "a", a, "b", b)
	return r, true, nil
}

func directKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if x > y {
		x, y = y, x
	}
	return x + ":" + y
}
