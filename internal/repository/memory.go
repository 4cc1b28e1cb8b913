package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"roomchat/internal/domain"

	"github.com/google/uuid"
)

type pairKey struct {
	from, to uuid.UUID
}

// MemoryStore is a single-node Store guarded by one RWMutex. Every value
// handed out is a copy.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]domain.User
	rooms         map[uuid.UUID]*domain.Room
	messages      map[uuid.UUID]*domain.Message
	roomMessages  map[uuid.UUID][]uuid.UUID
	receipts      map[uuid.UUID]map[uuid.UUID]domain.Receipt
	relationships map[pairKey]*domain.Relationship
	notifications []*domain.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[uuid.UUID]domain.User),
		rooms:         make(map[uuid.UUID]*domain.Room),
		messages:      make(map[uuid.UUID]*domain.Message),
		roomMessages:  make(map[uuid.UUID][]uuid.UUID),
		receipts:      make(map[uuid.UUID]map[uuid.UUID]domain.Receipt),
		relationships: make(map[pairKey]*domain.Relationship),
	}
}

var _ Store = (*MemoryStore)(nil)

func cloneRoom(r *domain.Room) *domain.Room {
	c := *r
	c.Members = make([]domain.Member, len(r.Members))
	for i, m := range r.Members {
		c.Members[i] = m
		if m.NickName != nil {
			nick := *m.NickName
			c.Members[i].NickName = &nick
		}
	}
	return &c
}

func cloneNotification(n *domain.Notification) *domain.Notification {
	c := *n
	c.Receivers = append([]domain.NotificationReceiver(nil), n.Receivers...)
	c.Payload = append([]byte(nil), n.Payload...)
	return &c
}

// Users

func (s *MemoryStore) UpsertUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.users {
		if id != user.ID && u.UserName == user.UserName {
			return fmt.Errorf("user name %q taken: %w", user.UserName, domain.ErrConflict)
		}
	}
	if existing, ok := s.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return &u, nil
}

func (s *MemoryStore) UsersByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (s *MemoryStore) ListUsers(ctx context.Context, exclude []uuid.UUID) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	skip := make(map[uuid.UUID]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	users := make([]domain.User, 0, len(s.users))
	for id, u := range s.users {
		if _, ok := skip[id]; ok {
			continue
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].UserName != users[j].UserName {
			return users[i].UserName < users[j].UserName
		}
		return users[i].ID.String() < users[j].ID.String()
	})
	return users, nil
}

// Rooms

func (s *MemoryStore) CreateRoom(ctx context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; ok {
		return fmt.Errorf("room %s: %w", room.ID, domain.ErrConflict)
	}
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	return cloneRoom(r), nil
}

func (s *MemoryStore) RoomsForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rooms []*domain.Room
	for _, r := range s.rooms {
		if r.HasMember(userID) {
			rooms = append(rooms, cloneRoom(r))
		}
	}
	return rooms, nil
}

func (s *MemoryStore) FindDirectRoom(ctx context.Context, a, b uuid.UUID) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rooms {
		if r.RoomType == domain.RoomTypeDirect && r.HasMember(a) && r.HasMember(b) {
			return cloneRoom(r), nil
		}
	}
	return nil, fmt.Errorf("direct room: %w", domain.ErrNotFound)
}

func (s *MemoryStore) SetNickname(ctx context.Context, roomID, userID uuid.UUID, nickName *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	m := r.Member(userID)
	if m == nil {
		return fmt.Errorf("member %s: %w", userID, domain.ErrNotFound)
	}
	if nickName == nil {
		m.NickName = nil
		return nil
	}
	nick := *nickName
	m.NickName = &nick
	return nil
}

func (s *MemoryStore) DeleteRoomCascade(ctx context.Context, roomID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	for _, id := range s.roomMessages[roomID] {
		delete(s.messages, id)
		delete(s.receipts, id)
	}
	delete(s.roomMessages, roomID)
	for key, rel := range s.relationships {
		if rel.RoomID == nil || *rel.RoomID != roomID {
			continue
		}
		if rel.RelationshipType == domain.RelationshipBlock {
			rel.RoomID = nil
			rel.UpdatedAt = time.Now()
			continue
		}
		delete(s.relationships, key)
	}
	delete(s.rooms, roomID)
	return nil
}

// Messages

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[msg.RoomID]; !ok {
		return fmt.Errorf("room %s: %w", msg.RoomID, domain.ErrNotFound)
	}
	if _, ok := s.messages[msg.ID]; ok {
		return fmt.Errorf("message %s: %w", msg.ID, domain.ErrConflict)
	}
	s.messages[msg.ID] = msg.Clone()
	s.roomMessages[msg.RoomID] = append(s.roomMessages[msg.RoomID], msg.ID)
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, roomID uuid.UUID, now time.Time) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.roomMessages[roomID]
	msgs := make([]*domain.Message, 0, len(ids))
	for _, id := range ids {
		m := s.messages[id]
		if m == nil || m.Expired(now) {
			continue
		}
		msgs = append(msgs, m.Clone())
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

func (s *MemoryStore) LastMessage(ctx context.Context, roomID uuid.UUID, now time.Time) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *domain.Message
	for _, id := range s.roomMessages[roomID] {
		m := s.messages[id]
		if m == nil || m.Expired(now) {
			continue
		}
		if last == nil || !m.CreatedAt.Before(last.CreatedAt) {
			last = m
		}
	}
	if last == nil {
		return nil, fmt.Errorf("last message of room %s: %w", roomID, domain.ErrNotFound)
	}
	return last.Clone(), nil
}

func (s *MemoryStore) UpsertReaction(ctx context.Context, messageID uuid.UUID, reaction domain.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	m.UpsertReaction(reaction)
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) RemoveReaction(ctx context.Context, messageID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return false, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	removed := m.RemoveReaction(userID)
	if removed {
		m.UpdatedAt = time.Now()
	}
	return removed, nil
}

func (s *MemoryStore) SetPinned(ctx context.Context, messageID uuid.UUID, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	m.IsPinned = pinned
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) AdvanceStatus(ctx context.Context, messageID uuid.UUID, status domain.MessageStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return false, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	if !m.Status.Advances(status) {
		return false, nil
	}
	m.Status = status
	m.UpdatedAt = at
	if status == domain.StatusSeen {
		readAt := at
		m.ReadAt = &readAt
	}
	return true, nil
}

func (s *MemoryStore) AdvanceReceipt(ctx context.Context, messageID, userID uuid.UUID, status domain.MessageStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return false, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	byUser, ok := s.receipts[messageID]
	if !ok {
		byUser = make(map[uuid.UUID]domain.Receipt)
		s.receipts[messageID] = byUser
	}
	rc, ok := byUser[userID]
	if !ok {
		rc = domain.Receipt{MessageID: messageID, UserID: userID, Status: domain.StatusSent}
	}
	if !rc.Status.Advances(status) {
		return false, nil
	}
	rc.Status = status
	rc.UpdatedAt = at
	if status == domain.StatusSeen {
		readAt := at
		rc.ReadAt = &readAt
	}
	byUser[userID] = rc
	return true, nil
}

func (s *MemoryStore) Receipts(ctx context.Context, messageID uuid.UUID) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	receipts := make([]domain.Receipt, 0, len(s.receipts[messageID]))
	for _, rc := range s.receipts[messageID] {
		receipts = append(receipts, rc)
	}
	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].UserID.String() < receipts[j].UserID.String()
	})
	return receipts, nil
}

func (s *MemoryStore) ExpiredMessages(ctx context.Context, now time.Time, limit int) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var expired []*domain.Message
	for _, m := range s.messages {
		if m.Expired(now) {
			expired = append(expired, m.Clone())
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return false, nil
	}
	delete(s.messages, id)
	delete(s.receipts, id)
	ids := s.roomMessages[m.RoomID]
	for i, mid := range ids {
		if mid == id {
			s.roomMessages[m.RoomID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return true, nil
}

// Relationships

func (s *MemoryStore) GetRelationship(ctx context.Context, from, to uuid.UUID) (*domain.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rel, ok := s.relationships[pairKey{from, to}]
	if !ok {
		return nil, fmt.Errorf("relationship: %w", domain.ErrNotFound)
	}
	c := *rel
	return &c, nil
}

func (s *MemoryStore) Block(ctx context.Context, from, to uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	key := pairKey{from, to}
	rel, ok := s.relationships[key]
	if !ok {
		s.relationships[key] = &domain.Relationship{
			ID:               uuid.New(),
			From:             from,
			To:               to,
			RelationshipType: domain.RelationshipBlock,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return nil
	}
	if rel.RelationshipType == domain.RelationshipBlock {
		return domain.ErrAlreadyBlocked
	}
	rel.RelationshipType = domain.RelationshipBlock
	rel.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Unblock(ctx context.Context, from, to uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{from, to}
	rel, ok := s.relationships[key]
	if !ok || rel.RelationshipType != domain.RelationshipBlock {
		return domain.ErrNotBlocked
	}
	if rel.RoomID == nil {
		delete(s.relationships, key)
		return nil
	}
	rel.RelationshipType = domain.RelationshipFriend
	rel.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) LinkRoom(ctx context.Context, from, to, roomID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	room := roomID
	key := pairKey{from, to}
	if rel, ok := s.relationships[key]; ok {
		rel.RoomID = &room
		rel.UpdatedAt = now
		return nil
	}
	s.relationships[key] = &domain.Relationship{
		ID:               uuid.New(),
		From:             from,
		To:               to,
		RelationshipType: domain.RelationshipFriend,
		RoomID:           &room,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return nil
}

func (s *MemoryStore) IsBlocked(ctx context.Context, a, b uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range []pairKey{{a, b}, {b, a}} {
		if rel, ok := s.relationships[key]; ok && rel.RelationshipType == domain.RelationshipBlock {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) BlockedBy(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for key, rel := range s.relationships {
		if key.from == userID && rel.RelationshipType == domain.RelationshipBlock {
			ids = append(ids, key.to)
		}
	}
	return ids, nil
}

func (s *MemoryStore) BlockersOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for key, rel := range s.relationships {
		if key.to == userID && rel.RelationshipType == domain.RelationshipBlock {
			ids = append(ids, key.from)
		}
	}
	return ids, nil
}

// Notifications

func (s *MemoryStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, cloneNotification(n))
	return nil
}

func (s *MemoryStore) NotificationsFor(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]*domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		for _, r := range n.Receivers {
			if r.UserID != userID {
				continue
			}
			if !unreadOnly || !r.Read {
				out = append(out, cloneNotification(n))
			}
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestNotification(ctx context.Context, senderID, receiverID uuid.UUID, notificationType domain.NotificationType) (*domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.SenderID == senderID && n.NotificationType == notificationType && n.HasReceiver(receiverID) {
			return cloneNotification(n), nil
		}
	}
	return nil, fmt.Errorf("notification: %w", domain.ErrNotFound)
}

func (s *MemoryStore) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.ID != id {
			continue
		}
		for i := range n.Receivers {
			if n.Receivers[i].UserID == userID {
				n.Receivers[i].Read = true
				return nil
			}
		}
		break
	}
	return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
}
