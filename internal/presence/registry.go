package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one live client connection of a user on a node.
type Session struct {
	ID          string    `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	NodeID      string    `json:"node_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Registry tracks which users currently have live sessions. A user may hold
// several sessions at once.
type Registry interface {
	Register(ctx context.Context, s Session) error
	Unregister(ctx context.Context, sessionID string) error
	SessionsFor(ctx context.Context, userID uuid.UUID) ([]Session, error)
}

// IsOnline reports whether userID has at least one live session.
func IsOnline(ctx context.Context, r Registry, userID uuid.UUID) (bool, error) {
	sessions, err := r.SessionsFor(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(sessions) > 0, nil
}

type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	byUser   map[uuid.UUID]map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		sessions: make(map[string]Session),
		byUser:   make(map[uuid.UUID]map[string]struct{}),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ConnectedAt.IsZero() {
		s.ConnectedAt = time.Now()
	}
	if prev, ok := r.sessions[s.ID]; ok && prev.UserID != s.UserID {
		r.drop(prev)
	}
	r.sessions[s.ID] = s
	ids, ok := r.byUser[s.UserID]
	if !ok {
		ids = make(map[string]struct{})
		r.byUser[s.UserID] = ids
	}
	ids[s.ID] = struct{}{}
	return nil
}

func (r *MemoryRegistry) Unregister(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		r.drop(s)
	}
	return nil
}

func (r *MemoryRegistry) drop(s Session) {
	delete(r.sessions, s.ID)
	if ids, ok := r.byUser[s.UserID]; ok {
		delete(ids, s.ID)
		if len(ids) == 0 {
			delete(r.byUser, s.UserID)
		}
	}
}

func (r *MemoryRegistry) SessionsFor(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byUser[userID]
	out := make([]Session, 0, len(ids))
	for id := range ids {
		out = append(out, r.sessions[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
