package relationship

import (
	"context"
	"errors"
	"fmt"

	"roomchat/internal/domain"
	"roomchat/internal/lockmap"
	"roomchat/internal/logger"
	"roomchat/internal/repository"

	"github.com/google/uuid"
)

type Store interface {
	repository.RelationshipRepository
	UsersByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error)
}

// Ledger owns the directed block/friend records between users.
type Ledger struct {
	store Store
	pairs *lockmap.Map
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, pairs: lockmap.New()}
}

func pairKey(from, to uuid.UUID) string {
	return from.String() + ">" + to.String()
}

func (l *Ledger) IsBlocked(ctx context.Context, a, b uuid.UUID) (bool, error) {
	blocked, err := l.store.IsBlocked(ctx, a, b)
	if err != nil {
		return false, fmt.Errorf("failed to check block: %w", err)
	}
	return blocked, nil
}

func (l *Ledger) Block(ctx context.Context, from, to uuid.UUID) error {
	if from == to {
		return fmt.Errorf("cannot block yourself: %w", domain.ErrInvalidPayload)
	}
	unlock := l.pairs.Lock(pairKey(from, to))
	defer unlock()

	if err := l.store.Block(ctx, from, to); err != nil {
		return err
	}
	logger.Info("user_blocked", "from", from, "to", to)
	return nil
}

func (l *Ledger) Unblock(ctx context.Context, from, to uuid.UUID) error {
	unlock := l.pairs.Lock(pairKey(from, to))
	defer unlock()

	if err := l.store.Unblock(ctx, from, to); err != nil {
		return err
	}
	logger.Info("user_unblocked", "from", from, "to", to)
	return nil
}

// ListBlockedBy returns the users userID has blocked.
func (l *Ledger) ListBlockedBy(ctx context.Context, userID uuid.UUID) ([]domain.User, error) {
	ids, err := l.store.BlockedBy(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked users: %w", err)
	}
	users, err := l.store.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocked users: %w", err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

// Hidden returns every user with a block record against userID in either
// direction.
func (l *Ledger) Hidden(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	blocked, err := l.store.BlockedBy(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked users: %w", err)
	}
	blockers, err := l.store.BlockersOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blockers: %w", err)
	}
	hidden := make(map[uuid.UUID]struct{}, len(blocked)+len(blockers))
	for _, id := range blocked {
		hidden[id] = struct{}{}
	}
	for _, id := range blockers {
		hidden[id] = struct{}{}
	}
	return hidden, nil
}

// Relationship returns the record between a and b, looking at a->b first.
func (l *Ledger) Relationship(ctx context.Context, a, b uuid.UUID) (*domain.Relationship, error) {
	rel, err := l.store.GetRelationship(ctx, a, b)
	if !errors.Is(err, domain.ErrNotFound) {
		return rel, err
	}
	return l.store.GetRelationship(ctx, b, a)
}

// LinkRoom records the direct room on both directed records.
func (l *Ledger) LinkRoom(ctx context.Context, a, b, roomID uuid.UUID) error {
	for _, p := range [][2]uuid.UUID{{a, b}, {b, a}} {
		unlock := l.pairs.Lock(pairKey(p[0], p[1]))
		err := l.store.LinkRoom(ctx, p[0], p[1], roomID)
		unlock()
		if err != nil {
			return fmt.Errorf("failed to link room: %w", err)
		}
	}
	return nil
}
