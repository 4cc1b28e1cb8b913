package message

import (
	"context"
	"fmt"
	"time"

	"roomchat/internal/domain"

	"github.com/google/uuid"
)

// track applies a recipient's status. Direct rooms share one status on the
// message; group rooms keep a receipt per recipient and fold them into the
// message status.
func (s *Service) track(ctx context.Context, room *domain.Room, msg *domain.Message, recipient uuid.UUID, status domain.MessageStatus, at time.Time) (bool, error) {
	if room.RoomType == domain.RoomTypeDirect {
		changed, err := s.store.AdvanceStatus(ctx, msg.ID, status, at)
		if err != nil {
			return false, fmt.Errorf("failed to advance status: %w", err)
		}
		return changed, nil
	}

	changed, err := s.store.AdvanceReceipt(ctx, msg.ID, recipient, status, at)
	if err != nil {
		return false, fmt.Errorf("failed to advance receipt: %w", err)
	}
	if !changed {
		return false, nil
	}

	receipts, err := s.store.Receipts(ctx, msg.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load receipts: %w", err)
	}
	aggregate := Aggregate(recipientsOf(room, msg.SenderID), receipts)
	if msg.Status.Advances(aggregate) {
		if _, err := s.store.AdvanceStatus(ctx, msg.ID, aggregate, at); err != nil {
			return false, fmt.Errorf("failed to advance status: %w", err)
		}
	}
	return true, nil
}

func recipientsOf(room *domain.Room, sender uuid.UUID) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(room.Members))
	for _, m := range room.Members {
		if m.UserID != sender {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

// Aggregate folds per-recipient receipts into a message status: seen once
// every recipient has seen it, delivered once any recipient got it.
// Recipients without a receipt count as sent.
func Aggregate(recipients []uuid.UUID, receipts []domain.Receipt) domain.MessageStatus {
	if len(recipients) == 0 {
		return domain.StatusSent
	}
	byUser := make(map[uuid.UUID]domain.MessageStatus, len(receipts))
	for _, rc := range receipts {
		byUser[rc.UserID] = rc.Status
	}

	allSeen, anyDelivered := true, false
	for _, id := range recipients {
		st, ok := byUser[id]
		if !ok {
			st = domain.StatusSent
		}
		if st != domain.StatusSeen {
			allSeen = false
		}
		if st.Rank() >= domain.StatusDelivered.Rank() {
			anyDelivered = true
		}
	}
	switch {
	case allSeen:
		return domain.StatusSeen
	case anyDelivered:
		return domain.StatusDelivered
	}
	return domain.StatusSent
}
