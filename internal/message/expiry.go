package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roomchat/internal/domain"
	"roomchat/internal/logger"
	"roomchat/internal/metrics"

	"github.com/google/uuid"
)

const sweepBatch = 500

func (s *Service) schedule(msg *domain.Message) {
	at, ok := msg.ExpiresAt()
	if !ok {
		return
	}
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	id, roomID := msg.ID, msg.RoomID

	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	s.timers[id] = s.afterFunc(delay, func() {
		if _, err := s.Expire(context.Background(), id, roomID); err != nil {
			logger.Error("message_expiry_failed", "message_id", id, "error", err)
		}
	})
}

// Expire deletes an ephemeral message and tells the room. A message that is
// already gone, or whose room was deleted, is not an error.
func (s *Service) Expire(ctx context.Context, messageID, roomID uuid.UUID) (bool, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	s.timersMu.Lock()
	delete(s.timers, messageID)
	s.timersMu.Unlock()

	deleted, err := s.store.DeleteMessage(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to delete expired message: %w", err)
	}
	if !deleted {
		return false, nil
	}
	metrics.MessagesExpired.Inc()
	logger.Debug("message_expired", "message_id", messageID, "room_id", roomID)

	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("failed to load room: %w", err)
	}
	s.publish(ctx, domain.NewEvent(domain.EventTypeMessageExpired, roomID, uuid.Nil, domain.MessageRef{MessageID: messageID}), room)
	return true, nil
}

// Sweep expires every stored message past its lifetime. It recovers
// messages whose timers were lost to a restart.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	total := 0
	for {
		expired, err := s.store.ExpiredMessages(ctx, s.now(), sweepBatch)
		if err != nil {
			return total, fmt.Errorf("failed to list expired messages: %w", err)
		}
		removed := 0
		for _, msg := range expired {
			ok, err := s.Expire(ctx, msg.ID, msg.RoomID)
			if err != nil {
				return total, err
			}
			if ok {
				removed++
			}
		}
		total += removed
		if len(expired) < sweepBatch || removed == 0 {
			return total, nil
		}
	}
}

// RunSweeper sweeps once immediately and then every interval until ctx ends.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := s.Sweep(ctx); err != nil {
			logger.Error("expiry_sweep_failed", "error", err)
		} else if n > 0 {
			logger.Info("expiry_sweep", "removed", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
