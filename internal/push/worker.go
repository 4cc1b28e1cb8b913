package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"roomchat/internal/broker"
	"roomchat/internal/fanout"
	"roomchat/internal/logger"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const recordTimeout = 10 * time.Second

// Source yields dead-lettered deliveries.
type Source interface {
	ConsumePushQueue() (<-chan amqp.Delivery, error)
}

// Recorder stores durable notifications for offline users.
type Recorder interface {
	RecordOffline(ctx context.Context, env fanout.Envelope, users []uuid.UUID) error
}

// Worker turns events that expired in a user queue into notifications. An
// expired event means the user went offline before it was consumed.
type Worker struct {
	source   Source
	recorder Recorder
}

func NewWorker(source Source, recorder Recorder) *Worker {
	return &Worker{
		source:   source,
		recorder: recorder,
	}
}

// Start consumes until ctx ends or the delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	msgs, err := w.source.ConsumePushQueue()
	if err != nil {
		return fmt.Errorf("failed to start push consumer: %w", err)
	}
	logger.Info("push_worker_started", "queue", broker.PushQueue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	userID, err := recipientOf(d)
	if err != nil {
		logger.Warn("push_skipped", "error", err)
		d.Ack(false)
		return
	}

	var env fanout.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		logger.Warn("push_skipped", "user_id", userID, "error", fmt.Errorf("failed to unmarshal envelope: %w", err))
		d.Ack(false)
		return
	}
	// self echoes only matter to live sessions
	if env.Self {
		d.Ack(false)
		return
	}

	rctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	if err := w.recorder.RecordOffline(rctx, env, []uuid.UUID{userID}); err != nil {
		logger.Error("push_record_failed", "user_id", userID, "event_id", env.ID, "error", err)
		d.Nack(false, true)
		return
	}
	logger.Debug("push_recorded", "user_id", userID, "event", env.Type, "event_id", env.ID)
	d.Ack(false)
}

// recipientOf finds the user whose queue the delivery expired in. The
// dead-letter hop keeps the original routing key, with x-death as a fallback.
func recipientOf(d amqp.Delivery) (uuid.UUID, error) {
	if id, err := broker.UserFromRoutingKey(d.RoutingKey); err == nil {
		return id, nil
	}
	if deaths, ok := d.Headers["x-death"].([]interface{}); ok && len(deaths) > 0 {
		if death, ok := deaths[0].(amqp.Table); ok {
			if keys, ok := death["routing-keys"].([]interface{}); ok && len(keys) > 0 {
				if key, ok := keys[0].(string); ok {
					return broker.UserFromRoutingKey(key)
				}
			}
		}
	}
	return uuid.Nil, fmt.Errorf("invalid routing key %q", d.RoutingKey)
}
