package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"roomchat/internal/domain"
	"roomchat/internal/logger"
	"roomchat/internal/metrics"
	"roomchat/internal/presence"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("fanout closed")

const deliverTimeout = 10 * time.Second

// Pusher delivers an encoded envelope to the live sessions of a user.
type Pusher interface {
	Push(ctx context.Context, userID uuid.UUID, data []byte) error
}

// Journal receives every published envelope.
type Journal interface {
	Append(ctx context.Context, data []byte) error
}

type Hider interface {
	Hidden(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]struct{}, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
}

// Envelope is the wire form of an event pushed to clients.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	RoomID    uuid.UUID       `json:"room_id"`
	RoomType  domain.RoomType `json:"room_type"`
	ActorID   uuid.UUID       `json:"actor_id"`
	Self      bool            `json:"self"`
	Payload   any             `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Options struct {
	// QueueSize bounds the backlog of a single room before Publish waits.
	QueueSize int
	SelfEcho  bool
}

type delivery struct {
	env     Envelope
	targets []uuid.UUID
}

type roomQueue struct {
	items []delivery
}

type Fanout struct {
	presence presence.Registry
	pusher   Pusher
	hider    Hider
	store    NotificationStore
	journal  Journal
	opts     Options

	mu       sync.Mutex
	cond     *sync.Cond
	queues   map[uuid.UUID]*roomQueue
	inflight sync.WaitGroup
	closed   bool
}

func New(registry presence.Registry, pusher Pusher, hider Hider, store NotificationStore, opts Options) *Fanout {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	f := &Fanout{
		presence: registry,
		pusher:   pusher,
		hider:    hider,
		store:    store,
		opts:     opts,
		queues:   make(map[uuid.UUID]*roomQueue),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// SetJournal attaches an event journal. Call before the first Publish.
func (f *Fanout) SetJournal(j Journal) {
	f.journal = j
}

// Publish computes the recipients of ev and queues it on the room's ordered
// queue. Callers that hold the room lock get deliveries in state order.
func (f *Fanout) Publish(ctx context.Context, ev domain.Event, room *domain.Room) error {
	targets, err := f.targets(ctx, ev, room)
	if err != nil {
		return err
	}
	d := delivery{
		env: Envelope{
			ID:        ev.ID,
			Type:      ev.Type,
			RoomID:    ev.RoomID,
			RoomType:  room.RoomType,
			ActorID:   ev.ActorID,
			Payload:   ev.Payload,
			CreatedAt: ev.CreatedAt,
		},
		targets: targets,
	}
	if err := f.enqueue(ev.RoomID, d); err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
	return nil
}

func (f *Fanout) targets(ctx context.Context, ev domain.Event, room *domain.Room) ([]uuid.UUID, error) {
	hidden := map[uuid.UUID]struct{}{}
	if ev.ActorID != uuid.Nil && f.hider != nil {
		h, err := f.hider.Hidden(ctx, ev.ActorID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve hidden users: %w", err)
		}
		hidden = h
	}
	targets := make([]uuid.UUID, 0, len(room.Members))
	for _, m := range room.Members {
		if m.UserID == ev.ActorID {
			continue
		}
		if _, ok := hidden[m.UserID]; ok {
			continue
		}
		targets = append(targets, m.UserID)
	}
	return targets, nil
}

func (f *Fanout) enqueue(roomID uuid.UUID, d delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.closed {
			return ErrClosed
		}
		q := f.queues[roomID]
		if q == nil {
			q = &roomQueue{}
			f.queues[roomID] = q
			go f.run(roomID, q)
		}
		if len(q.items) < f.opts.QueueSize {
			q.items = append(q.items, d)
			f.inflight.Add(1)
			return nil
		}
		f.cond.Wait()
	}
}

func (f *Fanout) run(roomID uuid.UUID, q *roomQueue) {
	for {
		f.mu.Lock()
		if len(q.items) == 0 {
			if f.queues[roomID] == q {
				delete(f.queues, roomID)
			}
			f.mu.Unlock()
			return
		}
		d := q.items[0]
		q.items[0] = delivery{}
		q.items = q.items[1:]
		f.cond.Broadcast()
		f.mu.Unlock()

		f.deliver(d)
		f.inflight.Done()
	}
}

func (f *Fanout) deliver(d delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	data, err := json.Marshal(d.env)
	if err != nil {
		logger.Error("fanout_marshal_failed", "event_id", d.env.ID, "error", err)
		return
	}

	var offline []uuid.UUID
	for _, userID := range d.targets {
		if f.pushLive(ctx, userID, data) {
			metrics.Deliveries.WithLabelValues(metrics.OutcomeLive).Inc()
			continue
		}
		offline = append(offline, userID)
	}

	if f.opts.SelfEcho && d.env.ActorID != uuid.Nil {
		self := d.env
		self.Self = true
		if selfData, err := json.Marshal(self); err == nil {
			f.pushLive(ctx, d.env.ActorID, selfData)
		}
	}

	if len(offline) > 0 {
		if err := f.RecordOffline(ctx, d.env, offline); err != nil {
			logger.Error("notification_record_failed", "event_id", d.env.ID, "error", err)
		}
	}

	if f.journal != nil {
		if err := f.journal.Append(ctx, data); err != nil {
			logger.Warn("journal_append_failed", "event_id", d.env.ID, "error", err)
		}
	}
}

// pushLive reports whether data reached at least one live session. Presence
// lookup failures count as offline.
func (f *Fanout) pushLive(ctx context.Context, userID uuid.UUID, data []byte) bool {
	online, err := presence.IsOnline(ctx, f.presence, userID)
	if err != nil {
		logger.Warn("presence_lookup_failed", "user_id", userID, "error", err)
		return false
	}
	if !online {
		return false
	}
	if err := f.pusher.Push(ctx, userID, data); err != nil {
		logger.Debug("live_push_failed", "user_id", userID, "error", err)
		return false
	}
	return true
}

// RecordOffline stores one Notification for env covering users. Event types
// that are not durable are counted as dropped.
func (f *Fanout) RecordOffline(ctx context.Context, env Envelope, users []uuid.UUID) error {
	if len(users) == 0 {
		return nil
	}
	if !domain.DurableEventType(env.Type) {
		metrics.Deliveries.WithLabelValues(metrics.OutcomeDropped).Add(float64(len(users)))
		return nil
	}

	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}
	kind := domain.NotificationRoom
	if env.RoomType == domain.RoomTypeDirect {
		kind = domain.NotificationPrivate
	}
	n := &domain.Notification{
		ID:               uuid.New(),
		SenderID:         env.ActorID,
		NotificationType: kind,
		RoomID:           env.RoomID,
		EventType:        env.Type,
		Payload:          payload,
		CreatedAt:        time.Now(),
	}
	for _, id := range users {
		n.Receivers = append(n.Receivers, domain.NotificationReceiver{UserID: id})
	}
	if err := f.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	metrics.Deliveries.WithLabelValues(metrics.OutcomeDurable).Add(float64(len(users)))
	return nil
}

// Flush waits until every queued delivery has been attempted.
func (f *Fanout) Flush() {
	f.inflight.Wait()
}

// Close rejects new events and drains the queues.
func (f *Fanout) Close() {
	f.mu.Lock()
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()
	f.inflight.Wait()
}
