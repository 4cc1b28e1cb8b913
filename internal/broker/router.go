package broker

import (
	"context"

	"github.com/google/uuid"
)

// Publisher is the part of RabbitMQClient the router needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// UserRouter pushes encoded envelopes to the user's queue, wherever the
// user's sessions live. Events that sit in the queue past its TTL reach the
// push worker instead.
type UserRouter struct {
	pub Publisher
}

func NewUserRouter(pub Publisher) *UserRouter {
	return &UserRouter{pub: pub}
}

func (r *UserRouter) Push(ctx context.Context, userID uuid.UUID, data []byte) error {
	return r.pub.Publish(ctx, UserRoutingKey(userID), data)
}
