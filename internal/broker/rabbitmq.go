package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"roomchat/internal/logger"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeTopic = "chat.topic"
	ExchangePush  = "chat.push"

	PushQueue = "push_notifications_dlx"

	userKeyPrefix = "user."
)

// Options tune the per-user delivery queues.
type Options struct {
	// MessageTTL is how long an event waits for a consumer before it is
	// dead-lettered to the push exchange.
	MessageTTL time.Duration
	// QueueExpiry removes a user queue that has had no consumer for this long.
	QueueExpiry time.Duration
}

func (o Options) withDefaults() Options {
	if o.MessageTTL <= 0 {
		o.MessageTTL = 5 * time.Second
	}
	if o.QueueExpiry <= 0 {
		o.QueueExpiry = 60 * time.Second
	}
	return o
}

type RabbitMQClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	opts    Options

	// amqp channels are not safe for concurrent publishes
	pubMu sync.Mutex
}

func NewRabbitMQClient(url string, opts Options) (*RabbitMQClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// topic exchange routes events to user.<id> queues
	if err := ch.ExchangeDeclare(ExchangeTopic, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare topic exchange: %w", err)
	}
	// dead-letter exchange for events nobody consumed in time
	if err := ch.ExchangeDeclare(ExchangePush, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare push exchange: %w", err)
	}

	return &RabbitMQClient{
		conn:    conn,
		channel: ch,
		opts:    opts.withDefaults(),
	}, nil
}

// UserRoutingKey is the topic routing key of a user's delivery queue.
func UserRoutingKey(userID uuid.UUID) string {
	return userKeyPrefix + userID.String()
}

// UserFromRoutingKey parses a key built by UserRoutingKey.
func UserFromRoutingKey(key string) (uuid.UUID, error) {
	if !strings.HasPrefix(key, userKeyPrefix) {
		return uuid.Nil, fmt.Errorf("routing key %q is not a user key", key)
	}
	id, err := uuid.Parse(strings.TrimPrefix(key, userKeyPrefix))
	if err != nil {
		return uuid.Nil, fmt.Errorf("routing key %q: %w", key, err)
	}
	return id, nil
}

func (c *RabbitMQClient) Publish(ctx context.Context, routingKey string, body []byte) error {
	return c.PublishToExchange(ctx, ExchangeTopic, routingKey, body)
}

func (c *RabbitMQClient) PublishToExchange(ctx context.Context, exchange, routingKey string, body []byte) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	err := c.channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s/%s: %w", exchange, routingKey, err)
	}
	return nil
}

func (c *RabbitMQClient) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// ConsumeUserQueue declares the user's queue with TTL and dead-lettering and
// consumes it. Cancelling leaves the queue in place, so undelivered events
// expire into the push exchange.
func (c *RabbitMQClient) ConsumeUserQueue(userID uuid.UUID) (<-chan amqp.Delivery, func(), error) {
	queueName := UserRoutingKey(userID)

	args := amqp.Table{
		"x-message-ttl":          int32(c.opts.MessageTTL / time.Millisecond),
		"x-dead-letter-exchange": ExchangePush,
		"x-expires":              int32(c.opts.QueueExpiry / time.Millisecond),
	}

	// one shared queue per user; sessions on several nodes compete for it
	q, err := c.channel.QueueDeclare(queueName, false, false, false, false, args)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to declare user queue: %w", err)
	}
	if err := c.channel.QueueBind(q.Name, UserRoutingKey(userID), ExchangeTopic, false, nil); err != nil {
		return nil, nil, fmt.Errorf("failed to bind user queue: %w", err)
	}

	consumerTag := fmt.Sprintf("consumer-%s-%s", userID, uuid.NewString()[:8])
	msgs, err := c.channel.Consume(q.Name, consumerTag, true, false, false, false, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	cancel := func() {
		if err := c.channel.Cancel(consumerTag, false); err != nil {
			logger.Warn("user_queue_cancel_failed", "user_id", userID, "error", err)
		}
	}
	return msgs, cancel, nil
}

// Subscribe streams the bodies of the user's queue.
func (c *RabbitMQClient) Subscribe(userID uuid.UUID) (<-chan []byte, func(), error) {
	deliveries, cancel, err := c.ConsumeUserQueue(userID)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for d := range deliveries {
			out <- d.Body
		}
	}()
	return out, cancel, nil
}

// ConsumePushQueue consumes everything dead-lettered to the push exchange.
// Deliveries must be acked.
func (c *RabbitMQClient) ConsumePushQueue() (<-chan amqp.Delivery, error) {
	q, err := c.channel.QueueDeclare(PushQueue, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare push queue: %w", err)
	}
	if err := c.channel.QueueBind(q.Name, "#", ExchangePush, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind push queue: %w", err)
	}
	return c.channel.Consume(q.Name, "", false, false, false, false, nil)
}
