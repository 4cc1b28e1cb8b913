package journal

import (
	"context"
	"errors"
	"fmt"

	"roomchat/internal/logger"

	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/amqp"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/stream"
)

// StreamJournal appends every published envelope to a RabbitMQ stream.
type StreamJournal struct {
	env      *stream.Environment
	producer *stream.Producer
	name     string
}

// Connect opens a stream environment and declares the stream if needed.
func Connect(uri, name string) (*stream.Environment, error) {
	env, err := stream.NewEnvironment(stream.NewEnvironmentOptions().SetUri(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to stream: %w", err)
	}
	err = env.DeclareStream(name, &stream.StreamOptions{})
	if err != nil && !errors.Is(err, stream.StreamAlreadyExists) {
		env.Close()
		return nil, fmt.Errorf("failed to declare stream %s: %w", name, err)
	}
	return env, nil
}

func Open(uri, name string) (*StreamJournal, error) {
	env, err := Connect(uri, name)
	if err != nil {
		return nil, err
	}
	producer, err := env.NewProducer(name, stream.NewProducerOptions())
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to create stream producer: %w", err)
	}
	logger.Info("journal_opened", "stream", name)
	return &StreamJournal{env: env, producer: producer, name: name}, nil
}

func (j *StreamJournal) Append(ctx context.Context, data []byte) error {
	if err := j.producer.Send(amqp.NewMessage(data)); err != nil {
		return fmt.Errorf("failed to publish to stream: %w", err)
	}
	return nil
}

func (j *StreamJournal) Close() error {
	if err := j.producer.Close(); err != nil {
		logger.Warn("journal_producer_close_failed", "stream", j.name, "error", err)
	}
	return j.env.Close()
}

// Tail consumes the stream and passes every record that matches filter to
// handle until ctx ends.
func Tail(ctx context.Context, env *stream.Environment, name string, fromStart bool, filter Filter, handle func(Record)) error {
	offset := stream.OffsetSpecification{}.Next()
	if fromStart {
		offset = stream.OffsetSpecification{}.First()
	}

	consumer, err := env.NewConsumer(
		name,
		func(consumerContext stream.ConsumerContext, message *amqp.Message) {
			rec, err := Decode(message.GetData())
			if err != nil {
				logger.Warn("journal_record_skipped", "error", err)
				return
			}
			if filter.Match(rec) {
				handle(rec)
			}
		},
		stream.NewConsumerOptions().SetOffset(offset),
	)
	if err != nil {
		return fmt.Errorf("failed to start stream consumer: %w", err)
	}
	defer consumer.Close()

	logger.Info("journal_tail_started", "stream", name, "from_start", fromStart)
	<-ctx.Done()
	return nil
}
