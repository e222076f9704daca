package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
)

const headerEventType = "event_type"

// LogSink writes every event to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (sink *LogSink) Name() string { return "log" }

func (sink *LogSink) Deliver(_ context.Context, event ledger.Event) error {
	sink.logger.Info("event",
		zap.String("kind", string(event.Kind)),
		zap.String("account_id", event.AccountID),
		zap.String("order_id", event.OrderID),
		zap.String("previous_status", event.PreviousStatus),
		zap.String("new_status", event.NewStatus),
		zap.Int64("amount", event.Amount),
		zap.String("transaction_id", event.TransactionID),
		zap.Time("occurred_at", event.OccurredAt),
	)
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// KafkaSink publishes envelopes keyed by account id, so one account's events stay
// ordered within a partition.
type KafkaSink struct {
	writer   messageWriter
	producer string
}

// NewKafkaSink returns a KafkaSink writing to topic.
func NewKafkaSink(brokers []string, topic string, producer string) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka sink requires brokers and a topic")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaSink{writer: writer, producer: producer}, nil
}

func (sink *KafkaSink) Name() string { return "kafka" }

func (sink *KafkaSink) Deliver(ctx context.Context, event ledger.Event) error {
	value, err := MarshalEnvelope(sink.producer, event)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return sink.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.AccountID),
		Value:   value,
		Time:    event.OccurredAt,
		Headers: []kafka.Header{{Key: headerEventType, Value: []byte(event.Kind)}},
	})
}

// Close flushes and closes the writer.
func (sink *KafkaSink) Close() error {
	return sink.writer.Close()
}

type channelPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes envelopes on a pub/sub channel.
type RedisSink struct {
	client   channelPublisher
	channel  string
	producer string
}

// NewRedisSink returns a RedisSink publishing on channel.
func NewRedisSink(client *redis.Client, channel string, producer string) (*RedisSink, error) {
	if client == nil || channel == "" {
		return nil, errors.New("redis sink requires a client and a channel")
	}
	return &RedisSink{client: client, channel: channel, producer: producer}, nil
}

func (sink *RedisSink) Name() string { return "redis" }

func (sink *RedisSink) Deliver(ctx context.Context, event ledger.Event) error {
	value, err := MarshalEnvelope(sink.producer, event)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return sink.client.Publish(ctx, sink.channel, value).Err()
}

// Close releases the underlying client when it owns one.
func (sink *RedisSink) Close() error {
	if closer, ok := sink.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
