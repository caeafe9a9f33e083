// Package queue carries wishlist analytics events over Kafka so that the
// request path never blocks on counter updates.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/alexnthnz/wishlist-pipeline/internal/analytics"
	"github.com/alexnthnz/wishlist-pipeline/internal/config"
)

// EventMessage represents a tracked analytics event on the wire
type EventMessage struct {
	ProductID   int64               `json:"product_id"`
	VariationID int64               `json:"variation_id"`
	Event       analytics.EventType `json:"event"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// Key returns the analytics row the event applies to
func (m EventMessage) Key() analytics.Key {
	return analytics.Key{ProductID: m.ProductID, VariationID: m.VariationID}
}

// Producer handles publishing events to Kafka
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// Consumer handles consuming events from Kafka
type Consumer struct {
	reader *kafka.Reader
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	return &Producer{writer: writer, logger: logger}
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg config.KafkaConfig, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
		StartOffset: kafka.FirstOffset,
	})

	return &Consumer{reader: reader, logger: logger}
}

// encodeEvent builds the Kafka message for an event. Events for the same
// product variation share a key and therefore a partition.
func encodeEvent(msg EventMessage) (kafka.Message, error) {
	if _, err := analytics.ParseEventType(string(msg.Event)); err != nil {
		return kafka.Message{}, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event message: %w", err)
	}
	return kafka.Message{
		Key:   []byte(msg.Key().String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(uuid.NewString())},
			{Key: "event", Value: []byte(msg.Event)},
			{Key: "product_id", Value: []byte(strconv.FormatInt(msg.ProductID, 10))},
		},
		Time: msg.OccurredAt,
	}, nil
}

func decodeEvent(m kafka.Message) (EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return msg, fmt.Errorf("failed to unmarshal event message: %w", err)
	}
	if _, err := analytics.ParseEventType(string(msg.Event)); err != nil {
		return msg, err
	}
	return msg, nil
}

// PublishEvent publishes an analytics event to Kafka
func (p *Producer) PublishEvent(ctx context.Context, msg EventMessage) error {
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}
	kafkaMsg, err := encodeEvent(msg)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsg); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	p.logger.Debug("Published event", zap.String("key", msg.Key().String()), zap.String("event", string(msg.Event)))
	return nil
}

// ConsumeEvents reads events until ctx is cancelled. Undecodable messages and
// handler failures are logged and skipped.
func (c *Consumer) ConsumeEvents(ctx context.Context, handler func(context.Context, EventMessage) error) error {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return err
			}
			c.logger.Error("Error reading message from Kafka", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		msg, err := decodeEvent(m)
		if err != nil {
			c.logger.Warn("Dropping malformed event", zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}

		if err := handler(ctx, msg); err != nil {
			c.logger.Error("Error processing event",
				zap.String("key", msg.Key().String()),
				zap.String("event", string(msg.Event)),
				zap.Error(err),
			)
		}
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
