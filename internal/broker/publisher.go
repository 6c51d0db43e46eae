// Package broker moves payment events through Kafka.
package broker

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/foodorder/internal/domain/payment"
	"github.com/xenking/foodorder/pkg/tracing"
)

// EventTypeHeader carries the payment event type next to the payload.
const EventTypeHeader = "event_type"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ payment.Publisher = (*Publisher)(nil)

// Publisher writes payment events keyed by order id, so every event of one
// order lands on the same partition.
type Publisher struct {
	w      messageWriter
	topic  string
	tracer trace.Tracer
}

// NewPublisher returns a Publisher writing to topic on brokers.
func NewPublisher(brokers []string, topic string, tracer trace.Tracer) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &Publisher{w: w, topic: topic, tracer: tracer}
}

// Publish encodes e and writes it synchronously.
func (p *Publisher) Publish(ctx context.Context, e payment.Event) error {
	ctx, span := p.tracer.Start(ctx, "broker.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", p.topic),
			attribute.String("order_id", e.OrderID),
			attribute.String("event_type", string(e.Type)),
		),
	)
	defer span.End()

	value, err := e.MarshalJSON()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		return errors.Wrap(err, "encode event")
	}

	msg := kafka.Message{
		Key:   []byte(e.OrderID),
		Value: value,
		Time:  e.OccurredAt,
		Headers: tracing.InjectKafkaHeaders(ctx, []kafka.Header{
			{Key: EventTypeHeader, Value: []byte(e.Type)},
		}),
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write")
		return errors.Wrapf(err, "write event %s for order %s", e.Type, e.OrderID)
	}
	return nil
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	return p.w.Close()
}
