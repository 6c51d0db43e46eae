package broker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/foodorder/pkg/metrics"
	"github.com/xenking/foodorder/pkg/tracing"
)

// Handler processes one message. A nil error acknowledges it. Errors wrapped
// with Poison are not retried.
type Handler func(ctx context.Context, msg kafka.Message) error

// Poison marks err as permanent: the message is skipped without retry.
func Poison(err error) error {
	return backoff.Permanent(err)
}

// Deduper remembers processed message positions.
type Deduper interface {
	Key(topic string, partition int, offset int64) string
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig configures the consumer group runner.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// Workers is the number of group members run by this process.
	Workers int
	// ProcessTimeout bounds each handler attempt.
	ProcessTimeout time.Duration
	// MaxAttempts bounds handler attempts per message.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	return c
}

// Consumer runs Workers readers of one consumer group and feeds messages to
// a Handler. Offsets are committed after the handler succeeds or after the
// message is given up as poison; a message interrupted by shutdown is left
// uncommitted and redelivered.
type Consumer struct {
	cfg       ConsumerConfig
	newReader func(worker int) messageReader
	handle    Handler
	dedup     Deduper
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	lg        *zap.Logger
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithDeduper skips messages whose position was already processed.
func WithDeduper(d Deduper) ConsumerOption {
	return func(c *Consumer) { c.dedup = d }
}

// WithMetrics records poison and redelivered messages.
func WithMetrics(m *metrics.Metrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

// NewConsumer creates a Consumer reading cfg.Topic as cfg.GroupID.
func NewConsumer(cfg ConsumerConfig, handle Handler, tracer trace.Tracer, lg *zap.Logger, opts ...ConsumerOption) *Consumer {
	cfg = cfg.withDefaults()
	newReader := func(int) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			Topic:       cfg.Topic,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     500 * time.Millisecond,
			StartOffset: kafka.FirstOffset,
		})
	}
	return newConsumer(cfg, newReader, handle, tracer, lg, opts...)
}

func newConsumer(cfg ConsumerConfig, newReader func(int) messageReader, handle Handler, tracer trace.Tracer, lg *zap.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		cfg:       cfg.withDefaults(),
		newReader: newReader,
		handle:    handle,
		tracer:    tracer,
		lg:        lg,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run blocks until ctx is done or a reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.lg.Info("Starting consumer",
		zap.String("topic", c.cfg.Topic),
		zap.String("group", c.cfg.GroupID),
		zap.Int("workers", c.cfg.Workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return c.work(gctx, worker)
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Consumer) work(ctx context.Context, worker int) error {
	r := c.newReader(worker)
	defer func() {
		if err := r.Close(); err != nil {
			c.lg.Warn("Close reader", zap.Int("worker", worker), zap.Error(err))
		}
	}()

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrapf(err, "worker %d: fetch", worker)
		}
		if err := c.process(ctx, r, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrapf(err, "worker %d: commit", worker)
		}
	}
}

func (c *Consumer) process(ctx context.Context, r messageReader, msg kafka.Message) error {
	lg := c.lg.With(
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.ByteString("key", msg.Key),
	)

	var idemKey string
	if c.dedup != nil {
		idemKey = c.dedup.Key(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.dedup.Seen(ctx, idemKey)
		switch {
		case err != nil:
			lg.Warn("Idempotency check failed, processing anyway", zap.Error(err))
		case seen:
			lg.Debug("Skipping processed message")
			c.metrics.PaymentEvent("redelivered")
			return r.CommitMessages(ctx, msg)
		}
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "broker.Consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
	defer span.End()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialBackoff
	policy.MaxInterval = c.cfg.MaxBackoff
	policy.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		hctx, cancel := context.WithTimeout(msgCtx, c.cfg.ProcessTimeout)
		defer cancel()

		err := c.handle(hctx, msg)
		if err != nil && ctx.Err() == nil {
			lg.Warn("Handle message failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.MaxAttempts-1)), ctx))

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "poison")
		lg.Error("Skipping poison message", zap.Int("attempts", attempt), zap.Error(err))
		c.metrics.PaymentEvent("poison")
	} else if idemKey != "" {
		if err := c.dedup.Mark(ctx, idemKey); err != nil {
			lg.Warn("Mark message processed failed", zap.Error(err))
		}
	}

	return r.CommitMessages(ctx, msg)
}
