package consumer

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/carelink/apptpipeline/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderDLQReason      = "dlq_reason"
	HeaderDLQAttempts    = "dlq_attempts"
	HeaderDLQSourceTopic = "dlq_source_topic"
	HeaderDLQError       = "dlq_error"

	maxBackoff = 30 * time.Second
)

type Handler func(ctx context.Context, msg kafka.Message) Result

// Reader is the subset of *kafka.Reader the loop needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer is the subset of *kafka.Writer used for dead-lettering.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Settings are the env-driven knobs shared by every consumer.
type Settings struct {
	Concurrency    int           `env:"CONSUMER_CONCURRENCY" env-default:"1"`
	MaxAttempts    int           `env:"CONSUMER_MAX_ATTEMPTS" env-default:"5"`
	Backoff        time.Duration `env:"CONSUMER_BACKOFF" env-default:"500ms"`
	HandlerTimeout time.Duration `env:"CONSUMER_HANDLER_TIMEOUT" env-default:"10s"`
}

type Config struct {
	Brokers         []string
	GroupID         string
	Topic           string
	DeadLetterTopic string
	Settings
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 10 * time.Second
	}
	return c
}

type Consumer struct {
	cfg       Config
	logger    *slog.Logger
	handler   Handler
	newReader func() Reader
	dlq       Writer
}

func New(logger *slog.Logger, cfg Config, handler Handler) *Consumer {
	cfg = cfg.withDefaults()
	newReader := func() Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
	return newConsumer(logger, cfg, handler, newReader, kafkax.NewWriter(cfg.Brokers))
}

func newConsumer(logger *slog.Logger, cfg Config, handler Handler, newReader func() Reader, dlq Writer) *Consumer {
	return &Consumer{
		cfg:       cfg.withDefaults(),
		logger:    logger.With("topic", cfg.Topic, "group_id", cfg.GroupID),
		handler:   handler,
		newReader: newReader,
		dlq:       dlq,
	}
}

// Run starts Concurrency listeners, each with its own group member, and
// blocks until ctx is cancelled and all of them have stopped.
func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			c.listen(ctx, c.newReader(), worker)
		}(i)
	}
	wg.Wait()
	if err := c.dlq.Close(); err != nil {
		c.logger.Error("dlq writer close failed", "err", err)
	}
}

func (c *Consumer) listen(ctx context.Context, r Reader, worker int) {
	defer r.Close()
	logger := c.logger.With("worker", worker)

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("kafka fetch error", "err", err)
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}
		c.process(ctx, r, msg)
	}
}

// process applies msg until the policy allows its offset to be committed.
// On shutdown mid-retry the offset is left uncommitted and the message is
// delivered again to the next group member.
func (c *Consumer) process(ctx context.Context, r Reader, msg kafka.Message) {
	meta := kafkax.ExtractEventMeta(msg)
	logger := c.logger.With(
		"event_id", meta.EventID,
		"event_type", meta.EventType,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)

	for attempt := 1; ; attempt++ {
		res := c.apply(ctx, msg, attempt)

		switch Decide(res, attempt, c.cfg.MaxAttempts) {
		case ActionCommit:
			if res.Reason != "" {
				logger.Info("message skipped", "reason", res.Reason, "attempt", attempt)
			}
			c.commit(ctx, r, msg, logger)
			return

		case ActionRedeliver:
			logger.Warn("message apply failed, retrying", "attempt", attempt, "err", res.Err)
			if !sleep(ctx, c.backoff(attempt)) {
				return
			}

		case ActionDeadLetter:
			logger.Error("message dead-lettered",
				"reason", res.Reason,
				"attempt", attempt,
				"dlq_topic", c.cfg.DeadLetterTopic,
				"err", res.Err,
			)
			if !c.deadLetter(ctx, msg, res, attempt, logger) {
				return
			}
			c.commit(ctx, r, msg, logger)
			return
		}
	}
}

func (c *Consumer) apply(ctx context.Context, msg kafka.Message, attempt int) Result {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.kafka.consumer.group", c.cfg.GroupID),
			attribute.Int("messaging.delivery.attempt", attempt),
		),
	)
	defer span.End()

	ctxApply, cancel := context.WithTimeout(ctxSpan, c.cfg.HandlerTimeout)
	defer cancel()

	res := c.handler(ctxApply, msg)
	if res.Kind == KindRetry && res.Err == nil && ctxApply.Err() != nil {
		res.Err = ctxApply.Err()
	}
	span.SetAttributes(attribute.String("messaging.result", res.Kind.String()))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	return res
}

// deadLetter writes msg to the dead-letter topic, retrying the write until
// it succeeds or ctx ends. It reports whether the write happened.
func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, res Result, attempt int, logger *slog.Logger) bool {
	if c.cfg.DeadLetterTopic == "" {
		logger.Error("no dead-letter topic configured, dropping message")
		return true
	}

	headers := append([]kafka.Header(nil), msg.Headers...)
	headers = kafkax.SetHeader(headers, HeaderDLQReason, res.Reason)
	headers = kafkax.SetHeader(headers, HeaderDLQAttempts, strconv.Itoa(attempt))
	headers = kafkax.SetHeader(headers, HeaderDLQSourceTopic, msg.Topic)
	if res.Err != nil {
		headers = kafkax.SetHeader(headers, HeaderDLQError, res.Err.Error())
	}
	out := kafka.Message{
		Topic:   c.cfg.DeadLetterTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}

	for try := 1; ; try++ {
		err := c.dlq.WriteMessages(ctx, out)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		logger.Error("dlq write failed", "err", err, "try", try)
		if !sleep(ctx, c.backoff(try)) {
			return false
		}
	}
}

func (c *Consumer) commit(ctx context.Context, r Reader, msg kafka.Message, logger *slog.Logger) {
	// The effect already happened; finish the commit even if shutdown began.
	ctxCommit, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.CommitMessages(ctxCommit, msg); err != nil {
		logger.Error("kafka commit failed", "err", err)
	}
}

func (c *Consumer) backoff(attempt int) time.Duration {
	d := c.cfg.Backoff
	if d <= 0 {
		return 0
	}
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
