package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/carelink/apptpipeline/libs/kafkax"
	"github.com/carelink/apptpipeline/libs/topology"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store interface {
	FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id int64, cause string) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type RelayConfig struct {
	PollEvery time.Duration `env:"OUTBOX_POLL_INTERVAL" env-default:"2s"`
	BatchSize int           `env:"OUTBOX_BATCH_SIZE" env-default:"50"`
}

// Relay moves committed outbox rows onto the broker. Rows stay in the table
// until a write succeeds, so a broker outage only delays delivery.
type Relay struct {
	db        TxBeginner
	store     Store
	writer    MessageWriter
	topology  topology.Config
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
	declare   func(context.Context) error
}

func NewRelay(db TxBeginner, store Store, writer MessageWriter, topo topology.Config, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Relay{
		db:        db,
		store:     store,
		writer:    writer,
		topology:  topo,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// RetryDeclare makes the relay call fn before each poll until it succeeds.
// No rows are published while fn keeps failing.
func (p *Relay) RetryDeclare(fn func(context.Context) error) *Relay {
	p.declare = fn
	return p
}

func (p *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Relay) tick(ctx context.Context) {
	if p.declare != nil {
		if err := p.declare(ctx); err != nil {
			p.logger.Error("topology declare failed", "err", err)
			return
		}
		p.logger.Info("topology declared")
		p.declare = nil
	}
	n, err := p.publishBatch(ctx)
	if err != nil {
		p.logger.Error("outbox publish failed", "err", err, "published", n)
	}
}

// publishBatch publishes rows in id order and stops at the first failed
// write, so later events of the same appointment on the same topic never
// overtake it. CREATED and UPDATED live on different topics and carry no
// ordering between them.
func (p *Relay) publishBatch(ctx context.Context) (int, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.store.FetchUnpublished(ctx, tx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, tx.Commit(ctx)
	}

	var (
		ids      []int64
		writeErr error
	)
	for _, r := range records {
		if err := p.writer.WriteMessages(ctx, p.message(ctx, r)); err != nil {
			writeErr = err
			p.logger.Warn("outbox write failed",
				"event_id", r.EventID,
				"routing_key", r.RoutingKey,
				"attempts", r.Attempts+1,
				"err", err,
			)
			if err := p.store.MarkFailed(ctx, tx, r.ID, err.Error()); err != nil {
				return 0, err
			}
			break
		}
		ids = append(ids, r.ID)
	}

	if err := p.store.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(ids), writeErr
}

func (p *Relay) message(ctx context.Context, r Record) kafka.Message {
	msgCtx := r.Trace.Context(ctx)
	meta := kafkax.EventMeta{EventID: r.EventID, EventType: r.EventType}
	return kafka.Message{
		Topic:   p.topology.TopicFor(r.RoutingKey),
		Key:     []byte(r.AggregateID),
		Value:   r.Payload,
		Headers: kafkax.InjectTraceHeaders(msgCtx, meta.Headers()),
	}
}
