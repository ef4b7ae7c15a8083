package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"unify/internal/domain"
	"unify/internal/identity"
	"unify/internal/platform/config"
)

var consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "unify_events_consumed_total",
	Help: "Records consumed from the event topic, by outcome",
}, []string{"outcome"})

// Handler resolves one normalized event. Implemented by the identity
// resolver.
type Handler interface {
	Resolve(ctx context.Context, event domain.IdentityEvent) (domain.MergeDecision, error)
}

// DeadLetterer parks records the pipeline can never process. Implemented by
// the Producer.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, original []byte, class, detail string) error
}

// Consumer drives the resolution pipeline from the normalized event topic.
// Records are keyed by merge key upstream, so processing one partition
// sequentially serializes each identity while partitions proceed in parallel.
type Consumer struct {
	client     *kgo.Client
	normalizer identity.Normalizer
	handler    Handler
	dlq        DeadLetterer
	logger     *slog.Logger
}

func NewConsumer(cfg config.Kafka, normalizer identity.Normalizer, handler Handler, dlq DeadLetterer, logger *slog.Logger) (*Consumer, error) {
	if normalizer == nil || handler == nil || dlq == nil {
		return nil, errors.New("normalizer, handler, and dead letterer are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(TopicEvents),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer client: %w", err)
	}
	return &Consumer{
		client:     client,
		normalizer: normalizer,
		handler:    handler,
		dlq:        dlq,
		logger:     logger,
	}, nil
}

// Run polls until the context is cancelled. Offsets are committed only for
// records that finished processing, so transient failures redeliver and the
// idempotency guard makes redelivery safe.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()
	c.logger.Info("ingest consumer started", "topic", TopicEvents)

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			c.logger.Info("ingest consumer shutting down")
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error", "topic", topic, "partition", partition, "error", err)
		})

		var (
			mu   sync.Mutex
			done []*kgo.Record
		)
		g, gctx := errgroup.WithContext(ctx)
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			records := p.Records
			if len(records) == 0 {
				return
			}
			g.Go(func() error {
				finished := c.processSequentially(gctx, records)
				mu.Lock()
				done = append(done, finished...)
				mu.Unlock()
				return nil
			})
		})
		_ = g.Wait()

		if len(done) > 0 {
			if err := c.client.CommitRecords(ctx, done...); err != nil {
				c.logger.Error("offset commit failed", "error", err)
			}
		}
	}
}

// processSequentially walks one partition's records in order and returns the
// prefix that is safe to commit. The first transient failure stops the walk;
// everything after it redelivers on the next poll.
func (c *Consumer) processSequentially(ctx context.Context, records []*kgo.Record) []*kgo.Record {
	var finished []*kgo.Record
	for _, record := range records {
		if err := c.processOne(ctx, record); err != nil {
			c.logger.Warn("record processing failed, will redeliver",
				"partition", record.Partition, "offset", record.Offset, "error", err)
			break
		}
		finished = append(finished, record)
	}
	return finished
}

func (c *Consumer) processOne(ctx context.Context, record *kgo.Record) error {
	event, err := c.normalizer.Normalize(ctx, record.Value)
	if errors.Is(err, domain.ErrMalformedEvent) {
		// Malformed events bounce to the ingestion layer via the DLQ and
		// are never retried by this core.
		consumedTotal.WithLabelValues("malformed").Inc()
		return c.dlq.DeadLetter(ctx, record.Value, DLQMalformed, err.Error())
	}
	if err != nil {
		consumedTotal.WithLabelValues("error").Inc()
		return err
	}

	decision, err := c.handler.Resolve(ctx, event)
	if errors.Is(err, domain.ErrMalformedEvent) {
		consumedTotal.WithLabelValues("malformed").Inc()
		return c.dlq.DeadLetter(ctx, record.Value, DLQMalformed, err.Error())
	}
	if err != nil {
		consumedTotal.WithLabelValues("error").Inc()
		return err
	}

	consumedTotal.WithLabelValues(string(decision.Decision)).Inc()
	return nil
}
