package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kgo"

	"unify/internal/domain"
)

var dlqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "unify_dlq_total",
	Help: "Events routed to the dead-letter queue, by reason class",
}, []string{"class"})

// Dead-letter reason classes. The label stays low-cardinality; the full
// error travels in the payload.
const (
	DLQMalformed = "malformed"
)

// Producer publishes the pipeline's produced interfaces: change
// notifications, review emissions, and dead letters.
type Producer struct {
	client *kgo.Client
}

// NewProducer builds a Kafka producer for the pipeline's outbound topics.
func NewProducer(brokers []string) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer client: %w", err)
	}
	return &Producer{client: client}, nil
}

// NewProducerWithClient wraps an existing client; used by tests and by the
// consumer, which shares one client for commits and production.
func NewProducerWithClient(client *kgo.Client) *Producer {
	return &Producer{client: client}
}

// NotifyChange publishes one change notification per accepted merge. This is
// the only way downstream consumers learn a profile changed.
func (p *Producer) NotifyChange(ctx context.Context, n domain.ChangeNotification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal change notification: %w", err)
	}
	record := &kgo.Record{Topic: TopicChanges, Key: []byte(n.ProfileID), Value: value}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce change notification: %w", err)
	}
	return nil
}

// reviewEnvelope pairs the held event with its decision so the adjudication
// workflow has everything it needs in one message.
type reviewEnvelope struct {
	Event    domain.IdentityEvent `json:"event"`
	Decision domain.MergeDecision `json:"decision"`
}

// EmitReview queues an ambiguous match for human adjudication. The profile
// stays untouched; emission is the whole side effect.
func (p *Producer) EmitReview(ctx context.Context, event domain.IdentityEvent, decision domain.MergeDecision) error {
	value, err := json.Marshal(reviewEnvelope{Event: event, Decision: decision})
	if err != nil {
		return fmt.Errorf("marshal review envelope: %w", err)
	}
	record := &kgo.Record{Topic: TopicReview, Key: []byte(event.EventID), Value: value}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce review emission: %w", err)
	}
	return nil
}

// deadLetter carries the raw record (base64 through JSON, since the original
// need not be valid JSON itself) and the full error text.
type deadLetter struct {
	Original []byte `json:"original"`
	Error    string `json:"error"`
}

// DeadLetter parks an unprocessable record. Malformed events land here and
// are reported back to the ingestion layer, never retried by this core.
func (p *Producer) DeadLetter(ctx context.Context, original []byte, class, detail string) error {
	value, err := json.Marshal(deadLetter{Original: original, Error: detail})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	dlqTotal.WithLabelValues(class).Inc()
	record := &kgo.Record{Topic: TopicDLQ, Value: value}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce dead letter: %w", err)
	}
	return nil
}

// Close flushes and releases the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}
