package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Topic layout. Producers key every record by merge key so one identity's
// events land on one partition, which is what gives the pipeline its
// ordered-per-key delivery guarantee.
const (
	// TopicEvents carries normalized IdentityEvent records from connectors.
	TopicEvents = "cdp.events.normalized"
	// TopicChanges carries ChangeNotification records for accepted merges.
	TopicChanges = "cdp.profile.changes"
	// TopicReview carries held_for_review emissions for human adjudication.
	TopicReview = "cdp.review.queue"
	// TopicDLQ receives events the pipeline can never process.
	TopicDLQ = "cdp.events.dlq"
)

var allTopics = []string{TopicEvents, TopicChanges, TopicReview, TopicDLQ}

// EnsureTopics creates any missing pipeline topics. Already-existing topics
// are fine; anything else fails startup.
func EnsureTopics(ctx context.Context, brokers []string) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("kafka admin client: %w", err)
	}
	defer client.Close()

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, 6, 1, nil, allTopics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, res := range resp.Sorted() {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", res.Topic, res.Err)
		}
	}
	return nil
}
