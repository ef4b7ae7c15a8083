package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"unify/internal/domain"
	"unify/internal/identity"
)

type fakeHandler struct {
	failEventIDs map[string]bool
	resolved     []string
}

func (h *fakeHandler) Resolve(_ context.Context, event domain.IdentityEvent) (domain.MergeDecision, error) {
	if h.failEventIDs[event.EventID] {
		return domain.MergeDecision{}, errors.New("store unavailable")
	}
	h.resolved = append(h.resolved, event.EventID)
	return domain.MergeDecision{EventID: event.EventID, Decision: domain.DecisionMatched}, nil
}

type fakeDLQ struct {
	classes []string
	details []string
}

func (d *fakeDLQ) DeadLetter(_ context.Context, _ []byte, class, detail string) error {
	d.classes = append(d.classes, class)
	d.details = append(d.details, detail)
	return nil
}

func testConsumer(handler Handler, dlq DeadLetterer) *Consumer {
	return &Consumer{
		normalizer: identity.NewCanonicalizer(),
		handler:    handler,
		dlq:        dlq,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func record(eventID string) *kgo.Record {
	return &kgo.Record{
		Topic: TopicEvents,
		Value: []byte(`{"event_id": "` + eventID + `", "source": "web",
			"identifiers": [{"kind": "email", "value": "a@b.com"}]}`),
	}
}

func TestProcessSequentiallyCommitsOnlyTheFinishedPrefix(t *testing.T) {
	handler := &fakeHandler{failEventIDs: map[string]bool{"evt-2": true}}
	consumer := testConsumer(handler, &fakeDLQ{})

	records := []*kgo.Record{record("evt-1"), record("evt-2"), record("evt-3")}
	finished := consumer.processSequentially(context.Background(), records)

	// evt-2 failed transiently: evt-1 commits, evt-2 and evt-3 redeliver.
	require.Len(t, finished, 1)
	assert.Same(t, records[0], finished[0])
	assert.Equal(t, []string{"evt-1"}, handler.resolved)
}

func TestProcessOneRoutesMalformedToDLQ(t *testing.T) {
	handler := &fakeHandler{}
	dlq := &fakeDLQ{}
	consumer := testConsumer(handler, dlq)

	malformed := &kgo.Record{Topic: TopicEvents, Value: []byte(`{"event_id": "evt-bad", "source": "fax"}`)}
	err := consumer.processOne(context.Background(), malformed)

	// Dead-lettering counts as handled: the offset commits, nothing retries.
	require.NoError(t, err)
	require.Len(t, dlq.classes, 1)
	assert.Equal(t, DLQMalformed, dlq.classes[0])
	assert.NotEmpty(t, dlq.details[0])
	assert.Empty(t, handler.resolved)
}

func TestProcessSequentiallySkipsPastMalformedRecords(t *testing.T) {
	handler := &fakeHandler{}
	dlq := &fakeDLQ{}
	consumer := testConsumer(handler, dlq)

	records := []*kgo.Record{
		record("evt-1"),
		{Topic: TopicEvents, Value: []byte(`not json`)},
		record("evt-3"),
	}
	finished := consumer.processSequentially(context.Background(), records)

	require.Len(t, finished, 3)
	assert.Equal(t, []string{"evt-1", "evt-3"}, handler.resolved)
	assert.Equal(t, []string{DLQMalformed}, dlq.classes)
}
