package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mssola/useragent"

	"unify/internal/domain"
)

// Normalizer is the contract source connectors implement: turn one raw,
// already format-normalized record into a structurally valid IdentityEvent.
// The core only ever consumes its output.
type Normalizer interface {
	Normalize(ctx context.Context, raw []byte) (domain.IdentityEvent, error)
}

// Canonicalizer is the core-side Normalizer for records that arrive on the
// wire already shaped as IdentityEvent JSON. It validates the structural
// invariant and derives device attributes from a raw user agent when one is
// present, which gives probabilistic matching extra signal for anonymous web
// and mobile traffic.
type Canonicalizer struct {
	now func() time.Time
}

func NewCanonicalizer() *Canonicalizer {
	return &Canonicalizer{now: time.Now}
}

const attrUserAgent = "user_agent"

func (c *Canonicalizer) Normalize(_ context.Context, raw []byte) (domain.IdentityEvent, error) {
	var event domain.IdentityEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return domain.IdentityEvent{}, fmt.Errorf("decode event: %w: %w", err, domain.ErrMalformedEvent)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = c.now()
	}
	event.OccurredAt = event.OccurredAt.UTC()

	c.enrichFromUserAgent(&event)

	if err := event.Validate(); err != nil {
		return domain.IdentityEvent{}, err
	}
	return event, nil
}

// enrichFromUserAgent expands a raw user_agent attribute into browser and OS
// attributes tagged with the same source.
func (c *Canonicalizer) enrichFromUserAgent(event *domain.IdentityEvent) {
	rawUA, ok := event.Attributes[attrUserAgent]
	if !ok || rawUA.Value == "" {
		return
	}
	ua := useragent.New(rawUA.Value)
	name, version := ua.Browser()
	if name != "" {
		event.Attributes["browser"] = domain.Attribute{Value: name + " " + version, Source: rawUA.Source}
	}
	if os := ua.OS(); os != "" {
		event.Attributes["os"] = domain.Attribute{Value: os, Source: rawUA.Source}
	}
	if ua.Mobile() {
		event.Attributes["device_class"] = domain.Attribute{Value: "mobile", Source: rawUA.Source}
	}
}
