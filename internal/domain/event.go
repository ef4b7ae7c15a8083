package domain

import (
	"errors"
	"fmt"
	"time"
)

// Source identifies the channel an event originated from.
type Source string

const (
	SourceWeb       Source = "web"
	SourceMobile    Source = "mobile"
	SourceCRM       Source = "crm"
	SourceEmail     Source = "email"
	SourceMessaging Source = "messaging"
)

// ValidSources gates events at the pipeline boundary.
var ValidSources = map[Source]bool{
	SourceWeb:       true,
	SourceMobile:    true,
	SourceCRM:       true,
	SourceEmail:     true,
	SourceMessaging: true,
}

// IdentifierKind enumerates the cross-system identifier types used for
// candidate lookup and deterministic matching.
type IdentifierKind string

const (
	KindEmail         IdentifierKind = "email"
	KindPhone         IdentifierKind = "phone"
	KindDeviceID      IdentifierKind = "device_id"
	KindSessionID     IdentifierKind = "session_id"
	KindExternalCRMID IdentifierKind = "external_crm_id"
)

// Identifier is a single (kind, value) pair. Values arrive case/format
// normalized from the ingestion layer.
type Identifier struct {
	Kind  IdentifierKind `json:"kind"`
	Value string         `json:"value"`
}

func (i Identifier) String() string {
	return string(i.Kind) + ":" + i.Value
}

// Channel names a communication channel subject to consent.
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelPush      Channel = "push"
	ChannelMessaging Channel = "messaging"
	ChannelAnalytics Channel = "analytics"
	ChannelProfiling Channel = "profiling"
)

// ConsentState captures a per-channel consent decision at event time.
type ConsentState struct {
	Granted    bool   `json:"granted"`
	LegalBasis string `json:"legal_basis,omitempty"`
}

// Attribute is an event-level attribute value tagged with its source.
type Attribute struct {
	Value  string `json:"value"`
	Source Source `json:"source"`
}

// Attribute names the scorer understands. Any of these makes an otherwise
// identifier-less event still resolvable.
const (
	AttrName       = "name"
	AttrLocation   = "location"
	AttrLastActive = "last_active"
)

// IdentityEvent is one incoming, format-normalized signal. EventID doubles as
// the idempotency key under at-least-once delivery.
type IdentityEvent struct {
	EventID     string                   `json:"event_id"`
	Source      Source                   `json:"source"`
	OccurredAt  time.Time                `json:"occurred_at"`
	Identifiers []Identifier             `json:"identifiers"`
	Attributes  map[string]Attribute     `json:"attributes,omitempty"`
	Consent     map[Channel]ConsentState `json:"consent_snapshot,omitempty"`
}

// ErrMalformedEvent marks events that can never be resolved and must bounce
// back to the ingestion layer instead of being retried.
var ErrMalformedEvent = errors.New("malformed event")

// Validate enforces the structural invariant: an event must carry at least
// one identifier or at least one attribute usable for probabilistic matching.
func (e IdentityEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("missing event_id: %w", ErrMalformedEvent)
	}
	if !ValidSources[e.Source] {
		return fmt.Errorf("unknown source %q: %w", e.Source, ErrMalformedEvent)
	}
	if len(e.Identifiers) > 0 {
		return nil
	}
	for _, name := range []string{AttrName, AttrLocation, AttrLastActive} {
		if _, ok := e.Attributes[name]; ok {
			return nil
		}
	}
	return fmt.Errorf("no identifiers and no scorable attributes: %w", ErrMalformedEvent)
}

// HasScorableAttributes reports whether phase-2 matching has anything to work
// with.
func (e IdentityEvent) HasScorableAttributes() bool {
	for _, name := range []string{AttrName, AttrLocation, AttrLastActive} {
		if _, ok := e.Attributes[name]; ok {
			return true
		}
	}
	return false
}
