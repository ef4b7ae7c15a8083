package domain

import (
	"fmt"
	"time"
)

// maxAppliedEvents bounds the per-profile dedupe window. Older entries are
// evicted FIFO; the shared Redis dedupe keys cover redeliveries beyond it.
const maxAppliedEvents = 256

// IdentifierRecord is one identifier owned by a profile. Records are
// append-only; removal happens only through an external erasure cascade.
type IdentifierRecord struct {
	Kind            IdentifierKind `json:"kind"`
	Value           string         `json:"value"`
	FirstSeenSource Source         `json:"first_seen_source"`
	FirstSeenAt     time.Time      `json:"first_seen_at"`
}

// AttributeRecord is a profile attribute with provenance, governed by the
// source-precedence policy rather than plain last-write-wins.
type AttributeRecord struct {
	Value     string    `json:"value"`
	Source    Source    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InteractionSummary aggregates per-profile activity counters for quick reads.
type InteractionSummary struct {
	TotalEvents       int            `json:"total_events"`
	PerSource         map[Source]int `json:"per_source,omitempty"`
	LastInteractionAt time.Time      `json:"last_interaction_at"`
}

// Profile is the golden record for one real-world individual. It is owned by
// the merge resolver; no other component mutates it.
type Profile struct {
	ProfileID       string                     `json:"profile_id"`
	Identifiers     []IdentifierRecord         `json:"identifiers"`
	Attributes      map[string]AttributeRecord `json:"attributes,omitempty"`
	Consent         map[Channel]bool           `json:"consent,omitempty"`
	Version         int64                      `json:"version"`
	AppliedEventIDs []string                   `json:"applied_event_ids,omitempty"`
	Interactions    InteractionSummary         `json:"interactions"`
	EngagementScore float64                    `json:"engagement_score"`
	Segments        []string                   `json:"segments,omitempty"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

// HasIdentifier reports whether the profile already owns the exact pair.
func (p *Profile) HasIdentifier(kind IdentifierKind, value string) bool {
	for _, rec := range p.Identifiers {
		if rec.Kind == kind && rec.Value == value {
			return true
		}
	}
	return false
}

// IdentifierBy returns the first record of the given kind and value.
func (p *Profile) IdentifierBy(kind IdentifierKind, value string) (IdentifierRecord, bool) {
	for _, rec := range p.Identifiers {
		if rec.Kind == kind && rec.Value == value {
			return rec, true
		}
	}
	return IdentifierRecord{}, false
}

// HasAppliedEvent reports whether the event was already merged into this
// profile. Duplicate deliveries resolve as no-ops.
func (p *Profile) HasAppliedEvent(eventID string) bool {
	for _, id := range p.AppliedEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// RecordEvent appends to the bounded applied-event window.
func (p *Profile) RecordEvent(eventID string) {
	p.AppliedEventIDs = append(p.AppliedEventIDs, eventID)
	if len(p.AppliedEventIDs) > maxAppliedEvents {
		p.AppliedEventIDs = p.AppliedEventIDs[len(p.AppliedEventIDs)-maxAppliedEvents:]
	}
}

// Attribute returns the named attribute value, empty when absent.
func (p *Profile) Attribute(name string) string {
	if rec, ok := p.Attributes[name]; ok {
		return rec.Value
	}
	return ""
}

// Clone returns a deep copy. The resolver mutates clones only, so a cancelled
// or conflicted merge never leaves partial state visible.
func (p *Profile) Clone() *Profile {
	cp := *p
	cp.Identifiers = append([]IdentifierRecord(nil), p.Identifiers...)
	cp.AppliedEventIDs = append([]string(nil), p.AppliedEventIDs...)
	cp.Segments = append([]string(nil), p.Segments...)
	if p.Attributes != nil {
		cp.Attributes = make(map[string]AttributeRecord, len(p.Attributes))
		for k, v := range p.Attributes {
			cp.Attributes[k] = v
		}
	}
	if p.Consent != nil {
		cp.Consent = make(map[Channel]bool, len(p.Consent))
		for k, v := range p.Consent {
			cp.Consent[k] = v
		}
	}
	if p.Interactions.PerSource != nil {
		cp.Interactions.PerSource = make(map[Source]int, len(p.Interactions.PerSource))
		for k, v := range p.Interactions.PerSource {
			cp.Interactions.PerSource[k] = v
		}
	}
	return &cp
}

// CheckInvariants reports fatal local defects. Callers must treat a non-nil
// result as a bug, not a recoverable condition.
func (p *Profile) CheckInvariants() error {
	if p.Version < 0 {
		return fmt.Errorf("profile %s: negative version %d", p.ProfileID, p.Version)
	}
	if len(p.Identifiers) == 0 && len(p.Attributes) == 0 {
		return fmt.Errorf("profile %s: empty after merge", p.ProfileID)
	}
	return nil
}
