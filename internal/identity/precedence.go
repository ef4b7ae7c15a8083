package identity

import (
	"time"

	"unify/internal/domain"
)

// Policy decides whether an incoming attribute write beats the stored value.
// It is injectable so merge outcomes can be tested independently of storage.
type Policy interface {
	Wins(field string, incoming domain.Attribute, occurredAt time.Time, current domain.AttributeRecord) bool
}

// RuleTable is the default source-of-truth policy: a contact-data authority
// owns PII fields, behavioral sources are source-of-record for their own
// counters regardless of recency, and everything else falls back to
// most-recent-by-timestamp.
type RuleTable struct {
	ContactAuthority domain.Source
	ContactFields    map[string]bool
	SourceOfRecord   map[string]domain.Source
}

// DefaultRuleTable encodes the precedence convention: CRM owns contact data,
// web owns clickstream counters, mobile owns app counters, messaging owns
// conversation counters.
func DefaultRuleTable() *RuleTable {
	return &RuleTable{
		ContactAuthority: domain.SourceCRM,
		ContactFields: map[string]bool{
			domain.AttrName:     true,
			domain.AttrLocation: true,
			"email_address":     true,
			"phone_number":      true,
		},
		SourceOfRecord: map[string]domain.Source{
			"page_views":        domain.SourceWeb,
			"clicks":            domain.SourceWeb,
			"app_opens":         domain.SourceMobile,
			"screen_views":      domain.SourceMobile,
			"messages_received": domain.SourceMessaging,
			"emails_opened":     domain.SourceEmail,
		},
	}
}

func (t *RuleTable) Wins(field string, incoming domain.Attribute, occurredAt time.Time, current domain.AttributeRecord) bool {
	if sor, ok := t.SourceOfRecord[field]; ok {
		// Source-of-record always wins its own field; nothing else may
		// overwrite it.
		return incoming.Source == sor
	}
	if t.ContactFields[field] {
		if incoming.Source == t.ContactAuthority {
			return true
		}
		if current.Source == t.ContactAuthority {
			return false
		}
	}
	// Most-recent-by-timestamp fallback.
	return !occurredAt.Before(current.UpdatedAt)
}
