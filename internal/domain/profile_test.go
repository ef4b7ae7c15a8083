package domain_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unify/internal/domain"
)

func TestAppliedEventWindowIsBounded(t *testing.T) {
	p := &domain.Profile{ProfileID: "p-1"}
	for i := 0; i < 300; i++ {
		p.RecordEvent(fmt.Sprintf("evt-%d", i))
	}

	assert.Len(t, p.AppliedEventIDs, 256)
	assert.False(t, p.HasAppliedEvent("evt-0"), "oldest entries must be evicted")
	assert.True(t, p.HasAppliedEvent("evt-299"))
	assert.Equal(t, "evt-44", p.AppliedEventIDs[0])
}

func TestProfileClone(t *testing.T) {
	orig := &domain.Profile{
		ProfileID: "p-1",
		Identifiers: []domain.IdentifierRecord{
			{Kind: domain.KindEmail, Value: "a@b.com", FirstSeenSource: domain.SourceWeb},
		},
		Attributes: map[string]domain.AttributeRecord{
			domain.AttrName: {Value: "Max", Source: domain.SourceWeb},
		},
		Consent: map[domain.Channel]bool{domain.ChannelEmail: true},
		Interactions: domain.InteractionSummary{
			TotalEvents: 2,
			PerSource:   map[domain.Source]int{domain.SourceWeb: 2},
		},
		Version: 3,
	}
	orig.RecordEvent("evt-1")

	clone := orig.Clone()
	clone.Identifiers = append(clone.Identifiers, domain.IdentifierRecord{Kind: domain.KindPhone, Value: "+49"})
	clone.Attributes[domain.AttrName] = domain.AttributeRecord{Value: "Robert", Source: domain.SourceCRM}
	clone.Consent[domain.ChannelEmail] = false
	clone.Interactions.PerSource[domain.SourceWeb] = 99
	clone.RecordEvent("evt-2")

	assert.Len(t, orig.Identifiers, 1)
	assert.Equal(t, "Max", orig.Attributes[domain.AttrName].Value)
	assert.True(t, orig.Consent[domain.ChannelEmail])
	assert.Equal(t, 2, orig.Interactions.PerSource[domain.SourceWeb])
	assert.False(t, orig.HasAppliedEvent("evt-2"))
}

func TestProfileInvariants(t *testing.T) {
	valid := &domain.Profile{
		ProfileID: "p-1",
		Identifiers: []domain.IdentifierRecord{
			{Kind: domain.KindEmail, Value: "a@b.com"},
		},
		Version:   1,
		CreatedAt: time.Now(),
	}
	require.NoError(t, valid.CheckInvariants())

	negative := valid.Clone()
	negative.Version = -1
	assert.Error(t, negative.CheckInvariants())

	empty := &domain.Profile{ProfileID: "p-2", Version: 1}
	assert.Error(t, empty.CheckInvariants())
}
