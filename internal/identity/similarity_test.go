package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "max muster", "max muster", 1.0},
		{"case insensitive", "Max Muster", "max muster", 1.0},
		{"empty left", "", "max", 0},
		{"empty right", "max", "", 0},
		{"disjoint", "abc", "xyz", 0},
		{"prefix overlap", "max musterman", "max muster", 20.0 / 23.0},
		{"classic pair", "karolin", "kathrin", 10.0 / 14.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 0.0001)
		})
	}
}

func TestSimilarityIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"jonathan", "johnathan"},
		{"berlin mitte", "berlin"},
		{"a", "ab"},
	}
	for _, p := range pairs {
		assert.InDelta(t, Similarity(p[0], p[1]), Similarity(p[1], p[0]), 0.0001)
	}
}
