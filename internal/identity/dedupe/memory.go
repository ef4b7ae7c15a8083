// Package dedupe remembers recently processed event IDs so redelivered
// events resolve as safe no-ops even before a target profile is known.
package dedupe

import (
	"context"
	"sync"
)

// Memory is the in-process deduper for tests and single-node development.
type Memory struct {
	mu   sync.RWMutex
	seen map[string]string
}

func NewMemory() *Memory {
	return &Memory{seen: make(map[string]string)}
}

func (m *Memory) Seen(_ context.Context, eventID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	profileID, ok := m.seen[eventID]
	return profileID, ok, nil
}

func (m *Memory) Mark(_ context.Context, eventID, profileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[eventID] = profileID
	return nil
}
