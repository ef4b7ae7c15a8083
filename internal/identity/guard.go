package identity

import (
	"encoding/hex"
	"sync"

	"golang.org/x/crypto/blake2b"

	"unify/internal/domain"
)

// mergeKeyPriority orders identifier kinds from most to least specific. The
// merge key is the routing and serialization key for one identity.
var mergeKeyPriority = []domain.IdentifierKind{
	domain.KindExternalCRMID,
	domain.KindEmail,
	domain.KindPhone,
	domain.KindDeviceID,
	domain.KindSessionID,
}

// MergeKey derives the per-identity serialization key from the event's most
// specific identifier. Anonymous events get a provisional key hashed from the
// event ID so redeliveries still land on the same key.
func MergeKey(event domain.IdentityEvent) string {
	for _, kind := range mergeKeyPriority {
		for _, ident := range event.Identifiers {
			if ident.Kind == kind {
				return string(kind) + ":" + ident.Value
			}
		}
	}
	sum := blake2b.Sum256([]byte(event.EventID))
	return "anon:" + hex.EncodeToString(sum[:8])
}

// KeyedMutex serializes work per merge key while unrelated keys proceed in
// parallel. Entries are reference counted and removed when the last holder
// unlocks, so the map does not grow with key cardinality.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires the mutex for key and returns the matching unlock.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
