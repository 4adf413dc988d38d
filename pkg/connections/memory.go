// pkg/connections/memory.go
package connections

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore keeps connections and events in process memory. Dev fallback when
// DATABASE_URL is unset, and the test double behind the same interfaces.
type MemoryStore struct {
	log *zap.SugaredLogger

	mu     sync.RWMutex
	byKey  map[string]TenantConnection // tenantID+":"+provider
	events []InboundEvent
}

func NewMemoryStore(log *zap.SugaredLogger) *MemoryStore {
	return &MemoryStore{log: log, byKey: map[string]TenantConnection{}}
}

func (m *MemoryStore) Upsert(ctx context.Context, c TenantConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[c.TenantID+":"+c.Provider] = c
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, tenantID string) (TenantConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.byKey[tenantID+":"+ProviderMeta]; ok {
		return c, nil
	}
	return TenantConnection{}, ErrNotFound
}

func (m *MemoryStore) FindTenantByPage(ctx context.Context, pageID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Deterministic first match over sorted keys; the upsert keying should
	// make duplicates impossible, but an ambiguous match must not fail.
	keys := make([]string, 0, len(m.byKey))
	for k := range m.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if c := m.byKey[k]; c.PageID != "" && c.PageID == pageID {
			return c.TenantID, nil
		}
	}
	return "", ErrNotFound
}

func (m *MemoryStore) Record(ctx context.Context, ev InboundEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a snapshot of recorded deliveries, oldest first.
func (m *MemoryStore) Events() []InboundEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]InboundEvent(nil), m.events...)
}
