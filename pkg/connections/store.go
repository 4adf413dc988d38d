package connections

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups that match no stored row.
var ErrNotFound = errors.New("connections: not found")

// Store persists tenant→credential mappings. Implementations must keep
// Upsert atomic per (tenant, provider); callers rely on last-writer-wins
// replace semantics for reconnects.
type Store interface {
	// Upsert writes a connection keyed on (TenantID, Provider), replacing any
	// prior row wholesale. No field-level merge.
	Upsert(ctx context.Context, c TenantConnection) error
	// Get returns the connection for a tenant, or ErrNotFound.
	Get(ctx context.Context, tenantID string) (TenantConnection, error)
	// FindTenantByPage resolves a bound page id back to its owning tenant.
	// First match wins if duplicates somehow exist; ErrNotFound otherwise.
	FindTenantByPage(ctx context.Context, pageID string) (string, error)
}

// EventRecorder appends webhook deliveries. Every delivery that reaches the
// webhook handler is recorded exactly once, resolved or not.
type EventRecorder interface {
	Record(ctx context.Context, ev InboundEvent) error
}
