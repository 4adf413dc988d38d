// pkg/connections/postgres.go
package connections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgStore implements Store and EventRecorder backed by PostgreSQL.
type pgStore struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresStore constructs a PostgreSQL-backed connection store.
func NewPostgresStore(dbPool *pgxpool.Pool, log *zap.SugaredLogger) *pgStore {
	return &pgStore{dbPool: dbPool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenant_connections (
  tenant_id text NOT NULL,
  provider text NOT NULL,
  user_token_encrypted text,
  user_token_expires_at timestamptz,
  page_id text,
  page_token_encrypted text,
  ig_account_id text,
  updated_at timestamptz NOT NULL DEFAULT NOW(),
  PRIMARY KEY (tenant_id, provider)
);
CREATE INDEX IF NOT EXISTS tenant_connections_page_idx ON tenant_connections(page_id);
CREATE TABLE IF NOT EXISTS inbound_events (
  id BIGSERIAL PRIMARY KEY,
  provider text NOT NULL,
  tenant_id text,
  resource_id text,
  body bytea,
  received_at timestamptz NOT NULL DEFAULT NOW()
);
`)
	return err
}

func (p *pgStore) Upsert(ctx context.Context, c TenantConnection) error {
	_, err := p.dbPool.Exec(ctx, `INSERT INTO tenant_connections(tenant_id,provider,user_token_encrypted,user_token_expires_at,page_id,page_token_encrypted,ig_account_id,updated_at)
	  VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
	  ON CONFLICT (tenant_id, provider) DO UPDATE SET
	    user_token_encrypted=EXCLUDED.user_token_encrypted,
	    user_token_expires_at=EXCLUDED.user_token_expires_at,
	    page_id=EXCLUDED.page_id,
	    page_token_encrypted=EXCLUDED.page_token_encrypted,
	    ig_account_id=EXCLUDED.ig_account_id,
	    updated_at=NOW()`,
		c.TenantID, c.Provider, c.UserToken, nullTime(c.UserTokenExpiresAt), nullStr(c.PageID), nullStr(c.PageToken), nullStr(c.IGAccountID))
	if err != nil {
		return fmt.Errorf("connections: upsert %s: %w", c.TenantID, err)
	}
	return nil
}

func (p *pgStore) Get(ctx context.Context, tenantID string) (TenantConnection, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT tenant_id,provider,COALESCE(user_token_encrypted,''),user_token_expires_at,COALESCE(page_id,''),COALESCE(page_token_encrypted,''),COALESCE(ig_account_id,''),updated_at
	  FROM tenant_connections WHERE tenant_id=$1 AND provider=$2`, tenantID, ProviderMeta)
	var c TenantConnection
	var expires *time.Time
	if err := row.Scan(&c.TenantID, &c.Provider, &c.UserToken, &expires, &c.PageID, &c.PageToken, &c.IGAccountID, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TenantConnection{}, ErrNotFound
		}
		return TenantConnection{}, fmt.Errorf("connections: get %s: %w", tenantID, err)
	}
	if expires != nil {
		c.UserTokenExpiresAt = *expires
	}
	return c, nil
}

func (p *pgStore) FindTenantByPage(ctx context.Context, pageID string) (string, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT tenant_id FROM tenant_connections WHERE page_id=$1 ORDER BY tenant_id LIMIT 1`, pageID)
	var tenantID string
	if err := row.Scan(&tenantID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("connections: find by page %s: %w", pageID, err)
	}
	return tenantID, nil
}

func (p *pgStore) Record(ctx context.Context, ev InboundEvent) error {
	_, err := p.dbPool.Exec(ctx, `INSERT INTO inbound_events(provider,tenant_id,resource_id,body,received_at) VALUES ($1,$2,$3,$4,$5)`,
		ev.Provider, nullStr(ev.TenantID), nullStr(ev.ResourceID), ev.Body, ev.ReceivedAt.UTC())
	if err != nil {
		return fmt.Errorf("connections: record event: %w", err)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
