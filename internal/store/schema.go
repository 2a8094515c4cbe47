// Package store persists call records, taken messages, and tenant
// provisioning in PostgreSQL.
//
// A single [pgxpool.Pool] backs all operations. [Migrate] is idempotent
// (CREATE TABLE IF NOT EXISTS) and runs on every start. The store is
// optional: the runtime works without a database, persisting records only
// through the HTTP sink.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCallRecords = `
CREATE TABLE IF NOT EXISTS call_records (
    call_uuid    TEXT         PRIMARY KEY,
    tenant_id    TEXT         NOT NULL,
    secretary_id TEXT         NOT NULL DEFAULT '',
    caller_id    TEXT         NOT NULL DEFAULT '',
    caller_name  TEXT         NOT NULL DEFAULT '',
    started_at   TIMESTAMPTZ  NOT NULL,
    ended_at     TIMESTAMPTZ  NOT NULL,
    duration_ms  BIGINT       NOT NULL DEFAULT 0,
    final_state  TEXT         NOT NULL DEFAULT '',
    outcome      TEXT         NOT NULL DEFAULT '',
    record       JSONB        NOT NULL,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_records_tenant
    ON call_records (tenant_id, started_at DESC);

CREATE INDEX IF NOT EXISTS idx_call_records_outcome
    ON call_records (outcome);
`

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id              BIGSERIAL    PRIMARY KEY,
    call_uuid       TEXT         NOT NULL,
    tenant_id       TEXT         NOT NULL,
    caller_name     TEXT         NOT NULL,
    message         TEXT         NOT NULL,
    callback_number TEXT         NOT NULL DEFAULT '',
    taken_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    delivered       BOOLEAN      NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_messages_tenant
    ON messages (tenant_id, taken_at DESC);

CREATE INDEX IF NOT EXISTS idx_messages_undelivered
    ON messages (tenant_id) WHERE NOT delivered;
`

const ddlTenants = `
CREATE TABLE IF NOT EXISTS tenants (
    id         TEXT         PRIMARY KEY,
    profile    JSONB        NOT NULL,
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates or ensures all required tables and indexes exist. Safe to
// call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlCallRecords, ddlMessages, ddlTenants} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}
