package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxsec/voxsec/internal/callog"
	"github.com/voxsec/voxsec/internal/config"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

var _ callog.Sink = (*Store)(nil)

// Store is the PostgreSQL persistence layer. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, verifies the connection, and runs
// [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Deliver implements [callog.Sink] by persisting the record. Redelivery of
// the same call uuid is a no-op, matching the sink's at-least-once contract.
func (s *Store) Deliver(ctx context.Context, rec *callog.Record) error {
	return s.SaveRecord(ctx, rec)
}

// SaveRecord inserts one finished call record. The full record is kept as
// JSONB next to the indexed columns.
func (s *Store) SaveRecord(ctx context.Context, rec *callog.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}
	const q = `
		INSERT INTO call_records
		    (call_uuid, tenant_id, secretary_id, caller_id, caller_name,
		     started_at, ended_at, duration_ms, final_state, outcome, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (call_uuid) DO NOTHING`

	_, err = s.pool.Exec(ctx, q,
		rec.CallUUID, rec.TenantID, rec.SecretaryID, rec.CallerID, rec.CallerName,
		rec.StartedAt, rec.EndedAt, rec.DurationMS, rec.FinalState, string(rec.Outcome), body)
	if err != nil {
		return fmt.Errorf("store: save record %s: %w", rec.CallUUID, err)
	}
	return nil
}

// Record loads one call record by call uuid.
func (s *Store) Record(ctx context.Context, callUUID string) (*callog.Record, error) {
	const q = `SELECT record FROM call_records WHERE call_uuid = $1`

	var body []byte
	if err := s.pool.QueryRow(ctx, q, callUUID).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: load record %s: %w", callUUID, err)
	}
	var rec callog.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("store: decode record %s: %w", callUUID, err)
	}
	return &rec, nil
}

// RecentRecords returns up to limit records for a tenant, newest first.
func (s *Store) RecentRecords(ctx context.Context, tenantID string, limit int) ([]callog.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT record
		FROM   call_records
		WHERE  tenant_id = $1
		ORDER  BY started_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent records: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (callog.Record, error) {
		var body []byte
		if err := row.Scan(&body); err != nil {
			return callog.Record{}, err
		}
		var rec callog.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return callog.Record{}, err
		}
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan records: %w", err)
	}
	return records, nil
}

// Message is one message taken for a tenant.
type Message struct {
	ID             int64
	CallUUID       string
	TenantID       string
	CallerName     string
	Message        string
	CallbackNumber string
	TakenAt        time.Time
	Delivered      bool
}

// SaveMessage stores one taken message and returns its id.
func (s *Store) SaveMessage(ctx context.Context, m Message) (int64, error) {
	const q = `
		INSERT INTO messages
		    (call_uuid, tenant_id, caller_name, message, callback_number)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, q,
		m.CallUUID, m.TenantID, m.CallerName, m.Message, m.CallbackNumber).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: save message: %w", err)
	}
	return id, nil
}

// UndeliveredMessages returns the tenant's messages not yet passed on,
// oldest first.
func (s *Store) UndeliveredMessages(ctx context.Context, tenantID string) ([]Message, error) {
	const q = `
		SELECT id, call_uuid, tenant_id, caller_name, message, callback_number, taken_at, delivered
		FROM   messages
		WHERE  tenant_id = $1 AND NOT delivered
		ORDER  BY taken_at`

	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: undelivered messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.ID, &m.CallUUID, &m.TenantID, &m.CallerName,
			&m.Message, &m.CallbackNumber, &m.TakenAt, &m.Delivered)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan messages: %w", err)
	}
	return msgs, nil
}

// MarkMessageDelivered flags one message as passed on.
func (s *Store) MarkMessageDelivered(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET delivered = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: mark message %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertTenant stores or replaces one tenant profile.
func (s *Store) UpsertTenant(ctx context.Context, t *config.Tenant) error {
	profile, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("store: marshal tenant %s: %w", t.ID, err)
	}
	const q = `
		INSERT INTO tenants (id, profile, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET profile = EXCLUDED.profile, updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, t.ID, profile); err != nil {
		return fmt.Errorf("store: upsert tenant %s: %w", t.ID, err)
	}
	return nil
}

// LoadTenants returns all provisioned tenant profiles. Database-provisioned
// tenants take precedence over file configuration at startup.
func (s *Store) LoadTenants(ctx context.Context) ([]config.Tenant, error) {
	rows, err := s.pool.Query(ctx, `SELECT profile FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: load tenants: %w", err)
	}
	tenants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (config.Tenant, error) {
		var body []byte
		if err := row.Scan(&body); err != nil {
			return config.Tenant{}, err
		}
		var t config.Tenant
		if err := json.Unmarshal(body, &t); err != nil {
			return config.Tenant{}, err
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan tenants: %w", err)
	}
	return tenants, nil
}
