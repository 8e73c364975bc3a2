// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to Postgres and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return db, nil
}

// Migrate creates the schema when it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const Schema = `
CREATE TABLE IF NOT EXISTS templates (
    id                 SERIAL PRIMARY KEY,
    name               TEXT NOT NULL,
    channel            TEXT NOT NULL CHECK (channel IN ('email', 'whatsapp')),
    subject            TEXT NOT NULL DEFAULT '',
    body               TEXT NOT NULL,
    required_variables TEXT[] NOT NULL DEFAULT '{}',
    active             BOOLEAN NOT NULL DEFAULT TRUE,
    version            INT NOT NULL DEFAULT 1,
    created_by         TEXT NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ,
    deleted_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS contacts (
    id         SERIAL PRIMARY KEY,
    email      TEXT NOT NULL DEFAULT '',
    phone      TEXT NOT NULL DEFAULT '',
    variables  JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS contact_set_members (
    set_id     INT NOT NULL,
    contact_id INT NOT NULL REFERENCES contacts(id),
    PRIMARY KEY (set_id, contact_id)
);

CREATE TABLE IF NOT EXISTS campaigns (
    id                   SERIAL PRIMARY KEY,
    name                 TEXT NOT NULL,
    description          TEXT NOT NULL DEFAULT '',
    channel              TEXT NOT NULL CHECK (channel IN ('email', 'whatsapp', 'both')),
    email_template_id    INT REFERENCES templates(id),
    whatsapp_template_id INT REFERENCES templates(id),
    target_set_id        INT NOT NULL,
    status               TEXT NOT NULL DEFAULT 'draft',
    degraded             BOOLEAN NOT NULL DEFAULT FALSE,
    scheduled_at         TIMESTAMPTZ,
    created_by           TEXT NOT NULL DEFAULT '',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ,
    started_at           TIMESTAMPTZ,
    completed_at         TIMESTAMPTZ,
    deleted_at           TIMESTAMPTZ,
    total                INT NOT NULL DEFAULT 0,
    sent                 INT NOT NULL DEFAULT 0,
    delivered            INT NOT NULL DEFAULT 0,
    failed               INT NOT NULL DEFAULT 0,
    skipped              INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS dispatch_jobs (
    id                SERIAL PRIMARY KEY,
    campaign_id       INT NOT NULL REFERENCES campaigns(id),
    contact_id        INT NOT NULL,
    channel           TEXT NOT NULL,
    status            TEXT NOT NULL DEFAULT 'pending',
    attempts          INT NOT NULL DEFAULT 0,
    last_error        TEXT NOT NULL DEFAULT '',
    address           TEXT NOT NULL DEFAULT '',
    template_snapshot JSONB NOT NULL,
    variables         JSONB NOT NULL DEFAULT '{}',
    rendered          JSONB,
    provider_ref      TEXT NOT NULL DEFAULT '',
    lease_owner       TEXT NOT NULL DEFAULT '',
    lease_token       TEXT NOT NULL DEFAULT '',
    lease_expires_at  TIMESTAMPTZ,
    available_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (campaign_id, contact_id, channel)
);

CREATE INDEX IF NOT EXISTS dispatch_jobs_claim_idx ON dispatch_jobs (channel, status, available_at);
CREATE INDEX IF NOT EXISTS dispatch_jobs_provider_ref_idx ON dispatch_jobs (provider_ref) WHERE provider_ref <> '';

CREATE TABLE IF NOT EXISTS ledger_entries (
    id              SERIAL PRIMARY KEY,
    job_id          INT NOT NULL REFERENCES dispatch_jobs(id),
    campaign_id     INT NOT NULL,
    channel         TEXT NOT NULL,
    attempt         INT NOT NULL,
    outcome         TEXT NOT NULL,
    job_status      TEXT NOT NULL,
    provider_code   TEXT NOT NULL DEFAULT '',
    provider_ref    TEXT NOT NULL DEFAULT '',
    error           TEXT NOT NULL DEFAULT '',
    next_attempt_at TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS ledger_entries_job_idx ON ledger_entries (job_id, attempt);
CREATE INDEX IF NOT EXISTS ledger_entries_campaign_idx ON ledger_entries (campaign_id);

CREATE TABLE IF NOT EXISTS audit_records (
    id            UUID PRIMARY KEY,
    actor_id      TEXT NOT NULL,
    actor_name    TEXT NOT NULL DEFAULT '',
    action        TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    resource_id   TEXT NOT NULL DEFAULT '',
    description   TEXT NOT NULL DEFAULT '',
    details       JSONB NOT NULL DEFAULT '{}',
    success       BOOLEAN NOT NULL DEFAULT TRUE,
    error_message TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS audit_records_created_idx ON audit_records (created_at DESC);
`
