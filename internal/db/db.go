package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

type DB struct {
	*sql.DB
}

func New(dsn string, maxOpen, maxIdle int) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Migrate() error {
	migrations := []string{
		migrationCampaigns,
		migrationTemplates,
		migrationQueueItems,
		migrationCampaignSends,
		migrationSuppressions,
		migrationDomainIdentities,
		migrationWebhookEvents,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const migrationCampaigns = `
CREATE TABLE IF NOT EXISTS campaigns (
    id UUID PRIMARY KEY,
    org_id UUID NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    from_address TEXT NOT NULL,
    reply_to TEXT,
    follow_up_max INTEGER NOT NULL DEFAULT 0,
    follow_up_interval_hours INTEGER NOT NULL DEFAULT 72,
    stop_on_reply BOOLEAN NOT NULL DEFAULT TRUE,
    total_sent BIGINT NOT NULL DEFAULT 0,
    total_opened BIGINT NOT NULL DEFAULT 0,
    total_clicked BIGINT NOT NULL DEFAULT 0,
    total_replied BIGINT NOT NULL DEFAULT 0,
    total_bounced BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);
`

const migrationTemplates = `
CREATE TABLE IF NOT EXISTS templates (
    id UUID PRIMARY KEY,
    campaign_id UUID NOT NULL REFERENCES campaigns(id),
    sequence INTEGER NOT NULL DEFAULT 0,
    subject TEXT NOT NULL,
    body_html TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE(campaign_id, sequence)
);
`

const migrationQueueItems = `
CREATE TABLE IF NOT EXISTS queue_items (
    id UUID PRIMARY KEY,
    campaign_id UUID NOT NULL REFERENCES campaigns(id),
    recipient TEXT NOT NULL,
    template_id UUID NOT NULL REFERENCES templates(id),
    follow_up_number INTEGER NOT NULL DEFAULT 0,
    render_context JSONB NOT NULL DEFAULT '{}',
    scheduled_for TIMESTAMPTZ NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    skip_reason TEXT,
    provider_msg_id TEXT,
    claimed_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_queue_items_due ON queue_items(status, scheduled_for);
CREATE INDEX IF NOT EXISTS idx_queue_items_campaign ON queue_items(campaign_id, recipient);
`

const migrationCampaignSends = `
CREATE TABLE IF NOT EXISTS campaign_sends (
    id UUID PRIMARY KEY,
    campaign_id UUID NOT NULL REFERENCES campaigns(id),
    queue_item_id UUID NOT NULL UNIQUE REFERENCES queue_items(id),
    recipient TEXT NOT NULL,
    follow_up_number INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'queued',
    sent_at TIMESTAMPTZ,
    opened_at TIMESTAMPTZ,
    clicked_at TIMESTAMPTZ,
    replied_at TIMESTAMPTZ,
    bounced_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_campaign_sends_campaign ON campaign_sends(campaign_id, recipient);
CREATE INDEX IF NOT EXISTS idx_campaign_sends_recipient ON campaign_sends(recipient);
`

const migrationSuppressions = `
CREATE TABLE IF NOT EXISTS suppressions (
    id UUID PRIMARY KEY,
    address TEXT NOT NULL UNIQUE,
    reason TEXT NOT NULL,
    expires_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const migrationDomainIdentities = `
CREATE TABLE IF NOT EXISTS domain_identities (
    id UUID PRIMARY KEY,
    org_id UUID NOT NULL,
    domain TEXT NOT NULL UNIQUE,
    selector TEXT NOT NULL,
    private_key_pem TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    last_checked_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const migrationWebhookEvents = `
CREATE TABLE IF NOT EXISTS webhook_events (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    payload BYTEA NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    next_retry_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_error TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_webhook_events_due ON webhook_events(status, next_retry_at);
`
