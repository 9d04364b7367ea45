package db

const schema = `
CREATE TABLE IF NOT EXISTS seasons (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS teams (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL,
    email      TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'pending',
    season_id  BIGINT REFERENCES seasons(id) ON DELETE SET NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_teams_status_season ON teams (status, season_id, created_at DESC);

CREATE TABLE IF NOT EXISTS campaigns (
    id                 BIGSERIAL PRIMARY KEY,
    name               TEXT NOT NULL,
    subject            TEXT NOT NULL,
    body               TEXT NOT NULL,
    target_mode        TEXT NOT NULL,
    target_category    TEXT NOT NULL DEFAULT '',
    target_season_id   BIGINT,
    recipients_limit   INTEGER NOT NULL DEFAULT 0,
    custom_emails      JSONB NOT NULL DEFAULT '[]',
    status             TEXT NOT NULL DEFAULT 'draft',
    scheduled_at       TIMESTAMPTZ,
    total_recipients   INTEGER NOT NULL DEFAULT 0,
    sent_count         INTEGER NOT NULL DEFAULT 0,
    failed_count       INTEGER NOT NULL DEFAULT 0,
    failure_reason     TEXT NOT NULL DEFAULT '',
    created_by         TEXT NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    sending_started_at TIMESTAMPTZ,
    run_started_at     TIMESTAMPTZ,
    sent_at            TIMESTAMPTZ
);

ALTER TABLE campaigns ADD COLUMN IF NOT EXISTS run_started_at TIMESTAMPTZ;

CREATE INDEX IF NOT EXISTS idx_campaigns_due ON campaigns (status, scheduled_at);

-- campaign_id has no foreign key: log entries outlive their campaign.
CREATE TABLE IF NOT EXISTS email_logs (
    id            BIGSERIAL PRIMARY KEY,
    campaign_id   BIGINT,
    batch_id      UUID NOT NULL,
    candidate_id  BIGINT,
    to_email      TEXT NOT NULL,
    subject       TEXT NOT NULL,
    body_preview  TEXT NOT NULL DEFAULT '',
    category      TEXT NOT NULL,
    status        TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    sent_by       TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_email_logs_campaign ON email_logs (campaign_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_email_logs_created ON email_logs (created_at DESC);
`
