// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(ctx context.Context, conn *sql.DB, dialect Dialect) error {
	var ddl string
	switch dialect {
	case DialectPostgres:
		ddl = postgresSchema
	case DialectSQLite:
		ddl = sqliteSchema
	default:
		return fmt.Errorf("unsupported database type %q", dialect)
	}

	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const postgresSchema = `
-- Drafts
CREATE TABLE IF NOT EXISTS poll_drafts (
    id BIGSERIAL PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    options_json JSONB NOT NULL,
    start_ts BIGINT NOT NULL,
    end_ts BIGINT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'frozen', 'published', 'canceled')),
    created_by TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    frozen_at BIGINT,
    published_at BIGINT
);

CREATE INDEX IF NOT EXISTS idx_drafts_status ON poll_drafts(status);
CREATE INDEX IF NOT EXISTS idx_drafts_end_ts ON poll_drafts(end_ts);
CREATE INDEX IF NOT EXISTS idx_drafts_created_by ON poll_drafts(created_by, created_at);

-- Email to wallet bindings
CREATE TABLE IF NOT EXISTS bindings (
    draft_id BIGINT NOT NULL REFERENCES poll_drafts(id) ON DELETE CASCADE,
    email_hash BYTEA NOT NULL,
    wallet TEXT NOT NULL,
    sig BYTEA NOT NULL,
    nonce TEXT NOT NULL,
    deadline BIGINT NOT NULL,
    bound_at BIGINT NOT NULL,
    revoked_at BIGINT,
    PRIMARY KEY (draft_id, email_hash)
);

CREATE INDEX IF NOT EXISTS idx_bindings_wallet ON bindings(wallet);

-- Polls
CREATE TABLE IF NOT EXISTS polls (
    id BIGINT PRIMARY KEY REFERENCES poll_drafts(id),
    title TEXT NOT NULL DEFAULT '',
    meta_uri TEXT NOT NULL,
    start_ts BIGINT NOT NULL,
    end_ts BIGINT NOT NULL,
    eligible_root BYTEA NOT NULL,
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'closed', 'anchored')),
    result_hash BYTEA,
    created_by TEXT NOT NULL,
    halted_at BIGINT,
    halt_reason TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_polls_status ON polls(status);
CREATE INDEX IF NOT EXISTS idx_polls_end_ts ON polls(end_ts);
CREATE INDEX IF NOT EXISTS idx_polls_eligible_root ON polls(eligible_root);

-- Options
CREATE TABLE IF NOT EXISTS poll_options (
    id BIGSERIAL PRIMARY KEY,
    poll_id BIGINT NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
    idx SMALLINT NOT NULL,
    label TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    media_uri TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    UNIQUE (poll_id, idx)
);

-- Allowlist
CREATE TABLE IF NOT EXISTS allowlist_items (
    poll_id BIGINT NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
    wallet TEXT NOT NULL,
    idx BIGINT NOT NULL,
    leaf BYTEA NOT NULL,
    proof_json JSONB NOT NULL,
    PRIMARY KEY (poll_id, wallet),
    UNIQUE (poll_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_allowlist_items_wallet ON allowlist_items(wallet);

-- Votes (first vote locks)
CREATE TABLE IF NOT EXISTS votes (
    poll_id BIGINT NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
    wallet TEXT NOT NULL,
    option SMALLINT NOT NULL,
    sig BYTEA NOT NULL,
    nonce TEXT NOT NULL,
    deadline BIGINT NOT NULL,
    leaf BYTEA NOT NULL,
    proof_json JSONB NOT NULL,
    received_at BIGINT NOT NULL,
    PRIMARY KEY (poll_id, wallet)
);

CREATE INDEX IF NOT EXISTS idx_votes_poll ON votes(poll_id);
CREATE INDEX IF NOT EXISTS idx_votes_wallet ON votes(wallet);

-- Audit chain
CREATE TABLE IF NOT EXISTS audit_log (
    seq BIGSERIAL PRIMARY KEY,
    poll_id BIGINT NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
    row_hash BYTEA NOT NULL,
    prev_hash BYTEA NOT NULL,
    tip_hash BYTEA NOT NULL,
    created_at BIGINT NOT NULL,
    UNIQUE (poll_id, tip_hash)
);

CREATE INDEX IF NOT EXISTS idx_audit_poll_seq ON audit_log(poll_id, seq);

-- Finalize progress
CREATE TABLE IF NOT EXISTS anchor_attempts (
    poll_id BIGINT PRIMARY KEY REFERENCES polls(id) ON DELETE CASCADE,
    result_hash BYTEA NOT NULL,
    votes_cid TEXT NOT NULL DEFAULT '',
    tally_cid TEXT NOT NULL DEFAULT '',
    tx_hash TEXT NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL
);

-- Anchors
CREATE TABLE IF NOT EXISTS anchors (
    poll_id BIGINT PRIMARY KEY REFERENCES polls(id) ON DELETE CASCADE,
    result_hash BYTEA NOT NULL,
    proposal_cid TEXT NOT NULL,
    votes_cid TEXT NOT NULL,
    tally_cid TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    anchored_at BIGINT NOT NULL
);

-- Publish progress
CREATE TABLE IF NOT EXISTS publish_attempts (
    draft_id BIGINT PRIMARY KEY REFERENCES poll_drafts(id) ON DELETE CASCADE,
    tx_hash TEXT NOT NULL,
    updated_at BIGINT NOT NULL
);

-- Content addressed artifacts
CREATE TABLE IF NOT EXISTS content_blobs (
    cid TEXT PRIMARY KEY,
    data BYTEA NOT NULL,
    created_at BIGINT NOT NULL
);

-- Local ledger used when no chain RPC is configured
CREATE TABLE IF NOT EXISTS ledger_polls (
    poll_id BIGINT PRIMARY KEY,
    eligible_root BYTEA NOT NULL,
    meta_uri TEXT NOT NULL,
    start_ts BIGINT NOT NULL,
    end_ts BIGINT NOT NULL,
    tx_hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_polls_tx ON ledger_polls(tx_hash);

CREATE TABLE IF NOT EXISTS ledger_results (
    poll_id BIGINT PRIMARY KEY,
    result_hash BYTEA NOT NULL,
    votes_uri TEXT NOT NULL,
    tally_uri TEXT NOT NULL,
    tx_hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_results_tx ON ledger_results(tx_hash);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS poll_drafts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    options_json TEXT NOT NULL,
    start_ts BIGINT NOT NULL,
    end_ts BIGINT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'frozen', 'published', 'canceled')),
    created_by TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    frozen_at BIGINT,
    published_at BIGINT
);

CREATE INDEX IF NOT EXISTS idx_drafts_status ON poll_drafts(status);
CREATE INDEX IF NOT EXISTS idx_drafts_end_ts ON poll_drafts(end_ts);
CREATE INDEX IF NOT EXISTS idx_drafts_created_by ON poll_drafts(created_by, created_at);

CREATE TABLE IF NOT EXISTS bindings (
    draft_id BIGINT NOT NULL REFERENCES poll_drafts(id) ON DELETE CASCADE,
    email_hash BLOB NOT NULL,
    wallet TEXT NOT NULL,
    sig BLOB NOT NULL,
    nonce TEXT NOT NULL,
    deadline BIGINT NOT NULL,
    bound_at BIGINT NOT NULL,
    revoked_at BIGINT,
    PRIMARY KEY (draft_id, email_hash)
);

CREATE INDEX IF NOT EXISTS idx_bindings_wallet ON bindings(wallet);

CREATE TABLE IF NOT EXISTS polls (
    id BIGINT PRIMARY KEY REFERENCES poll_drafts(id),
    title TEXT NOT NULL DEFAULT '',
    meta_uri TEXT NOT NULL,
    start_ts BIGINT NOT NULL,
    end_ts BIGINT NOT NULL,
    eligible_root BLOB NOT NULL,
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'closed', 'anchored')),
    result_hash BLOB,
    created_by TEXT NOT NULL,
    halted_at BIGINT,
    halt_reason TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_polls_status ON polls(status);
CREATE INDEX IF NOT EXISTS idx_polls_end_ts ON polls(end_ts);
CREATE INDEX IF NOT EXISTS idx_polls_eligible_root ON polls(eligible_root);

CREATE TABLE IF NOT EXISTS poll_options (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    poll_id BIGINT NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
    idx SMALLINT NOT NULL,
    label TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    media_uri TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    UNIQUE (poll_id, idx)
);

CREATE TABLE IF NOT EXISTS allowlist_items (
    poll_id BIGINT NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
    wallet TEXT NOT NULL,
    idx BIGINT NOT NULL,
    leaf BLOB NOT NULL,
    proof_json TEXT NOT NULL,
    PRIMARY KEY (poll_id, wallet),
    UNIQUE (poll_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_allowlist_items_wallet ON allowlist_items(wallet);

CREATE TABLE IF NOT EXISTS votes (
    poll_id BIGINT NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
    wallet TEXT NOT NULL,
    option SMALLINT NOT NULL,
    sig BLOB NOT NULL,
    nonce TEXT NOT NULL,
    deadline BIGINT NOT NULL,
    leaf BLOB NOT NULL,
    proof_json TEXT NOT NULL,
    received_at BIGINT NOT NULL,
    PRIMARY KEY (poll_id, wallet)
);

CREATE INDEX IF NOT EXISTS idx_votes_poll ON votes(poll_id);
CREATE INDEX IF NOT EXISTS idx_votes_wallet ON votes(wallet);

CREATE TABLE IF NOT EXISTS audit_log (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    poll_id BIGINT NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
    row_hash BLOB NOT NULL,
    prev_hash BLOB NOT NULL,
    tip_hash BLOB NOT NULL,
    created_at BIGINT NOT NULL,
    UNIQUE (poll_id, tip_hash)
);

CREATE INDEX IF NOT EXISTS idx_audit_poll_seq ON audit_log(poll_id, seq);

CREATE TABLE IF NOT EXISTS anchor_attempts (
    poll_id BIGINT PRIMARY KEY REFERENCES polls(id) ON DELETE CASCADE,
    result_hash BLOB NOT NULL,
    votes_cid TEXT NOT NULL DEFAULT '',
    tally_cid TEXT NOT NULL DEFAULT '',
    tx_hash TEXT NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS anchors (
    poll_id BIGINT PRIMARY KEY REFERENCES polls(id) ON DELETE CASCADE,
    result_hash BLOB NOT NULL,
    proposal_cid TEXT NOT NULL,
    votes_cid TEXT NOT NULL,
    tally_cid TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    anchored_at BIGINT NOT NULL
);

-- Publish progress
CREATE TABLE IF NOT EXISTS publish_attempts (
    draft_id BIGINT PRIMARY KEY REFERENCES poll_drafts(id) ON DELETE CASCADE,
    tx_hash TEXT NOT NULL,
    updated_at BIGINT NOT NULL
);

-- Content addressed artifacts
CREATE TABLE IF NOT EXISTS content_blobs (
    cid TEXT PRIMARY KEY,
    data BLOB NOT NULL,
    created_at BIGINT NOT NULL
);

-- Local ledger used when no chain RPC is configured
CREATE TABLE IF NOT EXISTS ledger_polls (
    poll_id BIGINT PRIMARY KEY,
    eligible_root BLOB NOT NULL,
    meta_uri TEXT NOT NULL,
    start_ts BIGINT NOT NULL,
    end_ts BIGINT NOT NULL,
    tx_hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_polls_tx ON ledger_polls(tx_hash);

CREATE TABLE IF NOT EXISTS ledger_results (
    poll_id BIGINT PRIMARY KEY,
    result_hash BLOB NOT NULL,
    votes_uri TEXT NOT NULL,
    tally_uri TEXT NOT NULL,
    tx_hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_results_tx ON ledger_results(tx_hash);
`
