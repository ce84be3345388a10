// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db handles schema creation and the queries of the voting core.

# Opening a Store

	store, err := db.Open(ctx, db.DialectPostgres, cfg.DatabaseURL)
	if err := store.CreateSchema(ctx); err != nil {
		log.Fatal(err)
	}

PostgreSQL uses lib/pq; SQLite uses modernc.org/sqlite with a single open
connection. Both take $N placeholders, so every query is shared. CreateSchema
is safe to call multiple times.

# Tables

  - poll_drafts: editable poll definition, options as JSON
  - bindings: email hash to wallet, one per (draft, email); revocable
  - polls: published poll with its eligibility root; halted_at marks tampering
  - poll_options: frozen options, idx 0..N-1
  - allowlist_items: per-wallet leaf, index and proof
  - votes: one row per (poll, wallet); the primary key enforces first-vote-locks
  - audit_log: per-poll hash chain, unique (poll_id, tip_hash)
  - anchor_attempts: finalize progress (result hash, CIDs, tx hash)
  - anchors: the confirmed anchor

# Relationships

	poll_drafts 1──* bindings
	poll_drafts 1──1 polls
	polls 1──* poll_options, allowlist_items, votes, audit_log
	polls 1──1 anchor_attempts, anchors

Hashes and signatures are BYTEA/BLOB, wallets are lower-case 0x hex, nonces
are canonical decimal strings (uint256 does not fit BIGINT) and timestamps are
unix seconds.

# Queries

Query functions take a Querier, so the same call works on the pool or inside a
transaction:

	err := store.InTx(ctx, func(tx *sql.Tx) error {
		if err := store.LockPoll(ctx, tx, pollID); err != nil {
			return err
		}
		return db.InsertVote(ctx, tx, vote)
	})

LockPoll adds FOR UPDATE on PostgreSQL. Missing rows come back as apperr
NotFound errors wrapping sql.ErrNoRows. IsUniqueViolation recognizes primary
key and unique failures from both drivers.
*/
package db
