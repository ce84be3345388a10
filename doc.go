// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the VeriVote server.

VeriVote runs polls off chain and anchors their results on an EVM chain.
Eligible wallets are committed to as a Merkle root, every accepted vote is
an EIP-712 signature appended to a hash-chained audit log, and the final
votes and tally are published to content-addressed storage and anchored by
their hash.

# Commands

	verivote serve [flags]               Run the HTTP API
	verivote finalize <poll-id> [flags]  Close a poll and anchor its result
	verivote verify-audit <poll-id>      Replay a poll's audit chain

Every command reads the same flags, with environment fallback and an
optional .env file:

	DATABASE_URL=file:verivote.db ADMIN_KEY_SALT=... EMAIL_SALT=... verivote serve

# Configuration

Required settings:

  - DATABASE_URL (-d): SQLite file or PostgreSQL connection string
  - ADMIN_KEY_SALT (-admin-salt): Secret for admin key HMAC
  - EMAIL_SALT (-email-salt): Secret for invitee email hashes

Optional settings:

  - PORT (-p): Server port (default: 3318)
  - DATABASE_TYPE (-t): sqlite or postgres (default: sqlite)
  - CHAIN_RPC_URL (-rpc), ANCHOR_KEY (-anchor-key): anchor on a real chain;
    without them results go to a ledger kept in the database
  - CHAIN_ID, CONTRACT_ADDRESS, DOMAIN_NAME, DOMAIN_VERSION: EIP-712 domain
  - CONTENT_BACKEND (-content), CONTENT_LOCATION: db (default), memory,
    badger, s3 or gcs
  - EXTERNAL_TIMEOUT, RETRY_ATTEMPTS: budget for storage and chain calls
  - VOTE_RATE_LIMIT: public write requests per second per client
  - TRACING, TRACE_STDOUT: OpenTelemetry exporters

# Architecture

  - eligibility: Merkle tree over eligible wallets
  - auth: EIP-712 verification, admin keys, nonces
  - admission: vote admission
  - audit: hash-chained vote log
  - lifecycle: drafts, bindings, publishing
  - finalize: close, publish artifacts, anchor
  - contentstore, chain: external storage and anchoring
  - db, handlers, router, middleware: persistence and HTTP

See package documentation for each component.
*/
package main
