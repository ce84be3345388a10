// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types for the API.

# Request Types

Types for parsing incoming JSON:

  - CreateDraftRequest: title, description, options, start_ts, end_ts, created_by
  - AddBindingRequest: email, wallet, nonce, deadline, sig (EIP-712 Register)
  - RevokeBindingRequest: email
  - SubmitVoteRequest: wallet, option, nonce, deadline, sig, proof

# Response Types

Types for JSON responses:

  - CreateDraftResponse: draft_id, admin_key
  - DraftResponse, DraftListResponse, EligibilityPreview, PublishResponse
  - ProofResponse: a wallet's allowlist index, leaf, proof and the root
  - VoteReceipt: audit sequence and hashes for an accepted vote
  - AuditResponse: the poll's audit entries and whether they replay
  - ErrorResponse: error, code, message

# Domain Types

Rows of the relational store:

  - Draft and Binding: pre-publication state
  - Poll, Option, AllowlistItem: the published poll and its eligibility tree
  - Vote and AuditEntry: accepted ballots and their hash chain
  - AnchorAttempt and Anchor: finalize progress and the anchored result

Wallets and hashes use go-ethereum's common.Address and common.Hash, so they
marshal as 0x-prefixed hex. Timestamps are unix seconds.

# Constants

Draft status values:

	StatusDraft, StatusFrozen, StatusPublished, StatusCanceled

Poll status values:

	StatusActive, StatusClosed, StatusAnchored
*/
package models
