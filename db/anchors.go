// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/danielhkuo/verivote/models"
)

// GetAnchorAttempt returns the finalize progress of a poll, or nil if
// finalize never got as far as computing a result hash.
func GetAnchorAttempt(ctx context.Context, q Querier, pollID int64) (*models.AnchorAttempt, error) {
	var (
		a    models.AnchorAttempt
		hash []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT poll_id, result_hash, votes_cid, tally_cid, tx_hash, attempts, updated_at
		FROM anchor_attempts
		WHERE poll_id = $1
	`, pollID).Scan(&a.PollID, &hash, &a.VotesCID, &a.TallyCID, &a.TxHash, &a.Attempts, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query anchor attempt: %w", err)
	}
	a.ResultHash = scanHash(hash)
	return &a, nil
}

// StartAnchorAttempt records the result hash and bumps the attempt counter.
// An existing row keeps its result hash; callers compare it first.
func StartAnchorAttempt(ctx context.Context, q Querier, pollID int64, resultHash common.Hash, now int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO anchor_attempts (poll_id, result_hash, attempts, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (poll_id) DO UPDATE
		SET attempts = anchor_attempts.attempts + 1, updated_at = excluded.updated_at
	`, pollID, resultHash.Bytes(), now)
	if err != nil {
		return fmt.Errorf("failed to record anchor attempt: %w", err)
	}
	return nil
}

// SetAttemptCIDs records where the artifacts were published.
func SetAttemptCIDs(ctx context.Context, q Querier, pollID int64, votesCID, tallyCID string, now int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE anchor_attempts SET votes_cid = $1, tally_cid = $2, updated_at = $3
		WHERE poll_id = $4
	`, votesCID, tallyCID, now, pollID)
	if err != nil {
		return fmt.Errorf("failed to record artifact cids: %w", err)
	}
	return nil
}

// SetAttemptTx records the submitted anchoring transaction.
func SetAttemptTx(ctx context.Context, q Querier, pollID int64, txHash string, now int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE anchor_attempts SET tx_hash = $1, updated_at = $2
		WHERE poll_id = $3
	`, txHash, now, pollID)
	if err != nil {
		return fmt.Errorf("failed to record anchor tx: %w", err)
	}
	return nil
}

// InsertAnchor stores the confirmed anchor.
func InsertAnchor(ctx context.Context, q Querier, a models.Anchor) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO anchors (poll_id, result_hash, proposal_cid, votes_cid, tally_cid, tx_hash, anchored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.PollID, a.ResultHash.Bytes(), a.ProposalCID, a.VotesCID, a.TallyCID, a.TxHash, a.AnchoredAt)
	if err != nil {
		return fmt.Errorf("failed to insert anchor: %w", err)
	}
	return nil
}

// GetAnchor loads the anchor of a poll.
func GetAnchor(ctx context.Context, q Querier, pollID int64) (*models.Anchor, error) {
	var (
		a    models.Anchor
		hash []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT poll_id, result_hash, proposal_cid, votes_cid, tally_cid, tx_hash, anchored_at
		FROM anchors
		WHERE poll_id = $1
	`, pollID).Scan(&a.PollID, &hash, &a.ProposalCID, &a.VotesCID, &a.TallyCID, &a.TxHash, &a.AnchoredAt)
	if err == sql.ErrNoRows {
		return nil, notFound("anchor for poll", pollID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query anchor: %w", err)
	}
	a.ResultHash = scanHash(hash)
	return &a, nil
}
