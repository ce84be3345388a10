// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/danielhkuo/verivote/chain"
)

// LedgerState keeps the local ledger in the database so every process
// sharing it sees the same registrations and results.
type LedgerState struct {
	q Querier
}

func NewLedgerState(q Querier) *LedgerState {
	return &LedgerState{q: q}
}

func (s *LedgerState) LoadPoll(ctx context.Context, pollID int64) (*chain.Record[chain.PollRecord], error) {
	var (
		rec  chain.Record[chain.PollRecord]
		root []byte
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT poll_id, eligible_root, meta_uri, start_ts, end_ts, tx_hash
		FROM ledger_polls
		WHERE poll_id = $1
	`, pollID).Scan(&rec.Value.PollID, &root, &rec.Value.MetaURI, &rec.Value.StartTS, &rec.Value.EndTS, &rec.TxHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger poll: %w", err)
	}
	rec.Value.EligibleRoot = scanHash(root)
	return &rec, nil
}

func (s *LedgerState) LoadResult(ctx context.Context, pollID int64) (*chain.Record[chain.ResultRecord], error) {
	var (
		rec  chain.Record[chain.ResultRecord]
		hash []byte
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT poll_id, result_hash, votes_uri, tally_uri, tx_hash
		FROM ledger_results
		WHERE poll_id = $1
	`, pollID).Scan(&rec.Value.PollID, &hash, &rec.Value.VotesURI, &rec.Value.TallyURI, &rec.TxHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger result: %w", err)
	}
	rec.Value.ResultHash = scanHash(hash)
	return &rec, nil
}

func (s *LedgerState) SavePoll(ctx context.Context, p chain.PollRecord, txHash string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO ledger_polls (poll_id, eligible_root, meta_uri, start_ts, end_ts, tx_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (poll_id) DO NOTHING
	`, p.PollID, p.EligibleRoot.Bytes(), p.MetaURI, p.StartTS, p.EndTS, txHash)
	if err != nil {
		return fmt.Errorf("failed to insert ledger poll: %w", err)
	}
	return nil
}

func (s *LedgerState) SaveResult(ctx context.Context, r chain.ResultRecord, txHash string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO ledger_results (poll_id, result_hash, votes_uri, tally_uri, tx_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (poll_id) DO NOTHING
	`, r.PollID, r.ResultHash.Bytes(), r.VotesURI, r.TallyURI, txHash)
	if err != nil {
		return fmt.Errorf("failed to insert ledger result: %w", err)
	}
	return nil
}

func (s *LedgerState) HasTx(ctx context.Context, txHash string) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM ledger_polls WHERE tx_hash = $1)
		     + (SELECT COUNT(*) FROM ledger_results WHERE tx_hash = $1)
	`, txHash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query ledger tx: %w", err)
	}
	return n > 0, nil
}

var _ chain.LedgerState = (*LedgerState)(nil)
