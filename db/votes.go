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

const voteColumns = `poll_id, wallet, option, sig, nonce, deadline, leaf, proof_json, received_at`

// InsertVote stores an accepted vote. A second vote for the same wallet and
// poll fails with a unique violation; see IsUniqueViolation.
func InsertVote(ctx context.Context, q Querier, v models.Vote) error {
	proof, err := encodeProof(v.Proof)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO votes (`+voteColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, v.PollID, WalletKey(v.Wallet), int(v.Option), []byte(v.Sig), v.Nonce, v.Deadline, v.Leaf.Bytes(), proof, v.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	return nil
}

// GetVote loads the vote cast by a wallet.
func GetVote(ctx context.Context, q Querier, pollID int64, wallet common.Address) (*models.Vote, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+voteColumns+`
		FROM votes
		WHERE poll_id = $1 AND wallet = $2
	`, pollID, WalletKey(wallet))
	v, err := scanVote(row)
	if err == sql.ErrNoRows {
		return nil, notFound("vote in poll", pollID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query vote: %w", err)
	}
	return v, nil
}

// ListVotes returns every vote in a poll ordered by wallet.
func ListVotes(ctx context.Context, q Querier, pollID int64) ([]models.Vote, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+voteColumns+`
		FROM votes
		WHERE poll_id = $1
		ORDER BY wallet
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to query votes: %w", err)
	}
	defer rows.Close()

	var out []models.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func scanVote(r rowScanner) (*models.Vote, error) {
	var (
		v      models.Vote
		wallet string
		option int
		sig    []byte
		leaf   []byte
		proof  []byte
	)
	if err := r.Scan(&v.PollID, &wallet, &option, &sig, &v.Nonce, &v.Deadline, &leaf, &proof, &v.ReceivedAt); err != nil {
		return nil, err
	}
	v.Wallet = common.HexToAddress(wallet)
	v.Option = uint8(option)
	v.Sig = sig
	v.Leaf = scanHash(leaf)

	p, err := decodeProof(proof)
	if err != nil {
		return nil, err
	}
	v.Proof = p
	return &v, nil
}
