// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/danielhkuo/verivote/models"
)

// InsertAllowlist stores one row per eligible wallet.
func InsertAllowlist(ctx context.Context, q Querier, items []models.AllowlistItem) error {
	for _, it := range items {
		proof, err := encodeProof(it.Proof)
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO allowlist_items (poll_id, wallet, idx, leaf, proof_json)
			VALUES ($1, $2, $3, $4, $5)
		`, it.PollID, WalletKey(it.Wallet), int64(it.Index), it.Leaf.Bytes(), proof)
		if err != nil {
			return fmt.Errorf("failed to insert allowlist item %d: %w", it.Index, err)
		}
	}
	return nil
}

// GetAllowlistItem returns the stored proof for a wallet.
func GetAllowlistItem(ctx context.Context, q Querier, pollID int64, wallet common.Address) (*models.AllowlistItem, error) {
	var (
		it    models.AllowlistItem
		w     string
		idx   int64
		leaf  []byte
		proof []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT poll_id, wallet, idx, leaf, proof_json
		FROM allowlist_items
		WHERE poll_id = $1 AND wallet = $2
	`, pollID, WalletKey(wallet)).Scan(&it.PollID, &w, &idx, &leaf, &proof)
	if err == sql.ErrNoRows {
		return nil, notFound("allowlist entry for poll", pollID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query allowlist: %w", err)
	}

	it.Wallet = common.HexToAddress(w)
	it.Index = uint64(idx)
	it.Leaf = scanHash(leaf)
	if it.Proof, err = decodeProof(proof); err != nil {
		return nil, err
	}
	return &it, nil
}

// CountAllowlist returns the number of eligible wallets in a poll.
func CountAllowlist(ctx context.Context, q Querier, pollID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM allowlist_items WHERE poll_id = $1`, pollID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count allowlist: %w", err)
	}
	return n, nil
}

func encodeProof(p []common.Hash) (string, error) {
	if p == nil {
		p = []common.Hash{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode proof: %w", err)
	}
	return string(b), nil
}

func decodeProof(b []byte) ([]common.Hash, error) {
	var p []common.Hash
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("failed to decode proof: %w", err)
	}
	return p, nil
}
