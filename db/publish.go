// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"fmt"
)

// GetPublishTx returns the createPoll transaction sent for a draft, or ""
// if none was recorded.
func GetPublishTx(ctx context.Context, q Querier, draftID int64) (string, error) {
	var tx string
	err := q.QueryRowContext(ctx, `SELECT tx_hash FROM publish_attempts WHERE draft_id = $1`, draftID).Scan(&tx)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query publish attempt: %w", err)
	}
	return tx, nil
}

// SetPublishTx records the createPoll transaction of a draft. An empty
// txHash forgets it.
func SetPublishTx(ctx context.Context, q Querier, draftID int64, txHash string, now int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO publish_attempts (draft_id, tx_hash, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (draft_id) DO UPDATE
		SET tx_hash = excluded.tx_hash, updated_at = excluded.updated_at
	`, draftID, txHash, now)
	if err != nil {
		return fmt.Errorf("failed to record publish tx: %w", err)
	}
	return nil
}
