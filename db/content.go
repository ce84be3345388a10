// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"fmt"
)

// PutBlob stores content under its cid. Storing the same cid twice is a
// no-op.
func PutBlob(ctx context.Context, q Querier, cid string, data []byte, now int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO content_blobs (cid, data, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cid) DO NOTHING
	`, cid, data, now)
	if err != nil {
		return fmt.Errorf("failed to insert blob: %w", err)
	}
	return nil
}

// GetBlob returns the content stored under cid, or nil if there is none.
func GetBlob(ctx context.Context, q Querier, cid string) ([]byte, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `SELECT data FROM content_blobs WHERE cid = $1`, cid).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query blob: %w", err)
	}
	return data, nil
}
