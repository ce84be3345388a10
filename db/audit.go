// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/danielhkuo/verivote/models"
)

// LastAuditEntry returns the newest entry of a poll's chain, or nil if the
// chain is empty.
func LastAuditEntry(ctx context.Context, q Querier, pollID int64) (*models.AuditEntry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT seq, poll_id, row_hash, prev_hash, tip_hash, created_at
		FROM audit_log
		WHERE poll_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, pollID)
	e, err := scanAuditEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query audit tip: %w", err)
	}
	return e, nil
}

// InsertAuditEntry appends an entry and returns its sequence number.
func InsertAuditEntry(ctx context.Context, q Querier, e models.AuditEntry) (int64, error) {
	var seq int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO audit_log (poll_id, row_hash, prev_hash, tip_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq
	`, e.PollID, e.RowHash.Bytes(), e.PrevHash.Bytes(), e.TipHash.Bytes(), e.CreatedAt).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return seq, nil
}

// ListAuditEntries returns a poll's chain in sequence order.
func ListAuditEntries(ctx context.Context, q Querier, pollID int64) ([]models.AuditEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT seq, poll_id, row_hash, prev_hash, tip_hash, created_at
		FROM audit_log
		WHERE poll_id = $1
		ORDER BY seq
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanAuditEntry(r rowScanner) (*models.AuditEntry, error) {
	var (
		e              models.AuditEntry
		row, prev, tip []byte
	)
	if err := r.Scan(&e.Seq, &e.PollID, &row, &prev, &tip, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.RowHash = scanHash(row)
	e.PrevHash = scanHash(prev)
	e.TipHash = scanHash(tip)
	return &e, nil
}
