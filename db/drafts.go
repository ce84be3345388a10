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

// InsertDraft stores a new draft and returns its id.
func InsertDraft(ctx context.Context, q Querier, d models.Draft) (int64, error) {
	opts, err := json.Marshal(d.Options)
	if err != nil {
		return 0, fmt.Errorf("failed to encode options: %w", err)
	}

	var id int64
	err = q.QueryRowContext(ctx, `
		INSERT INTO poll_drafts (title, description, options_json, start_ts, end_ts, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id
	`, d.Title, d.Description, string(opts), d.StartTS, d.EndTS, models.StatusDraft, WalletKey(d.CreatedBy), d.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert draft: %w", err)
	}
	return id, nil
}

const draftColumns = `id, title, description, options_json, start_ts, end_ts, status, created_by,
		       created_at, updated_at, frozen_at, published_at`

func scanDraft(r rowScanner) (*models.Draft, error) {
	var (
		d           models.Draft
		opts        []byte
		createdBy   string
		frozenAt    sql.NullInt64
		publishedAt sql.NullInt64
	)
	if err := r.Scan(&d.ID, &d.Title, &d.Description, &opts, &d.StartTS, &d.EndTS, &d.Status, &createdBy,
		&d.CreatedAt, &d.UpdatedAt, &frozenAt, &publishedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(opts, &d.Options); err != nil {
		return nil, fmt.Errorf("failed to decode options of draft %d: %w", d.ID, err)
	}
	d.CreatedBy = common.HexToAddress(createdBy)
	d.FrozenAt = nullInt(frozenAt)
	d.PublishedAt = nullInt(publishedAt)
	return &d, nil
}

// GetDraft loads a draft by id.
func GetDraft(ctx context.Context, q Querier, id int64) (*models.Draft, error) {
	d, err := scanDraft(q.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM poll_drafts WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("draft", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query draft: %w", err)
	}
	return d, nil
}

// ListDrafts returns the drafts created by an address, newest first.
func ListDrafts(ctx context.Context, q Querier, createdBy common.Address) ([]models.Draft, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+draftColumns+`
		FROM poll_drafts
		WHERE created_by = $1
		ORDER BY created_at DESC, id DESC
	`, WalletKey(createdBy))
	if err != nil {
		return nil, fmt.Errorf("failed to query drafts: %w", err)
	}
	defer rows.Close()

	drafts := []models.Draft{}
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}
		drafts = append(drafts, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate drafts: %w", err)
	}
	return drafts, nil
}

// SetDraftStatus moves a draft from one status to another, stamping
// frozen_at or published_at when entering those states. It reports false if
// the draft was not in the expected status.
func SetDraftStatus(ctx context.Context, q Querier, id int64, from, to string, now int64) (bool, error) {
	query := `UPDATE poll_drafts SET status = $1, updated_at = $2`
	switch to {
	case models.StatusFrozen:
		query += `, frozen_at = $2`
	case models.StatusPublished:
		query += `, published_at = $2`
	}
	query += ` WHERE id = $3 AND status = $4`

	res, err := q.ExecContext(ctx, query, to, now, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update draft status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update draft status: %w", err)
	}
	return n == 1, nil
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
